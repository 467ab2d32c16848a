package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// AssetConfig is the sidecar stored next to a library asset as <asset>.json.
type AssetConfig struct {
	Filename string   `json:"filename"`
	Type     string   `json:"type"`
	Duration *float64 `json:"duration,omitempty"`
	Mode     string   `json:"mode"`
}

func sidecarPath(assetPath string) string {
	return assetPath + ".json"
}

// loadAssetConfig reads the sidecar for assetPath. Callers treat any error as
// "use the defaults".
func loadAssetConfig(assetPath string) (AssetConfig, error) {
	data, err := os.ReadFile(sidecarPath(assetPath))
	if err != nil {
		return AssetConfig{}, err
	}
	var cfg AssetConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return AssetConfig{}, errors.Wrapf(err, "parse sidecar for %s", filepath.Base(assetPath))
	}
	return cfg, nil
}

// writeAssetConfig creates the sidecar for a freshly uploaded asset.
func writeAssetConfig(assetPath string, mode Composition, duration *float64) error {
	name := filepath.Base(assetPath)
	cfg := AssetConfig{
		Filename: name,
		Type:     strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."),
		Duration: duration,
		Mode:     string(mode),
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(sidecarPath(assetPath), data, 0644)
}

// resolveSlide picks the composition and duration for one slide, falling back
// to clone and the slideshow duration.
func resolveSlide(assetPath string, fallback time.Duration) (Composition, time.Duration) {
	cfg, err := loadAssetConfig(assetPath)
	if err != nil {
		return CompositionClone, fallback
	}
	d := fallback
	if cfg.Duration != nil && *cfg.Duration > 0 {
		d = time.Duration(*cfg.Duration * float64(time.Second))
	}
	return parseComposition(cfg.Mode), d
}
