package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// Library is the persistent asset directory the slideshow plays from. Each
// asset may carry a sidecar next to it.
type Library struct {
	dir string
}

func newLibrary(dir string) (*Library, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create library dir")
	}
	return &Library{dir: dir}, nil
}

// List returns the playable asset names, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list library")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !allowedFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Paths is List with full paths.
func (l *Library) Paths() ([]string, error) {
	names, err := l.List()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(l.dir, n)
	}
	return paths, nil
}

// Path resolves name inside the library. The asset must exist.
func (l *Library) Path(name string) (string, error) {
	clean := sanitizeFilename(name)
	if clean == "" || clean != name {
		return "", errors.Wrapf(ErrMissingAsset, "invalid name %q", name)
	}
	if !allowedFile(clean) {
		return "", errors.Wrap(ErrUnsupportedFormat, clean)
	}
	path := filepath.Join(l.dir, clean)
	if _, err := os.Stat(path); err != nil {
		return "", missingAsset(clean)
	}
	return path, nil
}

// Save stores an uploaded asset and writes its sidecar. It returns the stored
// name.
func (l *Library) Save(name string, src io.Reader, mode Composition, duration *float64) (string, error) {
	clean := sanitizeFilename(name)
	if clean == "" || !allowedFile(clean) {
		return "", errors.Wrapf(ErrUnsupportedFormat, "%q", name)
	}
	path := filepath.Join(l.dir, clean)
	if err := writeFile(path, src); err != nil {
		return "", err
	}
	if err := writeAssetConfig(path, mode, duration); err != nil {
		return "", errors.Wrap(err, "write sidecar")
	}
	slog.Info("library asset saved", "asset", clean, "mode", mode)
	return clean, nil
}

// Delete removes an asset and its sidecar.
func (l *Library) Delete(name string) error {
	path, err := l.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return errors.Wrap(err, "delete asset")
	}
	if err := os.Remove(sidecarPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("sidecar not removed", "asset", name, "error", err)
	}
	slog.Info("library asset deleted", "asset", name)
	return nil
}

// Play shows one library asset with the composition from its sidecar.
func (l *Library) Play(ctrl *Controller, name string) error {
	path, err := l.Path(name)
	if err != nil {
		return err
	}
	comp, _ := resolveSlide(path, 0)
	return playAsset(ctrl, path, comp)
}

// playAsset routes an asset to the still or the animated path.
func playAsset(ctrl *Controller, path string, comp Composition) error {
	switch classifyAsset(path) {
	case kindStill:
		return ctrl.SetImage(path, comp)
	case kindAnimated, kindVideo:
		return ctrl.SetVideo(path, comp)
	default:
		return errors.Wrap(ErrUnsupportedFormat, filepath.Base(path))
	}
}

func writeFile(path string, src io.Reader) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create file")
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "write file")
	}
	return os.Rename(tmp, path)
}
