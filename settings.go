package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// HardwareConfig is the LED chain configuration. It is comparable so a re-init
// with identical values can be detected.
type HardwareConfig struct {
	Rows                   int    `json:"rows"`
	Cols                   int    `json:"cols"`
	ChainLength            int    `json:"chain_length"`
	Parallel               int    `json:"parallel"`
	HardwareMapping        string `json:"hardware_mapping"`
	GPIOSlowdown           int    `json:"gpio_slowdown"`
	Brightness             int    `json:"brightness"`
	PWMLSBNanoseconds      int    `json:"pwm_lsb_nanoseconds"`
	DisableHardwarePulsing bool   `json:"disable_hardware_pulsing"`
	ScanMode               int    `json:"scan_mode"`
	Multiplexing           int    `json:"multiplexing"`
	RowAddressType         int    `json:"row_address_type"`
	PWMBits                int    `json:"pwm_bits"`
	LimitRefreshRateHz     int    `json:"limit_refresh_rate_hz"`
}

// ClientConfig holds the operator preferences that survive restarts.
type ClientConfig struct {
	Brightness     int     `json:"brightness"`
	SlideDuration  float64 `json:"slide_duration"`
	PanelRotations []int   `json:"panel_rotations"`
	PanelMirrors   []bool  `json:"panel_mirrors"`
}

// Settings is the persisted settings.json record.
type Settings struct {
	Hardware HardwareConfig `json:"hardware"`
	Client   ClientConfig   `json:"client"`
}

// Geometry derives the canvas layout. Parallel chains stack vertically, so each
// panel slot is rows*parallel tall.
func (h HardwareConfig) Geometry() Geometry {
	return Geometry{
		PanelWidth:  h.Cols,
		PanelHeight: h.Rows * max(h.Parallel, 1),
		PanelCount:  max(h.ChainLength, 1),
	}
}

func defaultSettings() Settings {
	return Settings{
		Hardware: HardwareConfig{
			Rows:                   64,
			Cols:                   64,
			ChainLength:            2,
			Parallel:               1,
			HardwareMapping:        "regular",
			GPIOSlowdown:           4,
			Brightness:             50,
			PWMLSBNanoseconds:      130,
			DisableHardwarePulsing: true,
			PWMBits:                11,
		},
		Client: ClientConfig{
			Brightness:     50,
			SlideDuration:  10,
			PanelRotations: []int{0, 0},
			PanelMirrors:   []bool{false, false},
		},
	}
}

// SettingsStore reads and writes settings.json, keeping a .bak copy of the
// previous contents for rollback.
type SettingsStore struct {
	path string
	mu   sync.Mutex
}

func newSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load reads the settings file. A missing file yields the defaults; missing keys
// keep their default values.
func (s *SettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *SettingsStore) load() (Settings, error) {
	settings := defaultSettings()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return settings, errors.Wrap(err, "read settings")
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return defaultSettings(), errors.Wrap(err, "parse settings")
	}
	return settings, nil
}

// Save writes settings, first copying the current file to the backup path.
func (s *SettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if data, err := os.ReadFile(s.path); err == nil {
		if err := os.WriteFile(s.backupPath(), data, 0644); err != nil {
			slog.Warn("settings backup failed", "error", err)
		}
	}
	return s.write(settings)
}

// Revert overwrites the settings file with settings, leaving the backup of the
// last good file alone. It undoes a Save whose settings the panel rejected.
func (s *SettingsStore) Revert(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(settings)
}

// UpdateClient applies fn to the persisted client section without touching the
// backup, since rotations and mirrors never need a rollback.
func (s *SettingsStore) UpdateClient(fn func(*ClientConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, err := s.load()
	if err != nil {
		return err
	}
	fn(&settings.Client)
	return s.write(settings)
}

func (s *SettingsStore) write(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return errors.Wrap(err, "write settings")
	}
	return nil
}

func (s *SettingsStore) backupPath() string {
	return s.path + ".bak"
}
