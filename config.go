package main

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ServiceConfig is the static service configuration, read once at start.
// Panel geometry and client preferences live in the settings file instead.
type ServiceConfig struct {
	Listen       string      `yaml:"listen"`
	LibraryDir   string      `yaml:"library_dir"` // persistent assets, the slideshow source
	UploadDir    string      `yaml:"upload_dir"`  // live uploads
	SettingsPath string      `yaml:"settings_path"`
	Simulate     bool        `yaml:"simulate"`      // in-memory panel instead of the LED driver
	BulkTransfer bool        `yaml:"bulk_transfer"` // whole-frame writes, known to crash some drivers
	LogLevel     string      `yaml:"log_level"`
	MaxUploadMB  int         `yaml:"max_upload_mb"`
	Splash       bool        `yaml:"splash"`
	MQTT         MQTTConfig  `yaml:"mqtt"`
	Poll         PollConfig  `yaml:"poll"`
	Input        InputConfig `yaml:"input"`
}

// MQTTConfig enables the MQTT command channel when Broker is set.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	CommandTopic  string `yaml:"command_topic"`
	ResponseTopic string `yaml:"response_topic"`
	QoS           byte   `yaml:"qos"`
}

// PollConfig enables the remote poll client when Server is set.
type PollConfig struct {
	Server     string `yaml:"server"`
	IntervalMS int    `yaml:"interval_ms"`
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// InputConfig names the optional physical button sources.
type InputConfig struct {
	GPIOPin   string `yaml:"gpio_pin"`   // periph pin name, e.g. "GPIO17"
	KeyDevice string `yaml:"key_device"` // evdev device name
	KeyCode   int    `yaml:"key_code"`   // defaults to KEY_ENTER
}

func defaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Listen:       ":5000",
		LibraryDir:   "web/static/sd_card",
		UploadDir:    "web/static/uploads",
		SettingsPath: "settings.json",
		LogLevel:     "info",
		MaxUploadMB:  64,
		Splash:       true,
		MQTT: MQTTConfig{
			ClientID:      "dual-matrix",
			CommandTopic:  "matrix/command",
			ResponseTopic: "matrix/response",
			QoS:           1,
		},
		Poll: PollConfig{IntervalMS: 1000},
	}
}

// LoadServiceConfig reads a YAML config. An empty path yields the defaults.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := defaultServiceConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate rejects unusable values and fills in the ones left empty.
func (c *ServiceConfig) Validate() error {
	def := defaultServiceConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LibraryDir == "" {
		c.LibraryDir = def.LibraryDir
	}
	if c.UploadDir == "" {
		c.UploadDir = def.UploadDir
	}
	if c.SettingsPath == "" {
		c.SettingsPath = def.SettingsPath
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = def.MaxUploadMB
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MQTT.QoS > 2 {
		return errors.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && c.MQTT.CommandTopic == "" {
		return errors.New("mqtt.command_topic is required when mqtt.broker is set")
	}
	if c.Poll.Server != "" && c.Poll.IntervalMS < 100 {
		return errors.Errorf("poll.interval_ms must be at least 100, got %d", c.Poll.IntervalMS)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("unknown log_level %q", s)
	}
}
