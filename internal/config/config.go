// Package config loads the application configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Detector kinds.
const (
	DetectorPigo      = "pigo"
	DetectorMediaPipe = "mediapipe"
	DetectorNone      = "none"
)

// Config is the complete application configuration.
type Config struct {
	CameraID  int            `yaml:"camera_id"`
	FPS       int            `yaml:"fps"`
	HTTPAddr  string         `yaml:"http_addr"`
	DataDir   string         `yaml:"data_dir"`
	StaticDir string         `yaml:"static_dir"`
	LogLevel  string         `yaml:"log_level"` // debug, info, warn, error
	Detector  DetectorConfig `yaml:"detector"`
	MQTT      MQTTConfig     `yaml:"mqtt"`
}

// DetectorConfig selects the feature acquisition backend.
type DetectorConfig struct {
	Kind        string  `yaml:"kind"` // pigo, mediapipe, none
	CascadePath string  `yaml:"cascade_path"`
	MinFaceSize int     `yaml:"min_face_size"`
	MinQuality  float32 `yaml:"min_quality"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the
// emitter.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dataDir := ".cameramouse"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".cameramouse")
	}
	return &Config{
		CameraID: 0,
		FPS:      30,
		HTTPAddr: ":8080",
		DataDir:  dataDir,
		LogLevel: "info",
		Detector: DetectorConfig{
			Kind:        DetectorPigo,
			CascadePath: filepath.Join(dataDir, "cascade", "facefinder"),
			MinFaceSize: 60,
			MinQuality:  5.0,
		},
		MQTT: MQTTConfig{
			ClientID:    "cameramouse",
			TopicPrefix: "cameramouse",
		},
	}
}

// DefaultPath returns ~/.cameramouse/config.yaml.
func DefaultPath() string {
	return filepath.Join(Default().DataDir, "config.yaml")
}

// Load reads and parses a YAML configuration file. A missing file yields the
// defaults. Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.CameraID < 0 {
		return fmt.Errorf("%w: camera_id must be >= 0", ErrInvalid)
	}
	if c.FPS <= 0 || c.FPS > 120 {
		return fmt.Errorf("%w: fps must be in 1..120, got %d", ErrInvalid, c.FPS)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: http_addr is required", ErrInvalid)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir is required", ErrInvalid)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	switch c.Detector.Kind {
	case DetectorPigo:
		if c.Detector.CascadePath == "" {
			c.Detector.CascadePath = filepath.Join(c.DataDir, "cascade", "facefinder")
		}
	case DetectorMediaPipe, DetectorNone:
	case "":
		c.Detector.Kind = DetectorNone
	default:
		return fmt.Errorf("%w: unknown detector kind %q (must be pigo, mediapipe or none)", ErrInvalid, c.Detector.Kind)
	}

	if c.MQTT.Broker != "" {
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "cameramouse"
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = "cameramouse"
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
		}
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
	}
}

// DBPath returns the sqlite database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "cameramouse.db")
}
