package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ModelPath string `yaml:"model"`
	// Listen is the address of the management endpoint. Empty disables it.
	Listen string `yaml:"listen"`
	// BrokerURL is the socket.io endpoint of the broker control channel.
	// Empty runs the in-process broker.
	BrokerURL   string        `yaml:"broker-url"`
	LogLevel    string        `yaml:"log-level"`
	LogFormat   string        `yaml:"log-format"`
	BootTimeout time.Duration `yaml:"boot-timeout"`
	// Check loads and validates the model, then exits.
	Check bool `yaml:"-"`
}

// DefaultConfig returns the settings used when neither a settings file nor
// a flag provides a value.
func DefaultConfig() Config {
	return Config{
		Listen:      ":9990",
		LogLevel:    "info",
		LogFormat:   "json",
		BootTimeout: 30 * time.Second,
	}
}

// LoadSettings overlays the YAML settings file at path onto base.
func LoadSettings(path string, base Config) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, fmt.Errorf("failed to open settings file: %w", err)
	}
	defer f.Close()

	cfg := base
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return base, fmt.Errorf("failed to decode settings file %s: %w", path, err)
	}
	return cfg, nil
}

// NewConfig validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("the model file path is a required configuration field and cannot be empty")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	if cfg.BootTimeout <= 0 {
		return nil, errors.New("boot-timeout must be positive")
	}
	return &cfg, nil
}
