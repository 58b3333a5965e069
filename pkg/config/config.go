// Package config loads bluest settings from YAML and builds the logger.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bluest/manager"
	"github.com/srg/bluest/pkg/retry"
)

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	Manager manager.Config `yaml:"manager"`
	Connect ConnectConfig  `yaml:"connect"`
	Console ConsoleConfig  `yaml:"console"`

	// MetricsAddr, when set, serves prometheus metrics on /metrics.
	MetricsAddr string `yaml:"metrics_addr"`

	// Decoders binds Lua scripts to capability bits.
	Decoders []DecoderConfig `yaml:"decoders"`
}

// ConnectConfig controls how the CLI reaches a node.
type ConnectConfig struct {
	Timeout time.Duration `yaml:"timeout" default:"10s"`
	Retry   retry.Policy  `yaml:"retry"`
}

// ConsoleConfig controls the debug console bridge.
type ConsoleConfig struct {
	// Link is an optional symlink pointing at the PTY slave.
	Link       string `yaml:"link"`
	BufferSize int    `yaml:"buffer_size" default:"4096"`
}

// DecoderConfig registers a scripted decoder for one bit of a device type.
type DecoderConfig struct {
	DeviceType uint8  `yaml:"device_type"`
	Bit        int    `yaml:"bit"`
	Script     string `yaml:"script"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a YAML document over the defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	// a document may zero nested structs; refill what it left empty
	defaults.SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	return lvl, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Manager.LostTimeout <= 0 {
		errs = append(errs, errors.New("manager.lost_timeout must be positive"))
	}
	if c.Manager.Dispatch.Lanes <= 0 {
		errs = append(errs, errors.New("manager.dispatch.lanes must be positive"))
	}
	if err := c.Connect.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	for i, d := range c.Decoders {
		if d.Bit < 0 || d.Bit > 31 {
			errs = append(errs, fmt.Errorf("decoders[%d]: bit %d out of range 0..31", i, d.Bit))
		}
		if d.Script == "" {
			errs = append(errs, fmt.Errorf("decoders[%d]: script is required", i))
		}
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	lvl, _ := c.Level()
	logger.SetLevel(lvl)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
