// Package config holds lockersim runtime settings.
//
// Values are layered, later sources winning:
//
//  1. LoadDefaults
//  2. JSON file (--config)
//  3. LOCKERSIM_* environment variables
//  4. command-line flags that were set explicitly (applied by cmd)
//
// Validate is called once all layers are applied.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the lockersim CLI.
type Config struct {
	StateDir    string        `validate:"required"`
	KeyBackend  string        `validate:"oneof=keyring file memory"`
	KeyAlias    string        `validate:"required,max=128"`
	LockTimeout time.Duration `validate:"gt=0"` // lease and state DB lock wait
	LogLevel    string        `validate:"oneof=debug info warn error"`
	LogFormat   string        `validate:"oneof=text json"`

	Workers  int    `validate:"min=1,max=64"`
	Conflict string `validate:"oneof=skip overwrite keep-both"`
	Note     bool

	Beacon    BeaconConfig
	Collector CollectorConfig
}

// BeaconConfig configures the beacon sender
type BeaconConfig struct {
	URL             string        `validate:"required,http_url"`
	Bursts          int           `validate:"min=1,max=100"`
	Interval        time.Duration `validate:"gte=0"`
	Timeout         time.Duration `validate:"gt=0"`
	Model           string        // empty: host name
	PlatformVersion string        // empty: GOOS/GOARCH
}

// CollectorConfig configures the beacon collector
type CollectorConfig struct {
	Addr    string `validate:"required"`
	LogPath string `validate:"required"`
}

// DefaultStateDir returns <user config dir>/lockersim, or .lockersim when
// the user config dir is unknown.
func DefaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".lockersim"
	}
	return filepath.Join(dir, "lockersim")
}

// LoadDefaults populates c with defaults.
func (c *Config) LoadDefaults() {
	c.StateDir = DefaultStateDir()
	c.KeyBackend = "file"
	c.KeyAlias = "default"
	c.LockTimeout = 10 * time.Second
	c.LogLevel = "info"
	c.LogFormat = "text"

	c.Workers = 1
	c.Conflict = "skip"
	c.Note = true

	c.Beacon = BeaconConfig{
		URL:      "http://127.0.0.1:8000/beacon",
		Bursts:   5,
		Interval: 60 * time.Second,
		Timeout:  5 * time.Second,
	}
	c.Collector = CollectorConfig{
		Addr:    ":8000",
		LogPath: "beacons.jsonl",
	}
}

// Load applies defaults, the JSON file at path (when non-empty) and the
// environment read through getenv. Flags and validation are left to the caller.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path != "" {
		if err := cfg.applyJSON(path); err != nil {
			return nil, err
		}
	}
	if getenv != nil {
		if err := cfg.applyEnv(getenv); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate validates the configuration against the struct tags
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}
	return nil
}

// DBPath is the state database location
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "lockersim.db")
}
