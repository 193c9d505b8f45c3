// Package config provides YAML configuration loading and validation
// for the cohostd demo harness, following the load/applyDefaults/
// validate shape in
// bobbydeveaux-starbucks-mugs/internal/config/config.go.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the harness's top-level configuration.
type Config struct {
	// Pages is the page count passed to map_shared. Required, must be
	// positive.
	Pages int `yaml:"pages"`

	// BackingFile is the path the VBLK engine's backing file manager
	// opens on startup. Required.
	BackingFile string `yaml:"backing_file"`

	// VTTYCapacity is the VTTY ring capacity in bytes that cohostd
	// assumes when checking whether Pages reaches the VTTY zones. It is
	// not passed to the rings: map_shared always initializes them with
	// ring.VTTYDefaultN. Must be a power of two. Defaults to 65536 when
	// omitted.
	VTTYCapacity int `yaml:"vtty_capacity"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn",
	// or "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

const defaultVTTYCapacity = 64 * 1024

// Load reads the YAML file at path, unmarshals it into Config,
// applies defaults, and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.VTTYCapacity == 0 {
		cfg.VTTYCapacity = defaultVTTYCapacity
	}
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Pages <= 0 {
		errs = append(errs, errors.New("pages must be a positive integer"))
	}
	if cfg.BackingFile == "" {
		errs = append(errs, errors.New("backing_file is required"))
	}
	if cfg.VTTYCapacity&(cfg.VTTYCapacity-1) != 0 {
		errs = append(errs, fmt.Errorf("vtty_capacity %d must be a power of two", cfg.VTTYCapacity))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	return errors.Join(errs...)
}

// BindFlags registers flag overrides for every Config field onto fs,
// returning a function that copies every flag's value back onto cfg
// after fs.Parse; a flag the caller did not set carries cfg's value
// from the time BindFlags was called. This mirrors the pack's flag-plus-YAML
// layering (bobbydeveaux-starbucks-mugs/cmd/server/main.go uses flags
// for the fields an operator most often overrides at the command
// line) without requiring a second struct to unmarshal into.
func BindFlags(fs *flag.FlagSet, cfg *Config) func() {
	pages := fs.Int("pages", cfg.Pages, "page count passed to map_shared")
	backing := fs.String("backing-file", cfg.BackingFile, "VBLK backing file path")
	vttyCap := fs.Int("vtty-capacity", cfg.VTTYCapacity, "VTTY ring capacity in bytes")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	return func() {
		cfg.Pages = *pages
		cfg.BackingFile = *backing
		cfg.VTTYCapacity = *vttyCap
		cfg.LogLevel = *logLevel
	}
}
