package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuongceg/fluxmux/internal/core"
)

// EnvPrefix marks environment variables that override file values, e.g.
// FLUXMUX_PIPELINE__MIDDLEWARE__BATCH_SIZE=100.
const EnvPrefix = "FLUXMUX_"

// Load decodes a pipeline config strictly (unknown keys are rejected),
// fills defaults and validates it. All problems surface as one
// configuration error.
func Load(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadFile reads path, applies FLUXMUX_ environment overrides on top of
// the file and validates the result.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ConfigError("config", "read %s: %w", path, err)
	}
	cfg, err := decode(b)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnvOverride(cfg, EnvPrefix); err != nil {
		return nil, core.ConfigError("config", "env override: %w", err)
	}
	return finish(cfg)
}

// Bridge builds a single source to single sink pipeline without actions.
func Bridge(source, sink string, mw Middleware) (*Config, error) {
	cfg := &Config{Pipeline: Pipeline{
		Source:     source,
		Sinks:      []string{sink},
		Middleware: mw,
	}}
	return finish(cfg)
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, core.ConfigError("config", "yaml decode: %w", err)
	}
	return &cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, core.ConfigError("config", "%w", err)
	}
	return cfg, nil
}

// Describe renders the effective config for logging.
func (c *Config) Describe() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return string(b)
}
