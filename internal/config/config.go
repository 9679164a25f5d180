// Package config loads and validates the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rolloutkit/rollout/internal/monitor"
	"github.com/rolloutkit/rollout/internal/pipeline"
	"github.com/rolloutkit/rollout/internal/scoring"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend" validate:"required,oneof=sqlite memory"`

	// Path is the database file location. Required for sqlite.
	Path string `yaml:"path" validate:"required_if=Backend sqlite"`
}

// RunnerConfig tunes the pipeline runner.
type RunnerConfig struct {
	MaxParallel        int64         `yaml:"max_parallel" validate:"gte=0,lte=64"`
	BreakerThreshold   int           `yaml:"breaker_threshold" validate:"gte=0"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" validate:"gte=0"`
}

// LogConfig tunes the logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// Format is text or json.
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Config is the root configuration document.
type Config struct {
	Storage   StorageConfig           `yaml:"storage" validate:"required"`
	Runner    RunnerConfig            `yaml:"runner"`
	Log       LogConfig               `yaml:"log"`
	Weights   scoring.Weights         `yaml:"weights"`
	Pipelines []pipeline.Pipeline     `yaml:"pipelines" validate:"dive"`
	Monitors  []monitor.Configuration `yaml:"monitors" validate:"dive"`
}

// Default returns the configuration used when no file is supplied: sqlite
// storage under the working directory, default weights, and a standard
// pipeline with every validator enabled.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: "sqlite", Path: ".rollout/rollout.db"},
		Runner:  RunnerConfig{MaxParallel: 4},
		Log:     LogConfig{Level: "info", Format: "text"},
		Weights: scoring.DefaultWeights(),
		Pipelines: []pipeline.Pipeline{{
			ID:   "standard",
			Name: "Standard validation",
			Validators: []pipeline.ValidatorConfig{
				{ID: "compatibility", Name: "Compatibility", Type: pipeline.ValidatorCompatibility, Enabled: true, Priority: 1, Timeout: 30 * time.Second},
				{ID: "security", Name: "Security", Type: pipeline.ValidatorSecurity, Enabled: true, Priority: 2, Timeout: 30 * time.Second},
				{ID: "performance", Name: "Performance", Type: pipeline.ValidatorPerformance, Enabled: true, Priority: 3, Timeout: 30 * time.Second},
				{ID: "functionality", Name: "Functionality", Type: pipeline.ValidatorFunctionality, Enabled: true, Priority: 4, Timeout: 30 * time.Second},
				{ID: "regression", Name: "Regression", Type: pipeline.ValidatorRegression, Enabled: true, Priority: 5, Timeout: 30 * time.Second},
			},
			Retry: pipeline.DefaultRetryPolicy(),
		}},
	}
}

// Load reads and validates the configuration at path. Values absent from
// the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole document: struct-tag constraints first, then
// the pipelines' and monitors' own validation rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seenPipelines := make(map[string]bool, len(c.Pipelines))
	for i := range c.Pipelines {
		p := &c.Pipelines[i]
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if seenPipelines[p.ID] {
			return fmt.Errorf("invalid config: duplicate pipeline id %s", p.ID)
		}
		seenPipelines[p.ID] = true
	}

	seenMonitors := make(map[string]bool, len(c.Monitors))
	for i := range c.Monitors {
		m := &c.Monitors[i]
		if err := m.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		if seenMonitors[m.ID] {
			return fmt.Errorf("invalid config: duplicate monitor id %s", m.ID)
		}
		seenMonitors[m.ID] = true
	}

	return nil
}

// Pipeline returns the named pipeline from the document.
func (c *Config) Pipeline(id string) (*pipeline.Pipeline, bool) {
	for i := range c.Pipelines {
		if c.Pipelines[i].ID == id {
			return &c.Pipelines[i], true
		}
	}
	return nil, false
}

// Monitor returns the named monitoring configuration from the document.
func (c *Config) Monitor(id string) (*monitor.Configuration, bool) {
	for i := range c.Monitors {
		if c.Monitors[i].ID == id {
			return &c.Monitors[i], true
		}
	}
	return nil, false
}
