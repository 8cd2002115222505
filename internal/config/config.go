// Package config loads chaincheck configuration from YAML, with defaults
// that match the validated corpus settings and environment overrides for the
// few knobs CI wants to vary.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all chaincheck configuration.
type Config struct {
	// Seed drives every stochastic choice in a run.
	Seed uint64 `yaml:"seed"`

	// Tolerance bounds for the equivalence checks.
	Tolerance ToleranceConfig `yaml:"tolerance"`

	// Corpus selection and sizing.
	Corpus CorpusConfig `yaml:"corpus"`

	// Store persists run results.
	Store StoreConfig `yaml:"store"`

	// Logging.
	Logging LoggingConfig `yaml:"logging"`

	// Watch mode.
	Watch WatchConfig `yaml:"watch"`
}

// ToleranceConfig bounds acceptable divergence between evaluation modes.
type ToleranceConfig struct {
	FactorAbs float64 `yaml:"factor_abs"`
	LossAbs   float64 `yaml:"loss_abs"`
	GradAbs   float64 `yaml:"grad_abs"`
}

// CorpusConfig selects which models a run checks.
type CorpusConfig struct {
	// Models restricts the run to the named models; empty means all.
	Models []string `yaml:"models"`
	// IncludeLong adds the long-sequence variants.
	IncludeLong bool `yaml:"include_long"`
	// Parallelism caps concurrent model checks; 0 means one per model.
	Parallelism int `yaml:"parallelism"`
}

// StoreConfig configures the results database.
type StoreConfig struct {
	// Path to the SQLite database; empty disables persistence.
	Path string `yaml:"path"`
}

// LoggingConfig configures the shared logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Paths to watch for changes; defaults to the config file itself.
	Paths []string `yaml:"paths"`
	// Debounce between a change and the rerun, as a Go duration string.
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Seed: 0,
		Tolerance: ToleranceConfig{
			FactorAbs: 1e-9,
			LossAbs:   1e-4,
			GradAbs:   1e-4,
		},
		Corpus: CorpusConfig{
			Parallelism: 0,
		},
		Store: StoreConfig{
			Path: "data/chaincheck.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHAINCHECK_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Seed = seed
		}
	}
	if v := os.Getenv("CHAINCHECK_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CHAINCHECK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
