// Package config loads engine configuration from a YAML file with sensible
// defaults for every field, so a missing or partial file still yields a
// runnable configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the experimentation engine.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Mining     MiningConfig     `yaml:"mining"`
	Bus        BusConfig        `yaml:"bus"`
	Logging    LoggingConfig    `yaml:"logging"`
	// AgentVersion is stamped onto outcome records.
	AgentVersion string `yaml:"agent_version"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ExperimentConfig tunes the experiment manager.
type ExperimentConfig struct {
	MaxActive            int           `yaml:"max_active"`
	MinimumDuration      time.Duration `yaml:"minimum_duration"`
	AutoDeployThreshold  float64       `yaml:"auto_deploy_threshold"`
	CompletionSweepEvery time.Duration `yaml:"completion_sweep_every"`
}

// MiningConfig tunes the pattern miner and its schedule.
type MiningConfig struct {
	Interval      time.Duration `yaml:"interval"`
	LookbackDays  int           `yaml:"lookback_days"`
	MinSampleSize int           `yaml:"min_sample_size"`
}

// BusConfig configures the message bus used for deploy and pattern
// announcements.
type BusConfig struct {
	// Enabled switches between the NATS bus and the in-memory bus.
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Name    string `yaml:"name"`
}

// LoggingConfig configures structured event logging.
type LoggingConfig struct {
	Dir      string `yaml:"dir"`
	MinLevel string `yaml:"min_level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "pitchlab.db"},
		Experiment: ExperimentConfig{
			MaxActive:            5,
			MinimumDuration:      24 * time.Hour,
			AutoDeployThreshold:  0.95,
			CompletionSweepEvery: 5 * time.Minute,
		},
		Mining: MiningConfig{
			Interval:      24 * time.Hour,
			LookbackDays:  30,
			MinSampleSize: 10,
		},
		Bus: BusConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
			Name:    "pitchlab",
		},
		Logging: LoggingConfig{
			Dir:      "logs",
			MinLevel: "info",
		},
		AgentVersion: "dev",
	}
}

// Load reads configuration from the given path, layering file values over
// defaults and environment overrides over both. A missing or empty path is
// not an error; env overrides still apply in file-less deployments.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// Fall through to env and defaults.
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyFloors()
	return cfg, nil
}

// applyEnv layers environment overrides over file values, for deployments
// where the config file is baked into an image.
func (c *Config) applyEnv() {
	if v := os.Getenv("PITCHLAB_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("PITCHLAB_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("PITCHLAB_BUS_URL"); v != "" {
		c.Bus.URL = v
		c.Bus.Enabled = true
	}
	if v := os.Getenv("PITCHLAB_AGENT_VERSION"); v != "" {
		c.AgentVersion = v
	}
}

// applyFloors backfills defaults for fields the file zeroed or omitted.
func (c *Config) applyFloors() {
	def := Default()
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Experiment.MaxActive <= 0 {
		c.Experiment.MaxActive = def.Experiment.MaxActive
	}
	if c.Experiment.MinimumDuration <= 0 {
		c.Experiment.MinimumDuration = def.Experiment.MinimumDuration
	}
	if c.Experiment.AutoDeployThreshold <= 0 {
		c.Experiment.AutoDeployThreshold = def.Experiment.AutoDeployThreshold
	}
	if c.Experiment.CompletionSweepEvery <= 0 {
		c.Experiment.CompletionSweepEvery = def.Experiment.CompletionSweepEvery
	}
	if c.Mining.Interval <= 0 {
		c.Mining.Interval = def.Mining.Interval
	}
	if c.Mining.LookbackDays <= 0 {
		c.Mining.LookbackDays = def.Mining.LookbackDays
	}
	if c.Mining.MinSampleSize <= 0 {
		c.Mining.MinSampleSize = def.Mining.MinSampleSize
	}
	if c.Bus.URL == "" {
		c.Bus.URL = def.Bus.URL
	}
	if c.Bus.Name == "" {
		c.Bus.Name = def.Bus.Name
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = def.Logging.Dir
	}
	if c.Logging.MinLevel == "" {
		c.Logging.MinLevel = def.Logging.MinLevel
	}
	if c.AgentVersion == "" {
		c.AgentVersion = def.AgentVersion
	}
}
