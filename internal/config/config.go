// Package config loads the single environment configuration record
// for the coordination substrate, the way the teacher's
// internal/agents.LoadTeamsConfig / LoadProjectsConfig load YAML.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single configuration record described in spec.md §6:
// data root path, max chunk size, cache size, daily scaling limit,
// per-project lock defaults, and backend selection flags.
type Config struct {
	DataRoot          string        `yaml:"data_root"`
	MaxChunkTokens     int           `yaml:"max_chunk_tokens"`
	ContextCacheSize   int           `yaml:"context_cache_size"`
	DailyScalingLimit  int           `yaml:"daily_scaling_limit"`
	Locks              LockDefaults  `yaml:"locks"`
	Backends           Backends      `yaml:"backends"`
}

// LockDefaults are per-project defaults for the Lock Manager.
type LockDefaults struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// UnmarshalYAML lets LockDefaults take human-readable durations like
// "60s" in the config file — time.Duration has no UnmarshalYAML of
// its own, so without this the zero-value defaults would silently win.
func (l *LockDefaults) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		DefaultTimeout string `yaml:"default_timeout"`
		SweepInterval  string `yaml:"sweep_interval"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.DefaultTimeout != "" {
		d, err := time.ParseDuration(raw.DefaultTimeout)
		if err != nil {
			return err
		}
		l.DefaultTimeout = d
	}
	if raw.SweepInterval != "" {
		d, err := time.ParseDuration(raw.SweepInterval)
		if err != nil {
			return err
		}
		l.SweepInterval = d
	}
	return nil
}

// Backends selects optional dependencies.
type Backends struct {
	EmbeddingsEnabled bool   `yaml:"embeddings_enabled"`
	DurableStoreKind  string `yaml:"durable_store_kind"` // "sqlite" | "memory"
	NATSURL           string `yaml:"nats_url"`
	MonitorAddr       string `yaml:"monitor_addr"`
}

// Default returns sane defaults matching the bounds spec.md §5 places
// on the background sweepers.
func Default() *Config {
	return &Config{
		DataRoot:          "./data",
		MaxChunkTokens:    2000,
		ContextCacheSize:  500,
		DailyScalingLimit: 100,
		Locks: LockDefaults{
			DefaultTimeout: 60 * time.Second,
			SweepInterval:  5 * time.Second,
		},
		Backends: Backends{
			EmbeddingsEnabled: false,
			DurableStoreKind:  "sqlite",
			NATSURL:           "nats://127.0.0.1:4222",
			MonitorAddr:       ":8089",
		},
	}
}

// Load reads a Config from a YAML file, filling in defaults for any
// zero-valued field.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
