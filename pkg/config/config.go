// Package config loads the ledger's declarative settings document
// (SPEC_FULL.md §6's "Declarative configuration" addition), generalizing
// the teacher's WarrenResource yaml.v3 apply pattern
// (cmd/warren/apply.go) from a cluster resource to a flat settings file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the ledger looks for its configuration file when
// none is given explicitly, rooted at $HOME (SPEC_FULL.md §6).
const DefaultPath = ".tom/dpl.yaml"

// StoreConfig mirrors pkg/store.Config's tunables.
type StoreConfig struct {
	BasePath            string        `yaml:"basePath"`
	LockAcquireDeadline time.Duration `yaml:"lockAcquireDeadline"`
	LockRetryInterval   time.Duration `yaml:"lockRetryInterval"`
	StaleLockThreshold  time.Duration `yaml:"staleLockThreshold"`
	TrailEncoding       string        `yaml:"trailEncoding"` // "json" or "msgpack"
}

// HeartbeatConfig mirrors pkg/heartbeat.Deps's tunables.
type HeartbeatConfig struct {
	Interval           time.Duration `yaml:"interval"`
	Jitter             time.Duration `yaml:"jitter"`
	StalenessThreshold time.Duration `yaml:"staleness"`
}

// LogConfig mirrors pkg/log.Config.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig configures the /metrics listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// ArchiveS3Config configures pkg/store/s3archive.
type ArchiveS3Config struct {
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint,omitempty"`
	UsePathStyle  bool   `yaml:"usePathStyle,omitempty"`
}

// ArchiveConfig wraps the archive backend configuration.
type ArchiveConfig struct {
	S3 ArchiveS3Config `yaml:"s3"`
}

// APIConfig configures the optional HTTP veneer (pkg/httpapi).
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// Config is the root document loaded from ~/.tom/dpl.yaml (or --config).
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Archive   ArchiveConfig   `yaml:"archive"`
	API       APIConfig       `yaml:"api"`
}

// Default returns a Config populated with SPEC_FULL.md's nominal values.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Store: StoreConfig{
			BasePath:            filepath.Join(home, ".tom", "dpl"),
			LockAcquireDeadline: time.Second,
			LockRetryInterval:   50 * time.Millisecond,
			StaleLockThreshold:  2 * time.Second,
			TrailEncoding:       "json",
		},
		Heartbeat: HeartbeatConfig{
			Interval:           4500 * time.Millisecond,
			Jitter:             500 * time.Millisecond,
			StalenessThreshold: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", JSON: false},
		Metrics: MetricsConfig{ListenAddr: ":19881"},
		API:     APIConfig{ListenAddr: ":19880"},
	}
}

// Load reads and parses a YAML config file at path, overlaying it onto
// Default(). A missing file at the default path is not an error — Load
// returns Default() unmodified; a missing file at an explicitly-requested
// path is.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
