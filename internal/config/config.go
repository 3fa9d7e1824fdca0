// Package config loads indexwarden configuration from defaults, an optional
// YAML file, INDEXWARDEN_* environment variables and runtime overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"

	"github.com/3leaps/indexwarden/pkg/tracker"
)

// AppName names the XDG config and data directories.
const AppName = "indexwarden"

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Store     StoreConfig     `mapstructure:"store"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// Profile is "structured" (JSON) or "console".
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StoreConfig selects and tunes the indexer model store.
type StoreConfig struct {
	// Driver is "sqlite" (sqlite or libsql) or "memory".
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	LockTimeout             time.Duration `mapstructure:"lock_timeout"`
	LockLease               time.Duration `mapstructure:"lock_lease"`
	UnlockVisibilityTimeout time.Duration `mapstructure:"unlock_visibility_timeout"`
}

type ReconcileConfig struct {
	// PollIntervalMS is the retry delay for in-flight builds, in milliseconds.
	PollIntervalMS int           `mapstructure:"poll_interval_ms"`
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	Include        []string      `mapstructure:"include"`
}

// PollInterval returns PollIntervalMS as a duration.
func (r ReconcileConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalMS) * time.Millisecond
}

type TrackerConfig struct {
	Kind     string                `mapstructure:"kind"`
	Timeout  time.Duration         `mapstructure:"timeout"`
	HTTP     HTTPTrackerConfig     `mapstructure:"http"`
	Registry RegistryTrackerConfig `mapstructure:"registry"`
	S3       S3TrackerConfig       `mapstructure:"s3"`
}

type HTTPTrackerConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type RegistryTrackerConfig struct {
	Root string `mapstructure:"root"`
}

type S3TrackerConfig struct {
	Bucket         string `mapstructure:"bucket"`
	Prefix         string `mapstructure:"prefix"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}

	switch c.Logging.Profile {
	case "structured", "console":
	default:
		return fmt.Errorf("logging.profile must be structured or console, got %q", c.Logging.Profile)
	}

	switch c.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(c.Store.Path) == "" && strings.TrimSpace(c.Store.URL) == "" {
			return fmt.Errorf("store.path or store.url is required for the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite or memory, got %q", c.Store.Driver)
	}
	if c.Store.LockTimeout <= 0 {
		return fmt.Errorf("store.lock_timeout must be positive")
	}

	if c.Reconcile.PollIntervalMS <= 0 {
		return fmt.Errorf("reconcile.poll_interval_ms must be a positive integer, got %d", c.Reconcile.PollIntervalMS)
	}
	if c.Reconcile.ResyncInterval < 0 {
		return fmt.Errorf("reconcile.resync_interval must not be negative")
	}

	kind, err := tracker.ParseKind(c.Tracker.Kind)
	if err != nil {
		return fmt.Errorf("tracker.kind: %w", err)
	}
	switch kind {
	case tracker.KindHTTP:
		if strings.TrimSpace(c.Tracker.HTTP.BaseURL) == "" {
			return fmt.Errorf("tracker.http.base_url is required for the http tracker")
		}
	case tracker.KindS3:
		if strings.TrimSpace(c.Tracker.S3.Bucket) == "" {
			return fmt.Errorf("tracker.s3.bucket is required for the s3 tracker")
		}
	case tracker.KindRegistry:
		if strings.TrimSpace(c.Tracker.Registry.Root) == "" {
			return fmt.Errorf("tracker.registry.root is required for the registry tracker")
		}
	}
	return nil
}

// DataDir is where indexwarden keeps local state by default.
func DataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}
