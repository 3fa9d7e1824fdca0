package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable indexwarden reads.
const EnvPrefix = "INDEXWARDEN_"

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// envSpec maps one environment variable onto a config key.
type envSpec struct {
	Name string
	Path string
}

// SetConfigFile pins the YAML file Load reads. An empty path restores
// discovery of the user config paths.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration with precedence runtime overrides > env >
// file > defaults, validates it, and makes it the current config.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if err := readConfigFile(v, explicit); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if val, ok := os.LookupEnv(spec.Name); ok {
			v.Set(spec.Path, val)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Profile = strings.ToLower(strings.TrimSpace(cfg.Logging.Profile))
	cfg.Tracker.Kind = strings.ToLower(strings.TrimSpace(cfg.Tracker.Kind))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the most recently loaded config, or nil before Load.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func readConfigFile(v *viper.Viper, explicit string) error {
	v.SetConfigType("yaml")
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	for _, path := range getUserConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths lists candidate config files, most specific first.
func getUserConfigPaths() []string {
	return []string{
		"indexwarden.yaml",
		filepath.Join(gfconfig.GetAppConfigDir(AppName), "config.yaml"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(DataDir(), "indexers.db"))
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.lock_timeout", "10s")
	v.SetDefault("store.lock_lease", "30s")
	v.SetDefault("store.unlock_visibility_timeout", "2s")

	v.SetDefault("reconcile.poll_interval_ms", 60000)
	v.SetDefault("reconcile.resync_interval", "5m")
	v.SetDefault("reconcile.include", []string{})

	v.SetDefault("tracker.kind", "registry")
	v.SetDefault("tracker.timeout", "10s")
	v.SetDefault("tracker.http.base_url", "")
	v.SetDefault("tracker.http.rate_limit", 20.0)
	v.SetDefault("tracker.http.burst", 5)
	v.SetDefault("tracker.registry.root", filepath.Join(DataDir(), "jobs"))
	v.SetDefault("tracker.s3.bucket", "")
	v.SetDefault("tracker.s3.prefix", "")
	v.SetDefault("tracker.s3.region", "")
	v.SetDefault("tracker.s3.endpoint", "")
	v.SetDefault("tracker.s3.profile", "")
	v.SetDefault("tracker.s3.force_path_style", false)
}

func getEnvSpecs() []envSpec {
	pairs := [][2]string{
		{"HOST", "server.host"},
		{"PORT", "server.port"},
		{"READ_TIMEOUT", "server.read_timeout"},
		{"WRITE_TIMEOUT", "server.write_timeout"},
		{"IDLE_TIMEOUT", "server.idle_timeout"},
		{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
		{"LOG_LEVEL", "logging.level"},
		{"LOG_PROFILE", "logging.profile"},
		{"METRICS_ENABLED", "metrics.enabled"},
		{"STORE_DRIVER", "store.driver"},
		{"STORE_PATH", "store.path"},
		{"STORE_URL", "store.url"},
		{"STORE_AUTH_TOKEN", "store.auth_token"},
		{"LOCK_TIMEOUT", "store.lock_timeout"},
		{"POLL_INTERVAL_MS", "reconcile.poll_interval_ms"},
		{"RESYNC_INTERVAL", "reconcile.resync_interval"},
		{"INCLUDE", "reconcile.include"},
		{"TRACKER_KIND", "tracker.kind"},
		{"TRACKER_TIMEOUT", "tracker.timeout"},
		{"TRACKER_URL", "tracker.http.base_url"},
		{"TRACKER_RATE_LIMIT", "tracker.http.rate_limit"},
		{"REGISTRY_ROOT", "tracker.registry.root"},
		{"S3_BUCKET", "tracker.s3.bucket"},
		{"S3_PREFIX", "tracker.s3.prefix"},
		{"S3_REGION", "tracker.s3.region"},
		{"S3_ENDPOINT", "tracker.s3.endpoint"},
		{"S3_PROFILE", "tracker.s3.profile"},
	}
	specs := make([]envSpec, 0, len(pairs))
	for _, p := range pairs {
		specs = append(specs, envSpec{Name: EnvPrefix + p[0], Path: p[1]})
	}
	return specs
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
