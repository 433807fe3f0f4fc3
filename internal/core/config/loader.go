package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	redisclient "github.com/duchft/blobcached/internal/infra/redis"
	"github.com/duchft/blobcached/internal/infra/store"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a config with every default applied and no origin set.
func Default() *AppConfig {
	var cfg AppConfig
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "sqlite"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "blobcached.db"
	}
	if cfg.Cache.MaxSizeBytes == 0 {
		cfg.Cache.MaxSizeBytes = store.DefaultLimits.MaxSizeBytes
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = store.DefaultLimits.MaxEntries
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(store.DefaultLimits.TTL)
	}
	if cfg.Cache.SchemaVersion == 0 {
		cfg.Cache.SchemaVersion = store.DefaultLimits.SchemaVersion
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = Duration(1 * time.Second)
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = Duration(10 * time.Second)
	}
	if cfg.Retry.Mode == "" {
		cfg.Retry.Mode = "exponential"
	}

	if cfg.Origin.RequestTimeout == 0 {
		cfg.Origin.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Origin.HeadCacheTTL == 0 {
		cfg.Origin.HeadCacheTTL = Duration(1 * time.Minute)
	}

	if cfg.Redis.Queue == "" {
		cfg.Redis.Queue = redisclient.DefaultQueue
	}

	if cfg.Warm.EmptySleep == 0 {
		cfg.Warm.EmptySleep = Duration(10 * time.Second)
	}
	if cfg.Warm.TaskTimeout == 0 {
		cfg.Warm.TaskTimeout = Duration(1 * time.Minute)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func validate(cfg *AppConfig) error {
	switch cfg.Cache.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown cache backend: %s", cfg.Cache.Backend)
	}

	switch cfg.Retry.Mode {
	case "exponential", "fixed":
	default:
		return fmt.Errorf("unknown retry mode: %s", cfg.Retry.Mode)
	}

	if cfg.Warm.Enabled && cfg.Redis.URL == "" {
		return fmt.Errorf("warm worker enabled but no redis url configured")
	}

	return nil
}
