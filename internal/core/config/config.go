package config

import (
	"fmt"
	"time"

	"github.com/duchft/blobcached/internal/infra/origin"
	redisclient "github.com/duchft/blobcached/internal/infra/redis"
	"github.com/duchft/blobcached/internal/infra/store"
	"github.com/duchft/blobcached/internal/retry"
)

// Duration decodes yaml duration values written either as Go duration
// strings ("250ms", "24h") or as bare nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := unmarshal(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server  ServerConfig       `yaml:"server"`
	Cache   CacheConfig        `yaml:"cache"`
	Retry   RetryConfig        `yaml:"retry"`
	Origin  OriginConfig       `yaml:"origin"`
	Redis   redisclient.Config `yaml:"redis"`
	Warm    WarmConfig         `yaml:"warm"`
	Logging LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// CacheConfig holds cache store settings.
type CacheConfig struct {
	Backend         string   `yaml:"backend"` // sqlite, memory
	Path            string   `yaml:"path"`    // sqlite database file
	MaxSizeBytes    int64    `yaml:"max_size_bytes"`
	MaxEntries      int64    `yaml:"max_entries"`
	TTL             Duration `yaml:"ttl"`
	SchemaVersion   int      `yaml:"schema_version"`
	CleanupInterval Duration `yaml:"cleanup_interval"` // 0 = derived from TTL
}

// Limits converts the cache section to store limits.
func (c CacheConfig) Limits() store.Limits {
	return store.Limits{
		MaxSizeBytes:  c.MaxSizeBytes,
		MaxEntries:    c.MaxEntries,
		TTL:           c.TTL.Std(),
		SchemaVersion: c.SchemaVersion,
	}
}

// RetryConfig holds retry settings for origin fetches.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Mode        string   `yaml:"mode"` // exponential, fixed
}

// Policy converts the retry section to a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.Std(),
		MaxDelay:    r.MaxDelay.Std(),
		Exponential: r.Mode != "fixed",
	}
}

// OriginConfig holds origin connection settings.
type OriginConfig struct {
	BaseURL        string   `yaml:"base_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
	HeadCacheTTL   Duration `yaml:"head_cache_ttl"`
}

// Client converts the origin section to the origin client's config.
func (o OriginConfig) Client() origin.Config {
	return origin.Config{
		BaseURL:        o.BaseURL,
		RequestTimeout: o.RequestTimeout.Std(),
		HeadCacheTTL:   o.HeadCacheTTL.Std(),
	}
}

// WarmConfig holds warm worker settings. The worker only runs when enabled
// and a Redis URL is configured.
type WarmConfig struct {
	Enabled     bool     `yaml:"enabled"`
	EmptySleep  Duration `yaml:"empty_sleep"`
	TaskTimeout Duration `yaml:"task_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `yaml:"level"`  // debug, info, warn, error
	Format    string `yaml:"format"` // json, text
	File      string `yaml:"file"`   // optional rotating log file
	MaxSizeMB int    `yaml:"max_size_mb"`
}
