// Package config loads the daemon configuration from YAML with environment
// fallbacks for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/awi-labs/awiblog/pkg/ratelimit"
)

// Config represents the application configuration
type Config struct {
	// HTTP
	Port    int `yaml:"port"`
	OpsPort int `yaml:"ops_port"`

	// Content store
	DBPath string `yaml:"db_path"`

	// Redis (state backend + shared rate limit log)
	Redis RedisConfig `yaml:"redis"`

	// Session state TTLs
	Session SessionConfig `yaml:"session"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Archive
	ArchivePath string `yaml:"archive_path"`

	// Human API coarse throttle
	Throttle ThrottleConfig `yaml:"throttle"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SessionConfig holds the three independent TTL horizons.
type SessionConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	DiffTTL  time.Duration `yaml:"diff_ttl"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds the per-operation base limits and cleanup cadence.
type RateLimitConfig struct {
	// Shared selects the Redis-backed request log instead of the
	// process-local one. Required for multi-node deployments.
	Shared          bool                        `yaml:"shared"`
	CleanupInterval time.Duration               `yaml:"cleanup_interval"`
	Operations      map[string]ratelimit.Limits `yaml:"operations"`
}

// ThrottleConfig holds the coarse per-client limiter for the human API.
type ThrottleConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:    8080,
		OpsPort: 9090,
		DBPath:  "data/awiblog.db",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Session: SessionConfig{
			TTL:      30 * time.Minute,
			DiffTTL:  5 * time.Minute,
			CacheTTL: 2 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			CleanupInterval: 5 * time.Minute,
			Operations: map[string]ratelimit.Limits{
				"list_posts":     {Hourly: 300, Minute: 30, Burst: 10},
				"get_post":       {Hourly: 600, Minute: 60, Burst: 15},
				"search_posts":   {Hourly: 150, Minute: 15, Burst: 5, CooldownSeconds: 1},
				"create_post":    {Hourly: 150, Minute: 10, Burst: 5, CooldownSeconds: 2},
				"create_comment": {Hourly: 200, Minute: 20, Burst: 5, CooldownSeconds: 1},
			},
		},
		ArchivePath: "data/sessions.archive.jsonl",
		Throttle: ThrottleConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// Load reads configuration from a YAML file layered over the defaults,
// then applies environment overrides. A missing file is not an error; the
// defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("OPS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.OpsPort = p
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.Session.DiffTTL > c.Session.TTL {
		return fmt.Errorf("diff ttl must not exceed session ttl")
	}
	if c.Session.CacheTTL > c.Session.TTL {
		return fmt.Errorf("cache ttl must not exceed session ttl")
	}
	return nil
}

// Policy returns the rate limit policy map for the limiter.
func (c *Config) Policy() ratelimit.Policy {
	return ratelimit.Policy(c.RateLimit.Operations)
}
