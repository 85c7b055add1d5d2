package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. The two cache names are
// shared with existing deployments of the feed enhancer.
const (
	EnvCacheMaxAge          = "CACHE_MAX_AGE"
	EnvCacheStaleWhileReval = "CACHE_STALE_WHILE_REVALIDATE"
	EnvListen               = "ALLRISFEED_LISTEN"
	EnvLogLevel             = "ALLRISFEED_LOG_LEVEL"
	EnvDetailMaxConcurrency = "ALLRISFEED_DETAIL_MAX_CONCURRENCY"
)

const (
	defaultListen              = "127.0.0.1:8080"
	defaultCacheMaxAge         = 86400
	defaultStaleWhileReval     = 120
	defaultDetailMarker        = "SILFDNR"
	defaultDetailLocationID    = "location"
	defaultDetailMaxConcurrent = 8
)

// ServerConfig controls the inbound HTTP server.
type ServerConfig struct {
	// RequestTimeout bounds the whole enhancement pipeline of one request.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// CacheConfig holds the durations emitted in the Cache-Control header, in seconds.
type CacheConfig struct {
	MaxAge               int `yaml:"max_age" json:"max_age"`
	StaleWhileRevalidate int `yaml:"stale_while_revalidate" json:"stale_while_revalidate"`
}

// FeedConfig controls retrieval of the upstream ICS feed.
type FeedConfig struct {
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts uint          `yaml:"retry_attempts" json:"retry_attempts"`
	UserAgent     string        `yaml:"user_agent" json:"user_agent"`
}

// DetailConfig controls retrieval and scraping of per-event detail pages.
type DetailConfig struct {
	// Marker is the substring an event URL must contain to be fetched.
	Marker string `yaml:"marker" json:"marker"`
	// LocationID is the HTML id of the element holding the refined location.
	LocationID string `yaml:"location_id" json:"location_id"`
	// MaxConcurrency caps simultaneous detail fetches per request. Excess
	// fetches wait for a free slot.
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts  uint          `yaml:"retry_attempts" json:"retry_attempts"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of DEBUG, INFO, ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Server ServerConfig `yaml:"server" json:"server"`
	Cache  CacheConfig  `yaml:"cache" json:"cache"`
	Feed   FeedConfig   `yaml:"feed" json:"feed"`
	Detail DetailConfig `yaml:"detail" json:"detail"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		LogLevel: "INFO",
		Server: ServerConfig{
			RequestTimeout: 60 * time.Second,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   90 * time.Second,
		},
		Cache: CacheConfig{
			MaxAge:               defaultCacheMaxAge,
			StaleWhileRevalidate: defaultStaleWhileReval,
		},
		Feed: FeedConfig{
			Timeout:       15 * time.Second,
			RetryAttempts: 3,
			UserAgent:     "allrisfeed/1.0",
		},
		Detail: DetailConfig{
			Marker:         defaultDetailMarker,
			LocationID:     defaultDetailLocationID,
			MaxConcurrency: defaultDetailMaxConcurrent,
			Timeout:        10 * time.Second,
			RetryAttempts:  1,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = def.Server.RequestTimeout
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}
	// Zero is a legitimate cache value (no caching), only negatives are reset.
	if c.Cache.MaxAge < 0 {
		c.Cache.MaxAge = def.Cache.MaxAge
	}
	if c.Cache.StaleWhileRevalidate < 0 {
		c.Cache.StaleWhileRevalidate = def.Cache.StaleWhileRevalidate
	}
	if c.Feed.Timeout <= 0 {
		c.Feed.Timeout = def.Feed.Timeout
	}
	if c.Feed.RetryAttempts == 0 {
		c.Feed.RetryAttempts = def.Feed.RetryAttempts
	}
	if c.Feed.UserAgent == "" {
		c.Feed.UserAgent = def.Feed.UserAgent
	}
	if c.Detail.Marker == "" {
		c.Detail.Marker = def.Detail.Marker
	}
	if c.Detail.LocationID == "" {
		c.Detail.LocationID = def.Detail.LocationID
	}
	if c.Detail.MaxConcurrency <= 0 {
		c.Detail.MaxConcurrency = def.Detail.MaxConcurrency
	}
	if c.Detail.Timeout <= 0 {
		c.Detail.Timeout = def.Detail.Timeout
	}
	if c.Detail.RetryAttempts == 0 {
		c.Detail.RetryAttempts = def.Detail.RetryAttempts
	}
}

// Load loads configuration from the given YAML path and applies environment
// overrides.
//
// Behavior:
//   - An empty path or a missing file yields the defaults.
//   - A ".env" file in the working directory is loaded if present; it never
//     overrides variables already set in the process environment.
//   - CACHE_MAX_AGE, CACHE_STALE_WHILE_REVALIDATE and the ALLRISFEED_*
//     variables take precedence over the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// overrideFromEnv applies environment variables on top of the file config.
func overrideFromEnv(cfg *Config) error {
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if err := envInt(EnvCacheMaxAge, &cfg.Cache.MaxAge); err != nil {
		return err
	}
	if err := envInt(EnvCacheStaleWhileReval, &cfg.Cache.StaleWhileRevalidate); err != nil {
		return err
	}
	if err := envInt(EnvDetailMaxConcurrency, &cfg.Detail.MaxConcurrency); err != nil {
		return err
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	*dst = n
	return nil
}
