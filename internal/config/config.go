package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for configuration unless told otherwise.
const DefaultPath = "retro.yml"

// Defaults applied by Validate.
const (
	DefaultInstance       = "default"
	DefaultHTTPAddress    = ":5123"
	DefaultLogLevel       = "info"
	DefaultLockTTL        = time.Hour
	DefaultReaperInterval = 5 * time.Second
	DefaultTemplate       = "retro"
)

// RetroConfig represents the top-level retro.yml configuration
type RetroConfig struct {
	Version   string              `yaml:"version"`
	Instance  string              `yaml:"instance,omitempty"` // Namespace for every Redis key and channel
	Redis     *RedisConfig        `yaml:"redis,omitempty"`    // Omit to keep boards in memory
	Locks     *LocksConfig        `yaml:"locks,omitempty"`
	HTTP      *HTTPConfig         `yaml:"http,omitempty"`
	Index     *IndexConfig        `yaml:"index,omitempty"`
	Log       *LogConfig          `yaml:"log,omitempty"`
	Templates map[string][]string `yaml:"templates,omitempty"` // Template name → column names
}

// RedisConfig selects and tunes the Redis backend
type RedisConfig struct {
	URL                   string        `yaml:"url"`
	KeyspaceNotifications bool          `yaml:"keyspace_notifications,omitempty"` // Server must run with notify-keyspace-events Ex
	ReaperInterval        time.Duration `yaml:"reaper_interval,omitempty"`
	MaxRetries            int           `yaml:"max_retries,omitempty"` // 0 = store default, negative = unlimited
}

// LocksConfig specifies editing lock behavior
type LocksConfig struct {
	TTL time.Duration `yaml:"ttl,omitempty"`
}

// HTTPConfig specifies the API server listener
type HTTPConfig struct {
	Address     string   `yaml:"address,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// IndexConfig specifies the board listing index. An empty path disables it.
type IndexConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LogConfig specifies logging
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

func defaultTemplates() map[string][]string {
	return map[string][]string{
		DefaultTemplate: {"What went well?", "What could have gone better?", "How can we improve?"},
		"start-stop-continue": {"Start", "Stop", "Continue"},
	}
}

// Default returns a validated configuration for an in-memory deployment.
func Default() *RetroConfig {
	cfg := &RetroConfig{Version: "1.0"}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate performs strict validation on the configuration and fills in defaults
func (c *RetroConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = DefaultInstance
	}
	if strings.ContainsAny(c.Instance, ": ") {
		return fmt.Errorf("invalid instance name '%s': must not contain ':' or spaces", c.Instance)
	}

	if c.Redis != nil {
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when a redis section is present")
		}
		if _, err := redis.ParseURL(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid redis.url: %w", err)
		}
		if c.Redis.ReaperInterval == 0 {
			c.Redis.ReaperInterval = DefaultReaperInterval
		}
		if c.Redis.ReaperInterval < 0 {
			return fmt.Errorf("redis.reaper_interval must be positive, got %s", c.Redis.ReaperInterval)
		}
	}

	if c.Locks == nil {
		c.Locks = &LocksConfig{}
	}
	if c.Locks.TTL == 0 {
		c.Locks.TTL = DefaultLockTTL
	}
	if c.Locks.TTL < 0 {
		return fmt.Errorf("locks.ttl must be positive, got %s", c.Locks.TTL)
	}

	if c.HTTP == nil {
		c.HTTP = &HTTPConfig{}
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = DefaultHTTPAddress
	}
	if len(c.HTTP.CORSOrigins) == 0 {
		c.HTTP.CORSOrigins = []string{"*"}
	}

	if c.Index == nil {
		c.Index = &IndexConfig{}
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Log.Level)
	}

	if len(c.Templates) == 0 {
		c.Templates = defaultTemplates()
	}
	for name, columns := range c.Templates {
		if len(columns) == 0 {
			return fmt.Errorf("template '%s': at least one column is required", name)
		}
		for i, column := range columns {
			if strings.TrimSpace(column) == "" {
				return fmt.Errorf("template '%s': column %d has an empty name", name, i)
			}
		}
	}

	return nil
}

// UsesRedis reports whether boards are stored in Redis.
func (c *RetroConfig) UsesRedis() bool {
	return c.Redis != nil && c.Redis.URL != ""
}

// ApplyEnv overrides settings from RETRO_* environment variables.
func (c *RetroConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("RETRO_INSTANCE"); ok && v != "" {
		c.Instance = v
	}
	if v, ok := lookup("RETRO_REDIS_URL"); ok && v != "" {
		if c.Redis == nil {
			c.Redis = &RedisConfig{}
		}
		c.Redis.URL = v
	}
	if v, ok := lookup("RETRO_LOG_LEVEL"); ok && v != "" {
		if c.Log == nil {
			c.Log = &LogConfig{}
		}
		c.Log.Level = v
	}
	if v, ok := lookup("RETRO_HTTP_ADDRESS"); ok && v != "" {
		if c.HTTP == nil {
			c.HTTP = &HTTPConfig{}
		}
		c.HTTP.Address = v
	}
	if v, ok := lookup("RETRO_INDEX_PATH"); ok {
		if c.Index == nil {
			c.Index = &IndexConfig{}
		}
		c.Index.Path = v
	}
}

// Load reads retro.yml from the specified path, applies environment
// overrides and validates the result
func Load(path string) (*RetroConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config RetroConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.ApplyEnv(os.LookupEnv)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// LoadOrDefault loads path, falling back to the environment-adjusted
// defaults when the file does not exist.
func LoadOrDefault(path string) (*RetroConfig, error) {
	config, err := Load(path)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	config = &RetroConfig{Version: "1.0"}
	config.ApplyEnv(os.LookupEnv)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
