// Package config loads orchestrator settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. LOANS_SERVER_PORT.
const EnvPrefix = "LOANS"

// Config holds the configuration for the orchestrator.
type Config struct {
	Database struct {
		URL        string `mapstructure:"url"`
		LockPolicy string `mapstructure:"lock_policy"`
	} `mapstructure:"database"`
	Server struct {
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	Queue struct {
		Workers      int           `mapstructure:"workers"`
		Buffer       int           `mapstructure:"buffer"`
		MaxAttempts  int           `mapstructure:"max_attempts"`
		JobTimeout   time.Duration `mapstructure:"job_timeout"`
		RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	} `mapstructure:"queue"`
	Sentiment struct {
		BaseURL string        `mapstructure:"base_url"`
		APIKey  string        `mapstructure:"api_key"`
		Model   string        `mapstructure:"model"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"sentiment"`
	PipelineCache struct {
		TTL time.Duration `mapstructure:"ttl"`
	} `mapstructure:"pipeline_cache"`
	Log struct {
		Level      string `mapstructure:"level"`
		SampleRate int    `mapstructure:"sample_rate"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.lock_policy", "wait")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.buffer", 128)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.job_timeout", 30*time.Second)
	v.SetDefault("queue.retry_backoff", 500*time.Millisecond)

	v.SetDefault("sentiment.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("sentiment.api_key", "")
	v.SetDefault("sentiment.model", "deepseek/deepseek-r1")
	v.SetDefault("sentiment.timeout", 20*time.Second)

	v.SetDefault("pipeline_cache.ttl", 30*time.Second)

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.sample_rate", 1)
}

// Load reads path (skipped when empty) and applies LOANS_* environment overrides on top
// of the defaults. DATABASE_URL and OPENROUTER_API_KEY are honoured as fallbacks.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("sentiment.api_key", EnvPrefix+"_SENTIMENT_API_KEY", "OPENROUTER_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the orchestrator cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Database.LockPolicy) {
	case "wait", "nowait":
	default:
		errs = append(errs, fmt.Errorf("database.lock_policy must be wait or nowait, got %q", c.Database.LockPolicy))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, fmt.Errorf("queue.workers must be positive, got %d", c.Queue.Workers))
	}
	if c.Queue.Buffer < 1 {
		errs = append(errs, fmt.Errorf("queue.buffer must be positive, got %d", c.Queue.Buffer))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts))
	}
	if c.PipelineCache.TTL < 0 {
		errs = append(errs, fmt.Errorf("pipeline_cache.ttl must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
