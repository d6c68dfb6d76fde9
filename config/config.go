package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/jonwraymond/modelops/batch"
	"github.com/jonwraymond/modelops/cache"
	"github.com/jonwraymond/modelops/health"
	"github.com/jonwraymond/modelops/observe"
	"github.com/jonwraymond/modelops/secret"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODELOPS"

// Errors returned by Load.
var (
	ErrRead       = errors.New("config: read failed")
	ErrValidation = errors.New("config: validation failed")
	ErrSecret     = errors.New("config: secret resolution failed")
)

// Settings holds the configuration of every component.
type Settings struct {
	Cache   cache.Config   `mapstructure:"cache"`
	Batch   batch.Config   `mapstructure:"batch"`
	Observe observe.Config `mapstructure:"observe"`
	Health  HealthSettings `mapstructure:"health"`
	Redis   RedisSettings  `mapstructure:"redis"`
}

// RedisSettings selects a Redis server for cache snapshots instead of
// PersistPath.
type RedisSettings struct {
	// URL is a redis:// URL and may carry secret references, e.g.
	// redis://:secretref:env:REDIS_PASSWORD@cache:6379/0. Empty disables
	// Redis snapshots.
	URL string `mapstructure:"url" validate:"omitempty,startswith=redis"`

	// Key holds the snapshot blob.
	// Default: "modelops:cache:snapshot"
	Key string `mapstructure:"key" validate:"required_with=URL"`
}

// HealthSettings configures the cache and scheduler health checks.
type HealthSettings struct {
	Budget  health.Thresholds           `mapstructure:"budget"`
	Backlog health.BacklogCheckerConfig `mapstructure:"backlog"`

	// Timeout bounds one aggregated health run.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Cache: cache.DefaultConfig(),
		Batch: batch.DefaultConfig(),
		Observe: observe.Config{
			ServiceName: "modelops",
			Tracing:     observe.TracingConfig{Exporter: "none", SamplePct: 1},
			Metrics:     observe.MetricsConfig{Exporter: "none"},
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
		},
		Health: HealthSettings{
			Budget:  health.DefaultThresholds(),
			Backlog: health.BacklogCheckerConfig{WarningQueued: 100, CriticalQueued: 1000},
			Timeout: 10 * time.Second,
		},
		Redis: RedisSettings{Key: "modelops:cache:snapshot"},
	}
}

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	resolver *secret.Resolver
}

// WithResolver replaces secret.DefaultResolver for secret references.
func WithResolver(r *secret.Resolver) Option {
	return func(o *loadOptions) { o.resolver = r }
}

// Load reads settings from the YAML file at path, if path is non-empty,
// applies MODELOPS_ environment overrides, resolves secret references in
// the cache path and Redis URL, and validates the result.
func Load(path string, opts ...Option) (*Settings, error) {
	o := loadOptions{resolver: secret.DefaultResolver()}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrRead, path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %w", ErrRead, err)
	}
	err := o.resolver.ResolveAll(context.Background(), map[string]*string{
		"cache.persist_path": &s.Cache.PersistPath,
		"redis.url":          &s.Redis.URL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecret, err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New()

// Validate checks struct tags and each component's own rules.
func Validate(s *Settings) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.Cache.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.Batch.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := s.Observe.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if s.Health.Budget.Critical != 0 && s.Health.Budget.Critical < s.Health.Budget.Warning {
		return fmt.Errorf("%w: health.budget.critical below warning", ErrValidation)
	}
	return nil
}

// setDefaults registers every leaf key so environment overrides apply even
// when the file omits a setting.
func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("cache.name", d.Cache.Name)
	v.SetDefault("cache.max_items", d.Cache.MaxItems)
	v.SetDefault("cache.max_memory_mb", d.Cache.MaxMemoryMB)
	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL)
	v.SetDefault("cache.max_ttl", d.Cache.MaxTTL)
	v.SetDefault("cache.persist_path", d.Cache.PersistPath)
	v.SetDefault("cache.load_on_start", d.Cache.LoadOnStart)
	v.SetDefault("cache.save_on_exit", d.Cache.SaveOnExit)
	v.SetDefault("cache.save_interval", d.Cache.SaveInterval)
	v.SetDefault("cache.eviction_policy", d.Cache.EvictionPolicy)

	v.SetDefault("batch.name", d.Batch.Name)
	v.SetDefault("batch.max_concurrent", d.Batch.MaxConcurrent)
	v.SetDefault("batch.max_batch_size", d.Batch.MaxBatchSize)
	v.SetDefault("batch.batch_time_window", d.Batch.BatchTimeWindow)
	v.SetDefault("batch.max_retries", d.Batch.MaxRetries)
	v.SetDefault("batch.retry_delay", d.Batch.RetryDelay)
	v.SetDefault("batch.priority_threshold", d.Batch.PriorityThreshold)
	v.SetDefault("batch.timeout", d.Batch.Timeout)
	v.SetDefault("batch.max_batches_per_second", d.Batch.MaxBatchesPerSecond)
	v.SetDefault("batch.burst", d.Batch.Burst)

	v.SetDefault("observe.service_name", d.Observe.ServiceName)
	v.SetDefault("observe.version", d.Observe.Version)
	v.SetDefault("observe.tracing.enabled", d.Observe.Tracing.Enabled)
	v.SetDefault("observe.tracing.exporter", d.Observe.Tracing.Exporter)
	v.SetDefault("observe.tracing.sample_pct", d.Observe.Tracing.SamplePct)
	v.SetDefault("observe.metrics.enabled", d.Observe.Metrics.Enabled)
	v.SetDefault("observe.metrics.exporter", d.Observe.Metrics.Exporter)
	v.SetDefault("observe.metrics.interval", d.Observe.Metrics.Interval)
	v.SetDefault("observe.set_global", d.Observe.SetGlobal)
	v.SetDefault("observe.logging.enabled", d.Observe.Logging.Enabled)
	v.SetDefault("observe.logging.level", d.Observe.Logging.Level)

	v.SetDefault("health.budget.warning", d.Health.Budget.Warning)
	v.SetDefault("health.budget.critical", d.Health.Budget.Critical)
	v.SetDefault("health.backlog.name", d.Health.Backlog.Name)
	v.SetDefault("health.backlog.warning_queued", d.Health.Backlog.WarningQueued)
	v.SetDefault("health.backlog.critical_queued", d.Health.Backlog.CriticalQueued)
	v.SetDefault("health.timeout", d.Health.Timeout)

	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.key", d.Redis.Key)
}

// CacheOptions returns the cache options for the configured snapshot
// backend and a func releasing it. Without a Redis URL the store falls back
// to Cache.PersistPath and the options are empty.
func (s *Settings) CacheOptions() ([]cache.Option, func() error, error) {
	if s.Redis.URL == "" {
		return nil, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(s.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: redis.url: %w", ErrValidation, err)
	}
	client := redis.NewClient(opts)
	snap := cache.NewRedisSnapshotter(client, s.Redis.Key)
	return []cache.Option{cache.WithSnapshotter(snap)}, client.Close, nil
}
