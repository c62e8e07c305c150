// Package config loads unmarkd process configuration from an optional
// YAML file and UNMARK_-prefixed environment variables.
//
// Nested keys map to env names by replacing dots with underscores, so
// vendor.api_key is read from UNMARK_VENDOR_API_KEY.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/queue"
)

// Profile selects the deployment mode.
type Profile string

const (
	// ProfileDurable runs tasks as queue jobs with retries and a DLQ.
	ProfileDurable Profile = "durable"
	// ProfileInline dispatches PENDING task rows directly, with no queue.
	ProfileInline Profile = "inline"
)

// Queue backends for the durable profile.
const (
	QueuePostgres = "postgres"
	QueueRedis    = "redis"
)

// Config is the full process configuration.
type Config struct {
	Profile  Profile  `mapstructure:"profile"`
	LogLevel string   `mapstructure:"log_level"`
	Vendor   Vendor   `mapstructure:"vendor"`
	Postgres Postgres `mapstructure:"postgres"`
	Queue    Queue    `mapstructure:"queue"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Worker   Worker   `mapstructure:"worker"`
	Inline   Inline   `mapstructure:"inline"`
}

// Vendor configures the watermark-removal API client.
type Vendor struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Burst     int           `mapstructure:"burst"`
}

// Postgres holds the task database connection string.
type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

// Queue selects where durable jobs live.
type Queue struct {
	Backend string `mapstructure:"backend"`
}

// Redis is read when Queue.Backend is "redis".
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Kafka enables the intake consumer when Brokers is non-empty.
type Kafka struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topic   string   `mapstructure:"topic"`
}

// Worker tunes the durable profile.
type Worker struct {
	Concurrency       int           `mapstructure:"concurrency"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	PollBase          time.Duration `mapstructure:"poll_base"`
	PollCap           time.Duration `mapstructure:"poll_cap"`
	PollJitter        float64       `mapstructure:"poll_jitter"`
	PollAttempts      int           `mapstructure:"poll_attempts"`
	RefundAmount      int64         `mapstructure:"refund_amount"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	StartsPerSecond   float64       `mapstructure:"starts_per_second"`
	StartBurst        int           `mapstructure:"start_burst"`
}

// Inline tunes the inline profile.
type Inline struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Interval        time.Duration `mapstructure:"interval"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollAttempts    int           `mapstructure:"poll_attempts"`
	StuckAfter      time.Duration `mapstructure:"stuck_after"`
	ReclaimSchedule string        `mapstructure:"reclaim_schedule"`
}

func setDefaults(v *viper.Viper) {
	d := unmark.DefaultConfig()

	v.SetDefault("profile", string(ProfileDurable))
	v.SetDefault("log_level", "info")

	v.SetDefault("vendor.api_key", "")
	v.SetDefault("vendor.base_url", "")
	v.SetDefault("vendor.timeout", 15*time.Second)
	v.SetDefault("vendor.rate_limit", 0)
	v.SetDefault("vendor.burst", 1)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("queue.backend", QueuePostgres)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_id", "unmark")
	v.SetDefault("kafka.topic", "watermark.submissions")

	v.SetDefault("worker.concurrency", d.Concurrency)
	v.SetDefault("worker.max_attempts", d.MaxAttempts)
	v.SetDefault("worker.retry_delay", d.RetryDelay)
	v.SetDefault("worker.poll_base", d.RemotePollBase)
	v.SetDefault("worker.poll_cap", d.RemotePollCap)
	v.SetDefault("worker.poll_jitter", d.RemotePollJitter)
	v.SetDefault("worker.poll_attempts", d.RemotePollAttempts)
	v.SetDefault("worker.refund_amount", d.RefundAmount)
	v.SetDefault("worker.heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("worker.stale_after", d.StaleJobThreshold)
	v.SetDefault("worker.max_in_flight", 0)
	v.SetDefault("worker.starts_per_second", 0.0)
	v.SetDefault("worker.start_burst", 1)

	v.SetDefault("inline.concurrency", 2)
	v.SetDefault("inline.max_attempts", 3)
	v.SetDefault("inline.interval", 5*time.Second)
	v.SetDefault("inline.poll_interval", 2*time.Second)
	v.SetDefault("inline.poll_attempts", 30)
	v.SetDefault("inline.stuck_after", 5*time.Minute)
	v.SetDefault("inline.reclaim_schedule", "@every 30s")
}

// Load reads configuration like Read and validates all of it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads configuration from path (skipped when empty) and the
// environment without validating it.
func Read(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("UNMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once. Each
// problem wraps unmark.ErrMissingConfig.
func (c *Config) Validate() error {
	errs := c.storeProblems()
	missing := func(key string) {
		errs = append(errs, fmt.Errorf("%w: %s", unmark.ErrMissingConfig, key))
	}

	if c.Vendor.APIKey == "" {
		missing("vendor.api_key")
	}
	if c.Vendor.BaseURL == "" {
		missing("vendor.base_url")
	}
	switch c.Profile {
	case ProfileDurable, ProfileInline:
	default:
		errs = append(errs, fmt.Errorf("%w: profile %q is not durable or inline",
			unmark.ErrMissingConfig, c.Profile))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		missing("kafka.topic")
	}
	if c.Worker.MaxInFlight < 0 || c.Worker.StartsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("%w: worker.max_in_flight and worker.starts_per_second must not be negative",
			unmark.ErrMissingConfig))
	}
	return errors.Join(errs...)
}

// ValidateStores checks only what the operator commands need: the task
// database and, outside the inline profile, the queue backend.
func (c *Config) ValidateStores() error {
	return errors.Join(c.storeProblems()...)
}

func (c *Config) storeProblems() []error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, fmt.Errorf("%w: postgres.dsn", unmark.ErrMissingConfig))
	}
	if c.Profile == ProfileInline {
		return errs
	}
	switch c.Queue.Backend {
	case QueuePostgres:
	case QueueRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%w: redis.addr", unmark.ErrMissingConfig))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: queue.backend %q is not postgres or redis",
			unmark.ErrMissingConfig, c.Queue.Backend))
	}
	return errs
}

// QueueLimits returns the start limits for the removal queue, or nil when
// none are configured.
func (c *Config) QueueLimits(name string) []queue.Limits {
	w := c.Worker
	if w.MaxInFlight == 0 && w.StartsPerSecond == 0 {
		return nil
	}
	return []queue.Limits{{
		Queue:           name,
		MaxInFlight:     w.MaxInFlight,
		StartsPerSecond: w.StartsPerSecond,
		Burst:           w.StartBurst,
	}}
}

// Pipeline translates the durable worker settings into pipeline options.
func (c *Config) Pipeline() []unmark.Option {
	w := c.Worker
	return []unmark.Option{
		unmark.WithConcurrency(w.Concurrency),
		unmark.WithMaxAttempts(w.MaxAttempts),
		unmark.WithRetryDelay(w.RetryDelay),
		unmark.WithRemotePolling(w.PollBase, w.PollCap, w.PollAttempts),
		unmark.WithRemotePollJitter(w.PollJitter),
		unmark.WithRefundAmount(w.RefundAmount),
		unmark.WithHeartbeat(w.HeartbeatInterval, w.StaleAfter),
	}
}
