package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/deaddrop/internal/backoff"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultBackoffMS applies when BACKOFF_MS is unset; go-env splits tag values on commas.
const DefaultBackoffMS = "1000,5000,25000"

const (
	EventsDriverNone  = "none"
	EventsDriverAMQP  = "amqp"
	EventsDriverKafka = "kafka"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	QueueName           string `env:"QUEUE_NAME,default=deliver-notes"`
	BackoffMS           string `env:"BACKOFF_MS"`
	PollIntervalMS      int    `env:"POLL_INTERVAL_MS,default=5000"`
	PollBatchSize       int    `env:"POLL_BATCH_SIZE,default=100"`
	AttemptTimeoutMS    int    `env:"ATTEMPT_TIMEOUT_MS,default=10000"`
	VisibilityTimeoutMS int    `env:"VISIBILITY_TIMEOUT_MS,default=60000"`
	WorkerConcurrency   int    `env:"WORKER_CONCURRENCY,default=16"`
	WorkerIdleWaitMS    int    `env:"WORKER_IDLE_WAIT_MS,default=250"`
	EventsDriver        string `env:"EVENTS_DRIVER,default=none"`
	RabbitMQURL         string `env:"RABBITMQ_URL"`
	KafkaBrokers        string `env:"KAFKA_BROKERS"`
	KafkaTopic          string `env:"KAFKA_TOPIC,default=deaddrop.note-events"`
	APIPort             int    `env:"API_PORT,default=8080"`
	MetricsPort         int    `env:"METRICS_PORT,default=9090"`
	AdminToken          string `env:"ADMIN_TOKEN"`
	RateLimitPerMin     int    `env:"RATE_LIMIT_PER_MIN,default=60"`
	SinkPort            int    `env:"SINK_PORT,default=4000"`
	SinkFail            bool   `env:"SINK_FAIL,default=false"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that are only meaningful together. Errors wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("%w: REDIS_URL is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.QueueName) == "" {
		return fmt.Errorf("%w: QUEUE_NAME must not be empty", ErrInvalidConfig)
	}
	if _, err := c.BackoffPolicy(); err != nil {
		return err
	}
	if c.PollIntervalMS <= 0 {
		return fmt.Errorf("%w: POLL_INTERVAL_MS must be positive", ErrInvalidConfig)
	}
	if c.PollBatchSize < 1 {
		return fmt.Errorf("%w: POLL_BATCH_SIZE must be >= 1", ErrInvalidConfig)
	}
	if c.AttemptTimeoutMS <= 0 {
		return fmt.Errorf("%w: ATTEMPT_TIMEOUT_MS must be positive", ErrInvalidConfig)
	}
	if c.VisibilityTimeoutMS <= c.AttemptTimeoutMS {
		return fmt.Errorf("%w: VISIBILITY_TIMEOUT_MS (%d) must exceed ATTEMPT_TIMEOUT_MS (%d)",
			ErrInvalidConfig, c.VisibilityTimeoutMS, c.AttemptTimeoutMS)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("%w: WORKER_CONCURRENCY must be >= 1", ErrInvalidConfig)
	}
	if c.WorkerIdleWaitMS <= 0 {
		return fmt.Errorf("%w: WORKER_IDLE_WAIT_MS must be positive", ErrInvalidConfig)
	}
	if c.RateLimitPerMin < 1 {
		return fmt.Errorf("%w: RATE_LIMIT_PER_MIN must be >= 1", ErrInvalidConfig)
	}

	switch c.EventsDriverName() {
	case EventsDriverNone:
	case EventsDriverAMQP:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("%w: RABBITMQ_URL is required when EVENTS_DRIVER=amqp", ErrInvalidConfig)
		}
	case EventsDriverKafka:
		if len(c.KafkaBrokerList()) == 0 {
			return fmt.Errorf("%w: KAFKA_BROKERS is required when EVENTS_DRIVER=kafka", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.KafkaTopic) == "" {
			return fmt.Errorf("%w: KAFKA_TOPIC must not be empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown EVENTS_DRIVER %q", ErrInvalidConfig, c.EventsDriver)
	}

	return nil
}

// ReapInterval is how often the worker returns expired leases to the ready set.
func (c *Config) ReapInterval() time.Duration {
	return c.VisibilityTimeout() / 2
}

// RequireDatabase is used by the subcommands that talk to Postgres.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("%w: DATABASE_DSN is required", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) BackoffPolicy() (*backoff.Policy, error) {
	raw := c.BackoffMS
	if strings.TrimSpace(raw) == "" {
		raw = DefaultBackoffMS
	}
	delays, err := backoff.ParseMillis(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: BACKOFF_MS: %w", ErrInvalidConfig, err)
	}
	policy, err := backoff.New(delays)
	if err != nil {
		return nil, fmt.Errorf("%w: BACKOFF_MS: %w", ErrInvalidConfig, err)
	}
	return policy, nil
}

func (c *Config) EventsDriverName() string {
	driver := strings.ToLower(strings.TrimSpace(c.EventsDriver))
	if driver == "" {
		return EventsDriverNone
	}
	return driver
}

func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	return brokers
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMS) * time.Millisecond
}

func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutMS) * time.Millisecond
}

func (c *Config) WorkerIdleWait() time.Duration {
	return time.Duration(c.WorkerIdleWaitMS) * time.Millisecond
}
