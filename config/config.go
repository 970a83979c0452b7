package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DedupNone  = "none"
	DedupRedis = "redis"
	DedupMySQL = "mysql"
)

// Config holds everything the worker reads from the environment at startup.
type Config struct {
	LogLevel  string
	LogFormat string

	HTTPHost string
	HTTPPort string
	GRPCHost string
	GRPCPort string

	// HTTPAPIKey enables POST /email/send for callers presenting it.
	HTTPAPIKey string

	// Broker
	RabbitMQURL        string
	EmailQueue         string
	ConsumerName       string
	WorkerCount        int
	PrefetchCount      int
	NackRequeue        bool
	RequeueDelay       time.Duration
	DeclareQueue       bool
	DeadLetterExchange string

	// Outbound email
	EmailProvider   string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPSSL         bool
	SMTPTimeout     time.Duration
	SMTPPoolSize    int
	SMTPIdleTimeout time.Duration
	FromAddress     string
	FromName        string
	RecipientName   string
	AWSRegion       string
	SendTimeout     time.Duration

	// Duplicate guard
	DedupBackend  string
	DedupLockTTL  time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MySQLDSN      string
	MySQLMaxOpen  int
	MySQLMaxIdle  int
	MySQLMaxLife  time.Duration

	parseErr error
}

// Load reads the optional .env file and the process environment.
func Load() (*Config, error) {
	cfg := read()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBroker is Load for commands that only talk to RabbitMQ.
func LoadBroker() (*Config, error) {
	cfg := read()
	if err := cfg.validateBroker(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() *Config {
	_ = godotenv.Load()

	env := &envParser{}
	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		HTTPHost: getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCHost: getEnv("GRPC_HOST", "0.0.0.0"),
		GRPCPort: getEnv("GRPC_PORT", "9090"),

		HTTPAPIKey: os.Getenv("HTTP_API_KEY"),

		RabbitMQURL:        os.Getenv("RABBITMQ_URL"),
		EmailQueue:         getEnv("EMAIL_QUEUE", "email-queue"),
		ConsumerName:       getEnv("CONSUMER_NAME", ""),
		WorkerCount:        env.getInt("WORKER_COUNT", 1),
		PrefetchCount:      env.getInt("PREFETCH_COUNT", 1),
		NackRequeue:        env.getBool("NACK_REQUEUE", false),
		RequeueDelay:       env.getDuration("REQUEUE_DELAY", time.Second),
		DeclareQueue:       env.getBool("EMAIL_QUEUE_DECLARE", false),
		DeadLetterExchange: getEnv("EMAIL_DEAD_LETTER_EXCHANGE", ""),

		EmailProvider:   strings.ToLower(getEnv("EMAIL_PROVIDER", "smtp")),
		SMTPHost:        getEnv("SMTP_HOST", "smtp.yandex.ru"),
		SMTPPort:        env.getInt("SMTP_PORT", 465),
		SMTPUsername:    getEnv("SMTP_USERNAME", "d4nikla@yandex.ru"),
		SMTPPassword:    getEnv("YANDEX_PASSWORD", os.Getenv("SMTP_PASSWORD")),
		SMTPSSL:         env.getBool("SMTP_SSL", true),
		SMTPTimeout:     env.getDuration("SMTP_TIMEOUT", 5*time.Second),
		SMTPPoolSize:    env.getInt("SMTP_POOL_SIZE", 4),
		SMTPIdleTimeout: env.getDuration("SMTP_IDLE_TIMEOUT", time.Minute),
		FromName:        getEnv("SMTP_FROM_NAME", "Site"),
		RecipientName:   getEnv("SMTP_RECIPIENT_NAME", "Client"),
		AWSRegion:       getEnv("AWS_REGION", "eu-central-1"),
		SendTimeout:     env.getDuration("SEND_TIMEOUT", 30*time.Second),

		DedupBackend:  strings.ToLower(getEnv("DEDUP_BACKEND", DedupNone)),
		DedupLockTTL:  env.getDuration("DEDUP_LOCK_TTL", 2*time.Minute),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       env.getInt("REDIS_DB", 0),
		MySQLDSN:      getEnv("MYSQL_DSN", ""),
		MySQLMaxOpen:  env.getInt("MYSQL_MAX_OPEN", 10),
		MySQLMaxIdle:  env.getInt("MYSQL_MAX_IDLE", 5),
		MySQLMaxLife:  env.getDuration("MYSQL_MAX_LIFETIME", 5*time.Minute),
	}
	cfg.FromAddress = getEnv("SMTP_FROM_ADDRESS", cfg.SMTPUsername)
	cfg.parseErr = errors.Join(env.errs...)
	return cfg
}

func (c *Config) validateBroker() error {
	if c.parseErr != nil {
		return c.parseErr
	}
	if c.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required")
	}
	if c.EmailQueue == "" {
		return fmt.Errorf("EMAIL_QUEUE must not be empty")
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateBroker(); err != nil {
		return err
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.WorkerCount)
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("PREFETCH_COUNT must be at least 1, got %d", c.PrefetchCount)
	}

	switch c.EmailProvider {
	case "smtp":
		if c.SMTPPassword == "" {
			return fmt.Errorf("YANDEX_PASSWORD is required for the smtp provider")
		}
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required")
		}
		if c.SMTPPort < 1 || c.SMTPPort > 65535 {
			return fmt.Errorf("invalid SMTP_PORT: %d", c.SMTPPort)
		}
	case "ses", "noop":
	default:
		return fmt.Errorf("unsupported EMAIL_PROVIDER: %s", c.EmailProvider)
	}

	switch c.DedupBackend {
	case DedupNone, DedupRedis:
	case DedupMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when DEDUP_BACKEND=mysql")
		}
	default:
		return fmt.Errorf("unsupported DEDUP_BACKEND: %s", c.DedupBackend)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envParser falls back to the default for unset variables and records every
// value that is set but does not parse.
type envParser struct {
	errs []error
}

func (p *envParser) fail(key, value, want string) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s: %q is not %s", key, value, want))
}

func (p *envParser) getInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, "an integer")
		return defaultValue
	}
	return n
}

func (p *envParser) getBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "a boolean")
		return defaultValue
	}
	return b
}

func (p *envParser) getDuration(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, "a duration such as 5s")
		return defaultValue
	}
	return d
}
