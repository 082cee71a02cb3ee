package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Stripe    StripeConfig
	CheckIn   CheckInConfig
	Admission AdmissionConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver       string // postgres or sqlite
	DSN          string
	AutoMigrate  bool
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	ConnRetries  int
}

type RedisConfig struct {
	Addr    string
	Enabled bool
	TTL     time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	GroupID       string
	MessagesTopic string
	CapacityTopic string
	Enabled       bool
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type CheckInConfig struct {
	Secret string
}

type AdmissionConfig struct {
	RetryAttempts int
	MaxBackoff    time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LogConfig struct {
	Level string
	Dir   string
	Color bool
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", ":8080"),
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			DSN:          getEnv("POSTGRES_DSN", ""),
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			ConnRetries:  getEnvInt("DB_CONNECT_RETRIES", 5),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", true),
			TTL:     time.Duration(getEnvInt("IDEMPOTENCY_TTL_HOURS", 72)) * time.Hour,
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			GroupID:       getEnv("KAFKA_GROUP_ID", "registration-service"),
			MessagesTopic: getEnv("KAFKA_TOPIC_ATTENDEE_MESSAGES", "registration.attendee_messages"),
			CapacityTopic: getEnv("KAFKA_TOPIC_CAPACITY_CHANGED", "event.capacity_changed"),
			Enabled:       getEnvBool("KAFKA_ENABLED", true),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		CheckIn: CheckInConfig{
			Secret: getEnv("CHECKIN_SECRET", ""),
		},
		Admission: AdmissionConfig{
			RetryAttempts: getEnvInt("ADMISSION_RETRY_ATTEMPTS", 3),
			MaxBackoff:    time.Duration(getEnvInt("ADMISSION_MAX_BACKOFF_MS", 2000)) * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "INFO"),
			Dir:   getEnv("LOG_DIR", "logs"),
			Color: getEnvBool("LOG_COLOR", true),
		},
	}
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN not set")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS not set")
	}
	if c.Admission.RetryAttempts < 1 {
		return fmt.Errorf("ADMISSION_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
