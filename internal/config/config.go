package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	NewRelic    NewRelicConfig
	RabbitMQ    RabbitMQConfig
	Auth        AuthConfig
	ECard       ECardConfig
	Scheduler   SchedulerConfig
	StoreDriver string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host        string
	Port        string
	User        string
	Password    string
	DBName      string
	SSLMode     string
	AutoMigrate bool
}

// RedisConfig holds Redis configuration. An empty Addr runs without Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// RabbitMQConfig holds broker configuration. An empty URL logs events instead
// of publishing them.
type RabbitMQConfig struct {
	URL                  string
	ConsumerEnabled      bool
	CollaboratorExchange string
	CollaboratorQueue    string
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	JWTSecret      string
	InternalAPIKey string
}

// ECardConfig holds the business rules of the lifecycle engine.
type ECardConfig struct {
	// Fee is the E-Card fee in minor currency units.
	Fee              int64
	Methods          []string
	Validity         time.Duration
	LockTTL          time.Duration
	OperationTimeout time.Duration
	MaxRetries       int
}

// SchedulerConfig holds the background job settings. Schedules use the
// standard five-field cron syntax.
type SchedulerConfig struct {
	Enabled           bool
	ExpirySchedule    string
	ReconcileSchedule string
	BatchSize         int
	InitiatedGrace    time.Duration
	ReconcileWindow   time.Duration
}

// Load reads configuration from the environment, and from a .env file in the
// working directory when one exists.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if _, err := os.Stat(".env"); err == nil {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("SERVER_PORT"),
			ReadTimeout:     v.GetDuration("SERVER_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("SERVER_WRITE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetString("DB_PORT"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			DBName:      v.GetString("DB_NAME"),
			SSLMode:     v.GetString("DB_SSLMODE"),
			AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		NewRelic: NewRelicConfig{
			AppName:    v.GetString("NEW_RELIC_APP_NAME"),
			LicenseKey: v.GetString("NEW_RELIC_LICENSE_KEY"),
			Enabled:    v.GetBool("NEW_RELIC_ENABLED"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                  v.GetString("RABBITMQ_URL"),
			ConsumerEnabled:      v.GetBool("RABBITMQ_CONSUMER_ENABLED"),
			CollaboratorExchange: v.GetString("RABBITMQ_COLLABORATOR_EXCHANGE"),
			CollaboratorQueue:    v.GetString("RABBITMQ_COLLABORATOR_QUEUE"),
		},
		Auth: AuthConfig{
			JWTSecret:      v.GetString("JWT_SECRET"),
			InternalAPIKey: v.GetString("INTERNAL_API_KEY"),
		},
		ECard: ECardConfig{
			// ECARD_FEE is given in whole currency units.
			Fee:              v.GetInt64("ECARD_FEE") * 100,
			Methods:          splitList(v.GetString("ECARD_PAYMENT_METHODS")),
			Validity:         v.GetDuration("ECARD_VALIDITY"),
			LockTTL:          v.GetDuration("ECARD_LOCK_TTL"),
			OperationTimeout: v.GetDuration("ECARD_OPERATION_TIMEOUT"),
			MaxRetries:       v.GetInt("ECARD_MAX_RETRIES"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("SCHEDULER_ENABLED"),
			ExpirySchedule:    v.GetString("SCHEDULER_EXPIRY_SCHEDULE"),
			ReconcileSchedule: v.GetString("SCHEDULER_RECONCILE_SCHEDULE"),
			BatchSize:         v.GetInt("SCHEDULER_BATCH_SIZE"),
			InitiatedGrace:    v.GetDuration("SCHEDULER_INITIATED_GRACE"),
			ReconcileWindow:   v.GetDuration("SCHEDULER_RECONCILE_WINDOW"),
		},
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_READ_TIMEOUT", 10*time.Second)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 10*time.Second)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", 5*time.Second)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ecard")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("NEW_RELIC_APP_NAME", "ecard-lifecycle-engine")
	v.SetDefault("NEW_RELIC_LICENSE_KEY", "")
	v.SetDefault("NEW_RELIC_ENABLED", false)

	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_CONSUMER_ENABLED", false)
	v.SetDefault("RABBITMQ_COLLABORATOR_EXCHANGE", "ecard_collaborators")
	v.SetDefault("RABBITMQ_COLLABORATOR_QUEUE", "ecard_engine_inbound")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("INTERNAL_API_KEY", "")

	v.SetDefault("ECARD_FEE", 500)
	v.SetDefault("ECARD_PAYMENT_METHODS", "mobile_money,bank_transfer,card")
	v.SetDefault("ECARD_VALIDITY", 365*24*time.Hour)
	v.SetDefault("ECARD_LOCK_TTL", 10*time.Second)
	v.SetDefault("ECARD_OPERATION_TIMEOUT", 5*time.Second)
	v.SetDefault("ECARD_MAX_RETRIES", 3)

	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_EXPIRY_SCHEDULE", "*/15 * * * *")
	v.SetDefault("SCHEDULER_RECONCILE_SCHEDULE", "*/5 * * * *")
	v.SetDefault("SCHEDULER_BATCH_SIZE", 200)
	v.SetDefault("SCHEDULER_INITIATED_GRACE", 10*time.Minute)
	v.SetDefault("SCHEDULER_RECONCILE_WINDOW", 7*24*time.Hour)

	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)
}

func (c *Config) validate() error {
	var errs []error
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.StoreDriver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.ECard.Fee <= 0 {
		errs = append(errs, errors.New("ECARD_FEE must be positive"))
	}
	if len(c.ECard.Methods) == 0 {
		errs = append(errs, errors.New("ECARD_PAYMENT_METHODS must name at least one method"))
	}
	if c.ECard.Validity <= 0 {
		errs = append(errs, errors.New("ECARD_VALIDITY must be positive"))
	}
	if c.ECard.MaxRetries < 0 {
		errs = append(errs, errors.New("ECARD_MAX_RETRIES cannot be negative"))
	}
	if c.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHEDULER_BATCH_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
