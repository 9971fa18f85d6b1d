package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAccountName = "Main Office Number"
	DefaultAPIURL      = "https://graph.facebook.com"
	DefaultAPIVersion  = "v19.0"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBLogLevel string

	// Bootstrap account, seeded into the accounts table at startup.
	AccountName               string
	VerifyToken               string
	WhatsAppToken             string
	PhoneNumberID             string
	WhatsAppBusinessAccountID string
	WhatsAppAPIURL            string
	WhatsAppAPIVersion        string
	RelayURL                  string
	AutoReadReceipt           bool

	FallbackAccountName string
	AppSecret           string

	RelayTimeout        time.Duration
	RelaySkipStatusOnly bool
	MediaTimeout        time.Duration
	MediaMaxBytes       int64
	MediaWorkers        int

	StorageDriver       string
	StorageRoot         string
	StoragePublicPrefix string
	S3Bucket            string
	AWSRegion           string
	AWSEndpointOverride string

	RedisAddr          string
	RedisPassword      string
	RedisChannelPrefix string
	AMQPURL            string
	AMQPExchange       string

	MetricsEnabled bool
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables only.
func FromEnv() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:     getEnv("DB_PATH", "./whatsapp.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "whatsapp"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBLogLevel: getEnv("DB_LOG_LEVEL", "warn"),

		AccountName:               getEnv("ACCOUNT_NAME", DefaultAccountName),
		VerifyToken:               getEnv("VERIFY_TOKEN", ""),
		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:             getEnv("PHONE_NUMBER_ID", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		WhatsAppAPIURL:            getEnv("WHATSAPP_API_URL", DefaultAPIURL),
		WhatsAppAPIVersion:        getEnv("WHATSAPP_API_VERSION", DefaultAPIVersion),
		RelayURL:                  getEnv("RELAY_URL", ""),
		AutoReadReceipt:           getEnvBool("AUTO_READ_RECEIPT", false),

		FallbackAccountName: getEnv("FALLBACK_ACCOUNT_NAME", DefaultAccountName),
		AppSecret:           getEnv("APP_SECRET", ""),

		RelayTimeout:        getEnvDuration("RELAY_TIMEOUT", 10*time.Second),
		RelaySkipStatusOnly: getEnvBool("RELAY_SKIP_STATUS_ONLY", false),
		MediaTimeout:        getEnvDuration("MEDIA_TIMEOUT", 30*time.Second),
		MediaMaxBytes:       getEnvInt64("MEDIA_MAX_BYTES", 100<<20),
		MediaWorkers:        int(getEnvInt64("MEDIA_WORKERS", 4)),

		StorageDriver:       strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
		StorageRoot:         getEnv("STORAGE_ROOT", "./data/files"),
		StoragePublicPrefix: getEnv("STORAGE_PUBLIC_PREFIX", "/files"),
		S3Bucket:            getEnv("S3_BUCKET", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "whatsapp"),
		AMQPURL:            getEnv("AMQP_URL", ""),
		AMQPExchange:       getEnv("AMQP_EXCHANGE", "whatsapp.events"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.StorageDriver {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("config: STORAGE_DRIVER=s3 requires S3_BUCKET")
		}
	default:
		return fmt.Errorf("config: unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("config: MEDIA_MAX_BYTES must be positive")
	}
	if c.MediaWorkers <= 0 {
		c.MediaWorkers = 1
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// PostgresDSN renders the DB_* settings as a libpq keyword string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt64(key string, fallback int64) int64 {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
