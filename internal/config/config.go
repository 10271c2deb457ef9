package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	JWTSecret           string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	Timezone            string
	LogLevel            string

	// MailUseTLS selects implicit TLS for IMAP and SMTP connections.
	MailUseTLS         bool
	SessionIdleTimeout time.Duration
	SweepInterval      time.Duration
	CacheTTL           time.Duration
	SendMaxAttempts    int
	SendBackoffBase    time.Duration
	SendRatePerMinute  int
	MessageIDDomain    string
	WSMaxPerOwner      int
	WatchPollInterval  time.Duration

	RedisURL   string
	S3Bucket   string
	S3Region   string
	S3Endpoint string
	// S3AccessKeyID and S3SecretAccessKey are optional; without them the
	// default AWS credential chain applies.
	S3AccessKeyID     string
	S3SecretAccessKey string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MAILCORE_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			logrus.Warn("Config: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: os.Getenv("MAILCORE_ENCRYPTION_KEY_BASE64"),
		JWTSecret:           os.Getenv("MAILCORE_JWT_SECRET"),
		DBHost:              getEnvOrDefault("MAILCORE_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("MAILCORE_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("MAILCORE_DB_USER", "mailcore"),
		DBPassword:          os.Getenv("MAILCORE_DB_PASSWORD"),
		DBName:              getEnvOrDefault("MAILCORE_DB_NAME", "mailcore"),
		DBSSLMode:           getEnvOrDefault("MAILCORE_DB_SSLMODE", "disable"),
		Port:                getEnvOrDefault("PORT", "8080"),
		Timezone:            getEnvOrDefault("TZ", "UTC"),
		LogLevel:            getEnvOrDefault("MAILCORE_LOG_LEVEL", "info"),
		RedisURL:            os.Getenv("MAILCORE_REDIS_URL"),
		S3Bucket:            os.Getenv("MAILCORE_S3_BUCKET"),
		S3Region:            getEnvOrDefault("MAILCORE_S3_REGION", "us-east-1"),
		S3Endpoint:          os.Getenv("MAILCORE_S3_ENDPOINT"),
		S3AccessKeyID:       os.Getenv("MAILCORE_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:   os.Getenv("MAILCORE_S3_SECRET_ACCESS_KEY"),
		MessageIDDomain:     getEnvOrDefault("MAILCORE_MESSAGE_ID_DOMAIN", "mailcore.local"),
	}

	var err error
	if config.MailUseTLS, err = getEnvBool("MAILCORE_MAIL_TLS", true); err != nil {
		return nil, err
	}
	if config.SessionIdleTimeout, err = getEnvDuration("MAILCORE_SESSION_IDLE_TIMEOUT", 300*time.Second); err != nil {
		return nil, err
	}
	if config.SweepInterval, err = getEnvDuration("MAILCORE_SESSION_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if config.CacheTTL, err = getEnvDuration("MAILCORE_CACHE_TTL", 60*time.Second); err != nil {
		return nil, err
	}
	if config.SendBackoffBase, err = getEnvDuration("MAILCORE_SEND_BACKOFF_BASE", time.Second); err != nil {
		return nil, err
	}
	if config.WatchPollInterval, err = getEnvDuration("MAILCORE_WATCH_POLL_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if config.SendMaxAttempts, err = getEnvInt("MAILCORE_SEND_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if config.SendRatePerMinute, err = getEnvInt("MAILCORE_SEND_RATE_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	if config.WSMaxPerOwner, err = getEnvInt("MAILCORE_WS_MAX_PER_OWNER", 10); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("MAILCORE_ENCRYPTION_KEY_BASE64 is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("MAILCORE_JWT_SECRET is required")
	}

	if c.DBPassword == "" {
		return fmt.Errorf("MAILCORE_DB_PASSWORD is required")
	}

	if c.SendMaxAttempts < 1 {
		return fmt.Errorf("MAILCORE_SEND_MAX_ATTEMPTS must be at least 1")
	}

	if c.SessionIdleTimeout <= 0 || c.CacheTTL <= 0 {
		return fmt.Errorf("session idle timeout and cache TTL must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// ConfigureLogging applies the configured log level and picks a JSON
// formatter outside development.
func (c *Config) ConfigureLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Warnf("Config: unknown log level %q, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if c.Environment != "development" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go duration syntax ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	return b, nil
}
