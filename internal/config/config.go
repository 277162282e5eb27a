package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for our application
type Config struct {
	Port                      string
	Origin                    string
	Environment               string
	LogLevel                  string
	JWTSecret                 string
	JWTRefreshSecret          string
	Database                  DatabaseConfig
	Redis                     RedisConfig
	Chat                      ChatConfig
	Sweep                     SweepConfig
	JWTExpirationMinutes      int
	JWTRefreshExpirationHours int
	Timezone                  string
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       string
	Username   string
	Password   string
	Name       string
	SQLitePath string
	DSN        string
}

// RedisConfig holds the Redis connection used by the chat transport.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ChatConfig selects the live-delivery transport for chat rooms.
type ChatConfig struct {
	Transport string // "memory" or "redis"
}

// SweepConfig controls the background expiry loops.
type SweepConfig struct {
	RescheduleInterval time.Duration
	TypingInterval     time.Duration
}

// Location resolves the configured timezone. Appointment date and time fields are
// interpreted in this location.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:     strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       getEnv("DB_PORT", "3306"),
		Username:   getEnv("DB_USERNAME", "root"),
		Password:   getEnv("DB_PASSWORD", ""),
		Name:       getEnv("DB_NAME", "telecare"),
		SQLitePath: getEnv("SQLITE_PATH", "telecare.db"),
	}

	switch dbConfig.Driver {
	case "mysql":
		// parseTime and UTC keep stored instants comparable with the reschedule deadline.
		dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)
	case "sqlite":
		dbConfig.DSN = dbConfig.SQLitePath
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER %q: expected mysql or sqlite", dbConfig.Driver)
	}

	chatConfig := ChatConfig{
		Transport: strings.ToLower(getEnv("CHAT_TRANSPORT", "memory")),
	}
	if chatConfig.Transport != "memory" && chatConfig.Transport != "redis" {
		return nil, fmt.Errorf("invalid CHAT_TRANSPORT %q: expected memory or redis", chatConfig.Transport)
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtExpMinutes, err := strconv.Atoi(getEnv("JWT_EXPIRATION_MINUTES", "15"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION_MINUTES: %w", err)
	}

	jwtRefreshExpHours, err := strconv.Atoi(getEnv("JWT_REFRESH_EXPIRATION_HOURS", "168")) // 7 days
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_REFRESH_EXPIRATION_HOURS: %w", err)
	}

	cfg := &Config{
		Port:             getEnv("PORT", "3001"),
		Origin:           getEnv("ORIGIN", "http://localhost:4200"),
		Environment:      getEnv("NODE_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		JWTSecret:        getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret: getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		Database:         dbConfig,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Chat: chatConfig,
		Sweep: SweepConfig{
			RescheduleInterval: getEnvAsDuration("RESCHEDULE_SWEEP_INTERVAL", time.Minute),
			TypingInterval:     getEnvAsDuration("TYPING_SWEEP_INTERVAL", 500*time.Millisecond),
		},
		JWTExpirationMinutes:      jwtExpMinutes,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
		Timezone:                  getEnv("APP_TIMEZONE", "UTC"),
	}

	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsDuration parses a Go duration string, falling back to the default on absence or error.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}
