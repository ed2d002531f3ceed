// Package config loads the application configuration from environment variables.
// A `.env` file is honoured by the caller (see cli) through godotenv before
// LoadConfig runs. Every problem found while loading is collected and reported
// as a single error so a misconfigured deployment fails fast with the full list.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/code-runner-lcs/api-template-go/apperror"
)

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	JWTSecret        string        // Secret key for signing tokens, loaded once at startup
	SessionTokenTTL  time.Duration // Validity of session tokens (30 days by default)
	ActionTokenTTL   time.Duration // Validity of reset/confirmation tokens (1 hour by default)
	BcryptCost       int           // Work factor of the credential hasher
	PublicRoutesFile string        // Optional YAML file with extra public routes
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// DatabaseConfig represents configuration for the Postgres connection pool.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	MaxConns int
}

// Enabled reports whether a Postgres database is configured. Without one the
// application keeps users in memory, which is only suitable for development.
func (c *DatabaseConfig) Enabled() bool {
	return c != nil && c.DBName != ""
}

// DSN returns the connection string understood by pgx and golang-migrate.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.DBName,
	)
}

// MailConfig holds SMTP settings and the frontend URL used to build links.
type MailConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	From        string
	FrontendURL string
}

// Enabled reports whether an SMTP server is configured.
func (c *MailConfig) Enabled() bool {
	return c != nil && c.Host != ""
}

// RedisConfig configures the login rate limiter.
type RedisConfig struct {
	URL             string
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// Enabled reports whether the Redis-backed limiter should be used.
func (c *RedisConfig) Enabled() bool {
	return c != nil && c.URL != ""
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

// AppConfig is the top-level configuration structure for the application.
type AppConfig struct {
	Auth     *AuthConfig
	Server   *ServerConfig
	Database *DatabaseConfig
	Mail     *MailConfig
	Redis    *RedisConfig
	Log      *LogConfig
}

func getRequiredEnv(key string, errors *[]string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		*errors = append(*errors, fmt.Sprintf("missing required environment variable: %s", key))
		return ""
	}
	return value
}

func getOptionalEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getOptionalEnvInt(key string, defaultValue int, errors *[]string) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	valueInt, err := strconv.Atoi(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected integer, got '%s': %v", key, valueStr, err))
		return defaultValue
	}
	return valueInt
}

// `time.ParseDuration` expects a string like "15m" or "720h".
func getOptionalEnvDuration(key string, defaultValue time.Duration, errors *[]string) time.Duration {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue
	}
	valueDuration, err := time.ParseDuration(valueStr)
	if err != nil {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: expected duration string, got '%s': %v", key, valueStr, err))
		return defaultValue
	}
	if valueDuration <= 0 {
		*errors = append(*errors, fmt.Sprintf("invalid value for %s: duration must be positive, got '%s'", key, valueStr))
		return defaultValue
	}
	return valueDuration
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadConfig creates and returns an AppConfig by reading and validating environment variables.
// The error, if any, is an apperror.ConfigError listing every problem found.
func LoadConfig() (*AppConfig, error) {
	var errors []string

	// Auth
	authConfig := &AuthConfig{
		JWTSecret:        getRequiredEnv("JWT_PRIVATE", &errors),
		SessionTokenTTL:  getOptionalEnvDuration("JWT_SESSION_TTL", 30*24*time.Hour, &errors),
		ActionTokenTTL:   getOptionalEnvDuration("JWT_ACTION_TTL", time.Hour, &errors),
		BcryptCost:       getOptionalEnvInt("BCRYPT_COST", 10, &errors),
		PublicRoutesFile: getOptionalEnv("PUBLIC_ROUTES_FILE", ""),
	}
	if authConfig.BcryptCost < bcrypt.MinCost || authConfig.BcryptCost > bcrypt.MaxCost {
		errors = append(errors, fmt.Sprintf("invalid value for BCRYPT_COST: %d is outside [%d, %d]",
			authConfig.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost))
	}

	// Server
	serverConfig := &ServerConfig{
		Port:           getOptionalEnv("PORT", "3000"),
		AllowedOrigins: splitList(getOptionalEnv("CORS_ALLOWED_ORIGINS", "*")),
	}

	// Database. Credentials only become mandatory once a database name is given.
	dbConfig := &DatabaseConfig{
		Host:     getOptionalEnv("DB_HOST", "localhost"),
		Port:     getOptionalEnvInt("DB_PORT", 5432, &errors),
		DBName:   getOptionalEnv("DB_NAME", ""),
		MaxConns: getOptionalEnvInt("DB_MAX_CONNS", 10, &errors),
	}
	if dbConfig.Enabled() {
		dbConfig.User = getRequiredEnv("DB_USER", &errors)
		dbConfig.Password = getOptionalEnv("DB_PASSWORD", "")
	}
	if dbConfig.MaxConns < 1 {
		errors = append(errors, fmt.Sprintf("invalid value for DB_MAX_CONNS: %d must be at least 1", dbConfig.MaxConns))
	}

	// Mail
	mailConfig := &MailConfig{
		Host:        getOptionalEnv("SMTP_HOST", ""),
		Port:        getOptionalEnvInt("SMTP_PORT", 587, &errors),
		User:        getOptionalEnv("SMTP_USER", ""),
		Password:    getOptionalEnv("SMTP_PASSWORD", ""),
		FrontendURL: strings.TrimSuffix(getOptionalEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
	}
	mailConfig.From = getOptionalEnv("SMTP_FROM", mailConfig.User)
	if mailConfig.Enabled() && mailConfig.From == "" {
		errors = append(errors, "missing SMTP_FROM (or SMTP_USER) while SMTP_HOST is set")
	}

	// Redis
	redisConfig := &RedisConfig{
		URL:             getOptionalEnv("REDIS_URL", ""),
		LoginRateLimit:  getOptionalEnvInt("LOGIN_RATE_LIMIT", 10, &errors),
		LoginRateWindow: getOptionalEnvDuration("LOGIN_RATE_WINDOW", 15*time.Minute, &errors),
	}
	if redisConfig.LoginRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid value for LOGIN_RATE_LIMIT: %d must be at least 1", redisConfig.LoginRateLimit))
	}

	// Logging
	logConfig := &LogConfig{
		Level:  getOptionalEnv("LOG_LEVEL", "info"),
		Format: getOptionalEnv("LOG_FORMAT", "text"),
	}
	if logConfig.Format != "text" && logConfig.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid value for LOG_FORMAT: expected 'text' or 'json', got '%s'", logConfig.Format))
	}

	if len(errors) > 0 {
		return nil, apperror.NewConfigError(fmt.Sprintf("configuration errors:\n- %s", strings.Join(errors, "\n- ")), nil)
	}

	return &AppConfig{
		Auth:     authConfig,
		Server:   serverConfig,
		Database: dbConfig,
		Mail:     mailConfig,
		Redis:    redisConfig,
		Log:      logConfig,
	}, nil
}
