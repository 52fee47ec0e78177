package app

import (
	"os"
	"strconv"
	"time"

	"github.com/clearbook/clearbook/pkg/jwtx"
)

type Config struct {
	Secret   string // Required: HMAC signing secret for access tokens
	Issuer   string // Optional: issuer claim for tokens (default: clearbook-auth)
	Audience string // Optional: audience claim for tokens (default: clearbook-app)

	AccessTTL  time.Duration // Optional: access token lifetime (default: 15m)
	RefreshTTL time.Duration // Optional: refresh token lifetime with rememberMe (default: 7 days)
	SessionTTL time.Duration // Optional: refresh token lifetime without rememberMe (default: 24h)

	RotateRefresh    bool          // Optional: single-use refresh rotation (default: true)
	ReuseGraceWindow time.Duration // Optional: tolerate replays of a just-rotated token for this long (default: 0, strict)

	RevocationBackend string // Optional: revocation registry backend (memory, redis) (default: memory)
	RedisAddr         string // Optional: redis address for the redis backend (default: localhost:6379)
	RedisPassword     string // Optional: redis password

	DatabaseFile string // Optional: path to SQLite database file (default: ./clearbook.db)

	AdminEmail    string // Optional: seed admin account when the principal table is empty
	AdminPassword string // Optional: password for the seeded admin account
	AdminName     string // Optional: display name for the seeded admin account

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	SecureCookies        bool          // Mark token cookies Secure (default: true outside dev)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
	ActivityRetention    time.Duration // Activity log retention (default: 90 days)
}

func LoadConfig() Config {
	cfg := Config{
		Secret:   os.Getenv("AUTH_SECRET"),
		Issuer:   getEnvOrDefault("AUTH_ISSUER", "clearbook-auth"),
		Audience: getEnvOrDefault("AUTH_AUDIENCE", "clearbook-app"),

		AccessTTL:  getEnvDurationOrDefault("AUTH_ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL: getEnvDurationOrDefault("AUTH_REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),
		SessionTTL: getEnvDurationOrDefault("AUTH_SESSION_TTL", 24*time.Hour),

		RotateRefresh:    getEnvBoolOrDefault("AUTH_ROTATE_REFRESH", true),
		ReuseGraceWindow: getEnvDurationOrDefault("AUTH_REUSE_GRACE_WINDOW", 0),

		RevocationBackend: getEnvOrDefault("AUTH_REVOCATION_BACKEND", "memory"),
		RedisAddr:         getEnvOrDefault("AUTH_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("AUTH_REDIS_PASSWORD"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "clearbook.db"),

		AdminEmail:    os.Getenv("AUTH_ADMIN_EMAIL"),
		AdminPassword: os.Getenv("AUTH_ADMIN_PASSWORD"),
		AdminName:     getEnvOrDefault("AUTH_ADMIN_NAME", "Administrator"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		ActivityRetention:    getEnvDurationOrDefault("ACTIVITY_RETENTION", 90*24*time.Hour),
	}

	// Plain-HTTP cookies only make sense in local development.
	cfg.SecureCookies = getEnvBoolOrDefault("AUTH_SECURE_COOKIES", cfg.Env != "dev")

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Integer values are taken as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
