package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Default SQL for the two join-heavy lookups. Both are overridable through the
// environment so deployments with a diverging schema can swap them without a
// rebuild, matching how the rest of the store is driven by raw SQL.
const (
	DefaultUserRoomsQuery = `
		SELECT u.id, u.username, u.sex, r.id, r.name
		FROM rooms r
		JOIN room_users ru ON ru.room_id = r.id
		JOIN users u ON u.id = ru.user_id
		WHERE r.disabled IS NOT TRUE
		  AND r.id IN (SELECT room_id FROM room_users WHERE user_id = $1)
		ORDER BY r.id, u.id`

	DefaultDirectRoomQuery = `
		SELECT r.id, r.disabled
		FROM rooms r
		JOIN room_users a ON a.room_id = r.id AND a.user_id = $1
		JOIN room_users b ON b.room_id = r.id AND b.user_id = $2
		WHERE r.name IS NULL
		LIMIT 1`
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port        string
	PostgresDSN string

	// Optional variables with defaults
	RedisAddr         string
	RedisPassword     string
	SessionCookieName string
	MaxMessageSize    int
	AllRoomID         int64
	Genders           []string
	UserRoomsQuery    string
	DirectRoomQuery   string
	GoEnv             string

	// Optional, empty disables the feature
	IPAPIURL string // geo endpoint template with one %s for the ip literal
	SpamRate string // ulule/limiter formatted rate, e.g. "20-S"

	DevelopmentMode bool
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: POSTGRES_DSN
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	if cfg.PostgresDSN == "" {
		errors = append(errors, "POSTGRES_DSN is required")
	}

	// Optional: REDIS_ADDR (defaults to localhost)
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
		slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
	} else if !isValidHostPort(cfg.RedisAddr) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: SESSION_COOKIE_NAME (defaults to "sessionid")
	cfg.SessionCookieName = getEnvOrDefault("SESSION_COOKIE_NAME", "sessionid")

	// Optional: MAX_MESSAGE_SIZE (symbols, positive int)
	rawSize := getEnvOrDefault("MAX_MESSAGE_SIZE", "10000")
	size, err := strconv.Atoi(rawSize)
	if err != nil || size <= 0 {
		errors = append(errors, fmt.Sprintf("MAX_MESSAGE_SIZE must be a positive integer (got '%s')", rawSize))
	} else {
		cfg.MaxMessageSize = size
	}

	// Optional: ALL_ROOM_ID (the undeletable well-known room, defaults to 1)
	rawAll := getEnvOrDefault("ALL_ROOM_ID", "1")
	allRoom, err := strconv.ParseInt(rawAll, 10, 64)
	if err != nil || allRoom <= 0 {
		errors = append(errors, fmt.Sprintf("ALL_ROOM_ID must be a positive integer (got '%s')", rawAll))
	} else {
		cfg.AllRoomID = allRoom
	}

	// Optional: IP_API_URL, a template with exactly one %s substitution
	cfg.IPAPIURL = os.Getenv("IP_API_URL")
	if cfg.IPAPIURL != "" && strings.Count(cfg.IPAPIURL, "%s") != 1 {
		errors = append(errors, fmt.Sprintf("IP_API_URL must contain exactly one %%s placeholder (got '%s')", cfg.IPAPIURL))
	}

	// Optional: GENDERS, comma separated index→label mapping
	rawGenders := getEnvOrDefault("GENDERS", "Secret,Male,Female")
	cfg.Genders = strings.Split(rawGenders, ",")
	for i, g := range cfg.Genders {
		cfg.Genders[i] = strings.TrimSpace(g)
	}

	// Optional: raw SQL overrides
	cfg.UserRoomsQuery = getEnvOrDefault("USER_ROOMS_QUERY", DefaultUserRoomsQuery)
	cfg.DirectRoomQuery = getEnvOrDefault("GET_DIRECT_ROOM_ID", DefaultDirectRoomQuery)

	// Optional: SPAM_RATE in ulule/limiter format; empty means size check only
	cfg.SpamRate = os.Getenv("SPAM_RATE")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.DevelopmentMode = cfg.GoEnv != "production"

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// GenderLabel maps a stored sex index to its display label.
// Unknown indexes fall back to the first label (Secret by default).
func (c *Config) GenderLabel(sex int) string {
	if sex < 0 || sex >= len(c.Genders) {
		return c.Genders[0]
	}
	return c.Genders[sex]
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"port", cfg.Port,
		"postgres_dsn", redactSecret(cfg.PostgresDSN),
		"redis_addr", cfg.RedisAddr,
		"session_cookie", cfg.SessionCookieName,
		"max_message_size", cfg.MaxMessageSize,
		"all_room_id", cfg.AllRoomID,
		"ip_api_url", cfg.IPAPIURL,
		"spam_rate", cfg.SpamRate,
		"go_env", cfg.GoEnv,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
