package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects who hears presence events: everyone connected, or only the
// user's accepted friends.
const (
	ModeGlobal  = "global"
	ModeFriends = "friends"
)

type Config struct {
	ServerAddress string

	// ChatMode is "global" or "friends".
	ChatMode string

	// HistoryLimit caps how many messages a room keeps in memory.
	HistoryLimit int

	// TypingTTL is how long a typing indicator lives without a refresh.
	TypingTTL time.Duration

	// StoreBackend is "memory", "sqlite" or "redis".
	StoreBackend string
	DatabaseURL  string
	RedisURL     string

	JWTSecret        string
	TokenTTL         time.Duration
	AllowGuestTokens bool

	LogLevel slog.Level
}

func Load() *Config {
	return &Config{
		ServerAddress:    getEnv("SERVER_ADDRESS", ":8080"),
		ChatMode:         getEnv("CHAT_MODE", ModeGlobal),
		HistoryLimit:     getEnvInt("HISTORY_LIMIT", 100),
		TypingTTL:        getEnvDuration("TYPING_TTL", 4*time.Second),
		StoreBackend:     getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:      getEnv("DATABASE_URL", "data/parley.db"),
		RedisURL:         getEnv("REDIS_URL", "localhost:6379"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:         getEnvDuration("TOKEN_TTL", 30*24*time.Hour),
		AllowGuestTokens: getEnvBool("ALLOW_GUEST_TOKENS", true),
		LogLevel:         parseLogLevel(getEnv("LOG_LEVEL", "info")),
	}
}

// FriendsOnly reports whether presence is scoped to the friend graph.
func (c *Config) FriendsOnly() bool {
	return c.ChatMode == ModeFriends
}

// StoreDSN returns the data source for the configured backend. Some
// deployments carry a sqlite:// scheme on DATABASE_URL; the driver
// wants a bare path, so it is stripped here.
func (c *Config) StoreDSN() string {
	switch c.StoreBackend {
	case "redis":
		return c.RedisURL
	case "sqlite":
		return strings.TrimPrefix(c.DatabaseURL, "sqlite://")
	default:
		return ""
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
