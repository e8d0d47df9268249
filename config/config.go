package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Store          string // "redis" or "memory"
	Redis          RedisConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ClientConfig holds the settings for a mesh client session.
type ClientConfig struct {
	ServerURL    string
	Transport    string // "rest" or "ws"
	AuthToken    string // JWT, needed only for room creation
	RoomID       string
	DisplayName  string
	STUNServers  []string
	PollInterval time.Duration
	ChatTimeout  time.Duration
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Store:          getEnv("STORE", "memory"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},
	}
}

func LoadClient() *ClientConfig {
	stunStr := getEnv("STUN_SERVERS", "stun:stun.l.google.com:19302")

	return &ClientConfig{
		ServerURL:    getEnv("SERVER_URL", "http://localhost:8080"),
		Transport:    getEnv("TRANSPORT", "rest"),
		AuthToken:    getEnv("AUTH_TOKEN", ""),
		RoomID:       getEnv("ROOM_ID", ""),
		DisplayName:  getEnv("DISPLAY_NAME", ""),
		STUNServers:  strings.Split(stunStr, ","),
		PollInterval: getMillis("POLL_INTERVAL_MS", 1000),
		ChatTimeout:  getMillis("CHAT_OPEN_TIMEOUT_MS", 15000),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getMillis(key string, defaultMillis int64) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return time.Duration(defaultMillis) * time.Millisecond
}
