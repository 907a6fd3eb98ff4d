package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL       string
	ServerAddr        string
	HeartbeatInterval time.Duration
	TurnGap           time.Duration
	ReplayBaseDelay   time.Duration
	ReplayMaxDelay    time.Duration
	ChatAPIBaseURL    string
	ChatAPIKey        string
	ChatModel         string
	ChatTemperature   float64
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "crewai")
		pass := getenv("POSTGRES_PASSWORD", "crewai_pass")
		db := getenv("POSTGRES_DB", "crewai")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	return &Config{
		DatabaseURL:       dsn,
		ServerAddr:        getenv("SERVER_ADDR", "0.0.0.0:8080"),
		HeartbeatInterval: parseDuration(getenv("STREAM_HEARTBEAT_INTERVAL", "30s"), 30*time.Second),
		TurnGap:           parseDuration(getenv("SCHEDULER_TURN_GAP", "1s"), time.Second),
		ReplayBaseDelay:   parseDuration(getenv("REPLAY_BASE_DELAY", "50ms"), 50*time.Millisecond),
		ReplayMaxDelay:    parseDuration(getenv("REPLAY_MAX_DELAY", "3s"), 3*time.Second),
		ChatAPIBaseURL:    getenv("CHAT_API_BASE_URL", "https://api.deepseek.com/v1"),
		ChatAPIKey:        os.Getenv("CHAT_API_KEY"),
		ChatModel:         getenv("CHAT_MODEL", "deepseek-chat"),
		ChatTemperature:   parseFloat(getenv("CHAT_TEMPERATURE", "0.7"), 0.7),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
