package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP surface (join + entries + fanout websocket)
	ListenHost string
	ListenPort int

	// Remote status authority
	StatusBaseURL string
	FetchStatuses bool

	// Persistence
	RegistryDBPath string
	RegistrySlot   string
	WatchInterval  time.Duration

	// Optional YAML file with provider pacing
	TuningPath string

	// Telemetry
	LogLevel string
}

// Load reads .env (when present) and the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenHost: envStr("LISTEN_HOST", "127.0.0.1"),
		ListenPort: envInt("LISTEN_PORT", 8790),

		StatusBaseURL: envStr("STATUS_BASE_URL", "http://localhost:5000"),
		FetchStatuses: envBool("FETCH_STATUSES", true),

		RegistryDBPath: envStr("REGISTRY_DB_PATH", "data/registry.db"),
		RegistrySlot:   envStr("REGISTRY_SLOT", "storedGames"),
		// Other processes sharing the database file are noticed on this cadence.
		WatchInterval: time.Duration(envInt("WATCH_INTERVAL_MS", 1000)) * time.Millisecond,

		TuningPath: envStr("TUNING_PATH", ""),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
