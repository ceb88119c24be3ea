package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the API server and the jobctl CLI.
type Config struct {
	Env               string
	HTTPPort          string
	LogLevel          string
	ShutdownTimeout   time.Duration
	RateLimitCapacity int
	RateLimitRefill   float64
	JobStore          JobStore
}

// JobStore collects every variable the backend selector looks at. All of them are
// optional; with nothing set the default SQLite file is used.
type JobStore struct {
	URL              string
	RedisURL         string
	ResultBackendURL string
	BrokerURL        string
	RedisHost        string
	RedisUsername    string
	RedisPassword    string
	SQLitePath       string
	Namespace        string
	PollInterval     time.Duration
	ConnectTimeout   time.Duration
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:               getEnv("APP_ENV", "dev"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout:   getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 0),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 1),
		JobStore: JobStore{
			URL:              os.Getenv("JOB_STORE_URL"),
			RedisURL:         os.Getenv("REDIS_URL"),
			ResultBackendURL: os.Getenv("RESULT_BACKEND_URL"),
			BrokerURL:        os.Getenv("BROKER_URL"),
			RedisHost:        os.Getenv("REDIS_HOST"),
			RedisUsername:    os.Getenv("REDIS_USERNAME"),
			RedisPassword:    os.Getenv("REDIS_PASSWORD"),
			SQLitePath:       getEnv("JOB_STORE_SQLITE_PATH", "job_state.db"),
			Namespace:        getEnv("JOB_STORE_NAMESPACE", "jobtracker"),
			PollInterval:     getEnvDuration("JOB_STORE_POLL_INTERVAL", 500*time.Millisecond),
			ConnectTimeout:   getEnvDuration("JOB_STORE_CONNECT_TIMEOUT", 5*time.Second),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
