package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPPort string

	APIBaseURL string
	CustomerID string

	StorageDriver string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	MongoURI      string
	MongoDBName   string

	KafkaBrokers []string

	SyncMaxAttempts    int
	SyncBackoffBase    time.Duration
	SyncAttemptTimeout time.Duration

	// RequestTimeout is raised at startup when it is shorter than the worst-case
	// sync (attempts x attempt timeout plus backoff).
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:      getEnv("ENV", "development"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8000/api"),
		CustomerID: getEnv("CUSTOMER_ID", ""),

		StorageDriver: getEnv("STORAGE_DRIVER", "sqlite"),
		SQLitePath:    getEnv("SQLITE_PATH", "./cart.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:   getEnv("MONGO_DB_NAME", "cartdb"),

		KafkaBrokers: getList("KAFKA_BROKERS"),

		SyncMaxAttempts:    getInt("SYNC_MAX_ATTEMPTS", 3),
		SyncBackoffBase:    getDuration("SYNC_BACKOFF_BASE", time.Second),
		SyncAttemptTimeout: getDuration("SYNC_ATTEMPT_TIMEOUT", 10*time.Second),

		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
