package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	FeedDriverRedis    = "redis"
	FeedDriverPostgres = "postgres"
	FeedDriverMemory   = "memory"

	StorageDriverLocal    = "local"
	StorageDriverFirebase = "firebase"
)

type Config struct {
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	ServerPort  string
	Environment string
	LogLevel    string
	JWTExpiry   time.Duration
	WALPath     string

	// Rate limiting
	RateLimitMaxRequests int
	RateLimitWindow      time.Duration
	RateLimitBlockTime   time.Duration

	// Change feed
	FeedDriver           string
	OutboxReplayInterval time.Duration

	// Realtime
	WSMaxSession              time.Duration
	PresenceStaleAfter        time.Duration
	PresenceHeartbeatInterval time.Duration

	// Object storage
	StorageDriver           string
	StorageDir              string
	StorageBaseURL          string
	FirebaseCredentialsPath string
	FirebaseBucket          string

	// Push notifications
	PushEnabled bool

	CORSAllowedOrigins []string

	// Seed
	AdminEmail    string
	AdminPassword string
}

func Load() *Config {
	// Try to load .env file, but don't fail if it doesn't exist
	// (Docker containers use environment variables directly)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, using process environment")
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		JWTExpiry:   getEnvAsDuration("JWT_EXPIRY", "24h"),
		WALPath:     getEnv("WAL_PATH", "data/wal_feed"),

		RateLimitMaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
		RateLimitWindow:      getEnvAsDuration("RATE_LIMIT_WINDOW", "1m"),
		RateLimitBlockTime:   getEnvAsDuration("RATE_LIMIT_BLOCK_TIME", "5m"),

		FeedDriver:           strings.ToLower(getEnv("FEED_DRIVER", FeedDriverRedis)),
		OutboxReplayInterval: getEnvAsDuration("OUTBOX_REPLAY_INTERVAL", "10s"),

		WSMaxSession:              getEnvAsDuration("WS_MAX_SESSION", "15m"),
		PresenceStaleAfter:        getEnvAsDuration("PRESENCE_STALE_AFTER", "5m"),
		PresenceHeartbeatInterval: getEnvAsDuration("PRESENCE_HEARTBEAT_INTERVAL", "1m"),

		StorageDriver:           strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverLocal)),
		StorageDir:              getEnv("STORAGE_DIR", "data/files"),
		StorageBaseURL:          getEnv("STORAGE_BASE_URL", "/files"),
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		FirebaseBucket:          os.Getenv("FIREBASE_BUCKET"),

		PushEnabled: getEnvAsBool("PUSH_ENABLED", false),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@teamchat.local"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	return cfg
}

// Validate reports configuration the server cannot start with.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.FeedDriver {
	case FeedDriverRedis, FeedDriverPostgres, FeedDriverMemory:
	default:
		return fmt.Errorf("unknown FEED_DRIVER %q", c.FeedDriver)
	}
	switch c.StorageDriver {
	case StorageDriverLocal:
	case StorageDriverFirebase:
		if c.FirebaseBucket == "" {
			return fmt.Errorf("FIREBASE_BUCKET is required for the firebase storage driver")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.PushEnabled && c.FirebaseCredentialsPath == "" {
		return fmt.Errorf("FIREBASE_CREDENTIALS_PATH is required when PUSH_ENABLED is set")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAsInt retrieves environment variable as int with default value
func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		log.Printf("Invalid %s value, using default: %d", key, defaultVal)
		return defaultVal
	}
	return val
}

// getEnvAsDuration retrieves environment variable as duration with default value
func getEnvAsDuration(key string, defaultVal string) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		valStr = defaultVal
	}
	duration, err := time.ParseDuration(valStr)
	if err != nil {
		log.Printf("Invalid %s value, using default: %s", key, defaultVal)
		duration, _ = time.ParseDuration(defaultVal)
	}
	return duration
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		log.Printf("Invalid %s value, using default: %t", key, defaultVal)
		return defaultVal
	}
	return val
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(key string, defaultVal []string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(valStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
