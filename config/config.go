package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	AWS      AWSConfig
	Tracking TrackingConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/watchtrack?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// SessionConfig controls server-side session liveness.
type SessionConfig struct {
	IdleTTL time.Duration // presence lapses when no heartbeat arrives within this window
	MaxAge  time.Duration // sessions older than this are rotated on heartbeat
}

// AWSConfig holds AWS credentials and the event-log archive bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ArchiveBucket   string // empty disables archiving
	S3Endpoint      string // optional S3-compatible endpoint (MinIO, LocalStack)
}

// WorkerConfig controls the engagement worker.
type WorkerConfig struct {
	InProcess     bool // run the worker inside cmd/server
	BackfillLimit int  // finalized sessions folded at worker startup
}

// TrackingConfig holds client-side tracking settings used by headless players.
type TrackingConfig struct {
	APIBaseURL        string
	HeartbeatInterval time.Duration
	TickInterval      time.Duration
	HTTPTimeout       time.Duration
	EventBufferSize   int
	StateFile         string // durable store for sessionId/watchSessionId/auth; empty keeps state in memory
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	jwtExpire, _ := strconv.Atoi(getEnv("JWT_EXPIRE_HOURS", "24"))

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "watchtrack"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: jwtExpire,
		},
		Session: SessionConfig{
			IdleTTL: getEnvDuration("SESSION_IDLE_TTL", 15*time.Minute),
			MaxAge:  getEnvDuration("SESSION_MAX_AGE", 24*time.Hour),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ArchiveBucket:   getEnv("AWS_S3_ARCHIVE_BUCKET", ""),
			S3Endpoint:      getEnv("AWS_S3_ENDPOINT", ""),
		},
		Tracking: TrackingConfig{
			APIBaseURL:        getEnv("TRACKING_API_URL", "http://localhost:8080"),
			HeartbeatInterval: getEnvDuration("TRACKING_HEARTBEAT_INTERVAL", 5*time.Minute),
			TickInterval:      getEnvDuration("TRACKING_TICK_INTERVAL", time.Second),
			HTTPTimeout:       getEnvDuration("TRACKING_HTTP_TIMEOUT", 10*time.Second),
			EventBufferSize:   getEnvInt("TRACKING_EVENT_BUFFER", 256),
			StateFile:         getEnv("TRACKING_STATE_FILE", ""),
		},
		Worker: WorkerConfig{
			InProcess:     getEnv("WORKER_IN_PROCESS", "true") == "true",
			BackfillLimit: getEnvInt("WORKER_BACKFILL_LIMIT", 500),
		},
	}
	if cfg.Session.IdleTTL <= 0 {
		return nil, fmt.Errorf("SESSION_IDLE_TTL must be positive")
	}
	if cfg.Tracking.HeartbeatInterval <= 0 || cfg.Tracking.TickInterval <= 0 {
		return nil, fmt.Errorf("tracking intervals must be positive")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
