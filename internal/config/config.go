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

// Config holds runtime settings read from configs/.env and the environment.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	Port        string
	GinMode     string
	JWTSecret   string
	CORSOrigins []string
	LogLevel    string

	Currency            string
	OTPTTL              time.Duration
	StuckExecutionAfter time.Duration
	PermissionCacheTTL  time.Duration

	TracingEnabled bool
	TracingFile    string
}

// Load reads configs/.env (optional) and the environment, applying defaults.
func Load() (*Config, error) {
	if err := godotenv.Load("configs/.env"); err != nil {
		log.Println("No configs/.env file found or error loading it")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "postgres"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		Port:        getEnv("PORT", "8080"),
		GinMode:     os.Getenv("GIN_MODE"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Currency:    strings.ToUpper(getEnv("CURRENCY", "NGN")),
		TracingFile: os.Getenv("TRACING_FILE"),
	}

	var err error
	if cfg.OTPTTL, err = getDuration("OTP_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StuckExecutionAfter, err = getDuration("STUCK_EXECUTION_AFTER", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PermissionCacheTTL, err = getDuration("PERMISSION_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		if cfg.TracingEnabled, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid TRACING_ENABLED: %w", err)
		}
	}

	if cfg.JWTSecret == "" {
		if cfg.GinMode == "release" {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in release mode")
		}
		cfg.JWTSecret = "default_super_secret_key" // development fallback only
	}

	return cfg, nil
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
