package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	ERPBaseURL string
	ERPTimeout time.Duration
	JWTSecret  string
	// AccessTTL tracks the upstream ERP token lifetime (~30 minutes); a local
	// session outliving the ERP token would only produce 401s upstream.
	AccessTTL  time.Duration
	CORSOrigin string
	// Redis - empty means in-memory session storage
	RedisURL string
	// Postgres - empty means the approval audit trail is disabled
	DatabaseURL string
}

func Load() Config {
	return Config{
		Addr:        getenv("API_ADDR", ":8788"),
		ERPBaseURL:  getenv("ERP_BASE_URL", "http://localhost:8000"),
		ERPTimeout:  time.Duration(getenvInt("ERP_TIMEOUT_SECONDS", 15)) * time.Second,
		JWTSecret:   getenv("APRUEBA_JWT_SECRET", "aprueba-dev-secret"),
		AccessTTL:   time.Duration(getenvInt("APRUEBA_ACCESS_TTL_SECONDS", 1800)) * time.Second,
		CORSOrigin:  getenv("APRUEBA_CORS_ORIGIN", "*"),
		RedisURL:    getenv("REDIS_URL", ""),
		DatabaseURL: getenv("DATABASE_URL", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
