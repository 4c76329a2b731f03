package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the server reads from the environment.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string

	ApplicantTokenTTL time.Duration
	PrincipalTokenTTL time.Duration
	ResendCooldown    time.Duration
	ProvisionTimeout  time.Duration
	SweepSpec         string

	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxIdle  time.Duration
	DBConnMaxLife  time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
// DATABASE_URL empty means in-memory storage (development and tests only).
func FromEnv() Config {
	return Config{
		Addr:        getEnv("SCHOOLREG_ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		ApplicantTokenTTL: getDuration("APPLICANT_TOKEN_TTL", 48*time.Hour),
		PrincipalTokenTTL: getDuration("PRINCIPAL_TOKEN_TTL", 72*time.Hour),
		ResendCooldown:    getDuration("RESEND_COOLDOWN", time.Minute),
		ProvisionTimeout:  getDuration("PROVISION_TIMEOUT", 10*time.Second),
		SweepSpec:         getEnv("SWEEP_SPEC", "@every 5m"),

		DBMaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxIdle:  getDuration("DB_CONN_MAX_IDLE", 5*time.Minute),
		DBConnMaxLife:  getDuration("DB_CONN_MAX_LIFE", 30*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
