/*
Package config loads runtime configuration from the environment, with an
optional .env file for local development. Missing values fall back to
dev-friendly defaults; production deployments set everything explicitly.
*/
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// DBDriver selects the store: "sqlite" or "postgres".
	DBDriver string

	// DBPath is the SQLite database path (":memory:" allowed).
	DBPath string

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	JWTSecret string
	TokenTTL  time.Duration

	// KafkaBrokers enables event publishing when non-empty.
	KafkaBrokers []string

	LockTimeout time.Duration
}

func Load() Config {
	// Dev convenience only; a missing .env is not an error.
	_ = godotenv.Load()

	cfg := Config{
		Addr:        getenv("ADDR", ":8080"),
		DBDriver:    getenv("DB_DRIVER", "sqlite"),
		DBPath:      getenv("DB_PATH", "bankcore.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   getenv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:    getduration("TOKEN_TTL", 24*time.Hour),
		LockTimeout: getduration("LOCK_TIMEOUT", 5*time.Second),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
