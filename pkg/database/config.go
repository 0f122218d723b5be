package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database connection settings, loaded from environment
// variables so deployments can inject them per environment.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoadConfigFromEnv builds a Config from DATABASE_* environment variables,
// falling back to local-development defaults.
func LoadConfigFromEnv() *Config {
	return &Config{
		Host:            envOr("DATABASE_HOST", "localhost"),
		Port:            envIntOr("DATABASE_PORT", 5432),
		User:            envOr("DATABASE_USER", "answer42"),
		Password:        envOr("DATABASE_PASSWORD", "answer42"),
		Database:        envOr("DATABASE_NAME", "answer42"),
		SSLMode:         envOr("DATABASE_SSL_MODE", "disable"),
		MaxOpenConns:    envIntOr("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    envIntOr("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DSN returns the connection string in key/value form understood by pgx.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
