package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// Client wraps the database handle and owns connection lifecycle.
type Client struct {
	db  *sqlx.DB
	cfg *Config
}

// NewClient opens a connection pool and verifies connectivity.
// Call RunMigrations before serving traffic.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	db, err := sqlx.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connection established",
		"host", cfg.Host,
		"database", cfg.Database,
		"max_open_conns", cfg.MaxOpenConns)

	return &Client{db: db, cfg: cfg}, nil
}

// DB exposes the underlying handle for the store layer.
func (c *Client) DB() *sqlx.DB { return c.db }

// HealthCheck reports whether the database is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	slog.Info("Closing database connections")
	return c.db.Close()
}
