package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/msklv/inn-smsp-registry/internal/config"
	"github.com/msklv/inn-smsp-registry/internal/errs"
)

// Connection holds the database connection
type Connection struct {
	DB *sql.DB
}

// NewConnection opens and pings a PostgreSQL pool. Invalid settings are
// configuration errors; an unreachable server is returned as is.
func NewConnection(ctx context.Context, cfg config.DatabaseConfig) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, errs.Config("POSTGRES", errs.ErrInvalidSetting, "%v", err)
	}

	// The passes are sequential; one connection for batches, one spare for
	// the index build.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database (%s): %w", cfg.Redacted(), err)
	}

	return &Connection{DB: db}, nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	return c.DB.Close()
}
