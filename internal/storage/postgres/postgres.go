// Package postgres stores the login access list in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/craftd/internal/config"
)

// ApplicationName tags every access list connection in pg_stat_activity.
const ApplicationName = "craftd-access-list"

// ErrSchemaMissing is returned by Health when the access_list table has not
// been migrated.
var ErrSchemaMissing = errors.New("access_list table missing")

// Pool is the connection pool behind the access list. A Pool only reports
// healthy once the access_list schema is in place.
type Pool struct {
	db *pgxpool.Pool
}

// NewPool connects to the database described by cfg.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	return connect(ctx, poolCfg)
}

// Connect opens a Pool from a raw connection string with pgx defaults.
func Connect(ctx context.Context, dsn string) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database dsn: %w", err)
	}
	return connect(ctx, poolCfg)
}

func connect(ctx context.Context, poolCfg *pgxpool.Config) (*Pool, error) {
	poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Pool{db: db}, nil
}

// Health checks that the database answers within timeout and that the
// access_list table exists.
//
// Postcondition: Returns nil, an error wrapping ErrSchemaMissing, or the
// connection error.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var present bool
	if err := p.db.QueryRow(ctx, `SELECT to_regclass('access_list') IS NOT NULL`).Scan(&present); err != nil {
		return fmt.Errorf("checking access list schema: %w", err)
	}
	if !present {
		return fmt.Errorf("%w: run cmd/migrate", ErrSchemaMissing)
	}
	return nil
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.db.Close()
}

// DB returns the underlying pgxpool.Pool for migrations and test fixtures.
func (p *Pool) DB() *pgxpool.Pool {
	return p.db
}
