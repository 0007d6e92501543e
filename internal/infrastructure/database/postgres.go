package database

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig contains PostgreSQL pool options.
type PostgresConfig struct {
	// DSN is a libpq-style URL, e.g. postgres://farm:secret@db:5432/farm.
	DSN string

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int
}

// Pool wraps a pgx connection pool with the same lifecycle and migration
// helpers as DB.
type Pool struct {
	*pgxpool.Pool
}

// OpenPostgres creates a pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns) //nolint:gosec // Bounded by config validation
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verifying postgres connection: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close releases every pooled connection.
func (p *Pool) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
	}
	return nil
}

// HealthCheck verifies the pool can serve a query.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var result int
	if err := p.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Migrate applies pending migrations from fsys, one transaction each.
func (p *Pool) Migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := p.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	applied, err := p.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	for _, m := range pendingMigrations(migrations, applied) {
		if err := p.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func (p *Pool) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := p.Query(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (MigrationRecord, error) {
		var r MigrationRecord
		err := row.Scan(&r.Version, &r.AppliedAt)
		return r, err
	})
}

func (p *Pool) applyMigration(ctx context.Context, m Migration) error {
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.UpSQL); err != nil {
			return fmt.Errorf("executing SQL: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)",
			m.Version, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}
