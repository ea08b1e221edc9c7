// Package db provides database connection pooling via pgx.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const logPrefix = "db:pool"

// NewPool creates a new pgx connection pool from the given database URL.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to database", logPrefix))

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse database URL: %w", logPrefix, err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create pool: %w", logPrefix, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to ping database: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Database connection established", logPrefix))
	return pool, nil
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// RunMigrations applies every migration not yet recorded in
// schema_migrations. Each migration runs in its own transaction together with
// its bookkeeping row.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) error {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("%s - create schema_migrations: %w", logPrefix, err)
	}

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}
	pending := pendingMigrations(migrations, applied)
	slog.Info(fmt.Sprintf("%s - Running %d of %d migrations", logPrefix, len(pending), len(migrations)))

	for _, m := range pending {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("%s - begin %s: %w", logPrefix, m.Name, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%s - migration %s failed: %w", logPrefix, m.Name, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%s - record %s: %w", logPrefix, m.Name, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("%s - commit %s: %w", logPrefix, m.Name, err)
		}
		slog.Info(fmt.Sprintf("%s - Applied %s", logPrefix, m.Name))
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete", logPrefix))
	return nil
}

// NeedsMigration reports whether the most recently applied migration differs
// from the latest one on disk. A database without the tracking table always
// needs migrating.
func NeedsMigration(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (bool, error) {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s - check schema_migrations: %w", logPrefix, err)
	}
	if !exists {
		slog.Info(fmt.Sprintf("%s - No migrations applied yet", logPrefix))
		return true, nil
	}

	var last string
	err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(name), '') FROM schema_migrations`).Scan(&last)
	if err != nil {
		return false, fmt.Errorf("%s - read latest migration: %w", logPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Latest migration: %s", logPrefix, last))
	return last != LatestMigration(migrations), nil
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - list applied migrations: %w", logPrefix, err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%s - scan migration name: %w", logPrefix, err)
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

// MigrationStatus prints which migrations are applied and which are pending.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrationPath string) error {
	const statusLogPrefix = "db:MigrationStatus"

	files, err := LoadMigrationFiles(migrationPath)
	if err != nil {
		return fmt.Errorf("%s - load migration list: %w", statusLogPrefix, err)
	}

	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass('public.schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("%s - failed to check schema: %w", statusLogPrefix, err)
	}
	if !exists {
		fmt.Printf("Migration status: not applied (run 'apphost migrate up'). %d migration files in %s\n", len(files), migrationPath)
		return nil
	}

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("%s - %w", statusLogPrefix, err)
	}
	pending := pendingMigrations(files, applied)
	fmt.Printf("Migration status: %d applied, %d pending (%d files in %s)\n", len(files)-len(pending), len(pending), len(files), migrationPath)
	for _, m := range pending {
		fmt.Printf("  pending: %s\n", m.Name)
	}
	return nil
}

// MigrationDown rolls back the last migration. Migrations are forward-only,
// so this is a no-op with a message.
func MigrationDown(ctx context.Context, pool *pgxpool.Pool, _ string) error {
	fmt.Println("Migration down: not supported (migrations are forward-only). Use a database backup to roll back.")
	return nil
}
