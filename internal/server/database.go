package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radekcihi/electrontrpc/internal/config"
	"github.com/radekcihi/electrontrpc/pkg/db"
)

const dbLogPrefix = "server:database"

// PrepareDatabase brings the schema up to the newest migration on disk and
// seeds the example data when the database was behind. With RunMigrations
// off a stale schema is only reported.
func PrepareDatabase(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("%s - failed to load migrations: %w", dbLogPrefix, err)
	}

	needs, err := db.NeedsMigration(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("%s - failed to check migrations: %w", dbLogPrefix, err)
	}
	if !needs {
		slog.Info(fmt.Sprintf("%s - schema is at %s", dbLogPrefix, db.LatestMigration(migrations)))
		return nil
	}
	if !cfg.RunMigrations {
		slog.Warn(fmt.Sprintf("%s - schema is behind %s; set RUN_MIGRATIONS=true or run 'apphost migrate up'", dbLogPrefix, db.LatestMigration(migrations)))
		return nil
	}

	slog.Info(fmt.Sprintf("%s - migrating to %s", dbLogPrefix, db.LatestMigration(migrations)))
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("%s - failed to run migrations: %w", dbLogPrefix, err)
	}
	if _, err := db.SeedFromFile(ctx, pool, cfg.SeedFile); err != nil {
		return fmt.Errorf("%s - failed to seed: %w", dbLogPrefix, err)
	}
	return nil
}
