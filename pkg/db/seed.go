package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radekcihi/electrontrpc/pkg/bootstrap"
)

const seedLogPrefix = "db:seed"

// SeedUsers upserts every user of cfg by email inside one transaction and
// returns how many rows were written.
func SeedUsers(ctx context.Context, pool *pgxpool.Pool, cfg *bootstrap.SeedConfig) (int, error) {
	if cfg == nil || len(cfg.Users) == 0 {
		slog.Info(fmt.Sprintf("%s - no users to seed", seedLogPrefix))
		return 0, nil
	}
	users := bootstrap.CreateResolvedSeed(cfg).Users()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s - begin tx: %w", seedLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	for _, u := range users {
		_, err := tx.Exec(ctx,
			`INSERT INTO users (email, name, bio)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (email) DO UPDATE SET
			   name = COALESCE(EXCLUDED.name, users.name),
			   bio = COALESCE(EXCLUDED.bio, users.bio),
			   modified = NOW()`,
			u.Email, u.Name, u.Bio)
		if err != nil {
			return 0, fmt.Errorf("%s - upsert %s: %w", seedLogPrefix, u.Email, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%s - commit: %w", seedLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - seeded %d users from %s", seedLogPrefix, len(users), cfg.Name))
	return len(users), nil
}

// SeedFromFile loads a seed file (falling back to SEED_FILE and the built-in
// example user) and seeds it.
func SeedFromFile(ctx context.Context, pool *pgxpool.Pool, path string) (int, error) {
	cfg, err := bootstrap.LoadSeedConfig(path)
	if err != nil {
		return 0, fmt.Errorf("%s - load seed config: %w", seedLogPrefix, err)
	}
	return SeedUsers(ctx, pool, cfg)
}
