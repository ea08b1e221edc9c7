// Package main is the entrypoint for the application host.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/radekcihi/electrontrpc/internal/config"
	"github.com/radekcihi/electrontrpc/internal/server"
	"github.com/radekcihi/electrontrpc/pkg/db"
)

const usage = `Usage: apphost [command]
       apphost serve              Start the host (bridge, dispatcher, HTTP).
       apphost migrate up         Run database migrations.
       apphost migrate down       Roll back one migration (migrations are forward-only).
       apphost migrate status     Show migration status.
       apphost ensure-db [name]   Create database if missing (default name: app_test). Uses DATABASE_URL host/user.
       apphost clear              Truncate the users table; schema is preserved.
       apphost seed [file]        Seed users from a JSON file (default: SEED_FILE, then the example user).

Commands:
  serve           (default) Start the host.
  migrate up      Run database migrations only.
  migrate down    Roll back last migration (not supported, prints a notice).
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. app_test) on same host as DATABASE_URL; then run tests with that URL.
  clear           Truncate user data; schema preserved.
  seed [file]     Upsert seed users.

Environment: DATABASE_URL (required), MIGRATION_PATH, SEED_FILE, COMMS_URL, EMBEDDED_BRIDGE,
RPC_SUBJECT, RPC_TRANSFORMER, RPC_BATCHING_ENABLED, HTTP_PORT, HTTP_RPC_ENABLED. See README.
`

const defaultTestDB = "app_test"

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("apphost migrate: require subcommand (up, down, status)")
		}
		run, ok := migrateCommands[args[1]]
		if !ok {
			log.Fatalf("apphost migrate: unknown subcommand %q (use up, down, status)", args[1])
		}
		if err := withPool(run); err != nil {
			log.Fatalf("apphost migrate %s: %v", args[1], err)
		}
		return
	case "clear":
		if err := withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
			return db.ClearUsers(ctx, pool)
		}); err != nil {
			log.Fatalf("apphost clear: %v", err)
		}
		return
	case "seed":
		seedFile := argOr(args, 1, "")
		if err := withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
			if seedFile == "" {
				seedFile = cfg.SeedFile
			}
			return runSeed(ctx, pool, seedFile)
		}); err != nil {
			log.Fatalf("apphost seed: %v", err)
		}
		return
	case "ensure-db":
		if err := runEnsureDB(argOr(args, 1, defaultTestDB)); err != nil {
			log.Fatalf("apphost ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("apphost: %v", err)
	}
}

// poolCommand runs against an open pool.
type poolCommand func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error

var migrateCommands = map[string]poolCommand{
	"up":     runMigrateUp,
	"status": runMigrateStatus,
	"down":   runMigrateDown,
}

func argOr(args []string, i int, def string) string {
	if len(args) > i && args[i] != "" {
		return args[i]
	}
	return def
}

// withPool loads config, opens a pool and runs fn.
func withPool(fn poolCommand) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	server.SetupLogging(cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runMigrateDown(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	return db.MigrationDown(ctx, pool, cfg.MigrationPath)
}

func runSeed(ctx context.Context, pool *pgxpool.Pool, seedFile string) error {
	n, err := db.SeedFromFile(ctx, pool, seedFile)
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}
	fmt.Printf("Seeded %d users.\n", n)
	return nil
}

// targetDatabaseURL swaps the database name in databaseURL for dbName,
// keeping the query string (e.g. sslmode).
func targetDatabaseURL(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	targetURL, err := targetDatabaseURL(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}
