// Package db provides migration loading from directory.
package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one forward-only SQL file. Name is the file name without the
// .sql extension and is what gets recorded once applied.
type Migration struct {
	Name string
	SQL  string
}

// LoadMigrationFiles reads all .sql files from dir, sorted by name.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Migration
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: strings.TrimSuffix(name, ".sql"), SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// LatestMigration returns the name of the last migration, or "" for none.
func LatestMigration(ms []Migration) string {
	if len(ms) == 0 {
		return ""
	}
	return ms[len(ms)-1].Name
}

// pendingMigrations returns the migrations whose names are not in applied,
// keeping their order.
func pendingMigrations(ms []Migration, applied map[string]bool) []Migration {
	var out []Migration
	for _, m := range ms {
		if !applied[m.Name] {
			out = append(out, m)
		}
	}
	return out
}
