package jobstore

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

type migration struct {
	version int
	name    string
	sql     string
}

// migrationRunner tracks and applies schema versions for one database.
type migrationRunner interface {
	applied(ctx context.Context, version int) (bool, error)
	apply(ctx context.Context, m migration) error
}

func loadMigrations(dialect string) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version := migrationVersion(e.Name())
		if version <= 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		out = append(out, migration{version: version, name: e.Name(), sql: sql})
	}
	return out, nil
}

// runMigrations applies the embedded migrations of dialect that r has not recorded yet.
func runMigrations(ctx context.Context, dialect string, r migrationRunner, logger *slog.Logger) error {
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		done, err := r.applied(ctx, m.version)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if done {
			continue
		}
		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		logger.Info("applied migration", "dialect", dialect, "name", m.name)
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename ("001_jobs.sql" -> 1).
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0
	}
	if end < 0 {
		end = len(name)
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}
