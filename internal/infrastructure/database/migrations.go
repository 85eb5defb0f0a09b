package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// MigrationsFS holds the migration files. The migrations package registers
// its embedded files here at init.
var MigrationsFS fs.FS

// MigrationsDir is the directory inside MigrationsFS to read.
var MigrationsDir = "."

// Migration is one schema version.
type Migration struct {
	// Version is the numeric filename prefix, e.g. "0001".
	Version string
	Name    string
	Up      string
	Down    string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   string
	AppliedAt time.Time
}

// Migrate applies every pending migration in version order. Each runs in
// its own transaction; a failure leaves earlier versions applied.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	all, err := LoadMigrations()
	if err != nil {
		return err
	}
	applied, err := db.appliedSet(ctx)
	if err != nil {
		return err
	}

	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		err := db.InTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration.
func (db *DB) MigrateDown(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	applied, err := db.Applied(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	latest := applied[len(applied)-1].Version

	all, err := LoadMigrations()
	if err != nil {
		return err
	}
	var target *Migration
	for i := range all {
		if all[i].Version == latest {
			target = &all[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %s not found", latest)
	}
	if target.Down == "" {
		return fmt.Errorf("migration %s has no down script", latest)
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, target.Down); err != nil {
			return fmt.Errorf("reverting %s: %w", latest, err)
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
		return err
	})
}

// Applied lists applied migrations, oldest first.
func (db *DB) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var (
			m  AppliedMigration
			at string
		)
		if err := rows.Scan(&m.Version, &at); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // written by Migrate
		out = append(out, m)
	}
	return out, rows.Err()
}

func (db *DB) appliedSet(ctx context.Context) (map[string]bool, error) {
	applied, err := db.Applied(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(applied))
	for _, m := range applied {
		set[m.Version] = true
	}
	return set, nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

// LoadMigrations reads MigrationsFS. Files are named
// <version>_<name>.up.sql and <version>_<name>.down.sql; anything else is
// ignored. A nil MigrationsFS yields no migrations.
func LoadMigrations() ([]Migration, error) {
	if MigrationsFS == nil {
		return nil, nil
	}
	names, err := fs.Glob(MigrationsFS, path.Join(MigrationsDir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, file := range names {
		version, name, up, ok := ParseMigrationFilename(path.Base(file))
		if !ok {
			continue
		}
		body, err := fs.ReadFile(MigrationsFS, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" {
			return nil, fmt.Errorf("migration %s has no up script", m.Version)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// ParseMigrationFilename splits "0001_history.up.sql" into its version,
// name and direction.
func ParseMigrationFilename(file string) (version, name string, up, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", false, false
	}
	switch {
	case strings.HasSuffix(base, ".up"):
		up = true
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
	default:
		return "", "", false, false
	}
	version, name, found = strings.Cut(base, "_")
	if !found || version == "" || name == "" {
		return "", "", false, false
	}
	for _, r := range version {
		if r < '0' || r > '9' {
			return "", "", false, false
		}
	}
	return version, name, up, true
}
