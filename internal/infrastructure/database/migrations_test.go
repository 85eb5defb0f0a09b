package database

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
)

func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	prevFS, prevDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, "."
	t.Cleanup(func() { MigrationsFS, MigrationsDir = prevFS, prevDir })
}

var testMigrations = fstest.MapFS{
	"0001_runs.up.sql":       {Data: []byte("CREATE TABLE runs (id TEXT PRIMARY KEY);")},
	"0001_runs.down.sql":     {Data: []byte("DROP TABLE runs;")},
	"0002_captures.up.sql":   {Data: []byte("CREATE TABLE captures (id INTEGER PRIMARY KEY);")},
	"0002_captures.down.sql": {Data: []byte("DROP TABLE captures;")},
	"README.md":              {Data: []byte("ignored")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "runs") || !tableExists(t, db, "captures") {
		t.Fatal("tables not created")
	}

	// idempotent
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	applied, err := db.Applied(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 || applied[0].Version != "0001" || applied[1].Version != "0002" {
		t.Errorf("Applied() = %+v", applied)
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "captures") {
		t.Error("captures should be dropped")
	}
	if !tableExists(t, db, "runs") {
		t.Error("runs should remain")
	}
	applied, _ := db.Applied(ctx)
	if len(applied) != 1 {
		t.Errorf("applied = %d, want 1", len(applied))
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(context.Background()); err != nil {
		t.Errorf("MigrateDown() error = %v", err)
	}
}

func TestMigrateFailureKeepsEarlierVersions(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"0001_ok.up.sql":  {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"0002_bad.up.sql": {Data: []byte("CREATE TABLE;")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() should fail on invalid SQL")
	}
	if !tableExists(t, db, "ok") {
		t.Error("0001 should stay applied")
	}
}

func TestLoadMigrations_MissingUp(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"0001_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	})
	if _, err := LoadMigrations(); err == nil {
		t.Error("LoadMigrations() should reject a version without an up script")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file    string
		version string
		name    string
		up      bool
		ok      bool
	}{
		{"0001_history.up.sql", "0001", "history", true, true},
		{"0001_history.down.sql", "0001", "history", false, true},
		{"0012_capture_index.up.sql", "0012", "capture_index", true, true},
		{"0001_history.sql", "", "", false, false},
		{"history.up.sql", "", "", false, false},
		{"v1_history.up.sql", "", "", false, false},
		{"0001_.up.sql", "", "", false, false},
		{"0001_history.up.txt", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := ParseMigrationFilename(tt.file)
			if ok != tt.ok || version != tt.version || name != tt.name || up != tt.up {
				t.Errorf("ParseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.file, version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
			}
		})
	}
}
