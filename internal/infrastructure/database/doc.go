// Package database provides the SQLite store behind the run history.
//
// The database is a single file opened with WAL journaling so the control
// surface can read history while the worker records captures. The pool is
// capped at one connection because SQLite has a single writer.
//
// Schema changes are versioned SQL files registered through MigrationsFS:
//
//	0001_history.up.sql
//	0001_history.down.sql
//
// Migrate applies pending versions in order, each in its own transaction,
// and records them in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
