// Package migrations embeds the SQLite schema into the binary.
package migrations

import (
	"embed"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
