// Package migrations embeds the SQL schema into the binary and registers it
// with the database package.
//
// Import it for side effects wherever a database is opened and migrated:
//
//	import _ "github.com/benjaminthomas/neer-thuli-main-sub000/migrations"
package migrations

import (
	"embed"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
