// Package migrations embeds the edgewatch SQL schema into the binary.
//
// Importing it for side effects registers the files with the database package:
//
//	import _ "github.com/edgewatch/edgewatch-core/migrations"
package migrations

import (
	"embed"

	"github.com/edgewatch/edgewatch-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
