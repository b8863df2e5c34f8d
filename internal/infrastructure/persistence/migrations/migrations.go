// Package migrations embeds the SQL schema applied by pkg/database.Migrator.
package migrations

import "embed"

// FS holds the versioned migration files
//
//go:embed *.sql
var FS embed.FS

// Dir is the root of FS passed to the migrator
const Dir = "."
