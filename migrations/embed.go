// Package migrations embeds SQL migration files into the binary.
//
// This allows litecore to run migrations without needing the SQL files
// present on the filesystem - they're compiled into the executable.
// Files follow the YYYYMMDD_HHMMSS_name.up.sql / .down.sql convention.
package migrations

import "embed"

// FS holds every migration file at its root.
//
//go:embed *.sql
var FS embed.FS
