package telemetry

import "embed"

// migrationFS embeds the SQL migrations so the compiled binary never
// needs migration files on disk.
//
//go:embed migrations/*.sql
var migrationFS embed.FS
