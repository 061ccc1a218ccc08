// Package migrations embeds the SQL migration files applied by
// internal/migrate on startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
