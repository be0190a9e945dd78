// Package migrations embeds the PostgreSQL schema of the result cache.
package migrations

import "embed"

// FS holds every migration file, applied in filename order.
//
//go:embed *.sql
var FS embed.FS
