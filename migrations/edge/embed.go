// Package migrations embeds SQL migration files.
package migrations

import "embed"

// EdgeFS contains the edge (sqlite) migrations.
//
//go:embed *.sql
var EdgeFS embed.FS

// EdgeDir is the directory within EdgeFS where migrations live.
const EdgeDir = "."
