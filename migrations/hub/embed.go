// Package migrations embeds SQL migration files.
package migrations

import "embed"

// HubFS contains the hub (postgres) migrations.
//
//go:embed *.sql
var HubFS embed.FS

// HubDir is the directory within HubFS where migrations live.
const HubDir = "."
