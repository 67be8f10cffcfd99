// Package migrations embeds SQL migration files for Postgres.
package migrations

import "embed"

// PartitionsFS contains the token_cache schema migrations (goose format).
//
//go:embed partitions/*.sql
var PartitionsFS embed.FS

// PartitionsDir is the directory within PartitionsFS where migrations live.
const PartitionsDir = "partitions"
