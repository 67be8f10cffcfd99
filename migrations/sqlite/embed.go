// Package sqlite embeds SQL migration files for SQLite databases.
package sqlite

import "embed"

// PartitionsFS contains the token_cache schema migrations (goose format).
//
//go:embed partitions/*.sql
var PartitionsFS embed.FS

// PartitionsDir is the directory within PartitionsFS where migrations live.
const PartitionsDir = "partitions"
