package migrations

import "embed"

// Files exposes every SQL migration.
//
//go:embed *.sql
var Files embed.FS
