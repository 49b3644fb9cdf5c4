// Package migrations embeds the database schema migrations.
package migrations

import "embed"

// FS holds the SQL migration files in golang-migrate naming.
//
//go:embed *.sql
var FS embed.FS
