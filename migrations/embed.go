// Package migrations embeds the parse cache SQL migrations into the binary.
//
// Pass FS to (*database.DB).Migrate.
package migrations

import "embed"

// FS holds every *.sql file of this directory at its root.
//
//go:embed *.sql
var FS embed.FS
