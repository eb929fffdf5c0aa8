// Package migrations embeds the SQL schema for the entity store.
package migrations

import "embed"

// FS contains the ordered *.sql migrations.
//
//go:embed *.sql
var FS embed.FS
