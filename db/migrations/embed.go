package migrations

import "embed"

// UpFiles embeds the ingest journal schema migrations.
//
//go:embed *.up.sql
var UpFiles embed.FS
