// Package migrations embeds the portable schema migrations applied by sqlstore.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
