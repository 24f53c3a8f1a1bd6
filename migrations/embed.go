// Package migrations holds the schema as ordered up/down SQL files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
