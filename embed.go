// Package darts embeds the browser front end served by cmd/server.
package darts

import "embed"

// WebFS holds the static front end under web/.
//
//go:embed web
var WebFS embed.FS
