// Package schemas embeds the wire-protocol JSON Schemas so the server
// can validate inbound frames without touching the filesystem.
package schemas

import "embed"

//go:embed *.schema.json
var FS embed.FS
