// Package certs embeds the development CA and key pairs used by tests.
// Regenerate them with generate.sh.
package certs

import "embed"

//go:embed *.crt *.key
var FS embed.FS
