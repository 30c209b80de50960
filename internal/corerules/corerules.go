// Package corerules embeds the core taint rule set shipped with trcr.
package corerules

import _ "embed"

// Filename is the name reported in source spans for the core rules.
const Filename = "corerules/core.cue"

//go:embed core.cue
var core []byte

// Bytes returns a copy of the core rule document.
func Bytes() []byte {
	out := make([]byte, len(core))
	copy(out, core)
	return out
}
