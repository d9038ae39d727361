// Package lib embeds the runtime library that compiled programs link
// against.
package lib

import _ "embed"

// RuntimeName is the unit name the runtime is loaded under.
const RuntimeName = "runtime.il"

//go:embed runtime.il
var Runtime string
