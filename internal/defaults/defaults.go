// Package defaults provides the embedded example configuration written
// by the penny init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed env.example
var EnvExample []byte
