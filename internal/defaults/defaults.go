// Package defaults embeds the example configuration written by the
// torque2mqtt init subcommand.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
