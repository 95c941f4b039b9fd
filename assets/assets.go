// Package assets holds files compiled into the binary.
package assets

import _ "embed"

// DefaultConf is the bundled task configuration, stored in plain text. It is
// used when no conf.bundled_path is configured.
//
//go:embed default_conf.yaml
var DefaultConf []byte
