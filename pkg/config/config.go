// Package config holds process-wide tunables set once at startup by
// pkg/cli and read by the rest of the module.
package config

// Debug gates debug-level logging (pkg/internal/log) and verbose
// pipeline tracing in the gstreamer provider. Set by the --debug flag.
var Debug bool
