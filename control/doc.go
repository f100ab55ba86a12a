// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, runtime metrics and debug introspection for
// hioload-wl.
//
// Provides:
//   - TOML configuration with environment overrides
//   - zap logger construction with optional file rotation
//   - Prometheus counters for read rounds, dispatch and faults
//   - Named debug probes for state export
package control
