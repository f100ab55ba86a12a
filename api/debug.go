// Package api
// Author: momentics
//
// Live debug support: named probes that snapshot runtime state.

package api

// ProbeRegistry accepts named probe functions.
type ProbeRegistry interface {
	// Register inserts or replaces a probe.
	Register(name string, fn func() any)
}

// Debug exposes runtime introspection.
type Debug interface {
	ProbeRegistry

	// Dump evaluates every registered probe.
	Dump() map[string]any
}
