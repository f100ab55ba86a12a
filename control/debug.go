// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named probes that snapshot runtime state for diagnostics.

package control

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-wl/api"
)

// Probes holds registered probe functions.
type Probes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

var _ api.Debug = (*Probes)(nil)

// NewProbes creates an empty probe registry.
func NewProbes() *Probes {
	return &Probes{
		probes: make(map[string]func() any),
	}
}

// Register inserts or replaces a named probe.
func (p *Probes) Register(name string, fn func() any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes[name] = fn
}

// Names returns the registered probe names in sorted order.
func (p *Probes) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.probes))
	for k := range p.probes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Dump evaluates every probe. Probes run without the registry lock held
// so they may take locks of their own.
func (p *Probes) Dump() map[string]any {
	p.mu.RLock()
	fns := make(map[string]func() any, len(p.probes))
	for k, fn := range p.probes {
		fns[k] = fn
	}
	p.mu.RUnlock()

	out := make(map[string]any, len(fns))
	for k, fn := range fns {
		out[k] = fn()
	}
	return out
}
