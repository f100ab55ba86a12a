// File: pool/slab_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"
)

const minClass = 16

// slab recycles buffers of one capacity.
type slab struct {
	size  int
	free  sync.Pool // *[]byte
	alloc atomic.Uint64
	reuse atomic.Uint64
	put   atomic.Uint64
}

func (s *slab) get(n int) []byte {
	if bp, ok := s.free.Get().(*[]byte); ok {
		s.reuse.Add(1)
		return (*bp)[:n]
	}
	s.alloc.Add(1)
	return make([]byte, n, s.size)
}

// ArgPool hands out argument buffers from power-of-two size classes up to
// the largest message size. A nil *ArgPool allocates plainly.
type ArgPool struct {
	classes []*slab
}

// Stats summarizes pool activity across classes.
type Stats struct {
	Allocated uint64 // buffers created
	Reused    uint64 // Get served from a recycled buffer
	Returned  uint64 // Put accepted
}

// NewArgPool creates classes covering buffers up to maxSize bytes.
func NewArgPool(maxSize int) *ArgPool {
	p := &ArgPool{}
	for size := minClass; ; size <<= 1 {
		p.classes = append(p.classes, &slab{size: size})
		if size >= maxSize {
			break
		}
	}
	return p
}

func (p *ArgPool) classFor(n int) *slab {
	for _, s := range p.classes {
		if n <= s.size {
			return s
		}
	}
	return nil
}

// Get returns a buffer of length n. Zero-length requests return nil.
func (p *ArgPool) Get(n int) []byte {
	if n == 0 {
		return nil
	}
	if p == nil {
		return make([]byte, n)
	}
	s := p.classFor(n)
	if s == nil {
		return make([]byte, n)
	}
	return s.get(n)
}

// Put recycles b. Buffers whose capacity is not exactly a class size came
// from elsewhere and are left to the garbage collector.
func (p *ArgPool) Put(b []byte) {
	if p == nil || cap(b) < minClass {
		return
	}
	s := p.classFor(cap(b))
	if s == nil || s.size != cap(b) {
		return
	}
	b = b[:0]
	s.put.Add(1)
	s.free.Put(&b)
}

// Stats returns aggregate counters.
func (p *ArgPool) Stats() Stats {
	var st Stats
	if p == nil {
		return st
	}
	for _, s := range p.classes {
		st.Allocated += s.alloc.Load()
		st.Reused += s.reuse.Load()
		st.Returned += s.put.Load()
	}
	return st
}
