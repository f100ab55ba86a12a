// File: fake/conn.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-wl/api"
)

// Conn wraps an api.WireConn, counting physical reads and injecting errors.
type Conn struct {
	api.WireConn

	reads   atomic.Int64
	flushes atomic.Int64

	mu         sync.Mutex
	readError  error
	writeError error
	flushError error
}

// Wrap instruments inner.
func Wrap(inner api.WireConn) *Conn {
	return &Conn{WireConn: inner}
}

// ReadMessages implements api.WireConn.
func (c *Conn) ReadMessages(fn func(api.Message) error) (int, error) {
	c.reads.Add(1)
	c.mu.Lock()
	err := c.readError
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return c.WireConn.ReadMessages(fn)
}

// WriteMessage implements api.WireConn.
func (c *Conn) WriteMessage(m api.Message) error {
	c.mu.Lock()
	err := c.writeError
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.WireConn.WriteMessage(m)
}

// Flush implements api.WireConn.
func (c *Conn) Flush() error {
	c.flushes.Add(1)
	c.mu.Lock()
	err := c.flushError
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.WireConn.Flush()
}

// Reads returns the number of ReadMessages calls.
func (c *Conn) Reads() int64 { return c.reads.Load() }

// Flushes returns the number of Flush calls.
func (c *Conn) Flushes() int64 { return c.flushes.Load() }

// SetReadError makes every following read fail with err.
func (c *Conn) SetReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readError = err
}

// SetWriteError makes every following WriteMessage fail with err.
func (c *Conn) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeError = err
}

// SetFlushError makes every following flush fail with err.
func (c *Conn) SetFlushError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushError = err
}
