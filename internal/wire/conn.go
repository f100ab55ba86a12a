// File: internal/wire/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/pool"
	"golang.org/x/sys/unix"
)

const (
	// DefaultMaxMessageSize bounds a single message, header included.
	DefaultMaxMessageSize = 4096
	// DefaultBufferSize is the receive buffer size.
	DefaultBufferSize = 4 * DefaultMaxMessageSize
)

// Conn implements api.WireConn over a connected stream socket.
type Conn struct {
	fd      int
	in      []byte
	head    int // first undecoded byte
	tail    int // end of received bytes
	out     []byte
	maxSize int
	args    *pool.ArgPool
}

var _ api.WireConn = (*Conn)(nil)

// NewConn wraps fd and switches it to non-blocking mode.
func NewConn(fd int, bufSize, maxMessage int) (*Conn, error) {
	if maxMessage <= 0 {
		maxMessage = DefaultMaxMessageSize
	}
	if bufSize < maxMessage {
		bufSize = maxMessage
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("wire: set nonblock: %w", err)
	}
	return &Conn{
		fd:      fd,
		in:      make([]byte, bufSize),
		maxSize: maxMessage,
	}, nil
}

// UseArgPool makes decoded argument buffers come from p. Consumers hand
// them back with p.Put once the message is handled.
func (c *Conn) UseArgPool(p *pool.ArgPool) { c.args = p }

// Fd returns the socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// Buffered returns the number of received but undecoded bytes.
func (c *Conn) Buffered() int { return c.tail - c.head }

// Pending returns the number of outgoing bytes not yet flushed.
func (c *Conn) Pending() int { return len(c.out) }

// ReadMessages implements api.WireConn.
func (c *Conn) ReadMessages(fn func(api.Message) error) (int, error) {
	c.compact()
	if c.tail == len(c.in) {
		return 0, api.DecodeFailure("receive buffer full without a complete message")
	}
	var n int
	var err error
	for {
		n, err = unix.Read(c.fd, c.in[c.tail:])
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		if err == unix.EAGAIN {
			return 0, iox.ErrWouldBlock
		}
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	c.tail += n
	return n, c.decode(fn)
}

// decode hands every complete message in [head, tail) to fn.
func (c *Conn) decode(fn func(api.Message) error) error {
	for c.tail-c.head >= api.HeaderSize {
		m, size, err := DecodeHeader(c.in[c.head:c.tail], c.maxSize)
		if err != nil {
			return err
		}
		if c.tail-c.head < size {
			return nil
		}
		args := c.args.Get(size - api.HeaderSize)
		copy(args, c.in[c.head+api.HeaderSize:c.head+size])
		m.Args = args
		c.head += size
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// compact moves the partial tail to the front of the buffer.
func (c *Conn) compact() {
	if c.head == 0 {
		return
	}
	n := copy(c.in, c.in[c.head:c.tail])
	c.head, c.tail = 0, n
}

// DecodeHeader parses the header at the start of b and returns the message
// (without arguments) and its total size.
func DecodeHeader(b []byte, maxSize int) (api.Message, int, error) {
	if len(b) < api.HeaderSize {
		return api.Message{}, 0, api.DecodeFailure("short header: %d bytes", len(b))
	}
	sender := binary.NativeEndian.Uint32(b[0:4])
	word := binary.NativeEndian.Uint32(b[4:8])
	size := int(word >> 16)
	switch {
	case sender == 0:
		return api.Message{}, 0, api.DecodeFailure("null sender")
	case size < api.HeaderSize || size%4 != 0:
		return api.Message{}, 0, api.DecodeFailure("invalid size %d for object %d", size, sender)
	case size > maxSize:
		return api.Message{}, 0, api.DecodeFailure("size %d exceeds limit %d", size, maxSize)
	}
	return api.Message{Sender: sender, Opcode: uint16(word & 0xffff)}, size, nil
}

// Encode appends the wire form of m to dst.
func Encode(dst []byte, m api.Message) ([]byte, error) {
	size := m.Size()
	if len(m.Args)%4 != 0 || size > 0xffff {
		return dst, api.DecodeFailure("cannot encode opcode %d with %d argument bytes", m.Opcode, len(m.Args))
	}
	dst = binary.NativeEndian.AppendUint32(dst, m.Sender)
	dst = binary.NativeEndian.AppendUint32(dst, uint32(size)<<16|uint32(m.Opcode))
	return append(dst, m.Args...), nil
}

// WriteMessage implements api.WireConn.
func (c *Conn) WriteMessage(m api.Message) error {
	if m.Size() > c.maxSize {
		return api.DecodeFailure("request size %d exceeds limit %d", m.Size(), c.maxSize)
	}
	out, err := Encode(c.out, m)
	if err != nil {
		return err
	}
	c.out = out
	return nil
}

// Flush implements api.WireConn.
func (c *Conn) Flush() error {
	for len(c.out) > 0 {
		n, err := unix.Write(c.fd, c.out)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return iox.ErrWouldBlock
		case err != nil:
			return err
		}
		c.out = c.out[:copy(c.out, c.out[n:])]
	}
	return nil
}

// Close closes the descriptor.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}
