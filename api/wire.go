// File: api/wire.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire-level message and the raw connection contract consumed by the display.

package api

// HeaderSize is the fixed size of a message header on the wire.
const HeaderSize = 8

// Message is one complete, decoded wire message.
type Message struct {
	Sender uint32 // object id the message targets (events) or originates from (requests)
	Opcode uint16
	Args   []byte // raw argument payload, 4-byte aligned
}

// Size returns the encoded size of the message including its header.
func (m Message) Size() int {
	return HeaderSize + len(m.Args)
}

// WireConn is the raw connection primitive: one read-and-decode step and
// an outgoing buffer with flush. Implementations are not safe for
// concurrent use; the display serializes access.
type WireConn interface {
	// Fd returns the descriptor polled for readability.
	Fd() int

	// ReadMessages reads once from the descriptor and calls fn for every
	// complete message now buffered, in arrival order. Partial trailing
	// bytes stay buffered for the next call. It returns the number of bytes
	// read; zero bytes with a nil error means the peer closed the
	// connection. A read that would block returns iox.ErrWouldBlock.
	ReadMessages(fn func(Message) error) (int, error)

	// WriteMessage appends an encoded message to the outgoing buffer.
	WriteMessage(m Message) error

	// Flush writes buffered outgoing bytes. It returns iox.ErrWouldBlock
	// when the socket cannot take more data right now.
	Flush() error

	// Close releases the descriptor.
	Close() error
}
