// File: fake/server.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"errors"
	"sync"
	"time"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/internal/poller"
	"github.com/momentics/hioload-wl/internal/wire"
	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when no request arrives in time.
var ErrTimeout = errors.New("fake: timed out waiting for request")

// Display object protocol as seen from the server.
const (
	DisplayID           = 1
	OpSync              = 0
	OpGetRegistry       = 1
	EventError          = 0
	EventDeleteID       = 1
	CallbackEventDone   = 0
	RegistryEventGlobal = 0
)

// Server is the compositor end of a socketpair.
type Server struct {
	mu     sync.Mutex
	fd     int
	in     []byte
	closed bool
}

// NewPair creates a connected socketpair and returns the server end plus
// the client descriptor.
func NewPair() (*Server, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, -1, err
	}
	return &Server{fd: fds[0]}, fds[1], nil
}

// NewConn is NewPair plus a wire connection over the client end.
func NewConn() (*Server, *wire.Conn, error) {
	srv, fd, err := NewPair()
	if err != nil {
		return nil, nil, err
	}
	conn, err := wire.NewConn(fd, wire.DefaultBufferSize, wire.DefaultMaxMessageSize)
	if err != nil {
		srv.Close()
		unix.Close(fd)
		return nil, nil, err
	}
	return srv, conn, nil
}

// Send writes msgs in one write so the client sees them in one read.
func (s *Server) Send(msgs ...api.Message) error {
	var buf []byte
	for _, m := range msgs {
		var err error
		if buf, err = wire.Encode(buf, m); err != nil {
			return err
		}
	}
	return s.SendRaw(buf)
}

// SendRaw writes b as is.
func (s *Server) SendRaw(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(b) > 0 {
		n, err := unix.Write(s.fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Event builds a message from sender with the given arguments.
func Event(sender uint32, opcode uint16, args *wire.ArgWriter) api.Message {
	m := api.Message{Sender: sender, Opcode: opcode}
	if args != nil {
		m.Args = args.Bytes()
	}
	return m
}

// DeleteID builds the display event confirming release of id.
func DeleteID(id uint32) api.Message {
	return Event(DisplayID, EventDeleteID, new(wire.ArgWriter).Uint32(id))
}

// ProtocolError builds the display error event.
func ProtocolError(objID, code uint32, msg string) api.Message {
	return Event(DisplayID, EventError, new(wire.ArgWriter).Uint32(objID).Uint32(code).String(msg))
}

// Done builds the callback done event.
func Done(callback, data uint32) api.Message {
	return Event(callback, CallbackEventDone, new(wire.ArgWriter).Uint32(data))
}

// ReadRequest returns the next complete request, waiting up to timeout.
func (s *Server) ReadRequest(timeout time.Duration) (api.Message, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		if len(s.in) >= api.HeaderSize {
			m, size, err := wire.DecodeHeader(s.in, wire.DefaultMaxMessageSize)
			if err != nil {
				return api.Message{}, err
			}
			if len(s.in) >= size {
				m.Args = append([]byte(nil), s.in[api.HeaderSize:size]...)
				s.in = s.in[size:]
				return m, nil
			}
		}
		left := time.Until(deadline)
		if left <= 0 {
			return api.Message{}, ErrTimeout
		}
		ready, err := poller.WaitReadable(s.fd, left)
		if err != nil {
			return api.Message{}, err
		}
		if !ready {
			continue
		}
		n, err := unix.Read(s.fd, buf)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return api.Message{}, err
		}
		if n == 0 {
			return api.Message{}, api.Closed()
		}
		s.in = append(s.in, buf[:n]...)
	}
}

// AnswerSync reads one request, which must be wl_display.sync, and
// replies with done followed by delete_id for the callback.
func (s *Server) AnswerSync(timeout time.Duration, data uint32) (uint32, error) {
	m, err := s.ReadRequest(timeout)
	if err != nil {
		return 0, err
	}
	if m.Sender != DisplayID || m.Opcode != OpSync {
		return 0, errors.New("fake: expected wl_display.sync")
	}
	id, err := wire.NewArgReader(m.Args).Uint32()
	if err != nil {
		return 0, err
	}
	return id, s.Send(Done(id, data), DeleteID(id))
}

// CloseWrite shuts down the server's sending side; the client reads EOF.
func (s *Server) CloseWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Close closes the server end.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}
