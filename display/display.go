// File: display/display.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package display

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/control"
	"github.com/momentics/hioload-wl/eventq"
	"github.com/momentics/hioload-wl/internal/wire"
	"github.com/momentics/hioload-wl/objmap"
	"github.com/momentics/hioload-wl/pool"
	"github.com/momentics/hioload-wl/transport"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Display object protocol.
const (
	displayRequestSync        = 0
	displayRequestGetRegistry = 1

	displayEventError    = 0
	displayEventDeleteID = 1

	callbackEventDone = 0
)

// Display is one client connection to the display server.
type Display struct {
	mu         sync.Mutex
	readerCond *sync.Cond

	conn    api.WireConn
	lastErr error
	closed  bool

	readerCount int
	readSerial  uint64
	roundRead   bool // whether the last finished round performed a read

	objects      *objmap.Map[*Object]
	self         *Object
	defaultQueue *eventq.Queue
	queues       map[*eventq.Queue]struct{}

	pollInterval time.Duration
	args         *pool.ArgPool
	log          *zap.Logger
	metrics      *control.Metrics
}

// Option configures a Display.
type Option func(*options)

type options struct {
	log          *zap.Logger
	metrics      *control.Metrics
	args         *pool.ArgPool
	pollInterval time.Duration
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithArgPool returns event argument buffers to p after dispatch. p must
// be the pool the connection decodes into; handlers must not retain
// ev.Args past their return.
func WithArgPool(p *pool.ArgPool) Option {
	return func(o *options) { o.args = p }
}

// WithPollInterval bounds each poll of a context-aware dispatch.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// New creates a Display over an established connection.
func New(conn api.WireConn, opts ...Option) *Display {
	o := options{
		log:          zap.NewNop(),
		pollInterval: 50 * time.Millisecond,
	}
	for _, fn := range opts {
		fn(&o)
	}
	d := &Display{
		conn:         conn,
		objects:      objmap.New[*Object](objmap.WithLogger(o.log)),
		defaultQueue: eventq.New("default"),
		queues:       make(map[*eventq.Queue]struct{}),
		pollInterval: o.pollInterval,
		args:         o.args,
		log:          o.log,
		metrics:      o.metrics,
	}
	d.readerCond = sync.NewCond(&d.mu)
	d.self = &Object{display: d, iface: "wl_display"}
	// The table is empty, so the display always receives id 1.
	d.self.id, _ = d.objects.Allocate(d.self)
	return d
}

// Connect dials the display socket described by cfg.
func Connect(cfg control.Config, opts ...Option) (*Display, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}
	fd, err := transport.Dial(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := wire.NewConn(fd, cfg.ReadBufferSize, cfg.MaxMessageSize)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	args := pool.NewArgPool(cfg.MaxMessageSize)
	conn.UseArgPool(args)
	opts = append([]Option{WithPollInterval(cfg.PollInterval), WithArgPool(args)}, opts...)
	return New(conn, opts...), nil
}

// Object returns the display object itself.
func (d *Display) Object() *Object { return d.self }

// Err returns the sticky connection error, nil while healthy.
func (d *Display) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// setErrorLocked faults the connection. Only the first fault is kept.
func (d *Display) setErrorLocked(err error) {
	if d.lastErr != nil {
		return
	}
	d.lastErr = err
	code := api.CodeOf(err)
	d.metrics.Fault(code.String())
	d.log.Error("display connection faulted", zap.Stringer("kind", code), zap.Error(err))
	d.readerCond.Broadcast()
}

// Close tears the connection down. Blocked goroutines wake and fail with
// ErrConnectionClosed; pending events are discarded.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.lastErr == nil {
		d.lastErr = api.NewError(api.ErrCodeConnectionClosed, "display closed")
	}
	for q := range d.queues {
		q.Destroy()
	}
	d.defaultQueue.Destroy()
	d.readerCond.Broadcast()
	return d.conn.Close()
}

// ReaderCount returns the number of registered readers.
func (d *Display) ReaderCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readerCount
}

// RegisterProbes exposes connection state through p.
func (d *Display) RegisterProbes(p api.ProbeRegistry) {
	p.Register("display.reader_count", func() any { return d.ReaderCount() })
	p.Register("display.objects", func() any {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.objects.Len()
	})
	p.Register("display.id_drift", func() any {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.objects.Drift()
	})
	p.Register("display.queues", func() any {
		d.mu.Lock()
		defer d.mu.Unlock()
		out := map[string]int{d.defaultQueue.Name(): d.defaultQueue.Len()}
		for q := range d.queues {
			out[q.Name()] = q.Len()
		}
		return out
	})
	p.Register("display.arg_pool", func() any { return d.args.Stats() })
	p.Register("display.last_error", func() any {
		if err := d.Err(); err != nil {
			return err.Error()
		}
		return ""
	})
}
