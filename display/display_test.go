package display

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/control"
	"github.com/momentics/hioload-wl/eventq"
	"github.com/momentics/hioload-wl/fake"
	"github.com/momentics/hioload-wl/internal/poller"
	"github.com/momentics/hioload-wl/internal/wire"
	"github.com/momentics/hioload-wl/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

const testTimeout = 5 * time.Second

func newTestDisplay(t *testing.T, opts ...Option) (*Display, *fake.Server, *fake.Conn) {
	t.Helper()
	srv, conn, err := fake.NewConn()
	if err != nil {
		t.Fatalf("fake.NewConn: %v", err)
	}
	args := pool.NewArgPool(wire.DefaultMaxMessageSize)
	conn.UseArgPool(args)
	fc := fake.Wrap(conn)
	opts = append([]Option{WithPollInterval(5 * time.Millisecond), WithArgPool(args)}, opts...)
	d := New(fc, opts...)
	t.Cleanup(func() {
		d.Close()
		srv.Close()
	})
	return d, srv, fc
}

// within runs fn and fails the test if it does not return in time.
func within(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("timeout: possible deadlock")
	}
}

func counting(n *atomic.Int32) EventHandler {
	return func(*Object, *eventq.Event) error {
		n.Add(1)
		return nil
	}
}

func TestNew_DisplayObjectIsOne(t *testing.T) {
	d, _, _ := newTestDisplay(t)
	if d.Object().ID() != 1 {
		t.Fatalf("display id: got %d, want 1", d.Object().ID())
	}
	obj, err := d.NewObject("wl_test", nil, nil)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	if obj.ID() != 2 {
		t.Errorf("first object id: got %d, want 2", obj.ID())
	}
}

func TestDispatch_ThreeEvents(t *testing.T) {
	d, srv, fc := newTestDisplay(t)
	var calls atomic.Int32
	obj, err := d.NewObject("wl_test", nil, counting(&calls))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	if err := srv.Send(
		fake.Event(obj.ID(), 0, nil),
		fake.Event(obj.ID(), 1, new(wire.ArgWriter).Uint32(9)),
		fake.Event(obj.ID(), 2, new(wire.ArgWriter).String("x")),
	); err != nil {
		t.Fatalf("send: %v", err)
	}

	within(t, func() {
		n, err := d.DispatchDefault()
		if err != nil || n != 3 {
			t.Errorf("DispatchDefault: got (%d, %v), want (3, nil)", n, err)
		}
	})
	n, err := d.DispatchDefaultPending()
	if err != nil || n != 0 {
		t.Errorf("DispatchDefaultPending: got (%d, %v), want (0, nil)", n, err)
	}
	if calls.Load() != 3 {
		t.Errorf("handler calls: got %d, want 3", calls.Load())
	}
	// Two of the three events carry arguments.
	if st := d.args.Stats(); st.Returned != 2 {
		t.Errorf("argument buffers returned: got %d, want 2", st.Returned)
	}
	if fc.Reads() != 1 {
		t.Errorf("physical reads: got %d, want 1", fc.Reads())
	}
}

func TestDispatchPending_EmptyQueue(t *testing.T) {
	d, _, fc := newTestDisplay(t)
	n, err := d.DispatchPending(d.CreateQueue("side"))
	if err != nil || n != 0 {
		t.Fatalf("got (%d, %v), want (0, nil)", n, err)
	}
	if fc.Reads() != 0 {
		t.Errorf("DispatchPending touched the socket")
	}
}

func TestEventOrderPreserved(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	var got []uint16
	obj, _ := d.NewObject("wl_test", nil, func(_ *Object, ev *eventq.Event) error {
		got = append(got, ev.Opcode)
		return nil
	})
	srv.Send(fake.Event(obj.ID(), 3, nil), fake.Event(obj.ID(), 1, nil), fake.Event(obj.ID(), 2, nil))
	within(t, func() { d.DispatchDefault() })
	if len(got) != 3 || got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Errorf("order: got %v, want [3 1 2]", got)
	}
}

func TestRegisterCancel_NoRead(t *testing.T) {
	d, srv, fc := newTestDisplay(t)
	obj, _ := d.NewObject("wl_test", nil, nil)
	srv.Send(fake.Event(obj.ID(), 0, nil))

	d.RegisterReader()
	d.CancelRead()
	if d.ReaderCount() != 0 {
		t.Errorf("reader count: got %d, want 0", d.ReaderCount())
	}
	if fc.Reads() != 0 {
		t.Errorf("cancel performed a read")
	}
	if d.DefaultQueue().Len() != 0 {
		t.Errorf("queue modified by cancel")
	}
	// Extra cancels are ignored.
	d.CancelRead()
	if d.ReaderCount() != 0 {
		t.Errorf("reader count went negative")
	}
}

func TestReadEvents_NotRegistered(t *testing.T) {
	d, _, _ := newTestDisplay(t)
	if err := d.ReadEvents(); !errors.Is(err, api.ErrNotRegistered) {
		t.Fatalf("got %v, want ErrNotRegistered", err)
	}
	if d.Err() != nil {
		t.Errorf("ErrNotRegistered must not fault the connection")
	}
}

func TestReadEvents_SingleElectedReader(t *testing.T) {
	d, srv, fc := newTestDisplay(t)
	obj, _ := d.NewObject("wl_test", nil, nil)
	srv.Send(fake.Event(obj.ID(), 0, nil))

	d.RegisterReader()
	d.RegisterReader()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.ReadEvents()
		}(i)
	}
	within(t, wg.Wait)

	for i, err := range errs {
		if err != nil {
			t.Errorf("reader %d: %v", i, err)
		}
	}
	if fc.Reads() != 1 {
		t.Errorf("physical reads: got %d, want 1", fc.Reads())
	}
	if d.DefaultQueue().Len() != 1 {
		t.Errorf("queued events: got %d, want 1", d.DefaultQueue().Len())
	}
}

func TestReadEvents_CancelledRoundTakenOver(t *testing.T) {
	d, srv, fc := newTestDisplay(t)
	obj, _ := d.NewObject("wl_test", nil, nil)
	srv.Send(fake.Event(obj.ID(), 0, nil))

	d.RegisterReader()
	d.RegisterReader()
	errc := make(chan error, 1)
	go func() { errc <- d.ReadEvents() }()
	// Whether the goroutine is already waiting or not, the cancel leaves
	// it as the only participant and it must read.
	d.CancelRead()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("ReadEvents: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("waiter never woke after cancelled round")
	}
	if fc.Reads() != 1 || d.DefaultQueue().Len() != 1 {
		t.Errorf("reads=%d queued=%d, want 1 and 1", fc.Reads(), d.DefaultQueue().Len())
	}
}

func TestDispatch_ConcurrentExactlyOnce(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	const workers = 8
	queues := make([]*eventq.Queue, workers)
	counts := make([]atomic.Int32, workers)
	objs := make([]*Object, workers)
	for i := range queues {
		queues[i] = d.CreateQueue("worker")
		objs[i], _ = d.NewObject("wl_test", queues[i], counting(&counts[i]))
	}

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for counts[i].Load() == 0 {
				if _, err := d.Dispatch(queues[i]); err != nil {
					return fmt.Errorf("worker %d: %w", i, err)
				}
			}
			return nil
		})
	}
	msgs := make([]api.Message, workers)
	for i, o := range objs {
		msgs[i] = fake.Event(o.ID(), 0, nil)
	}
	if err := srv.Send(msgs...); err != nil {
		t.Fatalf("send: %v", err)
	}
	within(t, func() {
		if err := g.Wait(); err != nil {
			t.Error(err)
		}
	})

	for i := range counts {
		if c := counts[i].Load(); c != 1 {
			t.Errorf("worker %d: handled %d events, want 1", i, c)
		}
	}
	if d.ReaderCount() != 0 {
		t.Errorf("reader count: got %d, want 0", d.ReaderCount())
	}
}

func TestPeerClose_AllReadersFail(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	srv.CloseWrite()

	d.RegisterReader()
	d.RegisterReader()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.ReadEvents()
		}(i)
	}
	within(t, wg.Wait)

	for i, err := range errs {
		if !errors.Is(err, api.ErrConnectionClosed) {
			t.Errorf("reader %d: got %v, want ErrConnectionClosed", i, err)
		}
		if !errors.Is(err, syscall.EPIPE) {
			t.Errorf("reader %d: %v does not wrap EPIPE", i, err)
		}
	}
	if err := d.PrepareRead(nil); !errors.Is(err, api.ErrConnectionClosed) {
		t.Errorf("PrepareRead after close: %v", err)
	}
	if _, err := d.DispatchDefaultPending(); !errors.Is(err, api.ErrConnectionClosed) {
		t.Errorf("DispatchPending after close: %v", err)
	}
}

func TestProtocolErrorEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(reg, "test")
	d, srv, _ := newTestDisplay(t, WithMetrics(m))
	obj, _ := d.NewObject("wl_surface", nil, nil)
	srv.Send(fake.ProtocolError(obj.ID(), 3, "invalid size"))

	var err error
	within(t, func() { _, err = d.DispatchDefault() })
	if !errors.Is(err, api.ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
	var ae *api.Error
	if !errors.As(err, &ae) || ae.Context["interface"] != "wl_surface" || ae.Context["code"] != uint32(3) {
		t.Errorf("missing protocol error context: %v", err)
	}
	if !errors.Is(d.Flush(), api.ErrProtocol) {
		t.Errorf("fault is not sticky")
	}
	if got := testutil.ToFloat64(m.Faults.WithLabelValues("protocol")); got != 1 {
		t.Errorf("protocol faults: got %v, want 1", got)
	}
}

func TestDeleteID_ReleasesDestroyedObject(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	obj, _ := d.NewObject("wl_test", nil, nil)
	id := obj.ID()
	obj.Destroy()
	if _, ok := d.Lookup(id); ok {
		t.Fatalf("destroyed object still bound")
	}

	other, _ := d.NewObject("wl_test", nil, nil)
	if other.ID() == id {
		t.Fatalf("id %d reused before delete_id", id)
	}

	srv.Send(fake.DeleteID(id), fake.Event(other.ID(), 0, nil))
	within(t, func() { d.DispatchDefault() })

	again, _ := d.NewObject("wl_test", nil, nil)
	if again.ID() != id {
		t.Errorf("after delete_id: got id %d, want %d", again.ID(), id)
	}
}

func TestHandlerError_Sticky(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	bad := errors.New("bad event")
	obj, _ := d.NewObject("wl_test", nil, func(*Object, *eventq.Event) error { return bad })
	srv.Send(fake.Event(obj.ID(), 0, nil), fake.Event(obj.ID(), 1, nil))

	var n int
	var err error
	within(t, func() { n, err = d.DispatchDefault() })
	if !errors.Is(err, api.ErrHandler) || !errors.Is(err, bad) {
		t.Fatalf("got %v, want ErrHandler wrapping the handler error", err)
	}
	if n != 1 {
		t.Errorf("dispatched: got %d, want 1", n)
	}
	if _, err := d.DispatchDefaultPending(); !errors.Is(err, api.ErrHandler) {
		t.Errorf("second dispatch: %v", err)
	}
	if _, err := d.NewObject("wl_test", nil, nil); !errors.Is(err, api.ErrHandler) {
		t.Errorf("NewObject on faulted display: %v", err)
	}
}

func TestHandlerPanic_ReleasesLock(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	obj, _ := d.NewObject("wl_test", nil, func(*Object, *eventq.Event) error { panic("boom") })
	srv.Send(fake.Event(obj.ID(), 0, nil))

	within(t, func() {
		defer func() { recover() }()
		d.DispatchDefault()
	})
	within(t, func() { d.ReaderCount() })
}

func TestPrepareRead_QueueNotEmpty(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	side := d.CreateQueue("side")
	obj, _ := d.NewObject("wl_test", side, nil)
	srv.Send(fake.Event(obj.ID(), 0, nil))

	within(t, func() {
		n, err := d.DispatchDefault()
		if err != nil || n != 0 {
			t.Errorf("DispatchDefault: got (%d, %v), want (0, nil)", n, err)
		}
	})
	if err := d.PrepareRead(side); !errors.Is(err, api.ErrQueueNotEmpty) {
		t.Fatalf("PrepareRead(side): got %v, want ErrQueueNotEmpty", err)
	}
	if d.ReaderCount() != 0 {
		t.Errorf("failed PrepareRead registered a reader")
	}
	if err := d.PrepareRead(nil); err != nil {
		t.Fatalf("PrepareRead(default): %v", err)
	}
	d.CancelRead()
	if n, _ := d.DispatchPending(side); n != 1 {
		t.Errorf("side queue: got %d events, want 1", n)
	}
}

func TestDispatchContext_Cancelled(t *testing.T) {
	d, _, _ := newTestDisplay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	var err error
	within(t, func() { _, err = d.DispatchContext(ctx, nil) })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want DeadlineExceeded", err)
	}
	if d.ReaderCount() != 0 {
		t.Errorf("registration leaked: %d", d.ReaderCount())
	}
	if d.Err() != nil {
		t.Errorf("cancellation faulted the connection: %v", d.Err())
	}
}

func TestRoundtrip(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	cbID := make(chan uint32, 1)
	go func() {
		id, err := srv.AnswerSync(testTimeout, 42)
		if err != nil {
			t.Errorf("AnswerSync: %v", err)
		}
		cbID <- id
	}()

	var n int
	var err error
	within(t, func() { n, err = d.Roundtrip() })
	if err != nil || n < 1 {
		t.Fatalf("Roundtrip: got (%d, %v)", n, err)
	}
	id := <-cbID
	if _, ok := d.Lookup(id); ok {
		t.Errorf("callback %d still bound", id)
	}
	next, _ := d.NewObject("wl_test", nil, nil)
	if next.ID() != id {
		t.Errorf("callback id not released: next id %d, want %d", next.ID(), id)
	}
}

func TestSync_DeliversData(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	var got atomic.Uint32
	if _, err := d.Sync(nil, func(data uint32) { got.Store(data) }); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	go srv.AnswerSync(testTimeout, 7)
	within(t, func() {
		for got.Load() == 0 {
			if _, err := d.DispatchDefault(); err != nil {
				t.Errorf("dispatch: %v", err)
				return
			}
		}
	})
	if got.Load() != 7 {
		t.Errorf("done data: got %d, want 7", got.Load())
	}
}

func TestGetRegistry_SendsRequest(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	reg, err := d.GetRegistry(nil, nil)
	if err != nil {
		t.Fatalf("GetRegistry: %v", err)
	}
	if err := d.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	m, err := srv.ReadRequest(testTimeout)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	id, _ := wire.NewArgReader(m.Args).Uint32()
	if m.Sender != 1 || m.Opcode != fake.OpGetRegistry || id != reg.ID() {
		t.Errorf("request: sender=%d opcode=%d id=%d", m.Sender, m.Opcode, id)
	}
}

func TestReserveIDAt_Drift(t *testing.T) {
	m := control.NewMetrics(nil, "test")
	d, _, _ := newTestDisplay(t, WithMetrics(m))

	if err := d.ReserveIDAt(2); err != nil {
		t.Fatalf("ReserveIDAt(2): %v", err)
	}
	if err := d.ReserveIDAt(4); err != nil {
		t.Fatalf("ReserveIDAt(4) one past high water: %v", err)
	}
	if got := testutil.ToFloat64(m.IDDrift); got != 1 {
		t.Errorf("drift: got %v, want 1", got)
	}
	if err := d.ReserveIDAt(7); !errors.Is(err, api.ErrIDOutOfRange) {
		t.Fatalf("ReserveIDAt(7): got %v, want ErrIDOutOfRange", err)
	}
	if d.Err() != nil {
		t.Errorf("out-of-range id faulted the connection")
	}
	// The skipped id is still claimable.
	if _, err := d.BindObject(3, "wl_test", nil, nil); err != nil {
		t.Errorf("BindObject(3): %v", err)
	}
}

func TestBindObject_ServerID(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	var calls atomic.Int32
	obj, err := d.BindObject(0xff000000, "wl_data_offer", nil, counting(&calls))
	if err != nil {
		t.Fatalf("BindObject: %v", err)
	}
	srv.Send(fake.Event(obj.ID(), 0, nil))
	within(t, func() { d.DispatchDefault() })
	if calls.Load() != 1 {
		t.Errorf("server object events: got %d, want 1", calls.Load())
	}
	obj.Destroy()
	if _, err := d.BindObject(0xff000000, "wl_data_offer", nil, nil); err != nil {
		t.Errorf("server id not released on destroy: %v", err)
	}
}

func TestDestroyedQueue_DropsEvents(t *testing.T) {
	m := control.NewMetrics(nil, "test")
	d, srv, _ := newTestDisplay(t, WithMetrics(m))
	side := d.CreateQueue("side")
	orphan, _ := d.NewObject("wl_test", side, nil)
	var calls atomic.Int32
	live, _ := d.NewObject("wl_test", nil, counting(&calls))
	d.DestroyQueue(side)

	srv.Send(fake.Event(orphan.ID(), 0, nil), fake.Event(live.ID(), 0, nil))
	within(t, func() {
		n, err := d.DispatchDefault()
		if err != nil || n != 1 {
			t.Errorf("DispatchDefault: got (%d, %v), want (1, nil)", n, err)
		}
	})
	if got := testutil.ToFloat64(m.EventsDropped); got != 1 {
		t.Errorf("dropped: got %v, want 1", got)
	}
	if _, err := d.DispatchPending(side); !errors.Is(err, api.ErrQueueDestroyed) {
		t.Errorf("dispatch on destroyed queue: %v", err)
	}
}

func TestUnknownObject_Dropped(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	var calls atomic.Int32
	obj, _ := d.NewObject("wl_test", nil, counting(&calls))
	srv.Send(fake.Event(99, 0, nil), fake.Event(obj.ID(), 0, nil))
	within(t, func() { d.DispatchDefault() })
	if calls.Load() != 1 || d.Err() != nil {
		t.Errorf("calls=%d err=%v", calls.Load(), d.Err())
	}
}

func TestMalformedMessage_Faults(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	raw := binary.NativeEndian.AppendUint32(nil, 2)
	raw = binary.NativeEndian.AppendUint32(raw, 6<<16)
	srv.SendRaw(raw)
	var err error
	within(t, func() { _, err = d.DispatchDefault() })
	if !errors.Is(err, api.ErrDecodeFailure) {
		t.Fatalf("got %v, want ErrDecodeFailure", err)
	}
}

func TestReadError_IsIO(t *testing.T) {
	d, _, fc := newTestDisplay(t)
	fc.SetReadError(syscall.ECONNRESET)
	d.RegisterReader()
	err := d.ReadEvents()
	if !errors.Is(err, api.ErrIO) || !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("got %v, want ErrIO wrapping ECONNRESET", err)
	}
}

func TestFlushError_Faults(t *testing.T) {
	d, _, fc := newTestDisplay(t)
	fc.SetFlushError(syscall.EPIPE)
	if err := d.Flush(); !errors.Is(err, api.ErrIO) {
		t.Fatalf("got %v, want ErrIO", err)
	}
	if d.Err() == nil {
		t.Errorf("flush failure not sticky")
	}
}

func TestClose_WakesWaiters(t *testing.T) {
	d, _, _ := newTestDisplay(t)
	d.RegisterReader()
	d.RegisterReader()
	errc := make(chan error, 1)
	go func() { errc <- d.ReadEvents() }()
	d.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, api.ErrConnectionClosed) {
			t.Errorf("got %v, want ErrConnectionClosed", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("waiter not woken by Close")
	}
}

func TestClose_WakesBlockedDispatch(t *testing.T) {
	d, _, _ := newTestDisplay(t)
	errc := make(chan error, 1)
	go func() {
		_, err := d.DispatchDefault()
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	d.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, api.ErrConnectionClosed) {
			t.Errorf("got %v, want ErrConnectionClosed", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("blocked dispatch not woken by Close")
	}
}

func TestRegisterProbes(t *testing.T) {
	d, _, _ := newTestDisplay(t)
	p := control.NewProbes()
	d.RegisterProbes(p)
	d.RegisterReader()
	dump := p.Dump()
	if dump["display.reader_count"] != 1 {
		t.Errorf("reader_count probe: %v", dump["display.reader_count"])
	}
	if dump["display.objects"] != 1 {
		t.Errorf("objects probe: %v", dump["display.objects"])
	}
	d.CancelRead()
}

// readRound completes one read round without dispatching anything.
func readRound(t *testing.T, d *Display, fd int) {
	t.Helper()
	ready, err := poller.WaitReadable(fd, testTimeout)
	if err != nil || !ready {
		t.Fatalf("socket not readable: ready=%v err=%v", ready, err)
	}
	d.RegisterReader()
	if err := d.ReadEvents(); err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
}

func TestObjectSetQueue_OnlyFutureEventsMove(t *testing.T) {
	d, srv, fc := newTestDisplay(t)
	side := d.CreateQueue("side")
	obj, _ := d.NewObject("wl_test", nil, nil)

	srv.Send(fake.Event(obj.ID(), 0, nil))
	readRound(t, d, fc.Fd())
	obj.SetQueue(side)
	if obj.Queue() != side {
		t.Fatalf("Queue() not updated")
	}
	srv.Send(fake.Event(obj.ID(), 1, nil))
	readRound(t, d, fc.Fd())

	if d.DefaultQueue().Len() != 1 || side.Len() != 1 {
		t.Fatalf("default=%d side=%d, want 1 and 1", d.DefaultQueue().Len(), side.Len())
	}
	if ev, _ := d.DefaultQueue().Peek(); ev.Opcode != 0 {
		t.Errorf("default queue holds opcode %d, want 0", ev.Opcode)
	}
	if ev, _ := side.Peek(); ev.Opcode != 1 {
		t.Errorf("side queue holds opcode %d, want 1", ev.Opcode)
	}
}

func TestObjectSetHandler_Replaces(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	var first, second atomic.Int32
	obj, _ := d.NewObject("wl_test", nil, counting(&first))
	obj.SetHandler(counting(&second))

	srv.Send(fake.Event(obj.ID(), 0, nil))
	within(t, func() { d.DispatchDefault() })
	if first.Load() != 0 || second.Load() != 1 {
		t.Fatalf("first=%d second=%d, want 0 and 1", first.Load(), second.Load())
	}

	obj.Destroy()
	obj.SetHandler(counting(&first))
	if err := obj.DispatchEvent(&eventq.Event{Target: obj}); err != nil || first.Load() != 0 {
		t.Errorf("handler installed on destroyed object: calls=%d err=%v", first.Load(), err)
	}
}

func TestReserveID_ThenBind(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	id, err := d.ReserveID()
	if err != nil {
		t.Fatalf("ReserveID: %v", err)
	}
	if _, ok := d.Lookup(id); ok {
		t.Fatalf("reserved id %d reads as bound", id)
	}
	other, _ := d.NewObject("wl_test", nil, nil)
	if other.ID() == id {
		t.Fatalf("reserved id %d handed out by NewObject", id)
	}

	var calls atomic.Int32
	obj, err := d.BindObject(id, "wl_test", nil, counting(&calls))
	if err != nil {
		t.Fatalf("BindObject(%d): %v", id, err)
	}
	if _, err := d.BindObject(id, "wl_test", nil, nil); !errors.Is(err, api.ErrIDInUse) {
		t.Errorf("second BindObject: got %v, want ErrIDInUse", err)
	}
	srv.Send(fake.Event(obj.ID(), 0, nil))
	within(t, func() { d.DispatchDefault() })
	if calls.Load() != 1 {
		t.Errorf("events delivered to reserved-then-bound object: %d, want 1", calls.Load())
	}
}

func TestReleaseID_Reusable(t *testing.T) {
	d, _, _ := newTestDisplay(t)
	id, _ := d.ReserveID()
	if err := d.ReleaseID(id); err != nil {
		t.Fatalf("ReleaseID: %v", err)
	}
	obj, err := d.NewObject("wl_test", nil, nil)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	if obj.ID() != id {
		t.Errorf("released id not reused: got %d, want %d", obj.ID(), id)
	}
	if err := d.ReleaseID(0); !errors.Is(err, api.ErrIDOutOfRange) {
		t.Errorf("ReleaseID(0): got %v, want ErrIDOutOfRange", err)
	}
}

func TestFailedRequest_ReleasesNewID(t *testing.T) {
	d, _, fc := newTestDisplay(t)
	fc.SetWriteError(errors.New("write refused"))
	cb, err := d.Sync(nil, nil)
	if err == nil {
		t.Fatalf("Sync succeeded with failing writes: %v", cb)
	}
	if _, err := d.GetRegistry(nil, nil); err == nil {
		t.Fatalf("GetRegistry succeeded with failing writes")
	}
	fc.SetWriteError(nil)
	obj, _ := d.NewObject("wl_test", nil, nil)
	if obj.ID() != 2 {
		t.Errorf("ids of failed requests not released: next id %d, want 2", obj.ID())
	}
}

func TestReleaseFailure_Logged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	d, _, _ := newTestDisplay(t, WithLogger(zap.New(core)))
	d.mu.Lock()
	d.releaseLocked(5000, "test")
	d.mu.Unlock()
	entries := logs.FilterMessage("object id release failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one release failure log, got %d", len(entries))
	}
	if entries[0].ContextMap()["op"] != "test" {
		t.Errorf("unexpected log context: %v", entries[0].ContextMap())
	}
}

func TestDispatchContext_CompletesRoundAfterCancel(t *testing.T) {
	d, srv, _ := newTestDisplay(t)
	var calls atomic.Int32
	obj, _ := d.NewObject("wl_test", nil, counting(&calls))
	srv.Send(fake.Event(obj.ID(), 0, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.RegisterReader()

	type result struct {
		n   int
		err error
	}
	res := make(chan result, 1)
	go func() {
		n, err := d.DispatchContext(ctx, nil)
		res <- result{n, err}
	}()
	readErr := make(chan error, 1)
	go func() { readErr <- d.ReadEvents() }()

	select {
	case r := <-res:
		if r.err != nil || r.n != 1 {
			t.Fatalf("DispatchContext: got (%d, %v), want (1, nil)", r.n, r.err)
		}
	case <-time.After(testTimeout):
		t.Fatal("DispatchContext did not finish the round")
	}
	if err := <-readErr; err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("handler calls: got %d, want 1", calls.Load())
	}
}
