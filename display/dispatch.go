// File: display/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package display

import (
	"context"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/eventq"
	"github.com/momentics/hioload-wl/internal/poller"
)

// DispatchPending invokes the handler of every event queued on q and
// returns how many ran. It never blocks on the socket. A nil q selects the
// default queue.
func (d *Display) DispatchPending(q *eventq.Queue) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatchQueueLocked(d.resolveQueue(q))
}

// DispatchDefaultPending is DispatchPending on the default queue.
func (d *Display) DispatchDefaultPending() (int, error) {
	return d.DispatchPending(nil)
}

// Dispatch dispatches q, blocking for new events when it is empty.
// Zero is a valid result: another goroutine's read round queued nothing
// for q.
func (d *Display) Dispatch(q *eventq.Queue) (int, error) {
	return d.DispatchContext(context.Background(), q)
}

// DispatchDefault is Dispatch on the default queue.
func (d *Display) DispatchDefault() (int, error) {
	return d.DispatchContext(context.Background(), nil)
}

// DispatchContext is Dispatch with cancellation. When ctx ends while the
// goroutine waits for readability its reader registration is withdrawn
// and ctx.Err() is returned. Once readable, the goroutine completes its
// registration through ReadEvents and ctx is no longer observed: a
// non-elected reader waits for the round to end even if ctx is done.
func (d *Display) DispatchContext(ctx context.Context, q *eventq.Queue) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q = d.resolveQueue(q)

	n, err := d.dispatchQueueLocked(q)
	if err != nil || n > 0 {
		return n, err
	}

	d.readerCount++
	if err := d.flushLocked(); err != nil && !iox.IsWouldBlock(err) {
		d.cancelReadLocked()
		return 0, err
	}

	// Bounded polls so Close and ctx are noticed while the socket is idle.
	fd := d.conn.Fd()
	for {
		d.mu.Unlock()
		ready, perr := poller.WaitReadable(fd, d.pollInterval)
		d.mu.Lock()
		if perr != nil {
			d.cancelReadLocked()
			d.setErrorLocked(api.IOFailure("poll", perr))
			return 0, d.lastErr
		}
		if ready {
			break
		}
		if d.lastErr != nil {
			d.cancelReadLocked()
			return 0, d.lastErr
		}
		if err := ctx.Err(); err != nil {
			d.cancelReadLocked()
			return 0, err
		}
	}

	if err := d.readEventsLocked(); err != nil {
		return 0, err
	}
	return d.dispatchQueueLocked(q)
}

func (d *Display) dispatchQueueLocked(q *eventq.Queue) (int, error) {
	if d.lastErr != nil {
		return 0, d.lastErr
	}
	if q.Destroyed() {
		return 0, api.ErrQueueDestroyed
	}
	count := 0
	defer func() { d.metrics.Dispatched(count) }()
	for {
		ev, ok := q.Pop()
		if !ok {
			return count, nil
		}
		err := d.invokeUnlocked(ev)
		d.args.Put(ev.Args)
		count++
		if err != nil {
			d.setErrorLocked(api.NewError(api.ErrCodeHandler, "event handler failed").
				WithContext("object_id", ev.Sender).
				WithContext("opcode", ev.Opcode).
				Wrap(err))
		}
		if d.lastErr != nil {
			return count, d.lastErr
		}
	}
}

// invokeUnlocked runs the handler with the connection lock released.
func (d *Display) invokeUnlocked(ev *eventq.Event) error {
	d.mu.Unlock()
	defer d.mu.Lock()
	return ev.Target.DispatchEvent(ev)
}

// Flush writes buffered requests. iox.ErrWouldBlock means the socket is
// full and the caller should wait for writability; any other failure is
// fatal to the connection.
func (d *Display) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

func (d *Display) flushLocked() error {
	if d.lastErr != nil {
		return d.lastErr
	}
	err := d.conn.Flush()
	if err == nil || iox.IsWouldBlock(err) {
		return err
	}
	d.setErrorLocked(api.IOFailure("flush", err))
	return d.lastErr
}
