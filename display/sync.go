// File: display/sync.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package display

import (
	"context"
	"sync/atomic"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/eventq"
	"github.com/momentics/hioload-wl/internal/wire"
)

// Sync asks the server for a callback once it has processed every request
// sent so far. done runs on whichever goroutine dispatches q.
func (d *Display) Sync(q *eventq.Queue, done func(data uint32)) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, err := d.newObjectLocked("wl_callback", q, func(obj *Object, ev *eventq.Event) error {
		if ev.Opcode != callbackEventDone {
			return api.DecodeFailure("wl_callback: unknown opcode %d", ev.Opcode)
		}
		data, err := wire.NewArgReader(ev.Args).Uint32()
		if err != nil {
			return err
		}
		obj.Destroy()
		if done != nil {
			done(data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	args := new(wire.ArgWriter).Uint32(cb.id).Bytes()
	if err := d.sendLocked(d.self, displayRequestSync, args); err != nil {
		d.releaseLocked(cb.id, "sync")
		return nil, err
	}
	return cb, nil
}

// Roundtrip blocks until the server has processed all pending requests,
// dispatching the default queue meanwhile.
func (d *Display) Roundtrip() (int, error) {
	return d.RoundtripQueue(context.Background(), nil)
}

// RoundtripQueue is Roundtrip on q with cancellation. It returns the
// number of events dispatched, the callback included.
func (d *Display) RoundtripQueue(ctx context.Context, q *eventq.Queue) (int, error) {
	var done atomic.Bool
	if _, err := d.Sync(q, func(uint32) { done.Store(true) }); err != nil {
		return 0, err
	}
	total := 0
	for !done.Load() {
		n, err := d.DispatchContext(ctx, q)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
