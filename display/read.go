// File: display/read.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Read admission: one elected reader per round, everyone else waits for
// the round to end.

package display

import (
	"errors"

	"code.hybscloud.com/iox"
	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/eventq"
	"github.com/momentics/hioload-wl/internal/wire"
	"go.uber.org/zap"
)

// RegisterReader announces the intent to read. It always succeeds; the
// caller must follow up with exactly one ReadEvents or CancelRead.
func (d *Display) RegisterReader() {
	d.mu.Lock()
	d.readerCount++
	d.mu.Unlock()
}

// PrepareRead registers a reader for q unless q still holds events, in
// which case it returns ErrQueueNotEmpty and the caller should dispatch
// first. A faulted connection returns its sticky error.
func (d *Display) PrepareRead(q *eventq.Queue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastErr != nil {
		return d.lastErr
	}
	q = d.resolveQueue(q)
	if q.Destroyed() {
		return api.ErrQueueDestroyed
	}
	if q.Len() > 0 {
		return api.ErrQueueNotEmpty
	}
	d.readerCount++
	return nil
}

// CancelRead withdraws a registration without reading. When it was the
// last one the round ends and waiting readers wake.
func (d *Display) CancelRead() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelReadLocked()
}

func (d *Display) cancelReadLocked() {
	if d.readerCount == 0 {
		return
	}
	d.readerCount--
	d.metrics.ReadCancelled()
	if d.readerCount == 0 {
		d.endRoundLocked(false)
	}
}

// ReadEvents completes a registration. The caller that takes the reader
// count to zero reads from the socket and queues the decoded events; the
// others block until that read is done.
func (d *Display) ReadEvents() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readEventsLocked()
}

func (d *Display) readEventsLocked() error {
	if d.readerCount == 0 {
		return api.ErrNotRegistered
	}
	d.readerCount--
	if d.lastErr != nil {
		if d.readerCount == 0 {
			d.endRoundLocked(false)
		}
		return d.lastErr
	}
	if d.readerCount == 0 {
		return d.readLocked()
	}

	serial := d.readSerial
	for serial == d.readSerial && d.lastErr == nil {
		d.readerCond.Wait()
	}
	if d.lastErr != nil {
		return d.lastErr
	}
	if !d.roundRead && d.readerCount == 0 {
		d.log.Debug("read round cancelled, taking over the read")
		return d.readLocked()
	}
	return nil
}

func (d *Display) endRoundLocked(read bool) {
	d.readSerial++
	d.roundRead = read
	d.readerCond.Broadcast()
}

// readLocked performs the round's physical read.
func (d *Display) readLocked() error {
	n, err := d.conn.ReadMessages(d.queueMessageLocked)
	d.metrics.ReadRound(n)
	var ae *api.Error
	switch {
	case iox.IsWouldBlock(err):
	case errors.As(err, &ae):
		d.setErrorLocked(err)
	case err != nil:
		d.setErrorLocked(api.IOFailure("read", err))
	case n == 0:
		d.setErrorLocked(api.Closed())
	}
	d.endRoundLocked(true)
	return d.lastErr
}

// queueMessageLocked routes one decoded message to its target's queue.
func (d *Display) queueMessageLocked(m api.Message) error {
	d.metrics.Decoded()
	if m.Sender == d.self.id {
		err := d.handleDisplayEventLocked(m)
		d.args.Put(m.Args)
		return err
	}
	obj, ok := d.objects.Lookup(m.Sender)
	if !ok {
		d.args.Put(m.Args)
		d.metrics.Dropped()
		d.log.Debug("discarding event for unknown object",
			zap.Uint32("id", m.Sender), zap.Uint16("opcode", m.Opcode))
		return nil
	}
	q := d.resolveQueue(obj.queue)
	ev := &eventq.Event{Target: obj, Sender: m.Sender, Opcode: m.Opcode, Args: m.Args}
	if !q.Push(ev) {
		d.args.Put(m.Args)
		d.metrics.Dropped()
		d.log.Warn("discarding event for object on destroyed queue",
			zap.Uint32("id", m.Sender), zap.String("interface", obj.iface), zap.String("queue", q.Name()))
		return nil
	}
	d.metrics.Queued()
	return nil
}

// handleDisplayEventLocked processes display object events as they are
// decoded, so id releases apply in wire order.
func (d *Display) handleDisplayEventLocked(m api.Message) error {
	r := wire.NewArgReader(m.Args)
	switch m.Opcode {
	case displayEventError:
		objID, err := r.Uint32()
		if err != nil {
			return err
		}
		code, err := r.Uint32()
		if err != nil {
			return err
		}
		msg, err := r.String()
		if err != nil {
			return err
		}
		perr := api.NewError(api.ErrCodeProtocol, "protocol error: "+msg).
			WithContext("object_id", objID).
			WithContext("code", code)
		if obj, ok := d.objects.Lookup(objID); ok {
			perr.WithContext("interface", obj.iface)
		}
		d.setErrorLocked(perr)
		return nil
	case displayEventDeleteID:
		id, err := r.Uint32()
		if err != nil {
			return err
		}
		if obj, ok := d.objects.Lookup(id); ok {
			// Still live: its last events may be queued. Destroy releases.
			obj.idDeleted = true
			return nil
		}
		if err := d.objects.Release(id); err != nil {
			d.log.Warn("delete_id for unknown object", zap.Uint32("id", id))
		}
		return nil
	}
	return api.DecodeFailure("unknown display event opcode %d", m.Opcode)
}
