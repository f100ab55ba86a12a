// File: display/object.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package display

import (
	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/eventq"
	"github.com/momentics/hioload-wl/internal/wire"
	"github.com/momentics/hioload-wl/objmap"
	"go.uber.org/zap"
)

// EventHandler handles one event of obj. A non-nil error faults the
// connection. ev.Args may be recycled once the handler returns.
type EventHandler func(obj *Object, ev *eventq.Event) error

// Object is the client-side record of a protocol object.
type Object struct {
	display   *Display
	id        uint32
	iface     string
	queue     *eventq.Queue // nil selects the default queue
	handler   EventHandler
	destroyed bool
	idDeleted bool // server sent delete_id while the object was live
}

var _ eventq.Dispatcher = (*Object)(nil)

// ID returns the protocol id; it stays readable after Destroy.
func (o *Object) ID() uint32 { return o.id }

// Interface returns the interface name given at creation.
func (o *Object) Interface() string { return o.iface }

// Display returns the owning connection.
func (o *Object) Display() *Display { return o.display }

// Queue returns the queue the object's events go to.
func (o *Object) Queue() *eventq.Queue {
	o.display.mu.Lock()
	defer o.display.mu.Unlock()
	return o.display.resolveQueue(o.queue)
}

// SetQueue moves future events of o to q; already queued events stay.
func (o *Object) SetQueue(q *eventq.Queue) {
	o.display.mu.Lock()
	o.queue = q
	o.display.mu.Unlock()
}

// SetHandler replaces the event handler.
func (o *Object) SetHandler(h EventHandler) {
	o.display.mu.Lock()
	if !o.destroyed {
		o.handler = h
	}
	o.display.mu.Unlock()
}

// DispatchEvent implements eventq.Dispatcher. Events of destroyed objects
// are skipped.
func (o *Object) DispatchEvent(ev *eventq.Event) error {
	o.display.mu.Lock()
	h := o.handler
	o.display.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(o, ev)
}

// Destroy detaches the record. Client-allocated ids stay claimed until the
// server confirms with delete_id; server-allocated ids, and client ids
// already confirmed, are released now.
func (o *Object) Destroy() {
	d := o.display
	d.mu.Lock()
	defer d.mu.Unlock()
	if o.destroyed || o == d.self {
		return
	}
	o.destroyed = true
	o.handler = nil
	if cur, ok := d.objects.Lookup(o.id); !ok || cur != o {
		return
	}
	if o.idDeleted || objmap.SideOf(o.id) == objmap.ServerSide {
		d.releaseLocked(o.id, "destroy")
		return
	}
	d.objects.Unbind(o.id)
}

// NewObject allocates a client id and binds a new object to it under the
// connection lock, so the id cannot be claimed by anyone else before the
// request announcing it is written.
func (d *Display) NewObject(iface string, q *eventq.Queue, h EventHandler) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.newObjectLocked(iface, q, h)
}

func (d *Display) newObjectLocked(iface string, q *eventq.Queue, h EventHandler) (*Object, error) {
	if d.lastErr != nil {
		return nil, d.lastErr
	}
	o := &Object{display: d, iface: iface, queue: q, handler: h}
	id, err := d.objects.Allocate(o)
	if err != nil {
		return nil, err
	}
	o.id = id
	return o, nil
}

// ReserveID claims the next client id ahead of binding it.
func (d *Display) ReserveID() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objects.ReserveNext()
}

// ReserveIDAt claims a specific id. One id past the high-water mark is
// tolerated; see objmap.Map.Reserve.
func (d *Display) ReserveIDAt(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	drift := d.objects.Drift()
	err := d.objects.Reserve(id)
	if d.objects.Drift() > drift {
		d.metrics.Drift()
	}
	return err
}

// BindObject binds a new object to a reserved id or to a server-allocated
// id announced in an event.
func (d *Display) BindObject(id uint32, iface string, q *eventq.Queue, h EventHandler) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastErr != nil {
		return nil, d.lastErr
	}
	o := &Object{display: d, id: id, iface: iface, queue: q, handler: h}
	drift := d.objects.Drift()
	err := d.objects.Bind(id, o)
	if d.objects.Drift() > drift {
		d.metrics.Drift()
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ReleaseID returns an id to the table, e.g. a reservation that will never
// be bound.
func (d *Display) ReleaseID(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objects.Release(id)
}

// releaseLocked frees id on an internal path where the caller has no one
// to report a failure to.
func (d *Display) releaseLocked(id uint32, op string) {
	if err := d.objects.Release(id); err != nil {
		d.log.Debug("object id release failed",
			zap.String("op", op), zap.Uint32("id", id), zap.Error(err))
	}
}

// Lookup returns the live object bound to id.
func (d *Display) Lookup(id uint32) (*Object, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.objects.Lookup(id)
}

// SendRequest buffers a request from obj with pre-encoded arguments. The
// bytes reach the socket on the next Flush or blocking dispatch.
func (d *Display) SendRequest(obj *Object, opcode uint16, args []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sendLocked(obj, opcode, args)
}

func (d *Display) sendLocked(obj *Object, opcode uint16, args []byte) error {
	if d.lastErr != nil {
		return d.lastErr
	}
	if obj.destroyed {
		return api.NewError(api.ErrCodeIDOutOfRange, "request on destroyed object").
			WithContext("id", obj.id).
			WithContext("interface", obj.iface)
	}
	return d.conn.WriteMessage(api.Message{Sender: obj.id, Opcode: opcode, Args: args})
}

// GetRegistry creates the registry object and requests its global
// announcements, which arrive on q.
func (d *Display) GetRegistry(q *eventq.Queue, h EventHandler) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, err := d.newObjectLocked("wl_registry", q, h)
	if err != nil {
		return nil, err
	}
	args := new(wire.ArgWriter).Uint32(reg.id).Bytes()
	if err := d.sendLocked(d.self, displayRequestGetRegistry, args); err != nil {
		d.releaseLocked(reg.id, "get_registry")
		return nil, err
	}
	return reg, nil
}
