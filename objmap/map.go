// File: objmap/map.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package objmap

import (
	"github.com/momentics/hioload-wl/api"
	"go.uber.org/zap"
)

const (
	// ServerIDStart is the first id of the server-allocated range.
	ServerIDStart uint32 = 0xff000000
	// MaxClientID is the last id of the client-allocated range.
	MaxClientID = ServerIDStart - 1
)

// State of a table slot.
type State uint8

const (
	Empty State = iota
	Reserved
	Bound
)

func (s State) String() string {
	switch s {
	case Reserved:
		return "reserved"
	case Bound:
		return "bound"
	}
	return "empty"
}

type entry[T any] struct {
	state  State
	record T
}

// Side selects one of the two id ranges.
type Side uint8

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	if s == ServerSide {
		return "server"
	}
	return "client"
}

// SideOf returns the range id belongs to.
func SideOf(id uint32) Side {
	if id >= ServerIDStart {
		return ServerSide
	}
	return ClientSide
}

// Map is the object id table.
type Map[T any] struct {
	client []entry[T] // index = id - 1
	server []entry[T] // index = id - ServerIDStart
	free   []uint32   // released client ids, reused LIFO
	drift  int
	log    *zap.Logger
}

// Option configures a Map.
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger sets the logger used for drift diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates an empty table.
func New[T any](opts ...Option) *Map[T] {
	o := options{log: zap.NewNop()}
	for _, fn := range opts {
		fn(&o)
	}
	return &Map[T]{log: o.log}
}

// locate resolves id to its range slice and index.
func (m *Map[T]) locate(id uint32) (*[]entry[T], int, error) {
	if id == 0 {
		return nil, 0, api.NewError(api.ErrCodeIDOutOfRange, "null object id").WithContext("id", id)
	}
	if id >= ServerIDStart {
		return &m.server, int(id - ServerIDStart), nil
	}
	return &m.client, int(id - 1), nil
}

// HighWater returns the next never-used id of side.
func (m *Map[T]) HighWater(side Side) uint32 {
	if side == ServerSide {
		return ServerIDStart + uint32(len(m.server))
	}
	return uint32(len(m.client)) + 1
}

// grow makes index idx addressable. Appending exactly at the end is the
// sequential case; one slot past the end is tolerated: two creators raced
// between picking their ids and announcing them, so the skipped slot is
// added empty for the slower one to claim.
func (m *Map[T]) grow(slots *[]entry[T], idx int, id uint32, op string) error {
	n := len(*slots)
	switch {
	case idx < n:
		return nil
	case idx == n:
	case idx == n+1:
		m.drift++
		m.log.Warn("object id announced out of order",
			zap.String("op", op),
			zap.Uint32("id", id),
			zap.Uint32("expected", id-1),
			zap.Int("drift_total", m.drift))
		*slots = append(*slots, entry[T]{})
	default:
		return api.NewError(api.ErrCodeIDOutOfRange, op+": id beyond tolerated drift").
			WithContext("id", id).
			WithContext("high_water", id-uint32(idx-n))
	}
	*slots = append(*slots, entry[T]{})
	return nil
}

// Reserve marks id as claimed but not yet bound.
func (m *Map[T]) Reserve(id uint32) error {
	slots, idx, err := m.locate(id)
	if err != nil {
		return err
	}
	if err := m.grow(slots, idx, id, "reserve"); err != nil {
		return err
	}
	e := &(*slots)[idx]
	if e.state != Empty {
		return api.NewError(api.ErrCodeIDInUse, "reserve: slot not empty").
			WithContext("id", id).
			WithContext("state", e.state.String())
	}
	e.state = Reserved
	m.unfree(id)
	return nil
}

// ReserveNext reserves the next client id, preferring released ones.
func (m *Map[T]) ReserveNext() (uint32, error) {
	id, err := m.next()
	if err != nil {
		return 0, err
	}
	if err := m.Reserve(id); err != nil {
		return 0, err
	}
	return id, nil
}

// Bind attaches record to id. The slot may be reserved, empty, or fresh at
// the high-water mark (server-assigned ids arrive this way).
func (m *Map[T]) Bind(id uint32, record T) error {
	slots, idx, err := m.locate(id)
	if err != nil {
		return err
	}
	if err := m.grow(slots, idx, id, "bind"); err != nil {
		return err
	}
	e := &(*slots)[idx]
	if e.state == Bound {
		return api.NewError(api.ErrCodeIDInUse, "bind: slot already bound").WithContext("id", id)
	}
	e.state = Bound
	e.record = record
	m.unfree(id)
	return nil
}

// Allocate picks the next client id and binds record to it in one step.
func (m *Map[T]) Allocate(record T) (uint32, error) {
	id, err := m.next()
	if err != nil {
		return 0, err
	}
	if err := m.Bind(id, record); err != nil {
		return 0, err
	}
	return id, nil
}

// Lookup returns the record bound to id.
func (m *Map[T]) Lookup(id uint32) (T, bool) {
	var zero T
	slots, idx, err := m.locate(id)
	if err != nil || idx >= len(*slots) {
		return zero, false
	}
	e := (*slots)[idx]
	if e.state != Bound {
		return zero, false
	}
	return e.record, true
}

// StateOf reports the state of id's slot; ids past the end are Empty.
func (m *Map[T]) StateOf(id uint32) State {
	slots, idx, err := m.locate(id)
	if err != nil || idx >= len(*slots) {
		return Empty
	}
	return (*slots)[idx].state
}

// Unbind drops the record but keeps the slot reserved, so the id is not
// reused until Release.
func (m *Map[T]) Unbind(id uint32) {
	slots, idx, err := m.locate(id)
	if err != nil || idx >= len(*slots) {
		return
	}
	e := &(*slots)[idx]
	if e.state == Bound {
		var zero T
		e.state, e.record = Reserved, zero
	}
}

// Release empties the slot. Client ids become available for reuse.
func (m *Map[T]) Release(id uint32) error {
	slots, idx, err := m.locate(id)
	if err != nil {
		return err
	}
	if idx >= len(*slots) {
		return api.NewError(api.ErrCodeIDOutOfRange, "release: unknown id").WithContext("id", id)
	}
	e := &(*slots)[idx]
	if e.state == Empty {
		// A gap left by a tolerated out-of-order announcement is never on
		// the free list until someone gives it up.
		if SideOf(id) == ClientSide && !m.isFree(id) {
			m.free = append(m.free, id)
		}
		return nil
	}
	*e = entry[T]{}
	if SideOf(id) == ClientSide {
		m.free = append(m.free, id)
	}
	return nil
}

func (m *Map[T]) isFree(id uint32) bool {
	for _, f := range m.free {
		if f == id {
			return true
		}
	}
	return false
}

// Len returns the number of reserved or bound slots.
func (m *Map[T]) Len() int {
	n := 0
	for _, slots := range [][]entry[T]{m.client, m.server} {
		for _, e := range slots {
			if e.state != Empty {
				n++
			}
		}
	}
	return n
}

// Drift returns how many out-of-order announcements were tolerated.
func (m *Map[T]) Drift() int { return m.drift }

// ForEach calls fn for every bound record in id order.
func (m *Map[T]) ForEach(fn func(id uint32, record T)) {
	for i, e := range m.client {
		if e.state == Bound {
			fn(uint32(i)+1, e.record)
		}
	}
	for i, e := range m.server {
		if e.state == Bound {
			fn(ServerIDStart+uint32(i), e.record)
		}
	}
}

func (m *Map[T]) next() (uint32, error) {
	if n := len(m.free); n > 0 {
		return m.free[n-1], nil
	}
	id := m.HighWater(ClientSide)
	if id > MaxClientID {
		return 0, api.NewError(api.ErrCodeIDOutOfRange, "client id space exhausted")
	}
	return id, nil
}

// unfree drops id from the free list once its slot is claimed again.
func (m *Map[T]) unfree(id uint32) {
	for i := len(m.free) - 1; i >= 0; i-- {
		if m.free[i] == id {
			m.free = append(m.free[:i], m.free[i+1:]...)
			return
		}
	}
}
