// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus counters for the read-admission protocol and dispatch.
// A nil *Metrics is valid and records nothing.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the display collectors.
type Metrics struct {
	ReadRounds       prometheus.Counter
	ReadsCancelled   prometheus.Counter
	BytesRead        prometheus.Counter
	MessagesDecoded  prometheus.Counter
	EventsQueued     prometheus.Counter
	EventsDropped    prometheus.Counter
	EventsDispatched prometheus.Counter
	IDDrift          prometheus.Counter
	Faults           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		ReadRounds:       counter("read_rounds_total", "Physical reads performed by an elected reader."),
		ReadsCancelled:   counter("reads_cancelled_total", "Reader registrations withdrawn without reading."),
		BytesRead:        counter("bytes_read_total", "Bytes read from the display socket."),
		MessagesDecoded:  counter("messages_decoded_total", "Complete messages decoded."),
		EventsQueued:     counter("events_queued_total", "Events appended to an event queue."),
		EventsDropped:    counter("events_dropped_total", "Events discarded for unknown, unbound or orphaned targets."),
		EventsDispatched: counter("events_dispatched_total", "Events handed to their handler."),
		IDDrift:          counter("id_drift_total", "Out-of-order object id announcements tolerated."),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "faults_total",
			Help:      "Sticky connection faults by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ReadRounds, m.ReadsCancelled, m.BytesRead, m.MessagesDecoded,
			m.EventsQueued, m.EventsDropped, m.EventsDispatched, m.IDDrift, m.Faults,
		)
	}
	return m
}

func (m *Metrics) ReadRound(bytes int) {
	if m == nil {
		return
	}
	m.ReadRounds.Inc()
	m.BytesRead.Add(float64(bytes))
}

func (m *Metrics) ReadCancelled() {
	if m != nil {
		m.ReadsCancelled.Inc()
	}
}

func (m *Metrics) Decoded() {
	if m != nil {
		m.MessagesDecoded.Inc()
	}
}

func (m *Metrics) Queued() {
	if m != nil {
		m.EventsQueued.Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) Dispatched(n int) {
	if m != nil && n > 0 {
		m.EventsDispatched.Add(float64(n))
	}
}

func (m *Metrics) Drift() {
	if m != nil {
		m.IDDrift.Inc()
	}
}

func (m *Metrics) Fault(kind string) {
	if m != nil {
		m.Faults.WithLabelValues(kind).Inc()
	}
}
