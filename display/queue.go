// File: display/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package display

import (
	"github.com/momentics/hioload-wl/eventq"
	"go.uber.org/zap"
)

// DefaultQueue returns the queue used by objects without an explicit one.
func (d *Display) DefaultQueue() *eventq.Queue { return d.defaultQueue }

// CreateQueue creates an additional event queue.
func (d *Display) CreateQueue(name string) *eventq.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := eventq.New(name)
	d.queues[q] = struct{}{}
	return q
}

// DestroyQueue discards q and its pending events. Later events for objects
// still assigned to q are dropped. The default queue cannot be destroyed.
func (d *Display) DestroyQueue(q *eventq.Queue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.queues[q]; !ok {
		return
	}
	delete(d.queues, q)
	if n := q.Destroy(); n > 0 {
		d.log.Warn("destroyed event queue with pending events",
			zap.String("queue", q.Name()), zap.Int("discarded", n))
	}
}

func (d *Display) resolveQueue(q *eventq.Queue) *eventq.Queue {
	if q == nil {
		return d.defaultQueue
	}
	return q
}
