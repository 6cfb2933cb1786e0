package tunnel

import "sync"

// dispatcher delivers application callbacks one at a time, in the order they
// were posted, without holding the tunnel lock. Whichever goroutine finds the
// queue idle drains it; posts made meanwhile (including re-entrant ones from
// inside a callback) are picked up by that drainer.
type dispatcher struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// post appends fn to the queue. Callers hold the tunnel lock, so the queue
// order matches the order of state changes.
func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
}

// flush runs queued callbacks until the queue is empty, unless another
// goroutine is already doing so.
func (d *dispatcher) flush() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true

	for len(d.queue) > 0 {
		fn := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		fn()

		d.mu.Lock()
	}

	d.running = false
	d.mu.Unlock()
}
