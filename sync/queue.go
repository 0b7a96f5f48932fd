package sync

import (
	"log/slog"
	gosync "sync"
)

// PassQueue is a thread-safe set-based queue of version-type names waiting
// for a pass. Duplicates are deduplicated. Pop returns names in FIFO order.
type PassQueue struct {
	mu     gosync.Mutex
	set    map[string]struct{}
	order  []string
	notify chan struct{} // signaled when items are added
}

// NewPassQueue creates an empty queue.
func NewPassQueue() *PassQueue {
	return &PassQueue{
		set:    make(map[string]struct{}),
		notify: make(chan struct{}, 1),
	}
}

// Push adds a name to the queue. If it is already queued, this is a no-op.
func (q *PassQueue) Push(name string) {
	q.PushMany([]string{name})
}

// PushMany adds multiple names to the queue.
func (q *PassQueue) PushMany(names []string) {
	q.mu.Lock()
	added := 0
	for _, name := range names {
		if _, exists := q.set[name]; exists {
			continue
		}
		q.set[name] = struct{}{}
		q.order = append(q.order, name)
		added++
	}
	newLen := len(q.order)
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("push", "requested", len(names), "added", added, "queueLen", newLen)
	}

	if added > 0 {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
}

// Pop removes and returns the next name. Blocks until a name is available
// or the done channel is closed. Returns ("", false) when done.
func (q *PassQueue) Pop(done <-chan struct{}) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.order) > 0 {
			name := q.order[0]
			q.order = q.order[1:]
			delete(q.set, name)
			q.mu.Unlock()
			return name, true
		}
		q.mu.Unlock()

		select {
		case <-done:
			sub("queue").Debug("pop cancelled")
			return "", false
		case <-q.notify:
		}
	}
}

// Len returns the current queue size.
func (q *PassQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Drain removes and returns all queued names.
func (q *PassQueue) Drain() []string {
	q.mu.Lock()
	result := q.order
	q.order = nil
	q.set = make(map[string]struct{})
	q.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("queue").Debug("drain", "count", len(result))
	}
	return result
}
