package sync

import (
	gosync "sync"
)

// Event kinds published during a pass.
const (
	EventStage    = "stage"    // a pass entered a new stage
	EventAsset    = "asset"    // one asset finished downloading, extracting or deleting
	EventHashed   = "hashed"   // one file finished rehashing
	EventPassDone = "passDone" // a pass finished, Status holds the outcome
)

// ProgressEvent is a progress update broadcast to subscribers such as the
// terminal renderer.
type ProgressEvent struct {
	Kind   string `json:"kind"`
	Type   string `json:"type,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Path   string `json:"path,omitempty"`
	Status string `json:"status,omitempty"`
	Done   int    `json:"done,omitempty"`
	Total  int    `json:"total,omitempty"`
}

// EventBus broadcasts ProgressEvents to all subscribers.
// A nil *EventBus drops every event.
type EventBus struct {
	mu      gosync.RWMutex
	clients map[chan ProgressEvent]struct{}
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan ProgressEvent]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *EventBus) Subscribe() chan ProgressEvent {
	ch := make(chan ProgressEvent, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan ProgressEvent) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all subscribers.
// Slow subscribers are skipped (non-blocking send).
func (b *EventBus) Publish(event ProgressEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop event
		}
	}
}

// progress counts completions of one fan-out batch and publishes them.
type progress struct {
	bus   *EventBus
	kind  string
	vtype string
	total int

	mu   gosync.Mutex
	done int
}

func newProgress(bus *EventBus, kind, vtype string, total int) *progress {
	return &progress{bus: bus, kind: kind, vtype: vtype, total: total}
}

func (p *progress) step(path, status string) {
	if p == nil || p.bus == nil {
		return
	}
	p.mu.Lock()
	p.done++
	done := p.done
	p.mu.Unlock()
	p.bus.Publish(ProgressEvent{Kind: p.kind, Type: p.vtype, Path: path, Status: status, Done: done, Total: p.total})
}
