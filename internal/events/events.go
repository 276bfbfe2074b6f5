// Package events provides an in-process broadcast bus for job status and
// sender-data change notifications.
package events

import "sync"

// Kind identifies the category of an event.
type Kind string

const (
	// StatusChanged fires whenever a job transitions between states.
	StatusChanged Kind = "status-changed"
	// DataChanged fires when aggregated sender data is written.
	DataChanged Kind = "data-changed"
	// AuthRequired fires when the queue pauses waiting for reauthorization.
	AuthRequired Kind = "auth-required"
)

// Event is a single notification. JobID is empty for events not tied to a
// specific job.
type Event struct {
	Kind  Kind
	JobID string
}

// DefaultBuffer is the capacity of a subscriber channel.
const DefaultBuffer = 16

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose channel is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// New returns a Bus with no subscribers.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. The channel is buffered with DefaultBuffer entries; a
// subscriber that falls behind misses events rather than stalling
// publishers. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, DefaultBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every current subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel and shuts the bus down. Publish
// and Subscribe after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
