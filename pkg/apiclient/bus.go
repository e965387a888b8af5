package apiclient

import (
	"sync"
	"time"
)

// Topic names a family of cached reads that a mutation can make stale.
type Topic string

const (
	TopicApprovals     Topic = "approvals"
	TopicLeaves        Topic = "leaves"
	TopicMarksheets    Topic = "marksheets"
	TopicNotifications Topic = "notifications"
	TopicPush          Topic = "push"
)

// Event is published on the Bus when a topic becomes stale.
type Event struct {
	Topic     Topic
	Operation Operation
	At        time.Time
}

// Bus fans invalidation events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener with the given buffer size.
func (b *Bus) Subscribe(buffer int) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes the listener and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish delivers ev to every subscriber that has room.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
