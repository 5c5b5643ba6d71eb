package events

import (
	"sync"
	"time"
)

// Bus is an in-process publish/subscribe fan-out.
//
// Subscribers register for one session's events (or all sessions with an
// empty session ID) and receive them on a buffered channel. Publishing
// never blocks: if a subscriber's buffer is full the event is dropped for
// that subscriber.
type Bus struct {
	mu         sync.RWMutex
	subs       map[int]*subscription
	nextID     int
	bufferSize int
	closed     bool
}

type subscription struct {
	sessionID string // empty matches all sessions
	ch        chan Event
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 128
	}
	return &Bus{
		subs:       make(map[int]*subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe registers for events of one session (empty sessionID = all).
// The returned cancel function must be called to release the subscription.
func (b *Bus) Subscribe(sessionID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscription{sessionID: sessionID, ch: make(chan Event, b.bufferSize)}
	if b.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish implements Publisher.
func (b *Bus) Publish(sessionID string, t Type, data map[string]any) {
	ev := Event{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != sessionID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber buffer full; drop rather than stall the run.
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
