package chat

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned once a transport has been shut down.
var ErrTransportClosed = errors.New("chat transport closed")

// MemoryTransport fans events out inside a single process.
type MemoryTransport struct {
	mu     sync.RWMutex
	rooms  map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{rooms: make(map[string]map[*memorySubscription]struct{})}
}

// Publish delivers event to every current subscriber of room. A subscriber whose buffer is
// full misses the event and catches up through history replay.
func (t *MemoryTransport) Publish(ctx context.Context, room string, event Event) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTransportClosed
	}
	for sub := range t.rooms[room] {
		sub.deliver(event)
	}
	return ctx.Err()
}

// Subscribe registers a new subscriber for room.
func (t *MemoryTransport) Subscribe(ctx context.Context, room string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}

	sub := &memorySubscription{
		transport: t,
		room:      room,
		events:    make(chan Event, subscriptionBuffer),
	}
	if t.rooms[room] == nil {
		t.rooms[room] = make(map[*memorySubscription]struct{})
	}
	t.rooms[room][sub] = struct{}{}
	return sub, nil
}

// Close drops every subscriber.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for room, subs := range t.rooms {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(t.rooms, room)
	}
	return nil
}

func (t *MemoryTransport) remove(sub *memorySubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if subs, ok := t.rooms[sub.room]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(t.rooms, sub.room)
		}
	}
	sub.closeLocked()
}

type memorySubscription struct {
	transport *MemoryTransport
	room      string
	events    chan Event

	mu     sync.Mutex
	closed bool
}

func (s *memorySubscription) Events() <-chan Event {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.transport.remove(s)
	return nil
}

func (s *memorySubscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

// closeLocked must be called with the transport lock held.
func (s *memorySubscription) closeLocked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
