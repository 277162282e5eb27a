package chat

import (
	"sort"
	"sync"
	"time"
)

// TypingTTL is how long a typing indicator survives without a fresh event.
const TypingTTL = time.Second

// TypingKey identifies one participant typing in one room.
type TypingKey struct {
	AppointmentID string
	UserID        string
}

// TypingTracker holds the in-memory typing presence of every room.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[TypingKey]time.Time
}

// NewTypingTracker creates a tracker; a non-positive ttl uses TypingTTL.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = TypingTTL
	}
	return &TypingTracker{ttl: ttl, entries: make(map[TypingKey]time.Time)}
}

// Touch marks key as typing until now+ttl and reports whether it was not typing before.
func (t *TypingTracker) Touch(key TypingKey, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expires, ok := t.entries[key]
	t.entries[key] = now.Add(t.ttl)
	return !ok || !now.Before(expires)
}

// Clear removes key and reports whether it was typing.
func (t *TypingTracker) Clear(key TypingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[key]; !ok {
		return false
	}
	delete(t.entries, key)
	return true
}

// Typing returns the users currently typing in a room, sorted.
func (t *TypingTracker) Typing(appointmentID string, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []string
	for key, expires := range t.entries {
		if key.AppointmentID == appointmentID && now.Before(expires) {
			users = append(users, key.UserID)
		}
	}
	sort.Strings(users)
	return users
}

// Expire removes and returns every entry whose indicator lapsed at or before now.
func (t *TypingTracker) Expire(now time.Time) []TypingKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lapsed []TypingKey
	for key, expires := range t.entries {
		if !now.Before(expires) {
			lapsed = append(lapsed, key)
			delete(t.entries, key)
		}
	}
	sort.Slice(lapsed, func(i, j int) bool {
		if lapsed[i].AppointmentID != lapsed[j].AppointmentID {
			return lapsed[i].AppointmentID < lapsed[j].AppointmentID
		}
		return lapsed[i].UserID < lapsed[j].UserID
	})
	return lapsed
}
