package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"telecare-server/internal/models"
)

// EchoMatchWindow bounds how far apart an optimistic copy and its server echo may be
// when they are matched by content instead of by client message id.
const EchoMatchWindow = 10 * time.Second

// OutboxState is the delivery state of a message the local user sent.
type OutboxState string

const (
	OutboxSending      OutboxState = "sending"
	OutboxAcknowledged OutboxState = "acknowledged"
	OutboxFailed       OutboxState = "failed"
)

// PendingMessage is an optimistic local copy awaiting its server echo.
type PendingMessage struct {
	ClientMessageID string
	SenderID        string
	Body            string
	SentAt          time.Time
	State           OutboxState
	ServerID        string
}

// TimelineEntry is one visible line of a room.
type TimelineEntry struct {
	ID              string
	ClientMessageID string
	SenderID        string
	Body            string
	At              time.Time
	State           OutboxState
}

// Outbox reconciles a client's optimistic sends with server echoes so that each message
// is visible exactly once. It is the client-side half of chat delivery and is used by the
// WebSocket test client.
type Outbox struct {
	mu       sync.Mutex
	senderID string
	now      func() time.Time
	pending  []*PendingMessage
	server   map[string]models.Message
}

// NewOutbox creates an outbox for the local user senderID.
func NewOutbox(senderID string, now func() time.Time) *Outbox {
	if now == nil {
		now = time.Now
	}
	return &Outbox{senderID: senderID, now: now, server: make(map[string]models.Message)}
}

// Queue records an optimistic send and returns it with a fresh client message id.
func (o *Outbox) Queue(body string) PendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := &PendingMessage{
		ClientMessageID: uuid.NewString(),
		SenderID:        o.senderID,
		Body:            body,
		SentAt:          o.now(),
		State:           OutboxSending,
	}
	o.pending = append(o.pending, p)
	return *p
}

// Fail marks a still-sending message as failed.
func (o *Outbox) Fail(clientMessageID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.find(clientMessageID)
	if p == nil || p.State != OutboxSending {
		return false
	}
	p.State = OutboxFailed
	return true
}

// Retry puts a failed message back into sending with the same client message id, so the
// server deduplicates it if the first attempt did land.
func (o *Outbox) Retry(clientMessageID string) (PendingMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.find(clientMessageID)
	if p == nil || p.State != OutboxFailed {
		return PendingMessage{}, false
	}
	p.State = OutboxSending
	p.SentAt = o.now()
	return *p, true
}

// FailStale fails every message still sending after timeout and returns their ids.
func (o *Outbox) FailStale(timeout time.Duration) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	var failed []string
	for _, p := range o.pending {
		if p.State == OutboxSending && now.Sub(p.SentAt) > timeout {
			p.State = OutboxFailed
			failed = append(failed, p.ClientMessageID)
		}
	}
	return failed
}

// Receive applies a server copy (an ack or a room broadcast). Duplicate deliveries of the
// same server id are ignored. It reports whether msg acknowledged a pending local copy.
func (o *Outbox) Receive(msg models.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, seen := o.server[msg.ID]; seen {
		return false
	}
	o.server[msg.ID] = msg

	if msg.SenderID != o.senderID {
		return false
	}
	p := o.match(msg)
	if p == nil {
		return false
	}
	p.State = OutboxAcknowledged
	p.ServerID = msg.ID
	return true
}

// Pending returns a copy of every local message with its current state.
func (o *Outbox) Pending() []PendingMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]PendingMessage, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, *p)
	}
	return out
}

// Timeline returns server messages in delivery order followed by unacknowledged local copies.
func (o *Outbox) Timeline() []TimelineEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	delivered := make([]models.Message, 0, len(o.server))
	for _, msg := range o.server {
		delivered = append(delivered, msg)
	}
	sort.Slice(delivered, func(i, j int) bool {
		if !delivered[i].CreatedAt.Equal(delivered[j].CreatedAt) {
			return delivered[i].CreatedAt.Before(delivered[j].CreatedAt)
		}
		return delivered[i].ID < delivered[j].ID
	})

	entries := make([]TimelineEntry, 0, len(delivered)+len(o.pending))
	for _, msg := range delivered {
		entries = append(entries, TimelineEntry{
			ID:              msg.ID,
			ClientMessageID: msg.ClientMessageID,
			SenderID:        msg.SenderID,
			Body:            msg.Body,
			At:              msg.CreatedAt,
			State:           OutboxAcknowledged,
		})
	}
	for _, p := range o.pending {
		if p.State == OutboxAcknowledged {
			continue
		}
		entries = append(entries, TimelineEntry{
			ID:              p.ClientMessageID,
			ClientMessageID: p.ClientMessageID,
			SenderID:        p.SenderID,
			Body:            p.Body,
			At:              p.SentAt,
			State:           p.State,
		})
	}
	return entries
}

func (o *Outbox) find(clientMessageID string) *PendingMessage {
	for _, p := range o.pending {
		if p.ClientMessageID == clientMessageID {
			return p
		}
	}
	return nil
}

// match prefers the client message id and falls back to sender, body and send time.
func (o *Outbox) match(msg models.Message) *PendingMessage {
	if msg.ClientMessageID != "" {
		if p := o.find(msg.ClientMessageID); p != nil && p.State != OutboxAcknowledged {
			return p
		}
	}
	for _, p := range o.pending {
		if p.State == OutboxAcknowledged || p.Body != msg.Body {
			continue
		}
		delta := msg.CreatedAt.Sub(p.SentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= EchoMatchWindow {
			return p
		}
	}
	return nil
}
