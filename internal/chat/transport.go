// Package chat implements per-appointment chat rooms: durable messages, live delivery over a
// pluggable pub/sub transport, typing presence and unread counters.
package chat

import (
	"context"
	"time"

	"telecare-server/internal/models"
)

// EventType names a live room event. The values double as WebSocket frame types.
type EventType string

const (
	EventMessageReceived EventType = "message_received"
	EventTyping          EventType = "typing"
	EventStopTyping      EventType = "stop_typing"
)

// Event is one live update fanned out to a room's subscribers.
type Event struct {
	Type          EventType       `json:"type"`
	AppointmentID string          `json:"appointmentId"`
	UserID        string          `json:"userId,omitempty"`
	Message       *models.Message `json:"message,omitempty"`
	At            time.Time       `json:"at"`
}

// Transport delivers events to every subscriber of a room. Delivery is at-least-once
// from the subscriber's point of view: anything missed is recovered by history replay.
type Transport interface {
	Publish(ctx context.Context, room string, event Event) error
	Subscribe(ctx context.Context, room string) (Subscription, error)
	Close() error
}

// Subscription is a live feed of one room's events.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

const subscriptionBuffer = 64
