package chat

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"telecare-server/internal/errs"
	"telecare-server/internal/keylock"
	"telecare-server/internal/logging"
	"telecare-server/internal/metrics"
	"telecare-server/internal/models"
)

// MaxBodyLength is the longest message body accepted, in characters.
const MaxBodyLength = 4000

// MessageStore is the durable, append-only message log with read markers.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) error
	FindByClientID(ctx context.Context, appointmentID, senderID, clientMessageID string) (*models.Message, error)
	List(ctx context.Context, appointmentID string) ([]models.Message, error)
	ListAfter(ctx context.Context, appointmentID, afterID string) ([]models.Message, error)
	CountUnread(ctx context.Context, appointmentID, userID string, marker models.ReadMarker) (int64, error)
	ReadMarker(ctx context.Context, appointmentID, userID string) (models.ReadMarker, error)
	AdvanceReadMarker(ctx context.Context, appointmentID, userID string, last models.Message) error
}

// RoomDirectory resolves a room to its appointment so participants can be checked.
type RoomDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Messages  MessageStore
	Rooms     RoomDirectory
	Transport Transport
	Typing    *TypingTracker
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
	Now       func() time.Time
}

// Manager owns every chat room: it persists messages, fans them out and tracks presence.
type Manager struct {
	messages  MessageStore
	rooms     RoomDirectory
	transport Transport
	typing    *TypingTracker
	metrics   *metrics.Metrics
	logger    *logging.Logger
	now       func() time.Time

	// sends serializes sends per (room, sender) so a retried clientMessageId is stored once.
	sends *keylock.KeyedMutex
}

// NewManager creates a chat manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Typing == nil {
		cfg.Typing = NewTypingTracker(TypingTTL)
	}
	if cfg.Transport == nil {
		cfg.Transport = NewMemoryTransport()
	}
	return &Manager{
		messages:  cfg.Messages,
		rooms:     cfg.Rooms,
		transport: cfg.Transport,
		typing:    cfg.Typing,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.Component("chat"),
		now:       cfg.Now,
		sends:     keylock.New(),
	}
}

// Send persists a message from senderID and publishes it to the room. The sender's role
// is derived from the appointment. Resending a clientMessageID already stored for this
// sender returns the stored message without duplicating it.
func (m *Manager) Send(ctx context.Context, appointmentID, senderID, body, clientMessageID string) (*models.Message, error) {
	apt, role, err := m.authorize(ctx, "send message", appointmentID, senderID)
	if err != nil {
		return nil, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errs.New(errs.KindValidation, "send message", "message body is required")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return nil, errs.New(errs.KindValidation, "send message", "message body is too long")
	}
	clientMessageID = strings.TrimSpace(clientMessageID)

	unlock := m.sends.Lock(sendKey(apt.ID, senderID))
	msg, created, err := m.store(ctx, apt, senderID, role, body, clientMessageID)
	unlock()
	if err != nil {
		return nil, err
	}

	if created {
		m.metrics.ObserveChatMessage(string(role))
		if m.typing.Clear(TypingKey{AppointmentID: apt.ID, UserID: senderID}) {
			m.publish(ctx, apt.ID, Event{Type: EventStopTyping, AppointmentID: apt.ID, UserID: senderID, At: m.now().UTC()})
		}
	}
	m.publish(ctx, apt.ID, Event{Type: EventMessageReceived, AppointmentID: apt.ID, UserID: senderID, Message: msg, At: msg.CreatedAt})
	return msg, nil
}

func sendKey(appointmentID, senderID string) string {
	return appointmentID + "/" + senderID
}

func (m *Manager) store(ctx context.Context, apt *models.Appointment, senderID string, role models.Role, body, clientMessageID string) (*models.Message, bool, error) {
	if clientMessageID != "" {
		existing, err := m.messages.FindByClientID(ctx, apt.ID, senderID, clientMessageID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	msg := &models.Message{
		AppointmentID:   apt.ID,
		SenderID:        senderID,
		SenderRole:      role,
		Body:            body,
		ClientMessageID: clientMessageID,
	}
	msg.CreatedAt = m.now().UTC()
	if err := m.messages.Append(ctx, msg); err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// Messages returns the room history and advances the reader's read marker to the newest message.
func (m *Manager) Messages(ctx context.Context, appointmentID, readerID string) ([]models.Message, error) {
	if _, _, err := m.authorize(ctx, "get messages", appointmentID, readerID); err != nil {
		return nil, err
	}

	history, err := m.messages.List(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	m.markRead(ctx, appointmentID, readerID, history)
	return history, nil
}

// MessagesSince returns the messages after afterMessageID for reconnect replay. An empty
// or unknown anchor falls back to the full history.
func (m *Manager) MessagesSince(ctx context.Context, appointmentID, readerID, afterMessageID string) ([]models.Message, error) {
	if afterMessageID == "" {
		return m.Messages(ctx, appointmentID, readerID)
	}
	if _, _, err := m.authorize(ctx, "get messages", appointmentID, readerID); err != nil {
		return nil, err
	}

	missed, err := m.messages.ListAfter(ctx, appointmentID, afterMessageID)
	if errs.KindOf(err) == errs.KindNotFound {
		missed, err = m.messages.List(ctx, appointmentID)
	}
	if err != nil {
		return nil, err
	}
	m.markRead(ctx, appointmentID, readerID, missed)
	return missed, nil
}

// UnreadCount counts messages from the other participant newer than userID's read marker.
func (m *Manager) UnreadCount(ctx context.Context, appointmentID, userID string) (int64, error) {
	if _, _, err := m.authorize(ctx, "unread count", appointmentID, userID); err != nil {
		return 0, err
	}

	marker, err := m.messages.ReadMarker(ctx, appointmentID, userID)
	if err != nil {
		return 0, err
	}
	return m.messages.CountUnread(ctx, appointmentID, userID, marker)
}

// Subscribe opens a live feed of the room for a participant.
func (m *Manager) Subscribe(ctx context.Context, appointmentID, userID string) (Subscription, error) {
	if _, _, err := m.authorize(ctx, "subscribe", appointmentID, userID); err != nil {
		return nil, err
	}

	sub, err := m.transport.Subscribe(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	m.metrics.SubscriptionOpened()
	m.logger.Debug("room subscribed", "appointment_id", appointmentID, "user_id", userID)
	return &trackedSubscription{Subscription: sub, closed: m.metrics.SubscriptionClosed}, nil
}

// MarkTyping records that userID is typing and tells the room. Repeated calls refresh the
// indicator's expiry.
func (m *Manager) MarkTyping(ctx context.Context, appointmentID, userID string) error {
	if _, _, err := m.authorize(ctx, "typing", appointmentID, userID); err != nil {
		return err
	}

	now := m.now()
	m.typing.Touch(TypingKey{AppointmentID: appointmentID, UserID: userID}, now)
	m.publish(ctx, appointmentID, Event{Type: EventTyping, AppointmentID: appointmentID, UserID: userID, At: now.UTC()})
	return nil
}

// StopTyping clears userID's indicator and tells the room when it was set.
func (m *Manager) StopTyping(ctx context.Context, appointmentID, userID string) error {
	if _, _, err := m.authorize(ctx, "stop typing", appointmentID, userID); err != nil {
		return err
	}

	if m.typing.Clear(TypingKey{AppointmentID: appointmentID, UserID: userID}) {
		m.publish(ctx, appointmentID, Event{Type: EventStopTyping, AppointmentID: appointmentID, UserID: userID, At: m.now().UTC()})
	}
	return nil
}

// Typing returns who is typing in the room right now.
func (m *Manager) Typing(appointmentID string) []string {
	return m.typing.Typing(appointmentID, m.now())
}

// ExpireTyping clears lapsed indicators and publishes stop_typing for each. It returns the
// number of indicators cleared.
func (m *Manager) ExpireTyping(ctx context.Context, now time.Time) int {
	lapsed := m.typing.Expire(now)
	for _, key := range lapsed {
		m.publish(ctx, key.AppointmentID, Event{Type: EventStopTyping, AppointmentID: key.AppointmentID, UserID: key.UserID, At: now.UTC()})
	}
	return len(lapsed)
}

// Close shuts the transport down.
func (m *Manager) Close() error {
	return m.transport.Close()
}

func (m *Manager) authorize(ctx context.Context, op, appointmentID, userID string) (*models.Appointment, models.Role, error) {
	apt, err := m.rooms.FindByID(ctx, appointmentID)
	if err != nil {
		return nil, "", err
	}
	role := apt.ParticipantRole(userID)
	if role == "" {
		return nil, "", errs.New(errs.KindUnauthorized, op, "user is not a participant of this appointment")
	}
	return apt, role, nil
}

func (m *Manager) markRead(ctx context.Context, appointmentID, readerID string, seen []models.Message) {
	if len(seen) == 0 {
		return
	}
	if err := m.messages.AdvanceReadMarker(ctx, appointmentID, readerID, seen[len(seen)-1]); err != nil {
		m.logger.Warn("failed to advance read marker", "appointment_id", appointmentID, "user_id", readerID, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, room string, event Event) {
	if err := m.transport.Publish(ctx, room, event); err != nil {
		m.logger.Warn("failed to publish chat event", "appointment_id", room, "type", event.Type, "error", err)
	}
}

type trackedSubscription struct {
	Subscription
	once   sync.Once
	closed func()
}

func (s *trackedSubscription) Close() error {
	s.once.Do(s.closed)
	return s.Subscription.Close()
}
