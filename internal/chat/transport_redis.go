package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"telecare-server/internal/logging"
)

const roomChannelPrefix = "chat:room:"

// RoomChannel is the Redis channel carrying a room's events.
func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

// RedisTransport fans events out across server instances with Redis Pub/Sub.
type RedisTransport struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisTransport wraps an existing client. The caller owns the client's lifecycle
// unless Close is called.
func NewRedisTransport(client *redis.Client, logger *logging.Logger) *RedisTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisTransport{client: client, logger: logger.Component("chat_redis")}
}

// Publish encodes event as JSON and publishes it on the room channel.
func (t *RedisTransport) Publish(ctx context.Context, room string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode chat event: %w", err)
	}
	if err := t.client.Publish(ctx, RoomChannel(room), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish chat event: %w", err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription on the room channel and waits for Redis to
// confirm it, so events published after Subscribe returns are not missed.
func (t *RedisTransport) Subscribe(ctx context.Context, room string) (Subscription, error) {
	pubsub := t.client.Subscribe(ctx, RoomChannel(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to room %s: %w", room, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.pump(t.logger.With("room", room))
	return sub, nil
}

// Close closes the underlying client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan Event {
	return s.events
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *redisSubscription) pump(logger *slog.Logger) {
	defer close(s.events)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn("dropping malformed chat event", "error", err)
				continue
			}
			select {
			case s.events <- event:
			case <-s.done:
				return
			default:
				logger.Warn("chat subscriber buffer full, dropping event", "type", event.Type)
			}
		}
	}
}
