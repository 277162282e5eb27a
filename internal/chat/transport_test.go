package chat

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/logging"
	"telecare-server/internal/models"
)

func TestMemoryTransport_FanOut(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	a, err := tr.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	b, err := tr.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	other, err := tr.Subscribe(ctx, "room-2")
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "room-1", Event{Type: EventTyping, AppointmentID: "room-1", UserID: "u1"}))

	assert.Equal(t, "u1", receive(t, a).UserID)
	assert.Equal(t, "u1", receive(t, b).UserID)
	select {
	case <-other.Events():
		t.Fatal("event leaked into another room")
	default:
	}

	require.NoError(t, a.Close())
	_, open := <-a.Events()
	assert.False(t, open)

	require.NoError(t, tr.Close())
	_, open = <-b.Events()
	assert.False(t, open)
	assert.ErrorIs(t, tr.Publish(ctx, "room-1", Event{}), ErrTransportClosed)
}

func TestRedisTransport_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	tr := NewRedisTransport(client, logging.NewWithWriter("error", io.Discard))
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, "apt-1")
	require.NoError(t, err)
	defer sub.Close()

	msg := &models.Message{Body: "hello", SenderID: "p1", SenderRole: models.RolePatient}
	msg.ID = "m1"
	require.NoError(t, tr.Publish(ctx, "apt-1", Event{Type: EventMessageReceived, AppointmentID: "apt-1", Message: msg}))

	ev := receive(t, sub)
	assert.Equal(t, EventMessageReceived, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "hello", ev.Message.Body)
}

func TestRoomChannel(t *testing.T) {
	assert.Equal(t, "chat:room:abc", RoomChannel("abc"))
}
