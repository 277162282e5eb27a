package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/models"
)

func serverCopy(id, sender, body, clientID string, at time.Time) models.Message {
	msg := models.Message{SenderID: sender, Body: body, ClientMessageID: clientID}
	msg.ID = id
	msg.CreatedAt = at
	return msg
}

func TestOutbox_EchoDedupByClientID(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 10, 13, 50, 0, 0, time.UTC)}
	ob := NewOutbox("p1", clock.Now)

	p := ob.Queue("hello")
	assert.Equal(t, OutboxSending, p.State)
	require.Len(t, ob.Timeline(), 1)

	echo := serverCopy("m1", "p1", "hello", p.ClientMessageID, clock.Now())
	assert.True(t, ob.Receive(echo))
	// The same echo delivered again through the room broadcast.
	assert.False(t, ob.Receive(echo))

	timeline := ob.Timeline()
	require.Len(t, timeline, 1)
	assert.Equal(t, "m1", timeline[0].ID)
	assert.Equal(t, OutboxAcknowledged, timeline[0].State)
	assert.Equal(t, OutboxAcknowledged, ob.Pending()[0].State)
}

func TestOutbox_EchoMatchByContent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 10, 13, 50, 0, 0, time.UTC)}
	ob := NewOutbox("p1", clock.Now)
	ob.Queue("hello")

	stale := serverCopy("m0", "p1", "hello", "", clock.Now().Add(-30*time.Second))
	assert.False(t, ob.Receive(stale))

	assert.True(t, ob.Receive(serverCopy("m1", "p1", "hello", "", clock.Now().Add(3*time.Second))))
	timeline := ob.Timeline()
	require.Len(t, timeline, 2)
	assert.Equal(t, "m0", timeline[0].ID)
	assert.Equal(t, "m1", timeline[1].ID)
}

func TestOutbox_FailAndRetry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 10, 13, 50, 0, 0, time.UTC)}
	ob := NewOutbox("p1", clock.Now)
	p := ob.Queue("hello")

	clock.Advance(20 * time.Second)
	assert.Equal(t, []string{p.ClientMessageID}, ob.FailStale(15*time.Second))
	assert.Equal(t, OutboxFailed, ob.Timeline()[0].State)
	assert.False(t, ob.Fail(p.ClientMessageID))

	retried, ok := ob.Retry(p.ClientMessageID)
	require.True(t, ok)
	assert.Equal(t, p.ClientMessageID, retried.ClientMessageID)
	assert.Equal(t, OutboxSending, retried.State)

	assert.True(t, ob.Receive(serverCopy("m1", "p1", "hello", p.ClientMessageID, clock.Now())))
	require.Len(t, ob.Timeline(), 1)
}

func TestOutbox_OtherSendersNeverAcknowledge(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 9, 10, 13, 50, 0, 0, time.UTC)}
	ob := NewOutbox("p1", clock.Now)
	ob.Queue("hello")

	assert.False(t, ob.Receive(serverCopy("m1", "d1", "hello", "", clock.Now())))
	assert.Len(t, ob.Timeline(), 2)
}
