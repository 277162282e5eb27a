package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/errs"
	"telecare-server/internal/models"
	"telecare-server/internal/store/storetest"
)

var base = time.Date(2025, 9, 10, 13, 0, 0, 0, time.UTC)

func appendMsg(t *testing.T, repo *MessageRepository, room, sender string, role models.Role, body string, at time.Time) *models.Message {
	t.Helper()
	msg := &models.Message{AppointmentID: room, SenderID: sender, SenderRole: role, Body: body}
	msg.CreatedAt = at
	require.NoError(t, repo.Append(context.Background(), msg))
	return msg
}

func TestMessageRepository_ListOrdered(t *testing.T) {
	repo := NewMessageRepository(storetest.Open(t))

	appendMsg(t, repo, "room-1", "doc", models.RoleDoctor, "second", base.Add(time.Minute))
	appendMsg(t, repo, "room-1", "pat", models.RolePatient, "first", base)
	appendMsg(t, repo, "room-2", "pat", models.RolePatient, "other room", base)

	msgs, err := repo.List(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Body)
	assert.Equal(t, "second", msgs[1].Body)
}

func TestMessageRepository_ListAfter(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(storetest.Open(t))

	first := appendMsg(t, repo, "room-1", "doc", models.RoleDoctor, "one", base)
	appendMsg(t, repo, "room-1", "pat", models.RolePatient, "two", base.Add(time.Second))
	appendMsg(t, repo, "room-1", "doc", models.RoleDoctor, "three", base.Add(2*time.Second))

	after, err := repo.ListAfter(ctx, "room-1", first.ID)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "two", after[0].Body)

	_, err = repo.ListAfter(ctx, "room-1", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMessageRepository_FindByClientID(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(storetest.Open(t))

	msg := &models.Message{AppointmentID: "room-1", SenderID: "pat", SenderRole: models.RolePatient, Body: "hi", ClientMessageID: "local-1"}
	require.NoError(t, repo.Append(ctx, msg))

	found, err := repo.FindByClientID(ctx, "room-1", "pat", "local-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, msg.ID, found.ID)

	missing, err := repo.FindByClientID(ctx, "room-1", "doc", "local-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessageRepository_UnreadAndMarkers(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(storetest.Open(t))

	first := appendMsg(t, repo, "room-1", "doc", models.RoleDoctor, "d1", base)
	appendMsg(t, repo, "room-1", "pat", models.RolePatient, "p1", base.Add(time.Second))
	last := appendMsg(t, repo, "room-1", "doc", models.RoleDoctor, "d2", base.Add(2*time.Second))

	marker, err := repo.ReadMarker(ctx, "room-1", "pat")
	require.NoError(t, err)
	assert.True(t, marker.LastReadAt.IsZero())
	assert.Empty(t, marker.LastReadMessageID)

	unread, err := repo.CountUnread(ctx, "room-1", "pat", marker)
	require.NoError(t, err)
	assert.Equal(t, int64(2), unread)

	require.NoError(t, repo.AdvanceReadMarker(ctx, "room-1", "pat", *last))
	marker, err = repo.ReadMarker(ctx, "room-1", "pat")
	require.NoError(t, err)
	assert.Equal(t, last.ID, marker.LastReadMessageID)
	unread, err = repo.CountUnread(ctx, "room-1", "pat", marker)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)

	// Markers never move backwards.
	require.NoError(t, repo.AdvanceReadMarker(ctx, "room-1", "pat", *first))
	again, err := repo.ReadMarker(ctx, "room-1", "pat")
	require.NoError(t, err)
	assert.True(t, again.LastReadAt.Equal(last.CreatedAt))
	assert.Equal(t, last.ID, again.LastReadMessageID)
}

func TestMessageRepository_UnreadSameInstant(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(storetest.Open(t))

	one := appendMsg(t, repo, "room-1", "doc", models.RoleDoctor, "one", base)
	require.NoError(t, repo.AdvanceReadMarker(ctx, "room-1", "pat", *one))
	two := appendMsg(t, repo, "room-1", "doc", models.RoleDoctor, "two", base)
	assert.Less(t, one.ID, two.ID, "ids follow insertion order")

	marker, err := repo.ReadMarker(ctx, "room-1", "pat")
	require.NoError(t, err)
	unread, err := repo.CountUnread(ctx, "room-1", "pat", marker)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	require.NoError(t, repo.AdvanceReadMarker(ctx, "room-1", "pat", *two))
	marker, err = repo.ReadMarker(ctx, "room-1", "pat")
	require.NoError(t, err)
	assert.Equal(t, two.ID, marker.LastReadMessageID)
	unread, err = repo.CountUnread(ctx, "room-1", "pat", marker)
	require.NoError(t, err)
	assert.Equal(t, int64(0), unread)
}
