package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/models"
)

func dialSocket(t *testing.T, f *apiFixture, srv *httptest.Server, user *models.User) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + f.token(user)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readFrame returns the next frame of the wanted type, skipping others.
func readFrame(t *testing.T, conn *websocket.Conn, want string) OutboundFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame OutboundFrame
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", want)
		if frame.Type == want {
			return frame
		}
	}
}

func join(t *testing.T, conn *websocket.Conn, appointmentID, lastMessageID string) OutboundFrame {
	t.Helper()
	require.NoError(t, conn.WriteJSON(InboundFrame{Type: FrameJoinRoom, AppointmentID: appointmentID, LastMessageID: lastMessageID}))
	readFrame(t, conn, FrameJoined)
	return readFrame(t, conn, FrameHistory)
}

func TestChatSocketRequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChatSocketMessaging(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	patient := dialSocket(t, f, srv, f.patient)
	doctor := dialSocket(t, f, srv, f.doctor)

	history := join(t, patient, apt.ID, "")
	assert.Empty(t, history.Messages)
	join(t, doctor, apt.ID, "")

	require.NoError(t, patient.WriteJSON(InboundFrame{Type: FrameSendMessage, Body: "hello", ClientMessageID: "c-1"}))
	ack := readFrame(t, patient, FrameMessageAck)
	assert.Equal(t, "c-1", ack.ClientMessageID)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hello", ack.Message.Body)

	received := readFrame(t, doctor, FrameMessageReceived)
	require.NotNil(t, received.Message)
	assert.Equal(t, ack.Message.ID, received.Message.ID)
	assert.Equal(t, models.RolePatient, received.Message.SenderRole)

	// Reconnecting with the last seen id replays nothing; without it the history returns.
	again := dialSocket(t, f, srv, f.doctor)
	assert.Empty(t, join(t, again, apt.ID, ack.Message.ID).Messages)
	replay := join(t, again, apt.ID, "")
	require.Len(t, replay.Messages, 1)
	assert.Equal(t, ack.Message.ID, replay.Messages[0].ID)
}

func TestChatSocketTyping(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	patient := dialSocket(t, f, srv, f.patient)
	doctor := dialSocket(t, f, srv, f.doctor)
	join(t, patient, apt.ID, "")
	join(t, doctor, apt.ID, "")

	require.NoError(t, doctor.WriteJSON(InboundFrame{Type: FrameTyping}))
	typing := readFrame(t, patient, FrameTyping)
	assert.Equal(t, f.doctor.ID, typing.UserID)

	require.NoError(t, doctor.WriteJSON(InboundFrame{Type: FrameStopTyping}))
	stopped := readFrame(t, patient, FrameStopTyping)
	assert.Equal(t, f.doctor.ID, stopped.UserID)

	// The doctor never sees their own indicator; the next frame they read is the pong.
	require.NoError(t, doctor.WriteJSON(InboundFrame{Type: FramePing}))
	require.NoError(t, doctor.SetReadDeadline(time.Now().Add(2*time.Second)))
	var next OutboundFrame
	require.NoError(t, doctor.ReadJSON(&next))
	assert.Equal(t, FramePong, next.Type)
}

func TestChatSocketErrors(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	stranger := dialSocket(t, f, srv, f.other)

	require.NoError(t, stranger.WriteJSON(InboundFrame{Type: FrameSendMessage, Body: "hi", ClientMessageID: "c-9"}))
	notJoined := readFrame(t, stranger, FrameError)
	assert.Equal(t, "c-9", notJoined.ClientMessageID)
	assert.Equal(t, "validation", notJoined.Code)

	require.NoError(t, stranger.WriteJSON(InboundFrame{Type: FrameJoinRoom, AppointmentID: apt.ID}))
	denied := readFrame(t, stranger, FrameError)
	assert.Equal(t, "unauthorized", denied.Code)

	require.NoError(t, stranger.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "validation", readFrame(t, stranger, FrameError).Code)

	require.NoError(t, stranger.WriteJSON(InboundFrame{Type: "dance"}))
	assert.Contains(t, readFrame(t, stranger, FrameError).Error, "unknown frame type")
}
