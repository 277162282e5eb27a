package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"telecare-server/internal/chat"
	"telecare-server/internal/errs"
	"telecare-server/internal/logging"
	"telecare-server/internal/middleware"
	"telecare-server/internal/models"
	"telecare-server/internal/utils"
)

// Socket frame types.
const (
	FrameJoinRoom    = "join_room"
	FrameLeaveRoom   = "leave_room"
	FrameSendMessage = "send_message"
	FrameTyping      = "typing"
	FrameStopTyping  = "stop_typing"
	FramePing        = "ping"

	FrameJoined          = "joined"
	FrameHistory         = "history"
	FrameMessageReceived = "message_received"
	FrameMessageAck      = "message_ack"
	FrameError           = "error"
	FramePong            = "pong"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 * 1024
	sendBufferSize = 256
)

// ChatRooms is the chat surface the socket drives.
type ChatRooms interface {
	Send(ctx context.Context, appointmentID, senderID, body, clientMessageID string) (*models.Message, error)
	MessagesSince(ctx context.Context, appointmentID, readerID, afterMessageID string) ([]models.Message, error)
	Subscribe(ctx context.Context, appointmentID, userID string) (chat.Subscription, error)
	MarkTyping(ctx context.Context, appointmentID, userID string) error
	StopTyping(ctx context.Context, appointmentID, userID string) error
	Typing(appointmentID string) []string
}

// InboundFrame is a frame sent by a socket client.
type InboundFrame struct {
	Type            string `json:"type"`
	AppointmentID   string `json:"appointmentId,omitempty"`
	LastMessageID   string `json:"lastMessageId,omitempty"`
	Body            string `json:"body,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// OutboundFrame is a frame written to a socket client.
type OutboundFrame struct {
	Type            string           `json:"type"`
	AppointmentID   string           `json:"appointmentId,omitempty"`
	UserID          string           `json:"userId,omitempty"`
	ClientMessageID string           `json:"clientMessageId,omitempty"`
	Message         *models.Message  `json:"message,omitempty"`
	Messages        []models.Message `json:"messages,omitempty"`
	Typing          []string         `json:"typing,omitempty"`
	Code            string           `json:"code,omitempty"`
	Error           string           `json:"error,omitempty"`
	At              time.Time        `json:"at"`
}

// ChatSocketHandler upgrades authenticated requests to chat sockets.
type ChatSocketHandler struct {
	Chat     ChatRooms
	Logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewChatSocketHandler creates a socket handler accepting upgrades from origin. Requests
// without an Origin header (native clients) are always accepted.
func NewChatSocketHandler(rooms ChatRooms, origin string, logger *logging.Logger) *ChatSocketHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatSocketHandler{
		Chat:   rooms,
		Logger: logger.Component("chat_socket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				got := r.Header.Get("Origin")
				return got == "" || origin == "*" || got == origin
			},
		},
	}
}

// socketClient is one connected user. Only the write pump touches the connection for writing.
type socketClient struct {
	userID string
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	room string
	sub  chat.Subscription
}

// HandleConnect upgrades the request and serves the socket until the client goes away.
func (h *ChatSocketHandler) HandleConnect(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("socket upgrade failed", "user_id", userID, "error", err)
		return
	}

	// The request context ends with the handler, so the socket owns its own.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	client := &socketClient{
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}

	go h.writePump(client, conn)
	h.readPump(ctx, client, conn)
}

func (h *ChatSocketHandler) readPump(ctx context.Context, client *socketClient, conn *websocket.Conn) {
	defer func() {
		h.leave(ctx, client)
		client.close()
		conn.Close()
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Debug("socket closed unexpectedly", "user_id", client.userID, "error", err)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reply(client, OutboundFrame{Type: FrameError, Code: string(errs.KindValidation), Error: "malformed frame"})
			continue
		}
		h.dispatch(ctx, client, frame)
	}
}

func (h *ChatSocketHandler) writePump(client *socketClient, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (h *ChatSocketHandler) dispatch(ctx context.Context, client *socketClient, frame InboundFrame) {
	switch frame.Type {
	case FrameJoinRoom:
		h.join(ctx, client, frame)
	case FrameLeaveRoom:
		h.leave(ctx, client)
	case FrameSendMessage:
		room, ok := h.currentRoom(client, frame)
		if !ok {
			return
		}
		msg, err := h.Chat.Send(ctx, room, client.userID, frame.Body, frame.ClientMessageID)
		if err != nil {
			h.replyError(client, frame, err)
			return
		}
		h.reply(client, OutboundFrame{Type: FrameMessageAck, AppointmentID: room, ClientMessageID: frame.ClientMessageID, Message: msg})
	case FrameTyping, FrameStopTyping:
		room, ok := h.currentRoom(client, frame)
		if !ok {
			return
		}
		var err error
		if frame.Type == FrameTyping {
			err = h.Chat.MarkTyping(ctx, room, client.userID)
		} else {
			err = h.Chat.StopTyping(ctx, room, client.userID)
		}
		if err != nil {
			h.replyError(client, frame, err)
		}
	case FramePing:
		h.reply(client, OutboundFrame{Type: FramePong})
	default:
		h.reply(client, OutboundFrame{Type: FrameError, Code: string(errs.KindValidation), Error: "unknown frame type: " + frame.Type})
	}
}

// join subscribes before replaying history so nothing published in between is lost. Events
// that land in both are deduplicated by message id on the client.
func (h *ChatSocketHandler) join(ctx context.Context, client *socketClient, frame InboundFrame) {
	if frame.AppointmentID == "" {
		h.reply(client, OutboundFrame{Type: FrameError, Code: string(errs.KindValidation), Error: "appointmentId is required"})
		return
	}
	h.leave(ctx, client)

	sub, err := h.Chat.Subscribe(ctx, frame.AppointmentID, client.userID)
	if err != nil {
		h.replyError(client, frame, err)
		return
	}

	history, err := h.Chat.MessagesSince(ctx, frame.AppointmentID, client.userID, frame.LastMessageID)
	if err != nil {
		_ = sub.Close()
		h.replyError(client, frame, err)
		return
	}

	client.mu.Lock()
	client.room = frame.AppointmentID
	client.sub = sub
	client.mu.Unlock()

	h.reply(client, OutboundFrame{Type: FrameJoined, AppointmentID: frame.AppointmentID, Typing: h.Chat.Typing(frame.AppointmentID)})
	h.reply(client, OutboundFrame{Type: FrameHistory, AppointmentID: frame.AppointmentID, Messages: history})
	go h.forward(client, sub)
}

// leave drops the current room, clearing the user's typing indicator there.
func (h *ChatSocketHandler) leave(ctx context.Context, client *socketClient) {
	client.mu.Lock()
	room, sub := client.room, client.sub
	client.room, client.sub = "", nil
	client.mu.Unlock()

	if sub == nil {
		return
	}
	_ = sub.Close()
	if err := h.Chat.StopTyping(ctx, room, client.userID); err != nil {
		h.Logger.Debug("failed to clear typing on leave", "appointment_id", room, "user_id", client.userID, "error", err)
	}
}

// forward relays room events until the subscription closes. A client never sees its own
// typing indicator.
func (h *ChatSocketHandler) forward(client *socketClient, sub chat.Subscription) {
	for event := range sub.Events() {
		if event.Type != chat.EventMessageReceived && event.UserID == client.userID {
			continue
		}
		h.reply(client, OutboundFrame{
			Type:          string(event.Type),
			AppointmentID: event.AppointmentID,
			UserID:        event.UserID,
			Message:       event.Message,
			At:            event.At,
		})
	}
}

func (h *ChatSocketHandler) currentRoom(client *socketClient, frame InboundFrame) (string, bool) {
	client.mu.Lock()
	room := client.room
	client.mu.Unlock()

	if room == "" || (frame.AppointmentID != "" && frame.AppointmentID != room) {
		h.reply(client, OutboundFrame{Type: FrameError, ClientMessageID: frame.ClientMessageID, Code: string(errs.KindValidation), Error: "join the room first"})
		return "", false
	}
	return room, true
}

func (h *ChatSocketHandler) replyError(client *socketClient, frame InboundFrame, err error) {
	out := OutboundFrame{Type: FrameError, AppointmentID: frame.AppointmentID, ClientMessageID: frame.ClientMessageID}
	if kind := errs.KindOf(err); kind != "" {
		out.Code = string(kind)
		out.Error = err.Error()
	} else {
		h.Logger.Error("socket operation failed", "type", frame.Type, "user_id", client.userID, "error", err)
		out.Code = "internal"
		out.Error = "Internal server error"
	}
	h.reply(client, out)
}

// reply queues a frame for the write pump. Frames for a slow client are dropped; it recovers
// through join_room replay.
func (h *ChatSocketHandler) reply(client *socketClient, frame OutboundFrame) {
	if frame.At.IsZero() {
		frame.At = time.Now().UTC()
	}
	data, err := json.Marshal(frame)
	if err != nil {
		h.Logger.Error("failed to encode socket frame", "type", frame.Type, "error", err)
		return
	}
	select {
	case <-client.done:
	case client.send <- data:
	default:
		h.Logger.Warn("socket send buffer full, dropping frame", "user_id", client.userID, "type", frame.Type)
	}
}

func (c *socketClient) close() {
	c.once.Do(func() { close(c.done) })
}
