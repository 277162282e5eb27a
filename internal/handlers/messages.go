package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/utils"
)

// MessageService is the chat surface the REST message endpoints call.
type MessageService interface {
	SendMessage(ctx context.Context, actor scheduling.Actor, appointmentID, body, clientMessageID string) (*models.Message, error)
	GetMessages(ctx context.Context, actor scheduling.Actor, appointmentID string) ([]models.Message, error)
	GetUnreadCount(ctx context.Context, actor scheduling.Actor, appointmentID string) (int64, error)
}

// MessageHandler handles the REST side of appointment chat rooms.
type MessageHandler struct {
	Service MessageService
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(service MessageService) *MessageHandler {
	return &MessageHandler{Service: service}
}

// SendMessageRequest represents the request body for sending a chat message.
type SendMessageRequest struct {
	Body            string `json:"body" binding:"required"`
	ClientMessageID string `json:"clientMessageId" binding:"max=64"`
}

// UnreadCountResponse is the unread counter for one room.
type UnreadCountResponse struct {
	AppointmentID string `json:"appointmentId"`
	Unread        int64  `json:"unread"`
}

// SendMessage posts a message to the appointment's room.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req SendMessageRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	msg, err := h.Service.SendMessage(c.Request.Context(), actor, c.Param("id"), req.Body, req.ClientMessageID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Created(c, "Message sent successfully", msg)
}

// GetMessages returns the room history and marks it read.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	messages, err := h.Service.GetMessages(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	utils.Success(c, "Messages fetched successfully", messages)
}

// GetUnreadCount returns how many messages the caller has not read yet.
func (h *MessageHandler) GetUnreadCount(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	appointmentID := c.Param("id")
	count, err := h.Service.GetUnreadCount(c.Request.Context(), actor, appointmentID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Unread count fetched successfully", UnreadCountResponse{AppointmentID: appointmentID, Unread: count})
}
