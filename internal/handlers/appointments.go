package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"telecare-server/internal/models"
	"telecare-server/internal/scheduling"
	"telecare-server/internal/timewindow"
	"telecare-server/internal/utils"
)

// AppointmentService is the scheduling surface the appointment endpoints call.
type AppointmentService interface {
	BookAppointment(ctx context.Context, actor scheduling.Actor, req scheduling.BookingRequest) (*models.Appointment, error)
	ConfirmPayment(ctx context.Context, actor scheduling.Actor, appointmentID, paymentRef string) (*models.Appointment, error)
	CancelAppointment(ctx context.Context, actor scheduling.Actor, appointmentID, reason string) (*models.Appointment, error)
	CompleteConsultation(ctx context.Context, actor scheduling.Actor, appointmentID string) (*models.Appointment, error)
	GetJoinStatus(ctx context.Context, actor scheduling.Actor, appointmentID string) (timewindow.JoinStatus, error)
	ProposeReschedule(ctx context.Context, actor scheduling.Actor, appointmentID, newDate, newTime string) (*models.Appointment, error)
	AcceptReschedule(ctx context.Context, actor scheduling.Actor, appointmentID string) (*models.Appointment, error)
	RejectReschedule(ctx context.Context, actor scheduling.Actor, appointmentID string) (*models.Appointment, error)
	GetAppointment(ctx context.Context, actor scheduling.Actor, appointmentID string) (*models.Appointment, error)
	ListAppointments(ctx context.Context, actor scheduling.Actor) ([]models.Appointment, error)
}

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	Service AppointmentService
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(service AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{Service: service}
}

// BookAppointmentRequest represents the request body for booking an appointment.
type BookAppointmentRequest struct {
	DoctorID         string `json:"doctorId" binding:"required"`
	PatientID        string `json:"patientId"` // admins only; patients book for themselves
	ScheduledDate    string `json:"scheduledDate" binding:"required"`
	ScheduledTime    string `json:"scheduledTime" binding:"required"`
	DurationMinutes  int    `json:"durationMinutes" binding:"omitempty,min=1,max=240"`
	ConsultationType string `json:"consultationType" binding:"omitempty,oneof=video voice chat in-person"`
}

// CreateAppointment books a new pending appointment.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req BookAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	apt, err := h.Service.BookAppointment(c.Request.Context(), actor, scheduling.BookingRequest{
		DoctorID:         req.DoctorID,
		PatientID:        req.PatientID,
		Date:             req.ScheduledDate,
		Time:             req.ScheduledTime,
		DurationMinutes:  req.DurationMinutes,
		ConsultationType: models.ConsultationType(req.ConsultationType),
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Created(c, "Appointment booked successfully", apt)
}

// GetAppointmentsForUser lists the caller's appointments.
func (h *AppointmentHandler) GetAppointmentsForUser(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	appointments, err := h.Service.ListAppointments(c.Request.Context(), actor)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	if appointments == nil {
		appointments = []models.Appointment{}
	}
	utils.Success(c, "Appointments fetched successfully", appointments)
}

// GetAppointmentByID fetches one appointment the caller takes part in.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	apt, err := h.Service.GetAppointment(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Appointment fetched successfully", apt)
}

// ConfirmPaymentRequest carries the payment provider's capture reference.
type ConfirmPaymentRequest struct {
	PaymentRef string `json:"paymentRef" binding:"required,max=128"`
}

// ConfirmPayment confirms a pending appointment once its payment is captured.
func (h *AppointmentHandler) ConfirmPayment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req ConfirmPaymentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	apt, err := h.Service.ConfirmPayment(c.Request.Context(), actor, c.Param("id"), req.PaymentRef)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Payment confirmed", apt)
}

// CancelAppointmentRequest optionally explains a cancellation.
type CancelAppointmentRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// CancelAppointment cancels an appointment.
func (h *AppointmentHandler) CancelAppointment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if !utils.BindOptional(c, &req) {
		return
	}

	apt, err := h.Service.CancelAppointment(c.Request.Context(), actor, c.Param("id"), req.Reason)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Appointment cancelled", apt)
}

// CompleteConsultation lets the doctor mark the consultation done.
func (h *AppointmentHandler) CompleteConsultation(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	apt, err := h.Service.CompleteConsultation(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Consultation completed", apt)
}

// GetJoinStatus reports whether the caller can join the consultation now.
func (h *AppointmentHandler) GetJoinStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	status, err := h.Service.GetJoinStatus(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Join status fetched successfully", status)
}

// ProposeRescheduleRequest carries the proposed slot.
type ProposeRescheduleRequest struct {
	NewDate string `json:"newDate" binding:"required"`
	NewTime string `json:"newTime" binding:"required"`
}

// ProposeReschedule opens a reschedule proposal for the other participant to answer.
func (h *AppointmentHandler) ProposeReschedule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req ProposeRescheduleRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	apt, err := h.Service.ProposeReschedule(c.Request.Context(), actor, c.Param("id"), req.NewDate, req.NewTime)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Reschedule proposed", apt)
}

// AcceptReschedule commits the pending proposal.
func (h *AppointmentHandler) AcceptReschedule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	apt, err := h.Service.AcceptReschedule(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Reschedule accepted", apt)
}

// RejectReschedule declines the pending proposal, which cancels the appointment.
func (h *AppointmentHandler) RejectReschedule(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}

	apt, err := h.Service.RejectReschedule(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.Success(c, "Reschedule rejected, appointment cancelled", apt)
}
