package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"telecare-server/internal/errs"
	"telecare-server/internal/keylock"
	"telecare-server/internal/logging"
	"telecare-server/internal/metrics"
	"telecare-server/internal/models"
	"telecare-server/internal/payments"
	"telecare-server/internal/timewindow"
)

const (
	maxWriteAttempts   = 3
	maxDurationMinutes = 240
)

// AppointmentStore persists appointments with compare-and-swap updates.
type AppointmentStore interface {
	Create(ctx context.Context, apt *models.Appointment) error
	FindByID(ctx context.Context, id string) (*models.Appointment, error)
	Update(ctx context.Context, apt *models.Appointment) error
	ListForUser(ctx context.Context, userID string, role models.Role) ([]models.Appointment, error)
	ListExpiredReschedules(ctx context.Context, cutoff time.Time) ([]models.Appointment, error)
	ListMissingRefunds(ctx context.Context) ([]models.Appointment, error)
}

// Directory looks up doctors and patients.
type Directory interface {
	FindByIDAndRole(ctx context.Context, id string, role models.Role) (*models.User, error)
}

// ChatRooms is the part of the chat manager the service exposes.
type ChatRooms interface {
	Send(ctx context.Context, appointmentID, senderID, body, clientMessageID string) (*models.Message, error)
	Messages(ctx context.Context, appointmentID, readerID string) ([]models.Message, error)
	UnreadCount(ctx context.Context, appointmentID, userID string) (int64, error)
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Role   models.Role
}

// System is the actor used by background sweeps.
var System = Actor{UserID: models.CancelledBySystem, Role: models.RoleAdmin}

// BookingRequest describes a new appointment.
type BookingRequest struct {
	DoctorID         string
	PatientID        string
	Date             string
	Time             string
	DurationMinutes  int
	ConsultationType models.ConsultationType
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Appointments AppointmentStore
	Users        Directory
	Payments     payments.Gateway
	Chat         ChatRooms
	Metrics      *metrics.Metrics
	Logger       *logging.Logger
	Location     *time.Location
	Now          func() time.Time
}

// Service is the scheduling core's entry point. Writes to one appointment are serialized
// in-process and guarded by a version compare-and-swap across processes.
type Service struct {
	appointments AppointmentStore
	users        Directory
	payments     payments.Gateway
	chat         ChatRooms
	metrics      *metrics.Metrics
	logger       *logging.Logger
	now          func() time.Time

	machine    *StateMachine
	negotiator *Negotiator
	locks      *keylock.KeyedMutex
}

// NewService creates the scheduling service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	machine := NewStateMachine(cfg.Location)
	return &Service{
		appointments: cfg.Appointments,
		users:        cfg.Users,
		payments:     cfg.Payments,
		chat:         cfg.Chat,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.Component("scheduling"),
		now:          cfg.Now,
		machine:      machine,
		negotiator:   NewNegotiator(machine),
		locks:        keylock.New(),
	}
}

// BookAppointment creates a pending appointment. Patients book for themselves; admins may
// book for any patient.
func (s *Service) BookAppointment(ctx context.Context, actor Actor, req BookingRequest) (*models.Appointment, error) {
	const op = "book appointment"

	switch actor.Role {
	case models.RolePatient:
		if req.PatientID == "" {
			req.PatientID = actor.UserID
		}
		if req.PatientID != actor.UserID {
			return nil, errs.New(errs.KindUnauthorized, op, "patients can only book for themselves")
		}
	case models.RoleAdmin:
		if req.PatientID == "" {
			return nil, errs.New(errs.KindValidation, op, "patientId is required")
		}
	default:
		return nil, errs.New(errs.KindUnauthorized, op, "only patients can book appointments")
	}

	if req.DurationMinutes == 0 {
		req.DurationMinutes = timewindow.DefaultDuration
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > maxDurationMinutes {
		return nil, errs.New(errs.KindValidation, op, fmt.Sprintf("durationMinutes must be between 1 and %d", maxDurationMinutes))
	}
	if req.ConsultationType == "" {
		req.ConsultationType = models.ConsultationVideo
	}
	if !req.ConsultationType.Valid() {
		return nil, errs.New(errs.KindValidation, op, "unknown consultation type")
	}

	start, err := timewindow.ParseStart(req.Date, req.Time, s.machine.Location())
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, op, err)
	}
	now := s.now()
	if !start.After(now) {
		return nil, errs.New(errs.KindValidation, op, "appointments must be booked in the future")
	}

	if _, err := s.users.FindByIDAndRole(ctx, req.DoctorID, models.RoleDoctor); err != nil {
		return nil, err
	}
	if _, err := s.users.FindByIDAndRole(ctx, req.PatientID, models.RolePatient); err != nil {
		return nil, err
	}

	apt := &models.Appointment{
		PatientID:        req.PatientID,
		DoctorID:         req.DoctorID,
		ScheduledDate:    timewindow.FormatDate(start),
		ScheduledTime:    timewindow.FormatClock(start),
		DurationMinutes:  req.DurationMinutes,
		ConsultationType: req.ConsultationType,
		Status:           models.StatusPending,
		PaymentStatus:    models.PaymentPending,
		RescheduleStatus: models.RescheduleNone,
	}
	if err := s.appointments.Create(ctx, apt); err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", apt.ID,
		"doctor_id", apt.DoctorID,
		"patient_id", apt.PatientID,
		"start", start.UTC().Format(time.RFC3339),
	)
	return apt, nil
}

// ConfirmPayment verifies the capture reference and confirms a pending appointment.
func (s *Service) ConfirmPayment(ctx context.Context, actor Actor, appointmentID, paymentRef string) (*models.Appointment, error) {
	return s.mutate(ctx, "confirm payment", appointmentID, func(apt models.Appointment, now time.Time) (models.Appointment, error) {
		if actor.Role != models.RoleAdmin && apt.ParticipantRole(actor.UserID) != models.RolePatient {
			return apt, errs.New(errs.KindUnauthorized, "confirm payment", "only the patient can pay for an appointment")
		}
		next, err := s.machine.Apply(apt, Transition{Event: EventPaymentCaptured, Now: now, PaymentRef: paymentRef})
		s.metrics.ObserveTransition(string(EventPaymentCaptured), err)
		if err != nil {
			return apt, err
		}
		if err := s.payments.VerifyCapture(ctx, apt, paymentRef); err != nil {
			return apt, err
		}
		return next, nil
	})
}

// CancelAppointment cancels on behalf of a participant, outside the protected window, or
// unconditionally for an admin. A paid appointment is refunded in full.
func (s *Service) CancelAppointment(ctx context.Context, actor Actor, appointmentID, reason string) (*models.Appointment, error) {
	return s.mutate(ctx, "cancel appointment", appointmentID, func(apt models.Appointment, now time.Time) (models.Appointment, error) {
		tr := Transition{Event: EventCancel, Now: now, Actor: actor.UserID, Reason: reason}
		switch {
		case actor.Role == models.RoleAdmin:
			tr.Event = EventAdminOverride
			tr.System = true
		case !apt.IsParticipant(actor.UserID):
			return apt, errs.New(errs.KindUnauthorized, "cancel appointment", "only participants can cancel")
		}
		if strings.TrimSpace(tr.Reason) == "" {
			tr.Reason = "cancelled by " + string(actor.Role)
		}

		next, err := s.machine.Apply(apt, tr)
		s.metrics.ObserveTransition(string(tr.Event), err)
		return next, err
	})
}

// CompleteConsultation lets the doctor close a consultation once it has started.
func (s *Service) CompleteConsultation(ctx context.Context, actor Actor, appointmentID string) (*models.Appointment, error) {
	return s.mutate(ctx, "complete consultation", appointmentID, func(apt models.Appointment, now time.Time) (models.Appointment, error) {
		if actor.Role != models.RoleAdmin && apt.ParticipantRole(actor.UserID) != models.RoleDoctor {
			return apt, errs.New(errs.KindUnauthorized, "complete consultation", "only the doctor can complete a consultation")
		}
		next, err := s.machine.Apply(apt, Transition{Event: EventConsultationCompleted, Now: now})
		s.metrics.ObserveTransition(string(EventConsultationCompleted), err)
		return next, err
	})
}

// GetJoinStatus answers whether actor may join the consultation now.
func (s *Service) GetJoinStatus(ctx context.Context, actor Actor, appointmentID string) (timewindow.JoinStatus, error) {
	apt, err := s.GetAppointment(ctx, actor, appointmentID)
	if err != nil {
		return timewindow.JoinStatus{}, err
	}

	switch {
	case apt.Status == models.StatusCancelled:
		return timewindow.JoinStatus{Message: "appointment cancelled"}, nil
	case apt.Status == models.StatusPending || apt.PaymentStatus != models.PaymentPaid:
		return timewindow.JoinStatus{}, errs.New(errs.KindPaymentRequired, "join status", "payment is required before joining")
	case !apt.ConsultationType.Online():
		return timewindow.JoinStatus{Message: "in-person consultation"}, nil
	}

	w, err := s.machine.Window(*apt)
	if err != nil {
		return timewindow.JoinStatus{}, err
	}
	status := w.JoinStatus(s.now())
	if apt.Status == models.StatusCompleted && status.CanJoin {
		return timewindow.JoinStatus{Message: "consultation completed"}, nil
	}
	return status, nil
}

// ProposeReschedule opens a reschedule proposal.
func (s *Service) ProposeReschedule(ctx context.Context, actor Actor, appointmentID, newDate, newTime string) (*models.Appointment, error) {
	return s.mutate(ctx, "propose reschedule", appointmentID, func(apt models.Appointment, now time.Time) (models.Appointment, error) {
		next, err := s.negotiator.Propose(apt, actor.UserID, newDate, newTime, now)
		s.metrics.ObserveTransition("rescheduleProposed", err)
		if err == nil {
			s.logger.Info("reschedule proposed",
				"appointment_id", apt.ID,
				"requested_by", next.RescheduleRequestedBy,
				"proposed_date", next.ProposedDate,
				"proposed_time", next.ProposedTime,
			)
		}
		return next, err
	})
}

// AcceptReschedule commits the pending proposal.
func (s *Service) AcceptReschedule(ctx context.Context, actor Actor, appointmentID string) (*models.Appointment, error) {
	return s.answer(ctx, "accept reschedule", appointmentID, func(apt models.Appointment, now time.Time) (models.Appointment, error) {
		next, err := s.negotiator.Accept(apt, actor.UserID, now)
		if err == nil {
			s.metrics.ObserveReschedule("accepted")
		}
		return next, err
	})
}

// RejectReschedule cancels the appointment with a full refund.
func (s *Service) RejectReschedule(ctx context.Context, actor Actor, appointmentID string) (*models.Appointment, error) {
	return s.answer(ctx, "reject reschedule", appointmentID, func(apt models.Appointment, now time.Time) (models.Appointment, error) {
		next, err := s.negotiator.Reject(apt, actor.UserID, now)
		if err == nil {
			s.metrics.ObserveReschedule("rejected")
		}
		return next, err
	})
}

// GetAppointment returns the appointment with any due expiry or completion applied.
func (s *Service) GetAppointment(ctx context.Context, actor Actor, appointmentID string) (*models.Appointment, error) {
	apt, err := s.mutate(ctx, "get appointment", appointmentID, nil)
	if err != nil {
		return nil, err
	}
	if err := authorizeRead(actor, apt); err != nil {
		return nil, err
	}
	return apt, nil
}

// ListAppointments returns the actor's appointments with lazy transitions applied.
func (s *Service) ListAppointments(ctx context.Context, actor Actor) ([]models.Appointment, error) {
	list, err := s.appointments.ListForUser(ctx, actor.UserID, actor.Role)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range list {
		if _, due := s.settle(list[i], now, true); !due {
			continue
		}
		refreshed, err := s.mutate(ctx, "list appointments", list[i].ID, nil)
		if err != nil {
			return nil, err
		}
		list[i] = *refreshed
	}
	return list, nil
}

// ExpireStaleReschedules cancels every appointment whose proposal passed its deadline and
// returns how many were cancelled.
func (s *Service) ExpireStaleReschedules(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-timewindow.RescheduleDeadline)
	stale, err := s.appointments.ListExpiredReschedules(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errList []error
	for _, apt := range stale {
		updated, err := s.mutate(ctx, "expire reschedule", apt.ID, nil)
		if err != nil {
			errList = append(errList, fmt.Errorf("appointment %s: %w", apt.ID, err))
			continue
		}
		if updated.Status == models.StatusCancelled && updated.CancellationReason == ReasonRescheduleExpired {
			expired++
		}
	}
	return expired, errors.Join(errList...)
}

// RetryRefunds re-triggers refunds for refunded appointments whose refund request never
// reached the payment ledger and returns how many were recorded.
func (s *Service) RetryRefunds(ctx context.Context) (int, error) {
	due, err := s.appointments.ListMissingRefunds(ctx)
	if err != nil {
		return 0, err
	}

	retried := 0
	var errList []error
	for _, apt := range due {
		unlock := s.locks.Lock(apt.ID)
		err := s.payments.TriggerRefund(ctx, apt, apt.CancellationReason)
		unlock()
		if err != nil {
			errList = append(errList, fmt.Errorf("appointment %s: %w", apt.ID, err))
			continue
		}
		s.logger.WithAppointment(apt.ID).Info("refund request retried")
		retried++
	}
	return retried, errors.Join(errList...)
}

// SendMessage posts a chat message to the appointment's room.
func (s *Service) SendMessage(ctx context.Context, actor Actor, appointmentID, body, clientMessageID string) (*models.Message, error) {
	return s.chat.Send(ctx, appointmentID, actor.UserID, body, clientMessageID)
}

// GetMessages returns the room history and marks it read for actor.
func (s *Service) GetMessages(ctx context.Context, actor Actor, appointmentID string) ([]models.Message, error) {
	return s.chat.Messages(ctx, appointmentID, actor.UserID)
}

// GetUnreadCount counts messages actor has not read yet.
func (s *Service) GetUnreadCount(ctx context.Context, actor Actor, appointmentID string) (int64, error) {
	return s.chat.UnreadCount(ctx, appointmentID, actor.UserID)
}

type mutation func(apt models.Appointment, now time.Time) (models.Appointment, error)

// mutate loads the appointment, settles time-driven transitions, applies fn and persists
// the result. A version conflict re-reads and re-evaluates fn against the fresh state. A nil
// fn only settles. fn's error is returned with the persisted state; ProposalExpired still
// persists the expiry fn produced.
func (s *Service) mutate(ctx context.Context, op, appointmentID string, fn mutation) (*models.Appointment, error) {
	return s.write(ctx, op, appointmentID, true, fn)
}

// answer is mutate for proposal answers: a lapsed proposal is left for fn to resolve so
// the caller learns it expired rather than that it was already resolved.
func (s *Service) answer(ctx context.Context, op, appointmentID string, fn mutation) (*models.Appointment, error) {
	return s.write(ctx, op, appointmentID, false, fn)
}

func (s *Service) write(ctx context.Context, op, appointmentID string, expire bool, fn mutation) (*models.Appointment, error) {
	unlock := s.locks.Lock(appointmentID)
	defer unlock()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.appointments.FindByID(ctx, appointmentID)
		if err != nil {
			return nil, err
		}

		now := s.now()
		settled, _ := s.settle(*current, now, expire)

		next := settled
		var opErr error
		if fn != nil {
			candidate, err := fn(settled, now)
			opErr = err
			if err == nil || errs.KindOf(err) == errs.KindProposalExpired {
				next = candidate
			}
		}

		if !changed(*current, next) {
			return current, opErr
		}

		if err := s.appointments.Update(ctx, &next); err != nil {
			if errs.KindOf(err) == errs.KindConflict {
				s.logger.Debug("appointment changed concurrently, retrying", "appointment_id", appointmentID, "op", op, "attempt", attempt+1)
				continue
			}
			return nil, err
		}

		s.afterWrite(ctx, *current, next)
		return &next, opErr
	}

	return nil, errs.New(errs.KindConflict, op, "appointment is being modified concurrently, retry later")
}

// settle applies reschedule expiry (when expire is set) and derived completion when due.
func (s *Service) settle(apt models.Appointment, now time.Time, expire bool) (models.Appointment, bool) {
	next := apt
	due := false
	if expire {
		if expired, ok := s.negotiator.Expire(next, now); ok {
			next = expired
			due = true
		}
	}
	if completed, ok := s.machine.Derive(next, now); ok {
		next = completed
		due = true
	}
	return next, due
}

func (s *Service) afterWrite(ctx context.Context, before, after models.Appointment) {
	logger := s.logger.WithAppointment(after.ID)
	if before.Status != after.Status {
		logger.Info("appointment status changed", "from", before.Status, "to", after.Status, "reason", after.CancellationReason)
		if after.CancelledBy == models.CancelledBySystem && after.CancellationReason == ReasonRescheduleExpired {
			s.metrics.ObserveReschedule("expired")
		}
	}
	if !refunded(before, after) {
		return
	}

	s.metrics.ObserveRefund()
	if err := s.payments.TriggerRefund(ctx, after, after.CancellationReason); err != nil {
		logger.Error("failed to trigger refund, leaving it for the sweeper", "error", err)
	}
}

func authorizeRead(actor Actor, apt *models.Appointment) error {
	if actor.Role == models.RoleAdmin || apt.IsParticipant(actor.UserID) {
		return nil
	}
	return errs.New(errs.KindUnauthorized, "get appointment", "user is not a participant of this appointment")
}

func changed(a, b models.Appointment) bool {
	return a.Status != b.Status ||
		a.PaymentStatus != b.PaymentStatus ||
		a.PaymentRef != b.PaymentRef ||
		a.ScheduledDate != b.ScheduledDate ||
		a.ScheduledTime != b.ScheduledTime ||
		a.RescheduleStatus != b.RescheduleStatus ||
		a.ProposedDate != b.ProposedDate ||
		a.ProposedTime != b.ProposedTime ||
		a.RescheduleRequestedBy != b.RescheduleRequestedBy ||
		!sameInstant(a.RescheduleRequestedAt, b.RescheduleRequestedAt) ||
		a.CancellationReason != b.CancellationReason ||
		a.CancelledBy != b.CancelledBy
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
