// Package scheduling owns the appointment lifecycle: the state machine, the two-party
// reschedule handshake and the service that composes them with storage, payments and chat.
package scheduling

import (
	"fmt"
	"strings"
	"time"

	"telecare-server/internal/errs"
	"telecare-server/internal/models"
	"telecare-server/internal/timewindow"
)

// Event is a state machine input.
type Event string

const (
	EventPaymentCaptured           Event = "paymentCaptured"
	EventCancel                    Event = "cancel"
	EventConsultationWindowElapsed Event = "consultationWindowElapsed"
	EventConsultationCompleted     Event = "consultationCompleted"
	EventAdminOverride             Event = "adminOverride"
)

// Transition is one event applied at a point in time.
type Transition struct {
	Event Event
	Now   time.Time
	// Actor is the user id recorded as the canceller; models.CancelledBySystem for sweeps.
	Actor string
	// System bypasses the protected-window guard on cancel.
	System     bool
	Reason     string
	PaymentRef string
}

// StateMachine applies lifecycle transitions to appointments.
type StateMachine struct {
	loc *time.Location
}

// NewStateMachine creates a state machine reading appointment times in loc.
func NewStateMachine(loc *time.Location) *StateMachine {
	if loc == nil {
		loc = time.UTC
	}
	return &StateMachine{loc: loc}
}

// Location is the timezone appointment date and time fields are interpreted in.
func (sm *StateMachine) Location() *time.Location {
	return sm.loc
}

// Window resolves the appointment's consultation window.
func (sm *StateMachine) Window(apt models.Appointment) (timewindow.Window, error) {
	w, err := timewindow.Parse(apt.ScheduledDate, apt.ScheduledTime, apt.DurationMinutes, sm.loc)
	if err != nil {
		return timewindow.Window{}, fmt.Errorf("appointment %s has an invalid schedule: %w", apt.ID, err)
	}
	return w, nil
}

// Apply returns apt after tr. apt is passed by value; on error the returned appointment is
// the unchanged input.
func (sm *StateMachine) Apply(apt models.Appointment, tr Transition) (models.Appointment, error) {
	next := apt
	op := string(tr.Event)

	if apt.Status.IsTerminal() {
		return apt, errs.New(errs.KindInvalidTransition, op, fmt.Sprintf("appointment is already %s", apt.Status))
	}

	switch tr.Event {
	case EventPaymentCaptured:
		if apt.Status != models.StatusPending {
			return apt, errs.New(errs.KindInvalidTransition, op, "only pending appointments can be confirmed")
		}
		next.Status = models.StatusConfirmed
		next.PaymentStatus = models.PaymentPaid
		next.PaymentRef = strings.TrimSpace(tr.PaymentRef)

	case EventCancel:
		if !tr.System {
			w, err := sm.Window(apt)
			if err != nil {
				return apt, err
			}
			if w.IsWithinProtectedWindow(tr.Now) {
				return apt, errs.New(errs.KindInvalidTransition, op, "appointments cannot be cancelled within one hour of the start time")
			}
		}
		cancel(&next, tr)

	case EventConsultationWindowElapsed:
		if apt.Status != models.StatusConfirmed {
			return apt, errs.New(errs.KindInvalidTransition, op, "only confirmed appointments can complete")
		}
		w, err := sm.Window(apt)
		if err != nil {
			return apt, err
		}
		if !w.Elapsed(tr.Now) {
			return apt, errs.New(errs.KindInvalidTransition, op, "consultation window has not elapsed")
		}
		complete(&next)

	case EventConsultationCompleted:
		if apt.Status != models.StatusConfirmed {
			return apt, errs.New(errs.KindInvalidTransition, op, "only confirmed appointments can complete")
		}
		w, err := sm.Window(apt)
		if err != nil {
			return apt, err
		}
		if !w.Started(tr.Now) {
			return apt, errs.New(errs.KindInvalidTransition, op, "consultation has not started")
		}
		complete(&next)

	case EventAdminOverride:
		cancel(&next, tr)

	default:
		return apt, errs.New(errs.KindInvalidTransition, op, "unknown event")
	}

	return next, nil
}

// Derive applies the time-driven completion if it is due. It never fails.
func (sm *StateMachine) Derive(apt models.Appointment, now time.Time) (models.Appointment, bool) {
	if apt.Status != models.StatusConfirmed {
		return apt, false
	}
	next, err := sm.Apply(apt, Transition{Event: EventConsultationWindowElapsed, Now: now})
	if err != nil {
		return apt, false
	}
	return next, true
}

func cancel(apt *models.Appointment, tr Transition) {
	apt.Status = models.StatusCancelled
	apt.CancellationReason = strings.TrimSpace(tr.Reason)
	apt.CancelledBy = tr.Actor
	apt.ClearReschedule()
	if apt.PaymentStatus == models.PaymentPaid {
		apt.PaymentStatus = models.PaymentRefunded
	}
}

func complete(apt *models.Appointment) {
	apt.Status = models.StatusCompleted
	apt.ClearReschedule()
}

// refunded reports whether moving from before to after released a captured payment.
func refunded(before, after models.Appointment) bool {
	return before.PaymentStatus == models.PaymentPaid && after.PaymentStatus == models.PaymentRefunded
}
