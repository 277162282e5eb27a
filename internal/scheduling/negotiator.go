package scheduling

import (
	"time"

	"telecare-server/internal/errs"
	"telecare-server/internal/models"
	"telecare-server/internal/timewindow"
)

// Resolution reasons recorded on cancelled appointments.
const (
	ReasonRescheduleRejected = "reschedule rejected"
	ReasonRescheduleExpired  = "reschedule expired"
)

// Negotiator runs the two-party reschedule handshake. A proposal is answered by the other
// participant within timewindow.RescheduleDeadline; rejection and expiry cancel the
// appointment with a full refund.
type Negotiator struct {
	sm *StateMachine
}

// NewNegotiator creates a negotiator on top of sm.
func NewNegotiator(sm *StateMachine) *Negotiator {
	return &Negotiator{sm: sm}
}

// Propose opens a reschedule proposal from proposerID for newDate/newTime.
func (n *Negotiator) Propose(apt models.Appointment, proposerID, newDate, newTime string, now time.Time) (models.Appointment, error) {
	const op = "propose reschedule"

	role := apt.ParticipantRole(proposerID)
	if role == "" {
		return apt, errs.New(errs.KindUnauthorized, op, "only the doctor or the patient can propose a new time")
	}
	if apt.HasPendingReschedule() {
		return apt, errs.New(errs.KindAlreadyPending, op, "a reschedule proposal is already pending")
	}
	if apt.Status != models.StatusConfirmed {
		return apt, errs.New(errs.KindInvalidTransition, op, "only confirmed appointments can be rescheduled")
	}

	current, err := n.sm.Window(apt)
	if err != nil {
		return apt, err
	}
	if current.IsWithinProtectedWindow(now) {
		return apt, errs.New(errs.KindInvalidTransition, op, "appointments cannot be rescheduled within one hour of the start time")
	}

	start, err := timewindow.ParseStart(newDate, newTime, n.sm.Location())
	if err != nil {
		return apt, errs.Wrap(errs.KindValidation, op, err)
	}
	if !start.After(now) {
		return apt, errs.New(errs.KindValidation, op, "the proposed time must be in the future")
	}

	requestedAt := now.UTC()
	next := apt
	next.RescheduleStatus = models.ReschedulePending
	next.ProposedDate = timewindow.FormatDate(start)
	next.ProposedTime = timewindow.FormatClock(start)
	next.RescheduleRequestedBy = role
	next.RescheduleRequestedAt = &requestedAt
	return next, nil
}

// Accept commits the proposed slot. Only the participant who did not propose may accept.
// Past the deadline the expiry is applied instead, for either participant, and the expired
// appointment is returned together with errs.ErrProposalExpired so the caller can persist it.
func (n *Negotiator) Accept(apt models.Appointment, responderID string, now time.Time) (models.Appointment, error) {
	const op = "accept reschedule"

	if next, err := n.checkResponder(op, apt, responderID, now); err != nil {
		return next, err
	}

	next := apt
	next.ScheduledDate = apt.ProposedDate
	next.ScheduledTime = apt.ProposedTime
	next.ClearReschedule()
	return next, nil
}

// Reject cancels the appointment with a full refund when it was paid.
func (n *Negotiator) Reject(apt models.Appointment, responderID string, now time.Time) (models.Appointment, error) {
	const op = "reject reschedule"

	if next, err := n.checkResponder(op, apt, responderID, now); err != nil {
		return next, err
	}

	return n.sm.Apply(apt, Transition{
		Event:  EventCancel,
		Now:    now,
		Actor:  responderID,
		System: true,
		Reason: ReasonRescheduleRejected,
	})
}

// Expire cancels the appointment if its pending proposal is past the deadline. The bool
// reports whether anything changed.
func (n *Negotiator) Expire(apt models.Appointment, now time.Time) (models.Appointment, bool) {
	if !apt.HasPendingReschedule() || apt.RescheduleRequestedAt == nil {
		return apt, false
	}
	if !timewindow.RescheduleExpired(*apt.RescheduleRequestedAt, now) {
		return apt, false
	}

	next, err := n.sm.Apply(apt, Transition{
		Event:  EventCancel,
		Now:    now,
		Actor:  models.CancelledBySystem,
		System: true,
		Reason: ReasonRescheduleExpired,
	})
	if err != nil {
		return apt, false
	}
	return next, true
}

// checkResponder settles a lapsed proposal before the proposer check, so a late answer from
// either participant reports the expiry and hands back the expired appointment.
func (n *Negotiator) checkResponder(op string, apt models.Appointment, responderID string, now time.Time) (models.Appointment, error) {
	role := apt.ParticipantRole(responderID)
	if role == "" {
		return apt, errs.New(errs.KindUnauthorized, op, "only the doctor or the patient can answer a proposal")
	}
	if !apt.HasPendingReschedule() {
		return apt, errs.New(errs.KindAlreadyResolved, op, "no reschedule proposal is pending")
	}
	if expired, ok := n.Expire(apt, now); ok {
		return expired, errs.New(errs.KindProposalExpired, op, "the reschedule proposal has expired")
	}
	if role == apt.RescheduleRequestedBy {
		return apt, errs.New(errs.KindUnauthorized, op, "the proposer cannot answer their own proposal")
	}
	return apt, nil
}
