package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telecare-server/internal/models"
	"telecare-server/internal/timewindow"
)

func TestCreateAppointment(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(http.MethodPost, "/api/v1/appointments", f.patient, BookAppointmentRequest{
		DoctorID:      f.doctor.ID,
		ScheduledDate: "2025-09-10",
		ScheduledTime: "2:00 pm",
	})
	require.Equal(t, http.StatusCreated, code, env.Error)

	apt := decodeData[models.Appointment](t, env)
	assert.Equal(t, f.patient.ID, apt.PatientID)
	assert.Equal(t, "02:00 PM", apt.ScheduledTime)
	assert.Equal(t, 15, apt.DurationMinutes)
	assert.Equal(t, models.StatusPending, apt.Status)
}

func TestCreateAppointmentRejections(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name string
		user *models.User
		body any
		code int
		kind string
	}{
		{"doctor cannot book", f.doctor, BookAppointmentRequest{DoctorID: f.doctor.ID, ScheduledDate: "2025-09-10", ScheduledTime: "02:00 PM"}, http.StatusForbidden, ""},
		{"missing fields", f.patient, map[string]string{"doctorId": f.doctor.ID}, http.StatusBadRequest, ""},
		{"bad consultation type", f.patient, map[string]any{"doctorId": f.doctor.ID, "scheduledDate": "2025-09-10", "scheduledTime": "02:00 PM", "consultationType": "telepathy"}, http.StatusBadRequest, ""},
		{"slot in the past", f.patient, BookAppointmentRequest{DoctorID: f.doctor.ID, ScheduledDate: "2025-09-09", ScheduledTime: "02:00 PM"}, http.StatusBadRequest, "validation"},
		{"unknown doctor", f.patient, BookAppointmentRequest{DoctorID: f.other.ID, ScheduledDate: "2025-09-10", ScheduledTime: "02:00 PM"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := f.do(http.MethodPost, "/api/v1/appointments", tt.user, tt.body)
			assert.Equal(t, tt.code, code, env.Error)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, env.Code)
			}
		})
	}

	code, _ := f.do(http.MethodPost, "/api/v1/appointments", nil, BookAppointmentRequest{})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestConfirmPaymentAndJoinStatus(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()
	assert.Equal(t, models.StatusConfirmed, apt.Status)
	assert.Equal(t, models.PaymentPaid, apt.PaymentStatus)

	path := "/api/v1/appointments/" + apt.ID + "/join-status"

	f.clock.Set(time.Date(2025, 9, 10, 13, 44, 59, 0, time.UTC))
	code, env := f.do(http.MethodGet, path, f.patient, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	status := decodeData[timewindow.JoinStatus](t, env)
	assert.False(t, status.CanJoin)
	assert.Equal(t, "in 15m", status.Message)

	f.clock.Set(time.Date(2025, 9, 10, 14, 10, 0, 0, time.UTC))
	code, env = f.do(http.MethodGet, path, f.doctor, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	status = decodeData[timewindow.JoinStatus](t, env)
	assert.True(t, status.CanJoin)
	assert.Equal(t, "Join Now", status.Message)

	code, env = f.do(http.MethodGet, path, f.other, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "unauthorized", env.Code)
}

func TestJoinStatusRequiresPayment(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(http.MethodPost, "/api/v1/appointments", f.patient, BookAppointmentRequest{
		DoctorID:      f.doctor.ID,
		ScheduledDate: "2025-09-10",
		ScheduledTime: "02:00 PM",
	})
	require.Equal(t, http.StatusCreated, code)
	apt := decodeData[models.Appointment](t, env)

	code, env = f.do(http.MethodGet, "/api/v1/appointments/"+apt.ID+"/join-status", f.patient, nil)
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "payment_required", env.Code)

	code, _ = f.do(http.MethodPost, "/api/v1/appointments/"+apt.ID+"/payment", f.patient, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, code, "payment reference is required")
}

func TestCancelAppointment(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()

	// No body is fine; the reason defaults.
	code, env := f.do(http.MethodPost, "/api/v1/appointments/"+apt.ID+"/cancel", f.patient, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	cancelled := decodeData[models.Appointment](t, env)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, models.PaymentRefunded, cancelled.PaymentStatus)

	code, env = f.do(http.MethodPost, "/api/v1/appointments/"+apt.ID+"/cancel", f.patient, CancelAppointmentRequest{Reason: "again"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Code)
}

func TestCancelInsideProtectedWindow(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()

	f.clock.Set(time.Date(2025, 9, 10, 13, 30, 0, 0, time.UTC))
	code, env := f.do(http.MethodPost, "/api/v1/appointments/"+apt.ID+"/cancel", f.doctor, CancelAppointmentRequest{Reason: "busy"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", env.Code)

	code, env = f.do(http.MethodPost, "/api/v1/appointments/"+apt.ID+"/cancel", f.admin, CancelAppointmentRequest{Reason: "doctor unavailable"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, models.StatusCancelled, decodeData[models.Appointment](t, env).Status)
}

func TestRescheduleFlow(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()
	base := "/api/v1/appointments/" + apt.ID

	code, env := f.do(http.MethodPost, base+"/reschedule", f.doctor, ProposeRescheduleRequest{NewDate: "2025-09-11", NewTime: "10:30 AM"})
	require.Equal(t, http.StatusOK, code, env.Error)
	proposed := decodeData[models.Appointment](t, env)
	assert.Equal(t, models.ReschedulePending, proposed.RescheduleStatus)
	assert.Equal(t, models.RoleDoctor, proposed.RescheduleRequestedBy)

	code, env = f.do(http.MethodPost, base+"/reschedule", f.patient, ProposeRescheduleRequest{NewDate: "2025-09-12", NewTime: "10:30 AM"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_pending", env.Code)

	code, env = f.do(http.MethodPost, base+"/reschedule/accept", f.doctor, nil)
	assert.Equal(t, http.StatusForbidden, code, "the proposer cannot answer")

	code, env = f.do(http.MethodPost, base+"/reschedule/accept", f.patient, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	accepted := decodeData[models.Appointment](t, env)
	assert.Equal(t, "2025-09-11", accepted.ScheduledDate)
	assert.Equal(t, "10:30 AM", accepted.ScheduledTime)
	assert.Equal(t, models.RescheduleNone, accepted.RescheduleStatus)

	code, env = f.do(http.MethodPost, base+"/reschedule/accept", f.patient, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_resolved", env.Code)
}

func TestRescheduleRejectAndExpiry(t *testing.T) {
	f := newAPIFixture(t)

	rejected := f.bookConfirmed()
	base := "/api/v1/appointments/" + rejected.ID
	code, _ := f.do(http.MethodPost, base+"/reschedule", f.patient, ProposeRescheduleRequest{NewDate: "2025-09-11", NewTime: "09:00 AM"})
	require.Equal(t, http.StatusOK, code)
	code, env := f.do(http.MethodPost, base+"/reschedule/reject", f.doctor, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	apt := decodeData[models.Appointment](t, env)
	assert.Equal(t, models.StatusCancelled, apt.Status)
	assert.Equal(t, models.PaymentRefunded, apt.PaymentStatus)

	expiring := f.bookConfirmed()
	base = "/api/v1/appointments/" + expiring.ID
	code, _ = f.do(http.MethodPost, base+"/reschedule", f.doctor, ProposeRescheduleRequest{NewDate: "2025-09-11", NewTime: "09:00 AM"})
	require.Equal(t, http.StatusOK, code)

	f.clock.Set(time.Date(2025, 9, 10, 9, 0, 1, 0, time.UTC))
	code, env = f.do(http.MethodPost, base+"/reschedule/accept", f.patient, nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "proposal_expired", env.Code)

	code, env = f.do(http.MethodGet, base, f.patient, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusCancelled, decodeData[models.Appointment](t, env).Status)
}

func TestCompleteConsultation(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()
	path := "/api/v1/appointments/" + apt.ID + "/complete"

	code, _ := f.do(http.MethodPost, path, f.patient, nil)
	assert.Equal(t, http.StatusForbidden, code)

	f.clock.Set(time.Date(2025, 9, 10, 14, 5, 0, 0, time.UTC))
	code, env := f.do(http.MethodPost, path, f.doctor, nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, models.StatusCompleted, decodeData[models.Appointment](t, env).Status)
}

func TestGetAppointments(t *testing.T) {
	f := newAPIFixture(t)
	apt := f.bookConfirmed()

	code, env := f.do(http.MethodGet, "/api/v1/appointments", f.doctor, nil)
	require.Equal(t, http.StatusOK, code)
	list := decodeData[[]models.Appointment](t, env)
	require.Len(t, list, 1)
	assert.Equal(t, apt.ID, list[0].ID)

	code, env = f.do(http.MethodGet, "/api/v1/appointments", f.other, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeData[[]models.Appointment](t, env))

	code, env = f.do(http.MethodGet, "/api/v1/appointments/"+apt.ID, f.other, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = f.do(http.MethodGet, "/api/v1/appointments/missing", f.patient, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Code)
}
