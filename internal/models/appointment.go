package models

import (
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentStatus tracks the consultation fee.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// RescheduleStatus is "pending" while a proposal awaits the other party.
type RescheduleStatus string

const (
	RescheduleNone    RescheduleStatus = "none"
	ReschedulePending RescheduleStatus = "pending"
)

// ConsultationType is how the consultation is held.
type ConsultationType string

const (
	ConsultationVideo    ConsultationType = "video"
	ConsultationVoice    ConsultationType = "voice"
	ConsultationChat     ConsultationType = "chat"
	ConsultationInPerson ConsultationType = "in-person"
)

// Valid reports whether t is a known consultation type.
func (t ConsultationType) Valid() bool {
	switch t {
	case ConsultationVideo, ConsultationVoice, ConsultationChat, ConsultationInPerson:
		return true
	}
	return false
}

// Online reports whether the consultation happens through a joinable session.
func (t ConsultationType) Online() bool {
	return t == ConsultationVideo || t == ConsultationVoice || t == ConsultationChat
}

// CancelledBySystem marks cancellations not initiated by a user (reschedule expiry).
const CancelledBySystem = "system"

// Appointment represents a scheduled doctor-patient consultation.
// ScheduledDate is YYYY-MM-DD and ScheduledTime a 12-hour "hh:mm AM" clock in the
// server's configured timezone; they are only ever compared through timewindow.
type Appointment struct {
	BaseModel
	PatientID        string            `gorm:"size:36;index" json:"patientId"`
	DoctorID         string            `gorm:"size:36;index" json:"doctorId"`
	ScheduledDate    string            `gorm:"size:10;not null" json:"scheduledDate"`
	ScheduledTime    string            `gorm:"size:8;not null" json:"scheduledTime"`
	DurationMinutes  int               `gorm:"default:15" json:"durationMinutes"`
	ConsultationType ConsultationType  `gorm:"size:20;default:'video'" json:"consultationType"`
	Status           AppointmentStatus `gorm:"size:20;default:'pending';index" json:"status"`
	PaymentStatus    PaymentStatus     `gorm:"size:20;default:'pending'" json:"paymentStatus"`
	PaymentRef       string            `gorm:"size:128" json:"paymentRef,omitempty"`

	RescheduleStatus      RescheduleStatus `gorm:"size:20;default:'none';index" json:"rescheduleStatus"`
	ProposedDate          string           `gorm:"size:10" json:"proposedDate,omitempty"`
	ProposedTime          string           `gorm:"size:8" json:"proposedTime,omitempty"`
	RescheduleRequestedBy Role             `gorm:"size:20" json:"rescheduleRequestedBy,omitempty"`
	RescheduleRequestedAt *time.Time       `json:"rescheduleRequestedAt,omitempty"`

	CancellationReason string `gorm:"size:255" json:"cancellationReason,omitempty"`
	CancelledBy        string `gorm:"size:36" json:"cancelledBy,omitempty"`

	// Version is bumped on every write and used for compare-and-swap updates.
	Version int `gorm:"not null;default:0" json:"version"`

	// Relations
	Patient User `gorm:"foreignKey:PatientID" json:"-"`
	Doctor  User `gorm:"foreignKey:DoctorID" json:"-"`
}

// ParticipantRole returns the role userID plays in this appointment, or "" if none.
func (a *Appointment) ParticipantRole(userID string) Role {
	switch userID {
	case "":
		return ""
	case a.DoctorID:
		return RoleDoctor
	case a.PatientID:
		return RolePatient
	}
	return ""
}

// IsParticipant reports whether userID is the doctor or the patient.
func (a *Appointment) IsParticipant(userID string) bool {
	return a.ParticipantRole(userID) != ""
}

// Counterpart returns the other participant's id.
func (a *Appointment) Counterpart(userID string) string {
	switch userID {
	case a.DoctorID:
		return a.PatientID
	case a.PatientID:
		return a.DoctorID
	}
	return ""
}

// HasPendingReschedule reports whether a proposal is outstanding.
func (a *Appointment) HasPendingReschedule() bool {
	return a.RescheduleStatus == ReschedulePending
}

// ClearReschedule removes any outstanding proposal.
func (a *Appointment) ClearReschedule() {
	a.RescheduleStatus = RescheduleNone
	a.ProposedDate = ""
	a.ProposedTime = ""
	a.RescheduleRequestedBy = ""
	a.RescheduleRequestedAt = nil
}
