package models

// PaymentEventKind distinguishes ledger entries.
type PaymentEventKind string

const (
	PaymentEventCapture         PaymentEventKind = "capture"
	PaymentEventRefundRequested PaymentEventKind = "refund_requested"
)

// PaymentEvent is a ledger row recording a capture or a refund trigger for an appointment.
// Refund execution happens in the external payment system.
type PaymentEvent struct {
	BaseModel
	AppointmentID string           `gorm:"size:36;index" json:"appointmentId"`
	Kind          PaymentEventKind `gorm:"size:32" json:"kind"`
	Reference     string           `gorm:"size:128;index" json:"reference"`
	Reason        string           `gorm:"size:255" json:"reason,omitempty"`
}
