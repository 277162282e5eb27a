package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message is one chat line in an appointment's room. Messages are append-only.
type Message struct {
	BaseModel
	AppointmentID   string `gorm:"size:36;index;not null" json:"appointmentId"`
	SenderID        string `gorm:"size:36;index" json:"senderId"`
	SenderRole      Role   `gorm:"size:20" json:"senderRole"`
	Body            string `gorm:"type:text;not null" json:"body"`
	ClientMessageID string `gorm:"size:64;index" json:"clientMessageId,omitempty"`
}

// BeforeCreate assigns a time-ordered id so messages stamped with the same instant still
// sort in insertion order by (created_at, id).
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID != "" {
		return nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	m.ID = id.String()
	return nil
}

// ReadMarker is the last message in a room a participant has read up to, identified by
// its (created_at, id) position.
type ReadMarker struct {
	AppointmentID     string    `gorm:"primaryKey;size:36" json:"appointmentId"`
	UserID            string    `gorm:"primaryKey;size:36" json:"userId"`
	LastReadAt        time.Time `json:"lastReadAt"`
	LastReadMessageID string    `gorm:"size:36" json:"lastReadMessageId"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
