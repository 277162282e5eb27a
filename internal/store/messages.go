package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telecare-server/internal/errs"
	"telecare-server/internal/models"
)

// MessageRepository is the append-only chat log plus per-user read markers.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append stores a new message.
func (r *MessageRepository) Append(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// FindByClientID returns the message a sender already stored under clientMessageID, if any.
func (r *MessageRepository) FindByClientID(ctx context.Context, appointmentID, senderID, clientMessageID string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Where("appointment_id = ? AND sender_id = ? AND client_message_id = ?", appointmentID, senderID, clientMessageID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find message by client id: %w", err)
	}
	return &msg, nil
}

// List returns a room's full history in delivery order.
func (r *MessageRepository) List(ctx context.Context, appointmentID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Order("created_at asc, id asc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// ListAfter returns messages that follow afterID in delivery order.
func (r *MessageRepository) ListAfter(ctx context.Context, appointmentID, afterID string) ([]models.Message, error) {
	var anchor models.Message
	err := r.db.WithContext(ctx).
		Where("appointment_id = ? AND id = ?", appointmentID, afterID).
		First(&anchor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, "list messages after", "anchor message not found")
		}
		return nil, fmt.Errorf("failed to load anchor message: %w", err)
	}

	var messages []models.Message
	err = r.db.WithContext(ctx).
		Where("appointment_id = ?", appointmentID).
		Where("created_at > ? OR (created_at = ? AND id > ?)", anchor.CreatedAt, anchor.CreatedAt, anchor.ID).
		Order("created_at asc, id asc").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// CountUnread counts messages not authored by userID positioned after marker.
func (r *MessageRepository) CountUnread(ctx context.Context, appointmentID, userID string, marker models.ReadMarker) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("appointment_id = ? AND sender_id <> ?", appointmentID, userID).
		Where("created_at > ? OR (created_at = ? AND id > ?)", marker.LastReadAt, marker.LastReadAt, marker.LastReadMessageID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// ReadMarker returns the user's read marker for the room; the zero marker when never read.
func (r *MessageRepository) ReadMarker(ctx context.Context, appointmentID, userID string) (models.ReadMarker, error) {
	var marker models.ReadMarker
	err := r.db.WithContext(ctx).
		Where("appointment_id = ? AND user_id = ?", appointmentID, userID).
		First(&marker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ReadMarker{AppointmentID: appointmentID, UserID: userID}, nil
		}
		return models.ReadMarker{}, fmt.Errorf("failed to load read marker: %w", err)
	}
	return marker, nil
}

// AdvanceReadMarker moves the user's marker forward to last. It never moves backwards.
func (r *MessageRepository) AdvanceReadMarker(ctx context.Context, appointmentID, userID string, last models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ReadMarker{}).
			Where("appointment_id = ? AND user_id = ?", appointmentID, userID).
			Where("last_read_at < ? OR (last_read_at = ? AND last_read_message_id < ?)", last.CreatedAt, last.CreatedAt, last.ID).
			Updates(map[string]any{"last_read_at": last.CreatedAt, "last_read_message_id": last.ID})
		if err := result.Error; err != nil {
			return fmt.Errorf("failed to advance read marker: %w", err)
		}
		if result.RowsAffected > 0 {
			return nil
		}

		// Either no marker exists yet or it is already at or past last.
		marker := models.ReadMarker{
			AppointmentID:     appointmentID,
			UserID:            userID,
			LastReadAt:        last.CreatedAt,
			LastReadMessageID: last.ID,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker).Error; err != nil {
			return fmt.Errorf("failed to create read marker: %w", err)
		}
		return nil
	})
}
