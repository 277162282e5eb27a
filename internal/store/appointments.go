// Package store holds the gorm-backed repositories for appointments, chat messages and users.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telecare-server/internal/errs"
	"telecare-server/internal/models"
)

// AppointmentRepository persists appointments with optimistic versioning.
type AppointmentRepository struct {
	db *gorm.DB
}

// NewAppointmentRepository creates a new appointment repository.
func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

// Create saves a new appointment.
func (r *AppointmentRepository) Create(ctx context.Context, apt *models.Appointment) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(apt).Error; err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

// FindByID retrieves an appointment by its ID.
func (r *AppointmentRepository) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	var apt models.Appointment
	if err := r.db.WithContext(ctx).First(&apt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, "find appointment", "appointment not found")
		}
		return nil, fmt.Errorf("failed to find appointment: %w", err)
	}
	return &apt, nil
}

// Update writes every column of apt if the stored version still equals apt.Version, then
// bumps apt.Version. A lost race returns errs.ErrConflict and leaves apt unchanged.
func (r *AppointmentRepository) Update(ctx context.Context, apt *models.Appointment) error {
	expected := apt.Version
	next := *apt
	next.Version = expected + 1

	result := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ? AND version = ?", apt.ID, expected).
		Select("*").
		Omit("id", "created_at", clause.Associations).
		Updates(&next)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	if result.RowsAffected == 0 {
		return errs.New(errs.KindConflict, "update appointment", "appointment was modified concurrently")
	}
	*apt = next
	return nil
}

// ListForUser returns the appointments the user takes part in; admins see all.
func (r *AppointmentRepository) ListForUser(ctx context.Context, userID string, role models.Role) ([]models.Appointment, error) {
	query := r.db.WithContext(ctx).Order("scheduled_date asc, created_at asc")

	switch role {
	case models.RoleAdmin:
	case models.RoleDoctor:
		query = query.Where("doctor_id = ?", userID)
	case models.RolePatient:
		query = query.Where("patient_id = ?", userID)
	default:
		return nil, errs.New(errs.KindUnauthorized, "list appointments", "role not permitted")
	}

	var appointments []models.Appointment
	if err := query.Find(&appointments).Error; err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return appointments, nil
}

// ListExpiredReschedules returns appointments whose pending proposal was requested before cutoff.
// Request times are stored in UTC, so cutoff is compared in UTC as well.
func (r *AppointmentRepository) ListExpiredReschedules(ctx context.Context, cutoff time.Time) ([]models.Appointment, error) {
	var appointments []models.Appointment
	err := r.db.WithContext(ctx).
		Where("reschedule_status = ? AND reschedule_requested_at < ?", models.ReschedulePending, cutoff.UTC()).
		Order("reschedule_requested_at asc").
		Find(&appointments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired reschedules: %w", err)
	}
	return appointments, nil
}

// ListMissingRefunds returns refunded appointments that have no refund request recorded in
// the payment ledger.
func (r *AppointmentRepository) ListMissingRefunds(ctx context.Context) ([]models.Appointment, error) {
	requested := r.db.Model(&models.PaymentEvent{}).
		Select("1").
		Where("payment_events.appointment_id = appointments.id AND payment_events.kind = ?", models.PaymentEventRefundRequested)

	var appointments []models.Appointment
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", models.PaymentRefunded).
		Where("NOT EXISTS (?)", requested).
		Order("updated_at asc").
		Find(&appointments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list missing refunds: %w", err)
	}
	return appointments, nil
}
