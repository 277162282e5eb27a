// Package payments triggers payment capture verification and refunds. Executing the money
// movement belongs to the external payment provider; this package records what was asked.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"telecare-server/internal/errs"
	"telecare-server/internal/logging"
	"telecare-server/internal/models"
)

// Gateway verifies captured payments and triggers refunds.
type Gateway interface {
	VerifyCapture(ctx context.Context, apt models.Appointment, paymentRef string) error
	TriggerRefund(ctx context.Context, apt models.Appointment, reason string) error
}

// LedgerGateway records captures and refund requests in the payment_events table.
type LedgerGateway struct {
	db     *gorm.DB
	logger *logging.Logger
}

// NewLedgerGateway creates a ledger-backed gateway.
func NewLedgerGateway(db *gorm.DB, logger *logging.Logger) *LedgerGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &LedgerGateway{db: db, logger: logger.Component("payments")}
}

// VerifyCapture accepts a capture reference for apt. A reference may only ever back one
// appointment; repeating the same reference for the same appointment is a no-op.
func (g *LedgerGateway) VerifyCapture(ctx context.Context, apt models.Appointment, paymentRef string) error {
	ref := strings.TrimSpace(paymentRef)
	if ref == "" {
		return errs.New(errs.KindPaymentRequired, "verify capture", "payment reference required")
	}

	var existing models.PaymentEvent
	err := g.db.WithContext(ctx).
		Where("kind = ? AND reference = ?", models.PaymentEventCapture, ref).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.AppointmentID != apt.ID {
			return errs.New(errs.KindPaymentRequired, "verify capture", "payment reference already used")
		}
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("failed to look up payment reference: %w", err)
	}

	event := models.PaymentEvent{
		AppointmentID: apt.ID,
		Kind:          models.PaymentEventCapture,
		Reference:     ref,
	}
	if err := g.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("failed to record capture: %w", err)
	}

	g.logger.Info("payment capture recorded", "appointment_id", apt.ID, "reference", ref)
	return nil
}

// TriggerRefund records a full-refund request for apt once.
func (g *LedgerGateway) TriggerRefund(ctx context.Context, apt models.Appointment, reason string) error {
	var count int64
	err := g.db.WithContext(ctx).
		Model(&models.PaymentEvent{}).
		Where("appointment_id = ? AND kind = ?", apt.ID, models.PaymentEventRefundRequested).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check refund history: %w", err)
	}
	if count > 0 {
		return nil
	}

	event := models.PaymentEvent{
		AppointmentID: apt.ID,
		Kind:          models.PaymentEventRefundRequested,
		Reference:     apt.PaymentRef,
		Reason:        reason,
	}
	if err := g.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("failed to record refund request: %w", err)
	}

	g.logger.Info("refund requested", "appointment_id", apt.ID, "reference", apt.PaymentRef, "reason", reason)
	return nil
}
