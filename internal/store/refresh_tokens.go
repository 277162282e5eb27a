package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"telecare-server/internal/errs"
	"telecare-server/internal/models"
)

// RefreshTokenRepository persists issued refresh tokens so they can be rotated and revoked.
type RefreshTokenRepository struct {
	db *gorm.DB
}

// NewRefreshTokenRepository creates a new refresh token repository.
func NewRefreshTokenRepository(db *gorm.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a newly issued token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// FindActive returns the token if it belongs to userID, is not revoked and has not expired.
func (r *RefreshTokenRepository) FindActive(ctx context.Context, token, userID string, now time.Time) (*models.RefreshToken, error) {
	var stored models.RefreshToken
	err := r.db.WithContext(ctx).
		Where("token = ? AND user_id = ? AND is_revoked = ? AND expires_at > ?", token, userID, false, now).
		First(&stored).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, "find refresh token", "refresh token not found, expired, or revoked")
		}
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}
	return &stored, nil
}

// Revoke invalidates token. Revoking an unknown or already revoked token is not an error;
// the result reports whether anything changed.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string, now time.Time) (bool, error) {
	var stored models.RefreshToken
	err := r.db.WithContext(ctx).Where("token = ? AND is_revoked = ?", token, false).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find refresh token: %w", err)
	}

	stored.Revoke(now)
	if err := r.db.WithContext(ctx).Save(&stored).Error; err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return true, nil
}
