package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"telecare-server/internal/errs"
	"telecare-server/internal/models"
)

// UserRepository is the doctor/patient identity lookup.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID retrieves a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, "find user", "user not found")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// FindByIDAndRole retrieves a user that must also hold role.
func (r *UserRepository) FindByIDAndRole(ctx context.Context, id string, role models.Role) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ? AND role = ?", id, role).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, "find user", string(role)+" not found")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// ListByRole lists users with the given role ordered by name.
func (r *UserRepository) ListByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Where("role = ?", role).Order("last_name asc, first_name asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// FindByEmail retrieves a user by login email.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindNotFound, "find user", "user not found")
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// Create inserts a new user. Emails are unique ignoring case.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", user.Email).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return errs.New(errs.KindConflict, "create user", "user with this email already exists")
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
