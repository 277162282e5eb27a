package models

import (
	"time"
)

// RefreshToken is an issued refresh token. Tokens are rotated on every refresh and
// revoked on logout.
type RefreshToken struct {
	BaseModel
	UserID    string    `gorm:"size:36;index" json:"userId"`
	Token     string    `gorm:"type:text;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expiresAt"`
	IsRevoked bool      `gorm:"default:false" json:"isRevoked"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// Revoke invalidates the token as of now.
func (t *RefreshToken) Revoke(now time.Time) {
	t.IsRevoked = true
	if t.ExpiresAt.After(now) {
		t.ExpiresAt = now
	}
}
