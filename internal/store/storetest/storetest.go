// Package storetest opens throwaway in-memory databases for package tests.
package storetest

import (
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"telecare-server/internal/models"
)

// Open creates an in-memory SQLite database with the full schema migrated.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Every pooled connection to ":memory:" would be a separate database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// SeedUser inserts a user with the given role and returns it.
func SeedUser(t *testing.T, db *gorm.DB, role models.Role, email string) *models.User {
	t.Helper()

	user := &models.User{Email: email, FirstName: string(role), LastName: email, Role: role, Password: "x"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}
