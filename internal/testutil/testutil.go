// Package testutil holds helpers shared by package tests: an isolated
// in-memory database per test and fixtures for users and services.
package testutil

import (
	"fmt"
	"io"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/aldoetobex/weka-backend/pkg/database"
	"github.com/aldoetobex/weka-backend/pkg/models"
)

// OpenDB returns a migrated in-memory SQLite database private to t.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := database.Open(database.DriverSQLite, dsn, quietLogger())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// InjectAuth sets the caller the way auth.RequireAuth would.
func InjectAuth(userID uuid.UUID, role models.Role) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", string(role))
		return c.Next()
	}
}

// SeedUser inserts a user with a unique email.
func SeedUser(t testing.TB, db *gorm.DB, role models.Role, name string) models.User {
	t.Helper()
	u := models.User{
		Email:        fmt.Sprintf("%s+%s@test.local", role, uuid.NewString()),
		PasswordHash: "x",
		Role:         role,
		Name:         name,
		Phone:        "+254700000001",
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

// SeedService inserts a service owned by ownerID.
func SeedService(t testing.TB, db *gorm.DB, ownerID uuid.UUID, category string, status models.ServiceStatus) models.Service {
	t.Helper()
	s := models.Service{
		OwnerID:  ownerID,
		Name:     category + " service",
		Category: category,
		Price:    1500,
		Status:   status,
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed service: %v", err)
	}
	return s
}
