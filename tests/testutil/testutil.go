package testutil

import (
	"os"
	"testing"

	"github.com/kafuffle/kafuffle-api/config"
	"github.com/kafuffle/kafuffle-api/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RequireTestEnvironment ensures that tests are running in the test environment.
// This prevents accidental execution of tests against production or development databases.
// It will fail the test immediately if GO_ENV is not set to "test".
func RequireTestEnvironment(t *testing.T) {
	t.Helper()

	env := os.Getenv("GO_ENV")
	if env != "test" {
		t.Fatalf("SAFETY CHECK FAILED: Tests must run with GO_ENV=test to prevent data loss. Current GO_ENV=%q. Set GO_ENV=test before running tests.", env)
	}
}

// MustSetTestEnvironment sets GO_ENV to test and fails if it cannot be set.
// Use this in TestMain or suite setup functions.
func MustSetTestEnvironment(t *testing.T) {
	t.Helper()

	if err := os.Setenv("GO_ENV", "test"); err != nil {
		t.Fatalf("Failed to set GO_ENV=test: %v", err)
	}
	RequireTestEnvironment(t)
}

// NewTestDB opens a migrated in-memory sqlite database and installs it as the
// process-wide database. A single connection keeps every query on the same
// in-memory database.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	RequireTestEnvironment(t)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	config.SetDB(db)
	return db
}

// CreateUser inserts a user whose Auth0 subject is "auth0|<name>"
func CreateUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()

	user := models.User{Auth0ID: "auth0|" + name, Name: name, Email: name + "@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", name, err)
	}
	return user
}

// CreateSpace inserts a space with a general channel and the given members
func CreateSpace(t *testing.T, db *gorm.DB, name string, members map[models.Role]models.User) (models.Space, models.Channel) {
	t.Helper()

	owner, ok := members[models.RoleOwner]
	if !ok {
		t.Fatalf("CreateSpace needs an owner")
	}

	space := models.Space{Name: name, OwnerID: owner.ID}
	if err := db.Create(&space).Error; err != nil {
		t.Fatalf("Failed to create space: %v", err)
	}
	channel := models.Channel{SpaceID: space.ID, Name: "general"}
	if err := db.Create(&channel).Error; err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	for role, user := range members {
		if err := db.Create(&models.Membership{SpaceID: space.ID, UserID: user.ID, Role: role}).Error; err != nil {
			t.Fatalf("Failed to add %s as %s: %v", user.Name, role, err)
		}
	}
	return space, channel
}
