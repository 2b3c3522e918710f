package services

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"sync"
	"testing"

	"github.com/kafuffle/kafuffle-api/config"
	"github.com/kafuffle/kafuffle-api/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := config.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, name string) models.User {
	user := models.User{
		Auth0ID: "auth0|" + name,
		Name:    name,
		Email:   name + "@example.com",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", name, err)
	}
	return user
}

// spaceFixture is a space with one user per role and its general channel
type spaceFixture struct {
	space     models.Space
	channel   models.Channel
	owner     models.User
	admin     models.User
	moderator models.User
	member    models.User
	outsider  models.User
}

func (f spaceFixture) user(role models.Role) models.User {
	switch role {
	case models.RoleOwner:
		return f.owner
	case models.RoleAdmin:
		return f.admin
	case models.RoleModerator:
		return f.moderator
	default:
		return f.member
	}
}

func createSpaceFixture(t *testing.T, db *gorm.DB) spaceFixture {
	f := spaceFixture{
		owner:     createTestUser(t, db, "owner"),
		admin:     createTestUser(t, db, "admin"),
		moderator: createTestUser(t, db, "moderator"),
		member:    createTestUser(t, db, "member"),
		outsider:  createTestUser(t, db, "outsider"),
	}

	f.space = models.Space{Name: "Test Space", OwnerID: f.owner.ID}
	if err := db.Create(&f.space).Error; err != nil {
		t.Fatalf("Failed to create space: %v", err)
	}
	f.channel = models.Channel{SpaceID: f.space.ID, Name: "general"}
	if err := db.Create(&f.channel).Error; err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	for user, role := range map[uint]models.Role{
		f.owner.ID:     models.RoleOwner,
		f.admin.ID:     models.RoleAdmin,
		f.moderator.ID: models.RoleModerator,
		f.member.ID:    models.RoleMember,
	} {
		if err := db.Create(&models.Membership{SpaceID: f.space.ID, UserID: user, Role: role}).Error; err != nil {
			t.Fatalf("Failed to create membership: %v", err)
		}
	}
	return f
}

// recordingPublisher captures published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// createFileHeader builds a real multipart.FileHeader so Open works like a request upload
func createFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("Failed to parse multipart form: %v", err)
	}
	files := form.File["files"]
	if len(files) != 1 {
		t.Fatalf("Expected one parsed file, got %d", len(files))
	}
	return files[0]
}

// pngBytes is the smallest payload mimetype detects as image/png
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

func strPtr(s string) *string {
	return &s
}

func uintPtr(v uint) *uint {
	return &v
}

func textMessage(senderID, channelID uint, content string) *models.Message {
	return &models.Message{
		ID:          fmt.Sprintf("msg-%d-%s", senderID, content),
		ChannelID:   channelID,
		SenderID:    senderID,
		Content:     strPtr(content),
		MessageType: models.MessageTypeText,
		Version:     1,
	}
}
