package controllers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gin-gonic/gin"
	"github.com/kafuffle/kafuffle-api/config"
	"github.com/kafuffle/kafuffle-api/middleware"
	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/services"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
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

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// setupMockAuth0Server creates a mock HTTP server that simulates Auth0's /userinfo endpoint
func setupMockAuth0Server(userInfoByToken map[string]*services.Auth0UserInfo) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/userinfo" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		const prefix = "Bearer "
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) <= len(prefix) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		userInfo, exists := userInfoByToken[authHeader[len(prefix):]]
		if !exists {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(userInfo)
	}))
}

// mockAuthMiddleware sets up the context the way EnsureValidToken does
func mockAuthMiddleware(auth0ID, accessToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", auth0ID)
		c.Set("access_token", accessToken)
		c.Set("validated_claims", &validator.ValidatedClaims{
			RegisteredClaims: validator.RegisteredClaims{Subject: auth0ID},
			CustomClaims:     &middleware.CustomClaims{Scope: "read:messages write:messages"},
		})
		c.Next()
	}
}

// asUser is a route-level stand-in for authentication as an existing user
func asUser(user models.User) gin.HandlerFunc {
	return mockAuthMiddleware(user.Auth0ID, "token-"+user.Auth0ID)
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

// spaceFixture is a space whose general channel has one member per role
type spaceFixture struct {
	space     models.Space
	channel   models.Channel
	owner     models.User
	admin     models.User
	moderator models.User
	member    models.User
	outsider  models.User
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

	memberships := []models.Membership{
		{SpaceID: f.space.ID, UserID: f.owner.ID, Role: models.RoleOwner},
		{SpaceID: f.space.ID, UserID: f.admin.ID, Role: models.RoleAdmin},
		{SpaceID: f.space.ID, UserID: f.moderator.ID, Role: models.RoleModerator},
		{SpaceID: f.space.ID, UserID: f.member.ID, Role: models.RoleMember},
	}
	if err := db.Create(&memberships).Error; err != nil {
		t.Fatalf("Failed to create memberships: %v", err)
	}
	return f
}

// useTestServices installs a mock S3-backed attachment service and a fresh hub
func useTestServices(t *testing.T) *services.MockS3Service {
	mockS3 := services.NewMockS3Service()
	previousAttachments := services.GetAttachmentService()
	previousHub := services.GetHub()

	services.InitAttachmentService(mockS3)
	services.SetHub(services.NewHub())
	services.SetPublisher(nil)

	t.Cleanup(func() {
		services.SetAttachmentService(previousAttachments)
		services.SetHub(previousHub)
	})
	return mockS3
}

func performJSON(router *gin.Engine, method, target string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewBuffer(raw)
	} else {
		body = &bytes.Buffer{}
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return response
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	response := decodeResponse(t, w)
	errorData, ok := response["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("Response has no error object: %s", w.Body.String())
	}
	return errorData["code"].(string)
}
