package acceptance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kafuffle/kafuffle-api/controllers"
	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/services"
	"github.com/kafuffle/kafuffle-api/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

// AttachmentAcceptanceTestSuite uploads, downloads and deletes attachments
// against a running server backed by mock object storage.
type AttachmentAcceptanceTestSuite struct {
	suite.Suite
	db       *gorm.DB
	mockS3   *services.MockS3Service
	channel  models.Channel
	author   models.User
	mod      models.User
	outsider models.User
	servers  map[uint]*httptest.Server
}

// SetupSuite runs once before all tests
func (suite *AttachmentAcceptanceTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	testutil.MustSetTestEnvironment(suite.T())
}

// SetupTest runs before each test
func (suite *AttachmentAcceptanceTestSuite) SetupTest() {
	suite.db = testutil.NewTestDB(suite.T())
	suite.mockS3 = services.NewMockS3Service()
	services.InitAttachmentService(suite.mockS3)
	services.SetHub(services.NewHub())
	services.SetPublisher(nil)

	owner := testutil.CreateUser(suite.T(), suite.db, "owner")
	suite.author = testutil.CreateUser(suite.T(), suite.db, "author")
	suite.mod = testutil.CreateUser(suite.T(), suite.db, "mod")
	suite.outsider = testutil.CreateUser(suite.T(), suite.db, "outsider")
	_, suite.channel = testutil.CreateSpace(suite.T(), suite.db, "Photos", map[models.Role]models.User{
		models.RoleOwner:     owner,
		models.RoleModerator: suite.mod,
		models.RoleMember:    suite.author,
	})
	suite.servers = make(map[uint]*httptest.Server)
}

// TearDownTest runs after each test
func (suite *AttachmentAcceptanceTestSuite) TearDownTest() {
	for _, server := range suite.servers {
		server.Close()
	}
	services.SetAttachmentService(nil)
}

// serverFor starts (once) a server that authenticates every request as user
func (suite *AttachmentAcceptanceTestSuite) serverFor(user models.User) *httptest.Server {
	if server, ok := suite.servers[user.ID]; ok {
		return server
	}

	router := gin.New()
	router.Use(gin.Recovery())
	v1 := router.Group("/api/v1", testutil.MockAuthMiddleware(user.Auth0ID, "read:messages", "write:messages"))
	{
		v1.POST("/channels/:id/messages", controllers.SendMessage)
		v1.GET("/messages/:id", controllers.GetMessage)
		v1.DELETE("/messages/:id", controllers.DeleteMessage)
		v1.GET("/attachments/:id", controllers.GetAttachment)
	}

	server := httptest.NewServer(router)
	suite.servers[user.ID] = server
	return server
}

type upload struct {
	name    string
	content []byte
}

func (suite *AttachmentAcceptanceTestSuite) send(user models.User, messageType, content string, files ...upload) (*http.Response, map[string]interface{}) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	suite.Require().NoError(writer.WriteField("message_type", messageType))
	if content != "" {
		suite.Require().NoError(writer.WriteField("content", content))
	}
	for _, file := range files {
		part, err := writer.CreateFormFile("files", file.name)
		suite.Require().NoError(err)
		_, err = part.Write(file.content)
		suite.Require().NoError(err)
	}
	suite.Require().NoError(writer.Close())

	url := fmt.Sprintf("%s/api/v1/channels/%d/messages", suite.serverFor(user).URL, suite.channel.ID)
	req, err := http.NewRequest(http.MethodPost, url, body)
	suite.Require().NoError(err)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	defer resp.Body.Close()

	var response map[string]interface{}
	suite.Require().NoError(json.NewDecoder(resp.Body).Decode(&response))
	return resp, response
}

// getAttachment fetches an attachment without following the redirect
func (suite *AttachmentAcceptanceTestSuite) getAttachment(user models.User, id uint) *http.Response {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(fmt.Sprintf("%s/api/v1/attachments/%d", suite.serverFor(user).URL, id))
	suite.Require().NoError(err)
	resp.Body.Close()
	return resp
}

// TestImageMessageLifecycle_Acceptance uploads an image, downloads it and
// removes it again by deleting the message
func (suite *AttachmentAcceptanceTestSuite) TestImageMessageLifecycle_Acceptance() {
	resp, response := suite.send(suite.author, "image", "whiteboard from today",
		upload{"whiteboard.png", pngHeader}, upload{"Sketch 2.PNG", pngHeader})
	suite.Require().Equal(http.StatusCreated, resp.StatusCode, response)

	data := response["data"].(map[string]interface{})
	messageID := data["id"].(string)
	attachments := data["attachments"].([]interface{})
	suite.Require().Len(attachments, 2)
	suite.Equal(2, suite.mockS3.FileCount())

	first := attachments[0].(map[string]interface{})
	assert.Equal(suite.T(), "whiteboard.png", first["file_name"])
	assert.Equal(suite.T(), "image/png", first["content_type"])
	assert.Equal(suite.T(), float64(len(pngHeader)), first["size"])
	attachmentID := uint(first["id"].(float64))

	download := suite.getAttachment(suite.author, attachmentID)
	suite.Equal(http.StatusFound, download.StatusCode)
	suite.Contains(download.Header.Get("Location"), fmt.Sprintf("attachments/%d/", suite.channel.ID))
	suite.Equal("private, no-store", download.Header.Get("Cache-Control"))

	suite.Equal(http.StatusForbidden, suite.getAttachment(suite.outsider, attachmentID).StatusCode)

	req, err := http.NewRequest(http.MethodDelete, suite.serverFor(suite.mod).URL+"/api/v1/messages/"+messageID, nil)
	suite.Require().NoError(err)
	deleted, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	deleted.Body.Close()
	suite.Require().Equal(http.StatusOK, deleted.StatusCode)

	suite.Equal(0, suite.mockS3.FileCount())
	suite.Equal(http.StatusNotFound, suite.getAttachment(suite.author, attachmentID).StatusCode)

	var count int64
	suite.Require().NoError(suite.db.Model(&models.Attachment{}).Where("message_id = ?", messageID).Count(&count).Error)
	suite.Zero(count)
}

// TestUploadValidation_Acceptance checks that rejected uploads leave nothing behind
func (suite *AttachmentAcceptanceTestSuite) TestUploadValidation_Acceptance() {
	testCases := []struct {
		name         string
		messageType  string
		content      string
		files        []upload
		expectedCode string
	}{
		{
			name:         "Executable file",
			messageType:  "file",
			files:        []upload{{"installer.exe", []byte("MZ")}},
			expectedCode: "INVALID_FILE_FORMAT",
		},
		{
			name:         "Document on an image message",
			messageType:  "image",
			files:        []upload{{"notes.pdf", []byte("%PDF-1.4")}},
			expectedCode: "INVALID_FILE_FORMAT",
		},
		{
			name:         "Second file invalid",
			messageType:  "image",
			files:        []upload{{"ok.png", pngHeader}, {"bad.exe", []byte("MZ")}},
			expectedCode: "INVALID_FILE_FORMAT",
		},
		{
			name:         "Text message with a file",
			messageType:  "text",
			content:      "see attached",
			files:        []upload{{"ok.png", pngHeader}},
			expectedCode: "VALIDATION_ERROR",
		},
		{
			name:         "Image message without a file",
			messageType:  "image",
			expectedCode: "VALIDATION_ERROR",
		},
	}

	for _, tc := range testCases {
		suite.Run(tc.name, func() {
			resp, response := suite.send(suite.author, tc.messageType, tc.content, tc.files...)

			suite.Equal(http.StatusBadRequest, resp.StatusCode)
			suite.Equal(tc.expectedCode, response["error"].(map[string]interface{})["code"])
			suite.Equal(0, suite.mockS3.FileCount())
		})
	}

	var count int64
	suite.Require().NoError(suite.db.Model(&models.Message{}).Where("sender_id = ?", suite.author.ID).Count(&count).Error)
	suite.Zero(count)
}

// TestStorageOutage_Acceptance checks the response when object storage is down
func (suite *AttachmentAcceptanceTestSuite) TestStorageOutage_Acceptance() {
	suite.mockS3.FailUploads = true

	resp, response := suite.send(suite.author, "image", "", upload{"ok.png", pngHeader})

	suite.Equal(http.StatusBadGateway, resp.StatusCode)
	suite.Equal("STORAGE_ERROR", response["error"].(map[string]interface{})["code"])
}

// TestRunSuite runs the attachment acceptance suite
func TestAttachmentAcceptanceSuite(t *testing.T) {
	if os.Getenv("SKIP_ACCEPTANCE_TESTS") == "true" {
		t.Skip("Skipping attachment acceptance tests")
	}

	suite.Run(t, new(AttachmentAcceptanceTestSuite))
}
