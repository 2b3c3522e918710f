package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kafuffle/kafuffle-api/config"
	"github.com/kafuffle/kafuffle-api/middleware"
	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/services"
	"gorm.io/gorm"
)

// statusByCode maps service error codes onto HTTP statuses
var statusByCode = map[string]int{
	"PERMISSION_DENIED":       http.StatusForbidden,
	"NOT_A_MEMBER":            http.StatusForbidden,
	"USER_NOT_FOUND":          http.StatusNotFound,
	"SPACE_NOT_FOUND":         http.StatusNotFound,
	"CHANNEL_NOT_FOUND":       http.StatusNotFound,
	"MESSAGE_NOT_FOUND":       http.StatusNotFound,
	"MEMBER_NOT_FOUND":        http.StatusNotFound,
	"ATTACHMENT_NOT_FOUND":    http.StatusNotFound,
	"MESSAGE_DELETED":         http.StatusConflict,
	"EDIT_CONFLICT":           http.StatusConflict,
	"ALREADY_MEMBER":          http.StatusConflict,
	"VALIDATION_ERROR":        http.StatusBadRequest,
	"FILE_TOO_LARGE":          http.StatusBadRequest,
	"INVALID_FILE_FORMAT":     http.StatusBadRequest,
	"ATTACHMENTS_NOT_ALLOWED": http.StatusBadRequest,
	"DATABASE_ERROR":          http.StatusInternalServerError,
	"STORAGE_ERROR":           http.StatusBadGateway,
}

// respondError writes the error envelope for err. Unclassified errors become a 500.
func respondError(c *gin.Context, err error) {
	svcErr, ok := services.AsServiceError(err)
	if !ok {
		log.Printf("Unhandled error on %s %s: %v", c.Request.Method, c.FullPath(), err)
		svcErr = &services.ServiceError{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}
	}

	status, known := statusByCode[svcErr.Code]
	if !known {
		status = http.StatusInternalServerError
	}

	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    svcErr.Code,
			"message": svcErr.Message,
		},
	})
}

// respondValidation writes a 400 for a request that failed binding
func respondValidation(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "VALIDATION_ERROR",
			"message": "Invalid request data",
			"details": err.Error(),
		},
	})
}

// currentUser resolves the caller's profile from the token subject. It writes
// the error response itself and returns false when the caller has none.
func currentUser(c *gin.Context) (*models.User, bool) {
	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "UNAUTHORIZED",
				"message": "Could not extract user information",
			},
		})
		return nil, false
	}

	var user models.User
	err = config.GetDB().WithContext(c.Request.Context()).Where("auth0_id = ?", auth0ID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "USER_NOT_FOUND",
				"message": "User profile not found. Please create a profile first.",
			},
		})
		return nil, false
	}
	if err != nil {
		log.Printf("Failed to load user %s: %v", auth0ID, err)
		respondError(c, services.ErrDatabase)
		return nil, false
	}

	return &user, true
}

// uintParam parses a numeric path parameter, writing a 400 when it is not one
func uintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid " + name,
			},
		})
		return 0, false
	}
	return uint(value), true
}

func messageService() *services.MessageService {
	return services.NewMessageService(config.GetDB(), services.GetAttachmentService(), services.GetPublisher())
}

func spaceService() *services.SpaceService {
	return services.NewSpaceService(config.GetDB(), services.GetPublisher())
}
