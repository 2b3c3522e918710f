package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/services"
)

// CreateSpaceRequest represents the request body for creating a space
type CreateSpaceRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description" binding:"max=500"`
}

// AddMemberRequest identifies a user to add by id or email
type AddMemberRequest struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email" binding:"omitempty,email"`
	Role   string `json:"role" binding:"omitempty,oneof=owner admin moderator member"`
}

// UpdateMemberRoleRequest represents the request body for changing a member's role
type UpdateMemberRoleRequest struct {
	Role string `json:"role" binding:"required,oneof=owner admin moderator member"`
}

// CreateChannelRequest represents the request body for creating a channel
type CreateChannelRequest struct {
	Name  string `json:"name" binding:"required,max=80"`
	Topic string `json:"topic" binding:"max=250"`
}

// CreateSpace handles POST /api/v1/spaces - the caller becomes the owner
func CreateSpace(c *gin.Context) {
	var req CreateSpaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, ok := currentUser(c)
	if !ok {
		return
	}

	space, err := spaceService().CreateSpace(c.Request.Context(), user.ID, services.CreateSpaceInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    services.SpaceSummary{Space: *space, Role: models.RoleOwner},
	})
}

// ListMySpaces handles GET /api/v1/spaces - spaces the caller belongs to
func ListMySpaces(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	spaces, err := spaceService().ListSpaces(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    spaces,
	})
}

// ListMembers handles GET /api/v1/spaces/:id/members
func ListMembers(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	spaceID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	members, err := spaceService().ListMembers(c.Request.Context(), user.ID, spaceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    members,
	})
}

// AddMember handles POST /api/v1/spaces/:id/members
func AddMember(c *gin.Context) {
	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, ok := currentUser(c)
	if !ok {
		return
	}
	spaceID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	membership, err := spaceService().AddMember(c.Request.Context(), user.ID, spaceID, services.AddMemberInput{
		UserID: req.UserID,
		Email:  req.Email,
		Role:   models.Role(req.Role),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    membership,
	})
}

// UpdateMemberRole handles PATCH /api/v1/spaces/:id/members/:userId
func UpdateMemberRole(c *gin.Context) {
	var req UpdateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, ok := currentUser(c)
	if !ok {
		return
	}
	spaceID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	memberID, ok := uintParam(c, "userId")
	if !ok {
		return
	}

	membership, err := spaceService().UpdateMemberRole(c.Request.Context(), user.ID, spaceID, memberID, models.Role(req.Role))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    membership,
	})
}

// RemoveMember handles DELETE /api/v1/spaces/:id/members/:userId
func RemoveMember(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	spaceID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	memberID, ok := uintParam(c, "userId")
	if !ok {
		return
	}

	if err := spaceService().RemoveMember(c.Request.Context(), user.ID, spaceID, memberID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Member removed",
	})
}

// CreateChannel handles POST /api/v1/spaces/:id/channels
func CreateChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, ok := currentUser(c)
	if !ok {
		return
	}
	spaceID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	channel, err := spaceService().CreateChannel(c.Request.Context(), user.ID, spaceID, services.CreateChannelInput{
		Name:  req.Name,
		Topic: req.Topic,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    channel,
	})
}

// ListChannels handles GET /api/v1/spaces/:id/channels
func ListChannels(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	spaceID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	channels, err := spaceService().ListChannels(c.Request.Context(), user.ID, spaceID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    channels,
	})
}
