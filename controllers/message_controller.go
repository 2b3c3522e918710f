package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/services"
	"github.com/kafuffle/kafuffle-api/utils"
)

// maxSendBodySize bounds a multipart send: every attachment at the limit plus form fields
const maxSendBodySize = utils.MaxAttachmentsPerMessage*utils.MaxAttachmentSize + 1<<20

// SendMessageRequest represents the JSON (or form) body for sending a message
type SendMessageRequest struct {
	Content     string  `json:"content" form:"content" binding:"max=4000"`
	MessageType string  `json:"message_type" form:"message_type"`
	ReplyToID   *string `json:"reply_to_id" form:"reply_to_id"`
}

// EditMessageRequest represents the request body for editing a message.
// Version, when present, must match the stored version.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
	Version *uint  `json:"version"`
}

// ReactionRequest represents the request body for adding a reaction
type ReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// SendMessage handles POST /api/v1/channels/:id/messages.
// Accepts JSON, or multipart/form-data with one or more "files" parts.
func SendMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	var req SendMessageRequest
	input := services.SendMessageInput{}
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSendBodySize)
		if err := c.ShouldBind(&req); err != nil {
			respondValidation(c, err)
			return
		}
		form, err := c.MultipartForm()
		if err != nil {
			respondValidation(c, err)
			return
		}
		input.Files = form.File["files"]
	} else if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	input.Content = req.Content
	input.MessageType = models.MessageType(req.MessageType)
	if req.ReplyToID != nil && *req.ReplyToID != "" {
		input.ReplyToID = req.ReplyToID
	}

	view, err := messageService().Send(c.Request.Context(), user.ID, channelID, input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    view,
	})
}

// ListMessages handles GET /api/v1/channels/:id/messages?before=<RFC3339>&limit=<n>
func ListMessages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	opts := services.ListOptions{}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			respondValidation(c, err)
			return
		}
		opts.Before = &before
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.PureJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_PAGINATION",
					"message": "Limit must be a positive integer",
				},
			})
			return
		}
		opts.Limit = limit
	}

	messages, err := messageService().List(c.Request.Context(), user.ID, channelID, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"data":    messages,
	})
}

// SearchMessages handles GET /api/v1/channels/:id/messages/search?q=<text>
func SearchMessages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	channelID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	results, err := messageService().Search(c.Request.Context(), user.ID, channelID, c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"data":    results,
	})
}

// GetMessage handles GET /api/v1/messages/:id
func GetMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := messageService().Get(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"data":    view,
	})
}

// EditMessage handles PATCH /api/v1/messages/:id - only the author may edit
func EditMessage(c *gin.Context) {
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, changed, err := messageService().Edit(c.Request.Context(), user.ID, c.Param("id"), services.EditMessageInput{
		Content:         req.Content,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"changed": changed,
		"data":    view,
	})
}

// DeleteMessage handles DELETE /api/v1/messages/:id[?version=<n>]
func DeleteMessage(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	input := services.DeleteMessageInput{}
	if raw := c.Query("version"); raw != "" {
		version, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondValidation(c, err)
			return
		}
		v := uint(version)
		input.ExpectedVersion = &v
	}

	view, err := messageService().Delete(c.Request.Context(), user.ID, c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"data":    view,
	})
}

// AddReaction handles POST /api/v1/messages/:id/reactions
func AddReaction(c *gin.Context) {
	var req ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := messageService().AddReaction(c.Request.Context(), user.ID, c.Param("id"), req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"data":    view,
	})
}

// RemoveReaction handles DELETE /api/v1/messages/:id/reactions/:emoji
func RemoveReaction(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	view, err := messageService().RemoveReaction(c.Request.Context(), user.ID, c.Param("id"), c.Param("emoji"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.PureJSON(http.StatusOK, gin.H{
		"success": true,
		"data":    view,
	})
}
