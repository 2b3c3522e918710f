package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetAttachment handles GET /api/v1/attachments/:id - redirects members to a
// short-lived presigned download URL
func GetAttachment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	attachmentID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	url, err := messageService().AttachmentURL(c.Request.Context(), user.ID, attachmentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "private, no-store")
	c.Redirect(http.StatusFound, url)
}
