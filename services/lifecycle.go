package services

import (
	"strings"
	"time"

	"github.com/kafuffle/kafuffle-api/models"
)

// ApplyEdit replaces the content of message on behalf of actor.
//
// It returns changed=false without touching the message when newContent equals
// the current content, so no-op edits never move edited_at. On success content,
// edited_at and version change; id, sender and created_at never do.
func ApplyEdit(message *models.Message, newContent string, actor Actor, now time.Time) (bool, error) {
	if message.IsDeleted() {
		return false, ErrMessageDeleted
	}
	if !CanEdit(actor, message) {
		return false, ErrPermissionDenied
	}
	if strings.TrimSpace(newContent) == "" {
		return false, ErrEmptyContent
	}
	if message.Content != nil && *message.Content == newContent {
		return false, nil
	}

	editedAt := now
	message.Content = &newContent
	message.EditedAt = &editedAt
	message.Version++
	return true, nil
}

// ApplyDelete soft-deletes message on behalf of actor. Content is scrubbed so a
// deleted row never carries the author's text.
func ApplyDelete(message *models.Message, actor Actor, authorRole models.Role, now time.Time) error {
	if message.IsDeleted() {
		return ErrMessageDeleted
	}
	if !CanDelete(actor, message, authorRole) {
		return ErrPermissionDenied
	}

	deletedAt := now
	message.DeletedAt = &deletedAt
	message.Content = nil
	message.Version++
	return nil
}
