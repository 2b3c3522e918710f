package services

import (
	"time"

	"github.com/kafuffle/kafuffle-api/models"
)

// GroupWindow is the largest gap between two messages that still renders them as one group
const GroupWindow = 5 * time.Minute

// ShouldGroup reports whether next is rendered as a continuation of prev
// (avatar and username suppressed). Messages must be adjacent in timestamp
// order. A gap of exactly GroupWindow starts a new group.
func ShouldGroup(prev, next *models.Message) bool {
	if prev == nil || next == nil {
		return false
	}
	if prev.SenderID != next.SenderID {
		return false
	}
	if prev.MessageType == models.MessageTypeSystem || next.MessageType == models.MessageTypeSystem {
		return false
	}
	if prev.IsDeleted() || next.IsDeleted() {
		return false
	}
	gap := next.CreatedAt.Sub(prev.CreatedAt)
	return gap >= 0 && gap < GroupWindow
}

// shouldGroupViews applies the ShouldGroup rules to rendered messages, for
// clients that only hold views. Deleted views carry no sender and never group.
func shouldGroupViews(prev, next MessageView) bool {
	if prev.SenderID == 0 || prev.SenderID != next.SenderID {
		return false
	}
	if prev.MessageType == models.MessageTypeSystem || next.MessageType == models.MessageTypeSystem {
		return false
	}
	if prev.Deleted || next.Deleted {
		return false
	}
	gap := next.CreatedAt.Sub(prev.CreatedAt)
	return gap >= 0 && gap < GroupWindow
}
