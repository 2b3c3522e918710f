package services

import (
	"log"
	"sort"
	"time"

	"github.com/kafuffle/kafuffle-api/models"
)

// DeletedPlaceholder is the only text a client ever receives for a deleted message
const DeletedPlaceholder = "This message has been deleted"

// SenderView is the public profile shown next to a message
type SenderView struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// ReactionView aggregates all reactions with the same emoji
type ReactionView struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	UserIDs []uint `json:"user_ids"`
}

// AttachmentView is an attachment with a short-lived download URL
type AttachmentView struct {
	ID          uint   `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url,omitempty"`
}

// MessageView is the client-facing shape of a message. Deleted messages carry
// only identity, timestamps and the placeholder.
type MessageView struct {
	ID          string             `json:"id"`
	ChannelID   uint               `json:"channel_id"`
	SenderID    uint               `json:"sender_id,omitempty"`
	Sender      *SenderView        `json:"sender,omitempty"`
	Content     *string            `json:"content"`
	MessageType models.MessageType `json:"message_type"`
	ReplyToID   *string            `json:"reply_to_id,omitempty"`
	Version     uint               `json:"version"`
	Edited      bool               `json:"edited"`
	Deleted     bool               `json:"deleted"`
	Placeholder string             `json:"placeholder,omitempty"`
	Grouped     bool               `json:"grouped"`
	Attachments []AttachmentView   `json:"attachments,omitempty"`
	Reactions   []ReactionView     `json:"reactions,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	EditedAt    *time.Time         `json:"edited_at,omitempty"`
	DeletedAt   *time.Time         `json:"deleted_at,omitempty"`
}

// URLSigner produces download URLs for stored attachments
type URLSigner interface {
	GetAttachmentURL(key string) (string, error)
}

// Present renders a single message. signer may be nil, in which case attachment URLs are omitted.
func Present(message *models.Message, signer URLSigner) MessageView {
	view := MessageView{
		ID:          message.ID,
		ChannelID:   message.ChannelID,
		MessageType: message.MessageType,
		Version:     message.Version,
		CreatedAt:   message.CreatedAt,
	}

	if message.IsDeleted() {
		// Even if the stored row still held content, nothing authored leaks here.
		view.Deleted = true
		view.Placeholder = DeletedPlaceholder
		view.DeletedAt = message.DeletedAt
		return view
	}

	view.SenderID = message.SenderID
	if message.Sender.ID != 0 {
		view.Sender = &SenderView{
			ID:        message.Sender.ID,
			Name:      message.Sender.Name,
			AvatarURL: message.Sender.AvatarURL,
		}
	}
	view.Content = message.Content
	view.ReplyToID = message.ReplyToID
	view.Edited = message.EditedAt != nil
	view.EditedAt = message.EditedAt
	view.Reactions = aggregateReactions(message.Reactions)

	for _, attachment := range message.Attachments {
		av := AttachmentView{
			ID:          attachment.ID,
			FileName:    attachment.FileName,
			ContentType: attachment.ContentType,
			Size:        attachment.Size,
		}
		if signer != nil {
			url, err := signer.GetAttachmentURL(attachment.S3Key)
			if err != nil {
				log.Printf("Failed to sign attachment %d of message %s: %v", attachment.ID, message.ID, err)
			} else {
				av.URL = url
			}
		}
		view.Attachments = append(view.Attachments, av)
	}

	return view
}

// PresentAll renders a page of messages in timestamp order and marks grouped continuations
func PresentAll(messages []models.Message, signer URLSigner) []MessageView {
	views := make([]MessageView, 0, len(messages))
	for i := range messages {
		view := Present(&messages[i], signer)
		if i > 0 {
			view.Grouped = ShouldGroup(&messages[i-1], &messages[i])
		}
		views = append(views, view)
	}
	return views
}

func aggregateReactions(reactions []models.Reaction) []ReactionView {
	if len(reactions) == 0 {
		return nil
	}

	byEmoji := make(map[string]*ReactionView)
	var order []string
	for _, reaction := range reactions {
		rv, ok := byEmoji[reaction.Emoji]
		if !ok {
			rv = &ReactionView{Emoji: reaction.Emoji}
			byEmoji[reaction.Emoji] = rv
			order = append(order, reaction.Emoji)
		}
		rv.Count++
		rv.UserIDs = append(rv.UserIDs, reaction.UserID)
	}

	out := make([]ReactionView, 0, len(order))
	for _, emoji := range order {
		rv := byEmoji[emoji]
		sort.Slice(rv.UserIDs, func(i, j int) bool { return rv.UserIDs[i] < rv.UserIDs[j] })
		out = append(out, *rv)
	}
	return out
}
