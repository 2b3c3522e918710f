package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageType classifies the payload of a message
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeVideo  MessageType = "video"
	MessageTypeSystem MessageType = "system"
)

// Valid reports whether t is a known message type
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeAudio, MessageTypeVideo, MessageTypeSystem:
		return true
	}
	return false
}

// MessageState is the lifecycle state derived from a message's timestamps
type MessageState string

const (
	MessageActive  MessageState = "active"
	MessageEdited  MessageState = "edited"
	MessageDeleted MessageState = "deleted"
)

// Message is a chat message posted to a channel.
//
// DeletedAt is a plain column rather than gorm.DeletedAt: deleted rows must stay
// visible to queries so they can be rendered as placeholders.
type Message struct {
	ID          string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ChannelID   uint         `gorm:"not null;index:idx_messages_channel_created" json:"channel_id"`
	Channel     Channel      `gorm:"foreignKey:ChannelID" json:"-"`
	SenderID    uint         `gorm:"not null;index" json:"sender_id"`
	Sender      User         `gorm:"foreignKey:SenderID" json:"sender"`
	Content     *string      `gorm:"type:text" json:"content"`
	MessageType MessageType  `gorm:"type:varchar(16);not null;default:'text'" json:"message_type"`
	ReplyToID   *string      `gorm:"type:varchar(36);index" json:"reply_to_id,omitempty"`
	Version     uint         `gorm:"not null;default:1" json:"version"`
	Attachments []Attachment `gorm:"foreignKey:MessageID" json:"attachments,omitempty"`
	Reactions   []Reaction   `gorm:"foreignKey:MessageID" json:"reactions,omitempty"`
	CreatedAt   time.Time    `gorm:"index:idx_messages_channel_created" json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	DeletedAt   *time.Time   `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName specifies the table name for the Message model
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate assigns an opaque id and the initial version
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	return nil
}

// IsDeleted reports whether the message has been soft-deleted
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// State derives the lifecycle state. Deleted is terminal and wins over Edited.
func (m *Message) State() MessageState {
	switch {
	case m.DeletedAt != nil:
		return MessageDeleted
	case m.EditedAt != nil:
		return MessageEdited
	default:
		return MessageActive
	}
}

// Attachment is an object stored in S3 and linked to a message
type Attachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MessageID   string    `gorm:"type:varchar(36);not null;index" json:"message_id"`
	S3Key       string    `gorm:"not null" json:"-"`
	FileName    string    `gorm:"not null" json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	URL         *string   `gorm:"-" json:"url,omitempty"` // computed field, presigned URL
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for the Attachment model
func (Attachment) TableName() string {
	return "attachments"
}

// Reaction is a single user's emoji on a message
type Reaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MessageID string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_reaction_unique" json:"message_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_reaction_unique" json:"user_id"`
	Emoji     string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_reaction_unique" json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for the Reaction model
func (Reaction) TableName() string {
	return "reactions"
}
