package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultPageSize is the number of messages returned when no limit is given
	DefaultPageSize = 50
	// MaxPageSize caps the limit a client may request
	MaxPageSize = 200
	// MaxSearchResults caps search responses
	MaxSearchResults = 50
	// MaxEmojiLength bounds a reaction's emoji (or shortcode) in bytes
	MaxEmojiLength = 64
)

// SendMessageInput carries a new message
type SendMessageInput struct {
	Content     string
	MessageType models.MessageType
	ReplyToID   *string
	Files       []*multipart.FileHeader
}

// EditMessageInput carries new content and, optionally, the version the
// client last saw. A mismatched version is rejected with ErrConflict.
type EditMessageInput struct {
	Content         string
	ExpectedVersion *uint
}

// DeleteMessageInput optionally pins the version the client last saw
type DeleteMessageInput struct {
	ExpectedVersion *uint
}

// ListOptions pages backwards through a channel
type ListOptions struct {
	Before *time.Time
	Limit  int
}

// MessageService applies the message lifecycle against the database.
// Every permission check runs before any write; a failed write leaves the
// stored message untouched and nothing is retried.
type MessageService struct {
	db          *gorm.DB
	spaces      *SpaceService
	attachments AttachmentService
	publisher   Publisher
	now         func() time.Time
}

// NewMessageService creates a message service. attachments and publisher may be nil.
func NewMessageService(db *gorm.DB, attachments AttachmentService, publisher Publisher) *MessageService {
	return &MessageService{
		db:          db,
		spaces:      NewSpaceService(db, publisher),
		attachments: attachments,
		publisher:   publisher,
		now:         time.Now,
	}
}

// WithClock overrides the time source used for edited_at and deleted_at
func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

// Send posts a message to a channel
func (s *MessageService) Send(ctx context.Context, userID, channelID uint, input SendMessageInput) (*MessageView, error) {
	channel, _, err := s.spaces.ChannelActor(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}

	if err := s.validateSend(ctx, channel.ID, &input); err != nil {
		return nil, err
	}

	attachments, err := s.uploadAll(ctx, input.Files, input.MessageType, channel.ID)
	if err != nil {
		return nil, err
	}

	message := models.Message{
		ChannelID:   channel.ID,
		SenderID:    userID,
		MessageType: input.MessageType,
		ReplyToID:   input.ReplyToID,
	}
	if content := strings.TrimSpace(input.Content); content != "" {
		message.Content = &input.Content
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&message).Error; err != nil {
			return err
		}
		for i := range attachments {
			attachments[i].MessageID = message.ID
		}
		if len(attachments) > 0 {
			return tx.Create(&attachments).Error
		}
		return nil
	})
	if err != nil {
		s.discardUploads(attachments)
		return nil, dbError("create message", err)
	}

	stored, err := s.loadMessage(ctx, message.ID)
	if err != nil {
		return nil, err
	}

	view := Present(stored, s.signer())
	s.publish(EventMessageCreated, view)
	return &view, nil
}

// List returns a chronological page of a channel's messages ending before opts.Before
func (s *MessageService) List(ctx context.Context, userID, channelID uint, opts ListOptions) ([]MessageView, error) {
	channel, _, err := s.spaces.ChannelActor(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	query := s.withDetails(s.db.WithContext(ctx)).Where("channel_id = ?", channel.ID)
	if opts.Before != nil {
		query = query.Where("created_at < ?", *opts.Before)
	}

	var messages []models.Message
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, dbError("list messages", err)
	}

	// Fetched newest first so the limit keeps the latest page; render oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return PresentAll(messages, s.signer()), nil
}

// Get returns one message to a member of its space
func (s *MessageService) Get(ctx context.Context, userID uint, messageID string) (*MessageView, error) {
	message, _, err := s.messageActor(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	view := Present(message, s.signer())
	return &view, nil
}

// Edit changes a message's content. changed is false for a no-op edit, in
// which case nothing is written and no event is published.
func (s *MessageService) Edit(ctx context.Context, userID uint, messageID string, input EditMessageInput) (view *MessageView, changed bool, err error) {
	message, actor, err := s.messageActor(ctx, userID, messageID)
	if err != nil {
		return nil, false, err
	}
	if message.IsDeleted() {
		return nil, false, ErrMessageDeleted
	}
	if input.ExpectedVersion != nil && *input.ExpectedVersion != message.Version {
		return nil, false, ErrConflict
	}

	previousVersion := message.Version
	now := s.now()
	changed, err = ApplyEdit(message, input.Content, actor, now)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		current := Present(message, s.signer())
		return &current, false, nil
	}

	result := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND version = ? AND deleted_at IS NULL", message.ID, previousVersion).
		Updates(map[string]interface{}{
			"content":    message.Content,
			"edited_at":  message.EditedAt,
			"version":    message.Version,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, false, dbError("update message", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, false, ErrConflict
	}

	updated := Present(message, s.signer())
	s.publish(EventMessageUpdated, updated)
	return &updated, true, nil
}

// Delete soft-deletes a message. The row stays for reply references; its
// content, attachments and reactions are removed.
func (s *MessageService) Delete(ctx context.Context, userID uint, messageID string, input DeleteMessageInput) (*MessageView, error) {
	message, actor, err := s.messageActor(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted() {
		return nil, ErrMessageDeleted
	}
	if input.ExpectedVersion != nil && *input.ExpectedVersion != message.Version {
		return nil, ErrConflict
	}

	authorRole, err := s.authorRole(ctx, message)
	if err != nil {
		return nil, err
	}

	previousVersion := message.Version
	now := s.now()
	if err := ApplyDelete(message, actor, authorRole, now); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Message{}).
			Where("id = ? AND version = ? AND deleted_at IS NULL", message.ID, previousVersion).
			Updates(map[string]interface{}{
				"content":    nil,
				"deleted_at": message.DeletedAt,
				"version":    message.Version,
				"updated_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict
		}
		if err := tx.Where("message_id = ?", message.ID).Delete(&models.Attachment{}).Error; err != nil {
			return err
		}
		return tx.Where("message_id = ?", message.ID).Delete(&models.Reaction{}).Error
	})
	if errors.Is(err, ErrConflict) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, dbError("delete message", err)
	}

	s.discardUploads(message.Attachments)
	message.Attachments = nil
	message.Reactions = nil

	view := Present(message, nil)
	s.publish(EventMessageDeleted, view)
	return &view, nil
}

// Search finds non-deleted messages in a channel whose content contains query, newest first
func (s *MessageService) Search(ctx context.Context, userID, channelID uint, query string) ([]MessageView, error) {
	channel, _, err := s.spaces.ChannelActor(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, validationError("Search query is required")
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	var messages []models.Message
	err = s.withDetails(s.db.WithContext(ctx)).
		Where("channel_id = ? AND deleted_at IS NULL", channel.ID).
		Where(`LOWER(content) LIKE ? ESCAPE '\'`, pattern).
		Order("created_at DESC").
		Limit(MaxSearchResults).
		Find(&messages).Error
	if err != nil {
		return nil, dbError("search messages", err)
	}

	views := make([]MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, Present(&messages[i], s.signer()))
	}
	return views, nil
}

// AddReaction records userID's emoji on a message. Adding the same emoji twice is a no-op.
func (s *MessageService) AddReaction(ctx context.Context, userID uint, messageID, emoji string) (*MessageView, error) {
	message, _, err := s.messageActor(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted() {
		return nil, ErrMessageDeleted
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > MaxEmojiLength || !utf8.ValidString(emoji) {
		return nil, validationError("Emoji is required and must be at most 64 bytes")
	}

	reaction := models.Reaction{MessageID: message.ID, UserID: userID, Emoji: emoji}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&reaction).Error; err != nil {
		return nil, dbError("add reaction", err)
	}

	return s.refreshReactions(ctx, message)
}

// RemoveReaction deletes userID's emoji from a message
func (s *MessageService) RemoveReaction(ctx context.Context, userID uint, messageID, emoji string) (*MessageView, error) {
	message, _, err := s.messageActor(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted() {
		return nil, ErrMessageDeleted
	}

	err = s.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", message.ID, userID, strings.TrimSpace(emoji)).
		Delete(&models.Reaction{}).Error
	if err != nil {
		return nil, dbError("remove reaction", err)
	}

	return s.refreshReactions(ctx, message)
}

// AttachmentURL returns a download URL for an attachment of a live message
func (s *MessageService) AttachmentURL(ctx context.Context, userID, attachmentID uint) (string, error) {
	var attachment models.Attachment
	err := s.db.WithContext(ctx).First(&attachment, attachmentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrAttachmentNotFound
	}
	if err != nil {
		return "", dbError("load attachment", err)
	}

	message, _, err := s.messageActor(ctx, userID, attachment.MessageID)
	if err != nil {
		return "", err
	}
	if message.IsDeleted() || s.attachments == nil {
		return "", ErrAttachmentNotFound
	}

	url, err := s.attachments.GetAttachmentURL(attachment.S3Key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return url, nil
}

func (s *MessageService) validateSend(ctx context.Context, channelID uint, input *SendMessageInput) error {
	if input.MessageType == "" {
		input.MessageType = models.MessageTypeText
	}
	if !input.MessageType.Valid() {
		return validationError(fmt.Sprintf("Unknown message type %q", input.MessageType))
	}
	if input.MessageType == models.MessageTypeSystem {
		return validationError("System messages cannot be sent by users")
	}

	hasContent := strings.TrimSpace(input.Content) != ""
	switch {
	case input.MessageType == models.MessageTypeText && !hasContent:
		return ErrEmptyContent
	case input.MessageType == models.MessageTypeText && len(input.Files) > 0:
		return validationError("Text messages cannot carry attachments")
	case input.MessageType != models.MessageTypeText && len(input.Files) == 0 && !hasContent:
		return validationError(fmt.Sprintf("A %s message needs an attachment", input.MessageType))
	case len(input.Files) > utils.MaxAttachmentsPerMessage:
		return validationError(fmt.Sprintf("A message can carry at most %d attachments", utils.MaxAttachmentsPerMessage))
	}
	if len(input.Files) > 0 && s.attachments == nil {
		return ErrStorage
	}

	if input.ReplyToID != nil {
		var parent models.Message
		err := s.db.WithContext(ctx).Select("id", "channel_id", "deleted_at").First(&parent, "id = ?", *input.ReplyToID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && parent.ChannelID != channelID) {
			return validationError("Reply target does not exist in this channel")
		}
		if err != nil {
			return dbError("load reply target", err)
		}
		if parent.IsDeleted() {
			return ErrMessageDeleted
		}
	}
	return nil
}

func (s *MessageService) uploadAll(ctx context.Context, files []*multipart.FileHeader, messageType models.MessageType, channelID uint) ([]models.Attachment, error) {
	attachments := make([]models.Attachment, 0, len(files))
	for _, file := range files {
		attachment, err := s.attachments.UploadAttachment(ctx, file, messageType, channelID)
		if err != nil {
			s.discardUploads(attachments)
			var uploadErr *utils.FileUploadError
			if errors.As(err, &uploadErr) {
				return nil, &ServiceError{Code: uploadErr.Code, Message: uploadErr.Message}
			}
			log.Printf("Attachment upload failed for channel %d: %v", channelID, err)
			return nil, err
		}
		attachments = append(attachments, *attachment)
	}
	return attachments, nil
}

// discardUploads removes stored objects whose rows are gone or were never written
func (s *MessageService) discardUploads(attachments []models.Attachment) {
	if s.attachments == nil {
		return
	}
	for _, attachment := range attachments {
		if err := s.attachments.DeleteAttachment(context.Background(), attachment.S3Key); err != nil {
			log.Printf("Failed to remove stored attachment %s: %v", attachment.S3Key, err)
		}
	}
}

func (s *MessageService) refreshReactions(ctx context.Context, message *models.Message) (*MessageView, error) {
	message.Reactions = nil
	if err := s.db.WithContext(ctx).Where("message_id = ?", message.ID).Order("id ASC").Find(&message.Reactions).Error; err != nil {
		return nil, dbError("load reactions", err)
	}
	view := Present(message, s.signer())
	s.publish(EventReactionUpdated, view)
	return &view, nil
}

// messageActor loads a message and resolves the caller's Actor in the message's space
func (s *MessageService) messageActor(ctx context.Context, userID uint, messageID string) (*models.Message, Actor, error) {
	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, Actor{}, err
	}
	_, actor, err := s.spaces.ChannelActor(ctx, userID, message.ChannelID)
	if err != nil {
		return nil, Actor{}, err
	}
	return message, actor, nil
}

// authorRole is the author's current role in the message's space. An author
// who has left the space is judged as a member.
func (s *MessageService) authorRole(ctx context.Context, message *models.Message) (models.Role, error) {
	var channel models.Channel
	if err := s.db.WithContext(ctx).First(&channel, message.ChannelID).Error; err != nil {
		return "", dbError("load channel", err)
	}
	role, found, err := s.spaces.RoleOf(ctx, channel.SpaceID, message.SenderID)
	if err != nil {
		return "", err
	}
	if !found {
		return models.RoleMember, nil
	}
	return role, nil
}

func (s *MessageService) loadMessage(ctx context.Context, messageID string) (*models.Message, error) {
	var message models.Message
	err := s.withDetails(s.db.WithContext(ctx)).First(&message, "id = ?", messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, dbError("load message", err)
	}
	return &message, nil
}

func (s *MessageService) withDetails(db *gorm.DB) *gorm.DB {
	return db.Preload("Sender").
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Reactions", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
}

func (s *MessageService) signer() URLSigner {
	if s.attachments == nil {
		return nil
	}
	return s.attachments
}

func (s *MessageService) publish(eventType EventType, view MessageView) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(NewEvent(eventType, view))
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
