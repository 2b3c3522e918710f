package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/kafuffle/kafuffle-api/models"
	"gorm.io/gorm"
)

// DefaultChannelName is the channel every new space starts with
const DefaultChannelName = "general"

// CreateSpaceInput carries the fields for a new space
type CreateSpaceInput struct {
	Name        string
	Description string
}

// AddMemberInput identifies the user to add either by id or by email
type AddMemberInput struct {
	UserID uint
	Email  string
	Role   models.Role
}

// CreateChannelInput carries the fields for a new channel
type CreateChannelInput struct {
	Name  string
	Topic string
}

// SpaceSummary is a space together with the caller's role in it
type SpaceSummary struct {
	models.Space
	Role models.Role `json:"role"`
}

// SpaceService manages spaces, memberships and channels, and resolves the
// Actor used by every permission check.
type SpaceService struct {
	db        *gorm.DB
	publisher Publisher
}

// NewSpaceService creates a space service. publisher may be nil.
func NewSpaceService(db *gorm.DB, publisher Publisher) *SpaceService {
	return &SpaceService{db: db, publisher: publisher}
}

// CreateSpace creates a space owned by ownerID together with its default channel
func (s *SpaceService) CreateSpace(ctx context.Context, ownerID uint, input CreateSpaceInput) (*models.Space, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("Space name is required")
	}

	space := models.Space{Name: name, Description: strings.TrimSpace(input.Description), OwnerID: ownerID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&space).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.Membership{SpaceID: space.ID, UserID: ownerID, Role: models.RoleOwner}).Error; err != nil {
			return err
		}
		return tx.Create(&models.Channel{SpaceID: space.ID, Name: DefaultChannelName}).Error
	})
	if err != nil {
		return nil, dbError("create space", err)
	}

	return &space, nil
}

// ListSpaces returns every space userID belongs to with their role
func (s *SpaceService) ListSpaces(ctx context.Context, userID uint) ([]SpaceSummary, error) {
	var memberships []models.Membership
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("space_id ASC").Find(&memberships).Error; err != nil {
		return nil, dbError("list memberships", err)
	}
	if len(memberships) == 0 {
		return []SpaceSummary{}, nil
	}

	ids := make([]uint, 0, len(memberships))
	roles := make(map[uint]models.Role, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.SpaceID)
		roles[m.SpaceID] = m.Role
	}

	var spaces []models.Space
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&spaces).Error; err != nil {
		return nil, dbError("list spaces", err)
	}

	out := make([]SpaceSummary, 0, len(spaces))
	for _, space := range spaces {
		out = append(out, SpaceSummary{Space: space, Role: roles[space.ID]})
	}
	return out, nil
}

// RoleOf returns userID's role in spaceID; found is false when they are not a member
func (s *SpaceService) RoleOf(ctx context.Context, spaceID, userID uint) (models.Role, bool, error) {
	var membership models.Membership
	err := s.db.WithContext(ctx).Where("space_id = ? AND user_id = ?", spaceID, userID).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbError("load membership", err)
	}
	return membership.Role, true, nil
}

// ResolveActor builds the Actor for userID in spaceID, failing with ErrNotMember for outsiders
func (s *SpaceService) ResolveActor(ctx context.Context, userID, spaceID uint) (Actor, error) {
	if err := s.ensureSpace(ctx, spaceID); err != nil {
		return Actor{}, err
	}
	role, found, err := s.RoleOf(ctx, spaceID, userID)
	if err != nil {
		return Actor{}, err
	}
	if !found {
		return Actor{}, ErrNotMember
	}
	return Actor{UserID: userID, Role: role}, nil
}

// ChannelActor loads a channel and resolves the caller's Actor in its space
func (s *SpaceService) ChannelActor(ctx context.Context, userID, channelID uint) (*models.Channel, Actor, error) {
	var channel models.Channel
	err := s.db.WithContext(ctx).First(&channel, channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, Actor{}, ErrChannelNotFound
	}
	if err != nil {
		return nil, Actor{}, dbError("load channel", err)
	}

	actor, err := s.ResolveActor(ctx, userID, channel.SpaceID)
	if err != nil {
		return nil, Actor{}, err
	}
	return &channel, actor, nil
}

// ListMembers returns the memberships of a space, visible to any member
func (s *SpaceService) ListMembers(ctx context.Context, userID, spaceID uint) ([]models.Membership, error) {
	if _, err := s.ResolveActor(ctx, userID, spaceID); err != nil {
		return nil, err
	}

	var members []models.Membership
	if err := s.db.WithContext(ctx).Preload("User").Where("space_id = ?", spaceID).Order("id ASC").Find(&members).Error; err != nil {
		return nil, dbError("list members", err)
	}
	return members, nil
}

// AddMember adds a user to a space. Only owners and admins add members, and
// only with a role strictly below their own.
func (s *SpaceService) AddMember(ctx context.Context, actorID, spaceID uint, input AddMemberInput) (*models.Membership, error) {
	actor, err := s.ResolveActor(ctx, actorID, spaceID)
	if err != nil {
		return nil, err
	}
	if input.Role == "" {
		input.Role = models.RoleMember
	}
	if !input.Role.Valid() {
		return nil, validationError(fmt.Sprintf("Unknown role %q", input.Role))
	}
	if !canManageMembers(actor.Role) || !actor.Role.Outranks(input.Role) {
		return nil, ErrPermissionDenied
	}

	user, err := s.findUser(ctx, input.UserID, input.Email)
	if err != nil {
		return nil, err
	}

	if _, found, err := s.RoleOf(ctx, spaceID, user.ID); err != nil {
		return nil, err
	} else if found {
		return nil, ErrAlreadyMember
	}

	membership := models.Membership{SpaceID: spaceID, UserID: user.ID, Role: input.Role}
	if err := s.db.WithContext(ctx).Create(&membership).Error; err != nil {
		return nil, dbError("create membership", err)
	}
	membership.User = *user

	s.announce(ctx, spaceID, user.ID, fmt.Sprintf("%s joined the space", user.Name))
	return &membership, nil
}

// UpdateMemberRole changes another member's role. The actor must outrank both
// the member's current role and the new one.
func (s *SpaceService) UpdateMemberRole(ctx context.Context, actorID, spaceID, memberID uint, role models.Role) (*models.Membership, error) {
	actor, err := s.ResolveActor(ctx, actorID, spaceID)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, validationError(fmt.Sprintf("Unknown role %q", role))
	}

	membership, err := s.membership(ctx, spaceID, memberID)
	if err != nil {
		return nil, err
	}
	if actorID == memberID || !canManageMembers(actor.Role) ||
		!actor.Role.Outranks(membership.Role) || !actor.Role.Outranks(role) {
		return nil, ErrPermissionDenied
	}

	if err := s.db.WithContext(ctx).Model(membership).Update("role", role).Error; err != nil {
		return nil, dbError("update membership role", err)
	}
	membership.Role = role
	return membership, nil
}

// RemoveMember removes a member. Anyone but the owner may leave; removing
// someone else requires managing rights and a higher role.
func (s *SpaceService) RemoveMember(ctx context.Context, actorID, spaceID, memberID uint) error {
	actor, err := s.ResolveActor(ctx, actorID, spaceID)
	if err != nil {
		return err
	}

	membership, err := s.membership(ctx, spaceID, memberID)
	if err != nil {
		return err
	}

	if actorID == memberID {
		if membership.Role == models.RoleOwner {
			return validationError("The owner cannot leave the space")
		}
	} else if !canManageMembers(actor.Role) || !actor.Role.Outranks(membership.Role) {
		return ErrPermissionDenied
	}

	if err := s.db.WithContext(ctx).Delete(membership).Error; err != nil {
		return dbError("delete membership", err)
	}
	s.revokeFeeds(ctx, spaceID, memberID)
	return nil
}

// CreateChannel adds a channel to a space; owners and admins only
func (s *SpaceService) CreateChannel(ctx context.Context, actorID, spaceID uint, input CreateChannelInput) (*models.Channel, error) {
	actor, err := s.ResolveActor(ctx, actorID, spaceID)
	if err != nil {
		return nil, err
	}
	if !canManageMembers(actor.Role) {
		return nil, ErrPermissionDenied
	}

	name := strings.ToLower(strings.TrimSpace(input.Name))
	if name == "" {
		return nil, validationError("Channel name is required")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&models.Channel{}).Where("space_id = ? AND name = ?", spaceID, name).Count(&existing).Error; err != nil {
		return nil, dbError("check channel name", err)
	}
	if existing > 0 {
		return nil, validationError(fmt.Sprintf("A channel named %q already exists", name))
	}

	channel := models.Channel{SpaceID: spaceID, Name: name, Topic: strings.TrimSpace(input.Topic)}
	if err := s.db.WithContext(ctx).Create(&channel).Error; err != nil {
		return nil, dbError("create channel", err)
	}
	return &channel, nil
}

// ListChannels returns a space's channels to any member
func (s *SpaceService) ListChannels(ctx context.Context, actorID, spaceID uint) ([]models.Channel, error) {
	if _, err := s.ResolveActor(ctx, actorID, spaceID); err != nil {
		return nil, err
	}

	var channels []models.Channel
	if err := s.db.WithContext(ctx).Where("space_id = ?", spaceID).Order("id ASC").Find(&channels).Error; err != nil {
		return nil, dbError("list channels", err)
	}
	return channels, nil
}

func (s *SpaceService) ensureSpace(ctx context.Context, spaceID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Space{}).Where("id = ?", spaceID).Count(&count).Error; err != nil {
		return dbError("load space", err)
	}
	if count == 0 {
		return ErrSpaceNotFound
	}
	return nil
}

func (s *SpaceService) membership(ctx context.Context, spaceID, userID uint) (*models.Membership, error) {
	var membership models.Membership
	err := s.db.WithContext(ctx).Where("space_id = ? AND user_id = ?", spaceID, userID).First(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, dbError("load membership", err)
	}
	return &membership, nil
}

func (s *SpaceService) findUser(ctx context.Context, userID uint, email string) (*models.User, error) {
	query := s.db.WithContext(ctx)
	switch {
	case userID != 0:
		query = query.Where("id = ?", userID)
	case strings.TrimSpace(email) != "":
		query = query.Where("email = ?", strings.TrimSpace(email))
	default:
		return nil, validationError("Either user_id or email is required")
	}

	var user models.User
	err := query.First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, dbError("load user", err)
	}
	return &user, nil
}

// announce posts a system message to the space's first channel. Failures are
// logged only; the membership change has already been committed.
func (s *SpaceService) announce(ctx context.Context, spaceID, subjectID uint, text string) {
	var channel models.Channel
	if err := s.db.WithContext(ctx).Where("space_id = ?", spaceID).Order("id ASC").First(&channel).Error; err != nil {
		log.Printf("Skipping announcement in space %d: %v", spaceID, err)
		return
	}

	message := models.Message{
		ChannelID:   channel.ID,
		SenderID:    subjectID,
		Content:     &text,
		MessageType: models.MessageTypeSystem,
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		log.Printf("Failed to post announcement in channel %d: %v", channel.ID, err)
		return
	}
	if s.publisher != nil {
		s.publisher.Publish(NewEvent(EventMessageCreated, Present(&message, nil)))
	}
}

// revokeFeeds disconnects userID from the live feed of every channel in the space
func (s *SpaceService) revokeFeeds(ctx context.Context, spaceID, userID uint) {
	if s.publisher == nil {
		return
	}
	var channelIDs []uint
	if err := s.db.WithContext(ctx).Model(&models.Channel{}).Where("space_id = ?", spaceID).Pluck("id", &channelIDs).Error; err != nil {
		log.Printf("Failed to list channels of space %d to revoke user %d: %v", spaceID, userID, err)
		return
	}
	for _, channelID := range channelIDs {
		s.publisher.Publish(NewRevocation(channelID, userID))
	}
}

// dbError logs a store failure and classifies it as ErrDatabase
func dbError(op string, err error) error {
	log.Printf("Database error during %s: %v", op, err)
	return fmt.Errorf("%w: %s: %v", ErrDatabase, op, err)
}
