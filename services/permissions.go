package services

import "github.com/kafuffle/kafuffle-api/models"

// Actor is the user performing an action together with their role in the
// space the action targets.
type Actor struct {
	UserID uint
	Role   models.Role
}

// CanEdit reports whether actor may change the content of message.
// Only the author may edit, and only while the message is not deleted.
// No role, however senior, edits someone else's message.
func CanEdit(actor Actor, message *models.Message) bool {
	return actor.UserID == message.SenderID && !message.IsDeleted()
}

// CanDelete reports whether actor may soft-delete message, given the role the
// message's author holds in the same space.
func CanDelete(actor Actor, message *models.Message, authorRole models.Role) bool {
	if message.IsDeleted() {
		return false
	}
	if actor.UserID == message.SenderID {
		return true
	}
	return canModerate(actor.Role, authorRole)
}

// canModerate is the deletion table for other people's messages
func canModerate(actorRole, authorRole models.Role) bool {
	switch actorRole {
	case models.RoleOwner:
		return authorRole.Valid()
	case models.RoleAdmin:
		return authorRole.Valid() && authorRole != models.RoleOwner
	case models.RoleModerator:
		return authorRole == models.RoleModerator || authorRole == models.RoleMember
	case models.RoleMember:
		return false
	default:
		return false
	}
}

// canManageMembers reports whether role may invite, promote and remove members
func canManageMembers(role models.Role) bool {
	return role == models.RoleOwner || role == models.RoleAdmin
}
