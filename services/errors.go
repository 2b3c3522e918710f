package services

import "errors"

// ServiceError is a classified failure returned by the domain services.
// Controllers translate Code into an HTTP status.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

var (
	ErrPermissionDenied   = &ServiceError{Code: "PERMISSION_DENIED", Message: "You do not have permission to perform this action"}
	ErrNotMember          = &ServiceError{Code: "NOT_A_MEMBER", Message: "You are not a member of this space"}
	ErrUserNotFound       = &ServiceError{Code: "USER_NOT_FOUND", Message: "User not found"}
	ErrSpaceNotFound      = &ServiceError{Code: "SPACE_NOT_FOUND", Message: "Space not found"}
	ErrChannelNotFound    = &ServiceError{Code: "CHANNEL_NOT_FOUND", Message: "Channel not found"}
	ErrMessageNotFound    = &ServiceError{Code: "MESSAGE_NOT_FOUND", Message: "Message not found"}
	ErrMemberNotFound     = &ServiceError{Code: "MEMBER_NOT_FOUND", Message: "Membership not found"}
	ErrAttachmentNotFound = &ServiceError{Code: "ATTACHMENT_NOT_FOUND", Message: "Attachment not found"}
	ErrMessageDeleted     = &ServiceError{Code: "MESSAGE_DELETED", Message: "This message has been deleted"}
	ErrConflict           = &ServiceError{Code: "EDIT_CONFLICT", Message: "The message was changed by someone else"}
	ErrAlreadyMember      = &ServiceError{Code: "ALREADY_MEMBER", Message: "User is already a member of this space"}
	ErrEmptyContent       = &ServiceError{Code: "VALIDATION_ERROR", Message: "Message content cannot be empty"}
	ErrInvalidInput       = &ServiceError{Code: "VALIDATION_ERROR", Message: "Invalid request data"}
	ErrDatabase           = &ServiceError{Code: "DATABASE_ERROR", Message: "A database error occurred"}
	ErrStorage            = &ServiceError{Code: "STORAGE_ERROR", Message: "An object storage error occurred"}
)

// validationError builds a VALIDATION_ERROR carrying a specific message
func validationError(message string) *ServiceError {
	return &ServiceError{Code: "VALIDATION_ERROR", Message: message}
}

// AsServiceError extracts the ServiceError from err's chain, if any
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}
