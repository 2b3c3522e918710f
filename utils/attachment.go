package utils

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/kafuffle/kafuffle-api/models"
)

const (
	// MaxAttachmentSize is 25MB in bytes
	MaxAttachmentSize = 25 * 1024 * 1024
	// MaxAttachmentsPerMessage caps how many files one message may carry
	MaxAttachmentsPerMessage = 10
)

// allowedExtensions lists accepted extensions per message type. A nil entry
// means any extension not in blockedExtensions.
var allowedExtensions = map[models.MessageType][]string{
	models.MessageTypeImage: {".png", ".jpg", ".jpeg", ".gif", ".webp"},
	models.MessageTypeAudio: {".mp3", ".wav", ".ogg", ".m4a"},
	models.MessageTypeVideo: {".mp4", ".webm", ".mov"},
	models.MessageTypeFile:  nil,
}

var blockedExtensions = []string{".exe", ".bat", ".cmd", ".com", ".msi", ".scr"}

// FileUploadError represents a file upload validation error
type FileUploadError struct {
	Code    string
	Message string
}

func (e *FileUploadError) Error() string {
	return e.Message
}

// ValidateAttachment checks an uploaded file against the size limit and the
// extensions allowed for the message type it is attached to
func ValidateAttachment(fileHeader *multipart.FileHeader, messageType models.MessageType) error {
	if fileHeader.Size > MaxAttachmentSize {
		return &FileUploadError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum allowed size of %d MB", MaxAttachmentSize/(1024*1024)),
		}
	}

	allowed, ok := allowedExtensions[messageType]
	if !ok {
		return &FileUploadError{
			Code:    "ATTACHMENTS_NOT_ALLOWED",
			Message: fmt.Sprintf("Messages of type %s cannot carry attachments", messageType),
		}
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if contains(blockedExtensions, ext) {
		return &FileUploadError{
			Code:    "INVALID_FILE_FORMAT",
			Message: fmt.Sprintf("%s files are not allowed", ext),
		}
	}
	if allowed != nil && !contains(allowed, ext) {
		return &FileUploadError{
			Code:    "INVALID_FILE_FORMAT",
			Message: fmt.Sprintf("Only %s files are allowed for %s messages", strings.Join(allowed, ", "), messageType),
		}
	}

	return nil
}

// SanitizeFileName strips any directory components and characters that are unsafe in object keys
func SanitizeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20, r == '/', r == '?', r == '#', r == '%':
			return -1
		}
		return r
	}, base)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
