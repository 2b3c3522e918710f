package services

import (
	"context"
	"fmt"
	"mime/multipart"

	"github.com/kafuffle/kafuffle-api/models"
	"github.com/kafuffle/kafuffle-api/utils"
)

// AttachmentService validates, stores, signs and removes message attachments
type AttachmentService interface {
	// UploadAttachment validates the file for messageType and stores it under the channel's prefix
	UploadAttachment(ctx context.Context, fileHeader *multipart.FileHeader, messageType models.MessageType, channelID uint) (*models.Attachment, error)

	// GetAttachmentURL generates a download URL for a stored attachment
	GetAttachmentURL(key string) (string, error)

	// DeleteAttachment removes an attachment from storage
	DeleteAttachment(ctx context.Context, key string) error
}

// S3AttachmentService implements AttachmentService on top of S3Interface
type S3AttachmentService struct {
	s3Service S3Interface
}

var attachmentServiceInstance AttachmentService

// InitAttachmentService initializes the attachment service with an S3 backend
func InitAttachmentService(s3Service S3Interface) AttachmentService {
	attachmentServiceInstance = &S3AttachmentService{
		s3Service: s3Service,
	}
	return attachmentServiceInstance
}

// GetAttachmentService returns the initialized attachment service instance
func GetAttachmentService() AttachmentService {
	return attachmentServiceInstance
}

// SetAttachmentService sets the attachment service instance (primarily for testing)
func SetAttachmentService(service AttachmentService) {
	attachmentServiceInstance = service
}

// UploadAttachment validates and uploads a file to S3
func (s *S3AttachmentService) UploadAttachment(ctx context.Context, fileHeader *multipart.FileHeader, messageType models.MessageType, channelID uint) (*models.Attachment, error) {
	if err := utils.ValidateAttachment(fileHeader, messageType); err != nil {
		return nil, err
	}

	object, err := s.s3Service.UploadFile(ctx, fileHeader, fmt.Sprintf("attachments/%d", channelID))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return &models.Attachment{
		S3Key:       object.Key,
		FileName:    utils.SanitizeFileName(fileHeader.Filename),
		ContentType: object.ContentType,
		Size:        object.Size,
	}, nil
}

// GetAttachmentURL generates a presigned URL for an attachment
func (s *S3AttachmentService) GetAttachmentURL(key string) (string, error) {
	if key == "" {
		return "", nil
	}

	url, err := s.s3Service.GetPresignedURL(context.Background(), key)
	if err != nil {
		return "", fmt.Errorf("failed to generate attachment URL: %w", err)
	}
	return url, nil
}

// DeleteAttachment deletes an attachment from S3
func (s *S3AttachmentService) DeleteAttachment(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := s.s3Service.DeleteFile(ctx, key); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}
