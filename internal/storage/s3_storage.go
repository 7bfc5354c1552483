package storage

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"lazone/api/internal/config"
)

const presignExpiry = 15 * time.Minute

var allowedPhotoTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/heic": ".heic",
}

// PhotoUpload is a presigned upload target for one listing photo.
type PhotoUpload struct {
	UploadURL string    `json:"upload_url"`
	Key       string    `json:"key"`
	PublicURL string    `json:"public_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IS3Storage defines the interface for listing photo storage.
type IS3Storage interface {
	GeneratePresignedPutURL(ctx context.Context, ownerID, listingID, contentType string) (*PhotoUpload, error)
	PublicURL(key string) string
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	cfg           *config.Config
	presignClient *s3.PresignClient
}

// NewS3Storage creates a new S3 storage service.
func NewS3Storage(ctx context.Context, cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(ctx,
		aws_config.WithRegion(cfg.AwsRegion),
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &s3Storage{
		cfg:           cfg,
		presignClient: s3.NewPresignClient(s3.NewFromConfig(awsCfg)),
	}, nil
}

// ErrUnsupportedContentType is returned for uploads that are not photos.
var ErrUnsupportedContentType = fmt.Errorf("unsupported photo content type")

// PhotoKey builds the object key of a new listing photo.
func PhotoKey(ownerID, listingID, contentType string) (string, error) {
	ext, ok := allowedPhotoTypes[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
	return path.Join("listings", safeSegment(ownerID), safeSegment(listingID), uuid.NewString()+ext), nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func safeSegment(s string) string {
	return unsafeChars.ReplaceAllString(s, "")
}

// GeneratePresignedPutURL creates a pre-signed URL for uploading one photo.
func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, ownerID, listingID, contentType string) (*PhotoUpload, error) {
	objectKey, err := PhotoKey(ownerID, listingID, contentType)
	if err != nil {
		return nil, err
	}

	presignedReq, err := s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}

	return &PhotoUpload{
		UploadURL: presignedReq.URL,
		Key:       objectKey,
		PublicURL: s.PublicURL(objectKey),
		ExpiresAt: time.Now().UTC().Add(presignExpiry),
	}, nil
}

// PublicURL returns where a stored object is served from.
func (s *s3Storage) PublicURL(key string) string {
	base := s.cfg.ImageBaseS3URL
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.AwsS3Bucket, s.cfg.AwsRegion)
	}
	return strings.TrimRight(base, "/") + "/" + key
}
