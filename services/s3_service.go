package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	profilePictureFolder = "profile-pics/"
	presignExpiry        = 5 * time.Minute
)

// ObjectPresigner is the subset of the S3 presign client used for uploads
type ObjectPresigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error)
}

// PresignedRequest is a presigned URL with the method it is valid for
type PresignedRequest struct {
	URL    string
	Method string
}

// s3Presigner adapts s3.PresignClient to ObjectPresigner
type s3Presigner struct {
	client *s3.PresignClient
}

func (p *s3Presigner) PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.client.PresignPutObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL, Method: req.Method}, nil
}

func (p *s3Presigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*PresignedRequest, error) {
	req, err := p.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &PresignedRequest{URL: req.URL, Method: req.Method}, nil
}

// ProfilePictureUpload is what a client needs to upload a profile picture
// and then store its location on the profile
type ProfilePictureUpload struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
	ReadURL   string `json:"readUrl"`
}

// ProfilePictureService hands out presigned S3 URLs for profile pictures
type ProfilePictureService struct {
	Presigner ObjectPresigner
	Bucket    string
	Now       func() time.Time
}

// NewProfilePictureService builds an S3 presigner for bucket in region
func NewProfilePictureService(ctx context.Context, region, bucket string) (*ProfilePictureService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	presigner := &s3Presigner{client: s3.NewPresignClient(s3.NewFromConfig(cfg))}
	return &ProfilePictureService{Presigner: presigner, Bucket: bucket, Now: time.Now}, nil
}

// GenerateUploadURL generates a presigned URL for uploading a profile picture
func (ps *ProfilePictureService) GenerateUploadURL(ctx context.Context, userID, fileName, fileType string) (*ProfilePictureUpload, error) {
	if fileName == "" || fileType == "" {
		return nil, fmt.Errorf("fileName and fileType are required: %w", ErrInvalidUpload)
	}
	if !strings.HasPrefix(fileType, "image/") {
		return nil, fmt.Errorf("unsupported file type %q: %w", fileType, ErrInvalidUpload)
	}

	key := profilePictureFolder
	if userID != "" {
		key += userID + "/"
	}
	key += ps.Now().UTC().Format("20060102150405") + "-" + path.Base(fileName)

	upload, err := ps.Presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(ps.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(fileType),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	readURL, err := ps.GenerateReadURL(ctx, key)
	if err != nil {
		return nil, err
	}
	return &ProfilePictureUpload{UploadURL: upload.URL, Key: key, ReadURL: readURL}, nil
}

// GenerateReadURL generates a presigned URL for reading a file
func (ps *ProfilePictureService) GenerateReadURL(ctx context.Context, key string) (string, error) {
	if !strings.HasPrefix(key, profilePictureFolder) {
		return "", fmt.Errorf("key %q is not a profile picture: %w", key, ErrInvalidUpload)
	}
	read, err := ps.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ps.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign read: %w", err)
	}
	return read.URL, nil
}
