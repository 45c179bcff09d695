// Package avatar stores profile pictures in S3-compatible object storage.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrUnsupportedType is returned for uploads that are not images we accept.
var ErrUnsupportedType = errors.New("avatar: unsupported content type")

// MaxUploadSize caps avatar uploads at 5 MiB.
const MaxUploadSize = 5 << 20

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// Service uploads and serves user avatars
type Service struct {
	client *minio.Client
	bucket string
}

// NewService connects to the object store and makes sure the bucket exists.
func NewService(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: bucket}, nil
}

// Upload stores an avatar for the user and returns its object name.
// An existing avatar with the same content type is overwritten.
func (s *Service) Upload(ctx context.Context, userID string, reader io.Reader, size int64, contentType string) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", ErrUnsupportedType
	}
	if size > MaxUploadSize {
		return "", fmt.Errorf("avatar too large: %d bytes", size)
	}

	objectName := "avatars/" + userID + ext
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put avatar: %w", err)
	}
	return objectName, nil
}

// PresignedURL returns a time-limited download URL for an avatar object.
func (s *Service) PresignedURL(ctx context.Context, objectName string) (string, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, 24*time.Hour, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign avatar: %w", err)
	}
	return signed.String(), nil
}

// Remove deletes an avatar object.
func (s *Service) Remove(ctx context.Context, objectName string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove avatar: %w", err)
	}
	return nil
}
