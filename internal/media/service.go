// Package media stores vision board images in S3-compatible object
// storage. Goals reference images by object key; the API hands out
// short-lived presigned URLs so the bucket stays private.
package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"waypoint/api/internal/util"
)

const (
	// MaxImageBytes caps vision image uploads.
	MaxImageBytes = 5 << 20

	presignTTL = 15 * time.Minute
)

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Service wraps the object storage client.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to object storage and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("media: connect %s: %w", endpoint, err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("media: check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("media: create bucket %s: %w", bucket, err)
		}
		log.Printf("media: created bucket %s", bucket)
	}

	return &Service{client: client, bucket: bucket}, nil
}

// ValidContentType reports whether the upload type is an accepted image.
func ValidContentType(contentType string) bool {
	_, ok := allowedImageTypes[normalizeContentType(contentType)]
	return ok
}

// UploadVisionImage stores an image and returns the object key. Keys are
// namespaced by owner so listing one user never touches another's objects.
func (s *Service) UploadVisionImage(ctx context.Context, ownerID string, contentType string, size int64, body io.Reader) (string, error) {
	ct := normalizeContentType(contentType)
	ext, ok := allowedImageTypes[ct]
	if !ok {
		return "", fmt.Errorf("media: unsupported content type %q", contentType)
	}
	if size > MaxImageBytes {
		return "", fmt.Errorf("media: image exceeds %d bytes", MaxImageBytes)
	}

	key := fmt.Sprintf("%s/%s%s", ownerID, util.NewID("img"), ext)
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: ct,
	})
	if err != nil {
		return "", fmt.Errorf("media: put object %s: %w", key, err)
	}
	return key, nil
}

// PresignedURL returns a time-limited GET URL for an object key.
func (s *Service) PresignedURL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("media: presign %s: %w", key, err)
	}
	return u.String(), nil
}

// Remove deletes an object. Missing objects are not an error.
func (s *Service) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("media: remove %s: %w", key, err)
	}
	return nil
}

// OwnedBy reports whether an object key sits under the owner's namespace.
func OwnedBy(key, ownerID string) bool {
	return strings.HasPrefix(key, ownerID+"/")
}

func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
