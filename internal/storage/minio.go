package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/oauth2"
)

// filenameMetaKey is the user-metadata key holding the original file name.
const filenameMetaKey = "Filename"

// MinioStorage implements Storage using a MinIO (or any S3-compatible) backend.
// Objects are keyed by a random UUID which doubles as the remote object id.
// The backend authenticates with static keys, so the per-request token
// source is ignored.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioStorage creates a MinIO client, ensures the bucket exists and returns
// a ready-to-use MinioStorage.
func NewMinioStorage(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, log *slog.Logger) (*MinioStorage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		log.Info("storage: created bucket", "bucket", bucket)
	}

	return &MinioStorage{client: client, bucket: bucket}, nil
}

// CreateObject streams body to the storage bucket. spec.Parent is ignored: the
// bucket is fixed at construction so objects are always created where
// GetMetadata and GetMedia look for them. spec.Size must be the exact byte
// count (pass -1 only if the size is genuinely unknown; MinIO will buffer it).
func (s *MinioStorage) CreateObject(ctx context.Context, _ oauth2.TokenSource, spec ObjectSpec, body io.Reader) (string, error) {
	key := uuid.NewString()

	_, err := s.client.PutObject(ctx, s.bucket, key, body, spec.Size, minio.PutObjectOptions{
		ContentType:  spec.MimeType,
		UserMetadata: map[string]string{filenameMetaKey: spec.Name},
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}
	return key, nil
}

// GetMetadata stats the object and reports its content type and original name.
func (s *MinioStorage) GetMetadata(ctx context.Context, _ oauth2.TokenSource, id string) (*Metadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("stat object %q: %w", id, err)
	}
	return objectMetadata(info), nil
}

// GetMedia opens the object for reading.
func (s *MinioStorage) GetMedia(ctx context.Context, _ oauth2.TokenSource, id string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", id, err)
	}
	// GetObject is lazy; surface a missing object before the caller starts streaming.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, fmt.Errorf("get object %q: %w", id, err)
	}
	return obj, nil
}

func objectMetadata(info minio.ObjectInfo) *Metadata {
	md := &Metadata{MimeType: info.ContentType}
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, filenameMetaKey) || strings.EqualFold(k, "X-Amz-Meta-"+filenameMetaKey) {
			md.Name = v
			break
		}
	}
	if md.Name == "" && info.Metadata != nil {
		md.Name = info.Metadata.Get("X-Amz-Meta-" + filenameMetaKey)
	}
	return md
}
