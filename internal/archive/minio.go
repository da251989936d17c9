package archive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config addresses an S3-compatible bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Secure    bool
}

// MinioArchive stores objects in MinIO or any S3-compatible service.
type MinioArchive struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioArchive wraps an existing client. prefix is prepended to all keys
// (e.g. "experiments/").
func NewMinioArchive(client *minio.Client, bucket, prefix string) *MinioArchive {
	return &MinioArchive{client: client, bucket: bucket, prefix: prefix}
}

// Dial creates a client for cfg.
func Dial(cfg Config) (*MinioArchive, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("archive client: %w", err)
	}
	return NewMinioArchive(client, cfg.Bucket, cfg.Prefix), nil
}

func (s *MinioArchive) key(name string) string {
	return joinKey(s.prefix, name)
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioArchive) Put(ctx context.Context, name string, r io.Reader, size int64, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), r, size, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: meta,
	})
	return err
}

func (s *MinioArchive) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)
	// GetObject is lazy; stat first so a missing key maps to ErrNotFound.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
}

func (s *MinioArchive) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *MinioArchive) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}
