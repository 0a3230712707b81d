// Package blob fetches query frames from object storage or a local directory.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrNotFound is returned when the key does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey is returned for empty keys or keys escaping the root directory.
	ErrInvalidKey = errors.New("invalid blob key")
)

// Fetcher returns the raw bytes stored under key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// MinioConfig describes an S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Secure    bool
}

// MinioFetcher reads objects from an S3-compatible bucket.
type MinioFetcher struct {
	client *minio.Client
	bucket string
}

// NewMinioFetcher creates a client for cfg. No request is made until Fetch.
func NewMinioFetcher(cfg MinioConfig) (*MinioFetcher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob bucket is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioFetcher{client: client, bucket: cfg.Bucket}, nil
}

// Fetch downloads the object stored under key.
func (f *MinioFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	obj, err := f.client.GetObject(ctx, f.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, f.wrap(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, f.wrap(key, err)
	}
	return data, nil
}

func (f *MinioFetcher) wrap(key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %s/%s", ErrNotFound, f.bucket, key)
	}
	return fmt.Errorf("fetch %s/%s: %w", f.bucket, key, err)
}

// DirFetcher serves keys as paths relative to a root directory.
type DirFetcher struct {
	root string
}

// NewDirFetcher returns a Fetcher rooted at dir.
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{root: dir}
}

// Fetch reads root/key. Keys must stay inside root.
func (f *DirFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if key == "" || !filepath.IsLocal(filepath.FromSlash(key)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, err
}
