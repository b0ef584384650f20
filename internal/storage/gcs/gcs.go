// Package gcs implements the Google Cloud Storage backend. Credentials come from a service
// account key (file or inline JSON) or from Application Default Credentials.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/ldc-construction/ldc-tools/internal/config"
	appstorage "github.com/ldc-construction/ldc-tools/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.StorageConfig) (appstorage.Storage, error) {
		return New(context.Background(), &cfg.GCS)
	})
}

const checksumMetaKey = "sha256"

// GCSStorage implements storage.Storage on a GCS bucket
type GCSStorage struct {
	client *storage.Client
	bucket string
}

// ClientOptions translates the config into client options
func ClientOptions(cfg *appconfig.GCSStorageConfig) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		// emulators run without credentials
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
		return opts
	}
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// New creates a new Google Cloud Storage backend
func New(ctx context.Context, cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}
	client, err := storage.NewClient(ctx, ClientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStorage{client: client, bucket: cfg.Bucket}, nil
}

// Name implements storage.Storage
func (s *GCSStorage) Name() string { return "gcs" }

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(path)
}

// Upload writes the object with its SHA256 as custom metadata
func (s *GCSStorage) Upload(ctx context.Context, path string, reader io.Reader) (*appstorage.UploadResult, error) {
	data, checksum, err := appstorage.ReadAllWithChecksum(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	w := s.object(path).NewWriter(ctx)
	w.ContentType = "application/gzip"
	w.Metadata = map[string]string{checksumMetaKey: checksum}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return &appstorage.UploadResult{Path: path, Size: int64(len(data)), Checksum: checksum}, nil
}

// Download opens a reader on the object
func (s *GCSStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	r, err := s.object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}
	return r, nil
}

// Delete removes the object
func (s *GCSStorage) Delete(ctx context.Context, path string) error {
	err := s.object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Exists reads the object attributes
func (s *GCSStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return true, nil
}

// Stat reads size, update time and the stored checksum
func (s *GCSStorage) Stat(ctx context.Context, path string) (*appstorage.FileMetadata, error) {
	attrs, err := s.object(path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", appstorage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object attributes: %w", err)
	}
	return &appstorage.FileMetadata{
		Path:         path,
		Size:         attrs.Size,
		Checksum:     attrs.Metadata[checksumMetaKey],
		LastModified: attrs.Updated,
	}, nil
}

// Ping reads the bucket attributes
func (s *GCSStorage) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %s not reachable: %w", s.bucket, err)
	}
	return nil
}
