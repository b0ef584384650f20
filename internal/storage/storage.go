// Package storage defines the Storage interface implemented by the backup archive backends.
//
// New backends are added by implementing Storage and registering with the factory from an
// init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.StorageConfig) (storage.Storage, error) {
//	        return New(&cfg.MyBackend)
//	    })
//	}
//
// cmd/server blank-imports every backend package so that init() runs.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Download and Stat when the object does not exist.
var ErrNotFound = errors.New("object not found")

// Storage is an object store for backup archives
type Storage interface {
	// Name is the backend identifier recorded on each backup row (local, s3, azure, gcs)
	Name() string

	// Upload stores the object and returns its path, size and SHA256 checksum
	Upload(ctx context.Context, path string, reader io.Reader) (*UploadResult, error)

	// Download opens the object for reading
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether the object exists
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns object metadata without downloading it
	Stat(ctx context.Context, path string) (*FileMetadata, error)

	// Ping checks that the backend is reachable and the bucket or directory exists
	Ping(ctx context.Context) error
}

// UploadResult contains information about an uploaded object
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}

// FileMetadata contains metadata about a stored object
type FileMetadata struct {
	Path         string
	Size         int64
	Checksum     string
	LastModified time.Time
}

// ReadAllWithChecksum buffers r and returns its contents with the hex SHA256.
// Cloud backends use it so the checksum can be sent as object metadata.
func ReadAllWithChecksum(r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}
