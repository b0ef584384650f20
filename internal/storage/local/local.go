// Package local implements the local filesystem storage backend. It suits development and
// single-node deployments; replicas would need a shared filesystem.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/storage"
)

func init() {
	storage.Register("local", func(cfg *config.StorageConfig) (storage.Storage, error) {
		return New(&cfg.Local)
	})
}

// LocalStorage stores objects as files under basePath
type LocalStorage struct {
	basePath string
}

// New creates a new local filesystem storage backend
func New(cfg *config.LocalStorageConfig) (*LocalStorage, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local storage base_path is required")
	}
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: filepath.Clean(cfg.BasePath)}, nil
}

// Name implements storage.Storage
func (s *LocalStorage) Name() string { return "local" }

// fullPath resolves path under basePath and refuses anything that escapes it.
func (s *LocalStorage) fullPath(path string) (string, error) {
	full := filepath.Join(s.basePath, filepath.FromSlash(path))
	if full != s.basePath && !strings.HasPrefix(full, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage path: %s", path)
	}
	return full, nil
}

// Upload writes the object, hashing it on the way to disk
func (s *LocalStorage) Upload(_ context.Context, path string, reader io.Reader) (*storage.UploadResult, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// write to a temp file and rename so readers never see a partial archive
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return nil, fmt.Errorf("failed to finalize file: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     written,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Download opens the file
func (s *LocalStorage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes the file and any parent directories left empty
func (s *LocalStorage) Delete(_ context.Context, path string) error {
	full, err := s.fullPath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	for dir := filepath.Dir(full); dir != s.basePath; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

// Exists checks whether the file exists
func (s *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// Stat returns the file's size, modification time and SHA256
func (s *LocalStorage) Stat(_ context.Context, path string) (*storage.FileMetadata, error) {
	full, err := s.fullPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return &storage.FileMetadata{
		Path:         path,
		Size:         info.Size(),
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
		LastModified: info.ModTime(),
	}, nil
}

// Ping checks that the base directory is still present and writable
func (s *LocalStorage) Ping(_ context.Context) error {
	f, err := os.CreateTemp(s.basePath, ".ping-*")
	if err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
