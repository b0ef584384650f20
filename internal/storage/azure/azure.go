// Package azure implements the Azure Blob Storage backend. Archives are uploaded as block
// blobs into a single container with their SHA256 stored as blob metadata.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.StorageConfig) (storage.Storage, error) {
		return New(&cfg.Azure)
	})
}

const checksumMetaKey = "sha256"

// AzureStorage implements storage.Storage on a blob container
type AzureStorage struct {
	client        *azblob.Client
	containerName string
}

// New creates a new Azure Blob Storage backend using shared key credentials
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}
	return &AzureStorage{client: client, containerName: cfg.ContainerName}, nil
}

// Name implements storage.Storage
func (s *AzureStorage) Name() string { return "azure" }

func (s *AzureStorage) container() *container.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName)
}

func isNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound)
}

// Upload stores the archive as a block blob
func (s *AzureStorage) Upload(ctx context.Context, path string, reader io.Reader) (*storage.UploadResult, error) {
	data, checksum, err := storage.ReadAllWithChecksum(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	blob := s.container().NewBlockBlobClient(path)
	_, err = blob.Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		Metadata: map[string]*string{checksumMetaKey: &checksum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}
	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: checksum}, nil
}

// Download streams the blob
func (s *AzureStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.container().NewBlobClient(path).DownloadStream(ctx, nil)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Delete removes the blob
func (s *AzureStorage) Delete(ctx context.Context, path string) error {
	_, err := s.container().NewBlobClient(path).Delete(ctx, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// Exists reads the blob properties
func (s *AzureStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.container().NewBlobClient(path).GetProperties(ctx, nil)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check blob: %w", err)
	}
	return true, nil
}

// Stat reads size, modification time and the stored checksum
func (s *AzureStorage) Stat(ctx context.Context, path string) (*storage.FileMetadata, error) {
	props, err := s.container().NewBlobClient(path).GetProperties(ctx, nil)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	md := &storage.FileMetadata{Path: path}
	if props.ContentLength != nil {
		md.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		md.LastModified = *props.LastModified
	}
	// metadata keys come back with header casing
	for k, v := range props.Metadata {
		if strings.EqualFold(k, checksumMetaKey) && v != nil {
			md.Checksum = *v
		}
	}
	return md, nil
}

// Ping reads the container properties
func (s *AzureStorage) Ping(ctx context.Context) error {
	if _, err := s.container().GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("azure container %s not reachable: %w", s.containerName, err)
	}
	return nil
}
