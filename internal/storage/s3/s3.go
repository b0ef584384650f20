// Package s3 implements the S3-compatible storage backend. It works with AWS S3 and with
// MinIO or other S3-compatible services through a custom endpoint. Credentials come from the
// default AWS chain, a static key pair, or an assumed IAM role.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/storage"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.StorageConfig) (storage.Storage, error) {
		return New(&cfg.S3)
	})
}

const checksumMetaKey = "sha256"

// S3Storage implements storage.Storage on an S3 bucket
type S3Storage struct {
	client *s3.Client
	bucket string
}

// New creates a new S3-compatible storage backend.
//
// Authentication methods:
//   - "default" or empty: AWS default credential chain (env vars, shared config, IAM role)
//   - "static": explicit access key and secret key
//   - "assume_role": assumes role_arn, optionally with external_id
func New(cfg *appconfig.S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		authMethod = "default"
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		}
	}

	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "assume_role":
		if cfg.RoleARN == "" {
			return nil, fmt.Errorf("role_arn is required for assume_role auth")
		}
	case "default":
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', or 'assume_role')", authMethod)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if authMethod == "assume_role" {
		var roleOpts []func(*stscreds.AssumeRoleOptions)
		roleOpts = append(roleOpts, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "ldc-tools-backup"
		})
		if cfg.ExternalID != "" {
			roleOpts = append(roleOpts, func(o *stscreds.AssumeRoleOptions) {
				o.ExternalID = aws.String(cfg.ExternalID)
			})
		}
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN, roleOpts...)
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services expect path-style addressing
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Name implements storage.Storage
func (s *S3Storage) Name() string { return "s3" }

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// Upload puts the object with its SHA256 stored as user metadata
func (s *S3Storage) Upload(ctx context.Context, path string, reader io.Reader) (*storage.UploadResult, error) {
	data, checksum, err := storage.ReadAllWithChecksum(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/gzip"),
		Metadata:      map[string]string{checksumMetaKey: checksum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}
	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: checksum}, nil
}

// Download retrieves the object body
func (s *S3Storage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 treats a missing key as success.
func (s *S3Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// Exists issues a HEAD request for the object
func (s *S3Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check object: %w", err)
	}
	return true, nil
}

// Stat reads size, modification time and the stored checksum
func (s *S3Storage) Stat(ctx context.Context, path string) (*storage.FileMetadata, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	md := &storage.FileMetadata{Path: path, Checksum: out.Metadata[checksumMetaKey]}
	if out.ContentLength != nil {
		md.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		md.LastModified = *out.LastModified
	}
	return md, nil
}

// Ping checks that the bucket exists and is accessible
func (s *S3Storage) Ping(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("s3 bucket %s not reachable: %w", s.bucket, err)
	}
	return nil
}
