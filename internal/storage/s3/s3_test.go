package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	appconfig "github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/storage"
)

// ---------------------------------------------------------------------------
// New() constructor validation (no AWS connection required)
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.S3StorageConfig
	}{
		{"missing bucket", appconfig.S3StorageConfig{Region: "us-east-1"}},
		{"missing region", appconfig.S3StorageConfig{Bucket: "b"}},
		{"static without keys", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "static"}},
		{"assume_role without arn", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "assume_role"}},
		{"unsupported method", appconfig.S3StorageConfig{Bucket: "b", Region: "us-east-1", AuthMethod: "kerberos"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_AssumeRoleWithExternalID(t *testing.T) {
	s, err := New(&appconfig.S3StorageConfig{
		Bucket: "b", Region: "us-east-1", AuthMethod: "assume_role",
		RoleARN: "arn:aws:iam::123456789012:role/backup", ExternalID: "ext",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.Name() != "s3" {
		t.Errorf("Name() = %q", s.Name())
	}
}

// ---------------------------------------------------------------------------
// Mock S3-compatible HTTP server for operations tests
// ---------------------------------------------------------------------------

type s3MockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
}

// newS3TestStorage creates an S3Storage backed by a minimal path-style S3 server.
func newS3TestStorage(t *testing.T) (*S3Storage, *s3MockStore) {
	t.Helper()
	ms := &s3MockStore{objects: map[string][]byte{}, meta: map[string]map[string]string{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		idx := strings.IndexByte(path, '/')
		if idx < 0 {
			// HeadBucket
			if path == "test-bucket" {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
			return
		}
		key := path[idx+1:]

		ms.mu.Lock()
		defer ms.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			meta := map[string]string{}
			for hk, hv := range r.Header {
				lk := strings.ToLower(hk)
				if strings.HasPrefix(lk, "x-amz-meta-") && len(hv) > 0 {
					meta[strings.TrimPrefix(lk, "x-amz-meta-")] = hv[0]
				}
			}
			ms.objects[key] = data
			ms.meta[key] = meta
			w.Header().Set("ETag", `"test-etag"`)
			w.WriteHeader(http.StatusOK)

		case http.MethodGet:
			data, ok := ms.objects[key]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.WriteHeader(http.StatusOK)
			w.Write(data)

		case http.MethodHead:
			data, ok := ms.objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			for mk, mv := range ms.meta[key] {
				w.Header().Set("x-amz-meta-"+mk, mv)
			}
			w.WriteHeader(http.StatusOK)

		case http.MethodDelete:
			delete(ms.objects, key)
			delete(ms.meta, key)
			w.WriteHeader(http.StatusNoContent)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	s, err := New(&appconfig.S3StorageConfig{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		AuthMethod:      "static",
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
		Endpoint:        srv.URL,
	})
	if err != nil {
		t.Fatalf("New() for mock S3: %v", err)
	}
	return s, ms
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func TestS3_UploadStoresChecksumMetadata(t *testing.T) {
	s, ms := newS3TestStorage(t)
	data := []byte("pg_dump output")

	res, err := s.Upload(context.Background(), "database/automated/db.sql.gz", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if res.Size != int64(len(data)) || len(res.Checksum) != 64 {
		t.Errorf("result = %+v", res)
	}
	if got := ms.meta["database/automated/db.sql.gz"]["sha256"]; got != res.Checksum {
		t.Errorf("stored sha256 metadata = %q, want %q", got, res.Checksum)
	}
}

func TestS3_DownloadAndStat(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()
	res, err := s.Upload(ctx, "k.gz", strings.NewReader("content"))
	if err != nil {
		t.Fatal(err)
	}

	rc, err := s.Download(ctx, "k.gz")
	if err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "content" {
		t.Errorf("Download() = %q", got)
	}

	md, err := s.Stat(ctx, "k.gz")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if md.Size != 7 || md.Checksum != res.Checksum {
		t.Errorf("Stat() = %+v", md)
	}
}

func TestS3_NotFound(t *testing.T) {
	s, _ := newS3TestStorage(t)
	ctx := context.Background()

	if _, err := s.Download(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Download err = %v, want ErrNotFound", err)
	}
	if _, err := s.Stat(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Stat err = %v, want ErrNotFound", err)
	}
	if ok, err := s.Exists(ctx, "missing"); err != nil || ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestS3_Delete(t *testing.T) {
	s, ms := newS3TestStorage(t)
	ctx := context.Background()
	if _, err := s.Upload(ctx, "d.gz", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "d.gz"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, ok := ms.objects["d.gz"]; ok {
		t.Error("object still present after Delete")
	}
}

func TestS3_Ping(t *testing.T) {
	s, _ := newS3TestStorage(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}
