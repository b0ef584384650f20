// Package backup dumps the database, compresses the dump and stores it in the configured
// storage backend. Each run is tracked as a row in the backups table.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/storage"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// Backup triggers.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// DefaultPrefix is the storage directory of automated dumps.
const DefaultPrefix = "database/automated"

// RecentLimit is how many backups the info endpoints list.
const RecentLimit = 10

// ErrNotFound is returned when a backup id does not exist.
var ErrNotFound = errors.New("backup not found")

// Store persists backup rows
type Store interface {
	CreateBackup(ctx context.Context, b *models.Backup) error
	CompleteBackup(ctx context.Context, id string, size int64, checksum string) error
	FailBackup(ctx context.Context, id string, cause error) error
	ListRecent(ctx context.Context, n int) ([]*models.Backup, error)
	ListCompletedBeyond(ctx context.Context, keep int) ([]*models.Backup, error)
	GetBackup(ctx context.Context, id string) (*models.Backup, error)
	LastCompleted(ctx context.Context) (*models.Backup, error)
	DeleteBackup(ctx context.Context, id string) error
	CountCompleted(ctx context.Context) (int, error)
	DatabaseSize(ctx context.Context) (int64, error)
}

// Dumper writes a plain SQL dump of the database to w.
type Dumper interface {
	Dump(ctx context.Context, w io.Writer) error
}

// CommandDumper runs an external dump program with the connection URL as its last argument.
type CommandDumper struct {
	Command []string
	URL     string
}

// DefaultCommand is used when no dump command is configured.
var DefaultCommand = []string{"pg_dump", "--no-owner", "--format=plain"}

// Dump implements Dumper
func (d CommandDumper) Dump(ctx context.Context, w io.Writer) error {
	argv := d.Command
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	args := append(append([]string{}, argv[1:]...), d.URL)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	cmd.Stdout = w
	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if msg := stderr.String(); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s failed: %w", argv[0], err)
	}
	return nil
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	buf []byte
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return string(b.buf) }

// Info is the response of the backup info endpoint
type Info struct {
	Backups      []*models.Backup `json:"backups"`
	LastBackup   *models.Backup   `json:"last_backup"`
	DatabaseSize int64            `json:"database_size"`
	BackupCount  int              `json:"backup_count"`
}

// Service runs and manages backups
type Service struct {
	store   Store
	storage storage.Storage
	dumper  Dumper
	prefix  string
	now     func() time.Time
}

// NewService creates a new backup Service. An empty prefix uses DefaultPrefix.
func NewService(store Store, st storage.Storage, dumper Dumper, prefix string) *Service {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Service{store: store, storage: st, dumper: dumper, prefix: prefix, now: time.Now}
}

// FileName is the archive name for a dump started at t.
func FileName(t time.Time) string {
	return "db-ldc-tools-" + t.UTC().Format("2006-01-02T15-04-05Z") + ".sql.gz"
}

// Run dumps, compresses and uploads the database. The returned row is completed or failed;
// err is set when the backup failed.
func (s *Service) Run(ctx context.Context, trigger string, createdBy *string) (*models.Backup, error) {
	start := s.now()
	name := FileName(start)
	b := &models.Backup{
		FileName:       name,
		StoragePath:    path.Join(s.prefix, name),
		StorageBackend: s.storage.Name(),
		Trigger:        trigger,
		CreatedBy:      createdBy,
	}
	if err := s.store.CreateBackup(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to record backup: %w", err)
	}

	res, err := s.upload(ctx, b.StoragePath)
	telemetry.BackupDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.BackupsTotal.WithLabelValues(trigger, "failed").Inc()
		slog.Error("backup failed", "backup_id", b.ID, "path", b.StoragePath, "error", err)
		if ferr := s.store.FailBackup(context.WithoutCancel(ctx), b.ID, err); ferr != nil {
			slog.Error("failed to mark backup failed", "backup_id", b.ID, "error", ferr)
		}
		// drop any partial object
		_ = s.storage.Delete(context.WithoutCancel(ctx), b.StoragePath)
		msg := err.Error()
		b.Status, b.Error = models.BackupFailed, &msg
		return b, err
	}

	if err := s.store.CompleteBackup(ctx, b.ID, res.Size, res.Checksum); err != nil {
		return nil, fmt.Errorf("failed to complete backup record: %w", err)
	}
	telemetry.BackupsTotal.WithLabelValues(trigger, "success").Inc()
	telemetry.BackupSizeBytes.Set(float64(res.Size))
	slog.Info("backup completed", "backup_id", b.ID, "path", b.StoragePath, "size_bytes", res.Size)

	done := s.now()
	b.Status, b.SizeBytes, b.Checksum, b.CompletedAt = models.BackupCompleted, res.Size, &res.Checksum, &done
	return b, nil
}

// upload streams dumper -> gzip -> storage through a pipe.
func (s *Service) upload(ctx context.Context, dest string) (*storage.UploadResult, error) {
	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		err := s.dumper.Dump(ctx, gz)
		if cerr := gz.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	res, err := s.storage.Upload(ctx, dest, pr)
	// unblock the dump goroutine if Upload returned early
	pr.CloseWithError(errors.New("upload finished"))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Info returns the recent backups, the last completed one, the database size and the count.
func (s *Service) Info(ctx context.Context) (*Info, error) {
	recent, err := s.store.ListRecent(ctx, RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	last, err := s.store.LastCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load last backup: %w", err)
	}
	size, err := s.store.DatabaseSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read database size: %w", err)
	}
	count, err := s.store.CountCompleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count backups: %w", err)
	}
	return &Info{Backups: recent, LastBackup: last, DatabaseSize: size, BackupCount: count}, nil
}

// Recent lists the most recent backups.
func (s *Service) Recent(ctx context.Context) ([]*models.Backup, error) {
	return s.store.ListRecent(ctx, RecentLimit)
}

// Open returns a reader for a completed backup archive.
func (s *Service) Open(ctx context.Context, id string) (*models.Backup, io.ReadCloser, error) {
	b, err := s.store.GetBackup(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if b == nil || b.Status != models.BackupCompleted {
		return nil, nil, ErrNotFound
	}
	rc, err := s.storage.Download(ctx, b.StoragePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return b, rc, nil
}

// Delete removes the archive and the row.
func (s *Service) Delete(ctx context.Context, id string) (*models.Backup, error) {
	b, err := s.store.GetBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	if err := s.storage.Delete(ctx, b.StoragePath); err != nil {
		return nil, fmt.Errorf("failed to delete archive: %w", err)
	}
	if err := s.store.DeleteBackup(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to delete backup record: %w", err)
	}
	return b, nil
}

// Prune deletes completed backups beyond the newest keep. keep <= 0 keeps everything.
func (s *Service) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	old, err := s.store.ListCompletedBeyond(ctx, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to list old backups: %w", err)
	}
	n := 0
	for _, b := range old {
		if _, err := s.Delete(ctx, b.ID); err != nil {
			slog.Warn("failed to prune backup", "backup_id", b.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// Ping checks the storage backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// Backend names the storage backend.
func (s *Service) Backend() string {
	return s.storage.Name()
}
