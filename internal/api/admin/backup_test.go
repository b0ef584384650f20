package admin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/backup"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/storage/local"
)

// backupStore keeps backup rows in memory
type backupStore struct {
	mu   sync.Mutex
	rows map[string]*models.Backup
	seq  int
}

func (s *backupStore) CreateBackup(_ context.Context, b *models.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	b.ID = fmt.Sprintf("bk-%d", s.seq)
	b.Status = models.BackupRunning
	b.StartedAt = time.Now()
	cp := *b
	s.rows[b.ID] = &cp
	return nil
}

func (s *backupStore) CompleteBackup(_ context.Context, id string, size int64, checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rows[id]
	r.Status, r.SizeBytes, r.Checksum = models.BackupCompleted, size, &checksum
	return nil
}

func (s *backupStore) FailBackup(_ context.Context, id string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := cause.Error()
	s.rows[id].Status, s.rows[id].Error = models.BackupFailed, &msg
	return nil
}

func (s *backupStore) ListRecent(context.Context, int) ([]*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Backup, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out, nil
}

func (s *backupStore) ListCompletedBeyond(context.Context, int) ([]*models.Backup, error) {
	return nil, nil
}

func (s *backupStore) GetBackup(_ context.Context, id string) (*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id], nil
}

func (s *backupStore) LastCompleted(context.Context) (*models.Backup, error) { return nil, nil }

func (s *backupStore) DeleteBackup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *backupStore) CountCompleted(context.Context) (int, error) { return 0, nil }

func (s *backupStore) DatabaseSize(context.Context) (int64, error) { return 0, nil }

type stringDumper string

func (d stringDumper) Dump(_ context.Context, w io.Writer) error {
	_, err := io.WriteString(w, string(d))
	return err
}

func newBackupRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine, *backupStore) {
	t.Helper()
	st, err := local.New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	store := &backupStore{rows: map[string]*models.Backup{}}
	svc := backup.NewService(store, st, stringDumper("CREATE TABLE crews (id uuid);\n"), "")

	db, mock := newMockDB(t)
	h := NewBackupHandlers(svc, newRecorder(db))
	r := gin.New()
	r.Use(asUser(testUser("root", models.RoleSuperAdmin, "")))
	r.POST("/backup", h.CreateBackupHandler())
	r.GET("/backup/info", h.BackupInfoHandler())
	r.GET("/backup/:id/download", h.DownloadBackupHandler())
	r.DELETE("/backup/:id", h.DeleteBackupHandler())
	return mock, r, store
}

func TestBackup_CreateDownloadDelete(t *testing.T) {
	mock, r, store := newBackupRouter(t)
	expectAudit(mock)

	w := do(r, http.MethodPost, "/backup", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	b := decode(t, w)["backup"].(map[string]interface{})
	id := b["id"].(string)
	assert.Equal(t, models.BackupCompleted, b["status"])
	assert.Equal(t, models.BackupCompleted, store.rows[id].Status)

	expectAudit(mock)
	w = do(r, http.MethodGet, "/backup/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "db-ldc-tools-")
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE crews (id uuid);\n", string(plain))

	expectAudit(mock)
	w = do(r, http.MethodDelete, "/backup/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, store.rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBackup_UnknownIDs(t *testing.T) {
	_, r, _ := newBackupRouter(t)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/backup/nope/download", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/backup/nope", nil).Code)
}

func TestBackup_Info(t *testing.T) {
	_, r, _ := newBackupRouter(t)
	w := do(r, http.MethodGet, "/backup/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body, "backups")
	assert.Equal(t, 0.0, body["backup_count"])
}
