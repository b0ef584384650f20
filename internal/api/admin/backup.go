// backup.go implements the database backup handlers.
package admin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/backup"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
)

// BackupHandlers handles backup endpoints
type BackupHandlers struct {
	svc *backup.Service
	rec *audit.Recorder
}

// NewBackupHandlers creates a new BackupHandlers instance
func NewBackupHandlers(svc *backup.Service, rec *audit.Recorder) *BackupHandlers {
	return &BackupHandlers{svc: svc, rec: rec}
}

// @Summary      Create backup
// @Description  Dumps the database, gzips it and uploads it to the storage backend.
// @Tags         Backups
// @Security     Bearer
// @Produce      json
// @Success      201  {object}  map[string]interface{}  "backup, backups"
// @Failure      500  {object}  map[string]interface{}  "Backup failed"
// @Router       /api/v1/admin/backup [post]
// CreateBackupHandler runs a manual backup
// POST /api/v1/admin/backup
func (h *BackupHandlers) CreateBackupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		b, err := h.svc.Run(ctx, backup.TriggerManual, optString(c.GetString("user_id")))
		if b != nil {
			h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
				Action:     models.ActionCreate,
				Resource:   models.ResourceBackup,
				ResourceID: b.ID,
				NewValues:  b,
			})
			middleware.MarkAudited(c)
		}
		if err != nil {
			slog.Error("manual backup failed", "error", err)
			resp := gin.H{"error": "Backup failed"}
			if b != nil {
				resp["backup"] = b
			}
			c.JSON(http.StatusInternalServerError, resp)
			return
		}

		recent, err := h.svc.Recent(ctx)
		if err != nil {
			slog.Warn("failed to list recent backups", "error", err)
			recent = []*models.Backup{}
		}
		c.JSON(http.StatusCreated, gin.H{"backup": b, "backups": recent})
	}
}

// @Summary      Backup information
// @Tags         Backups
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  backup.Info
// @Router       /api/v1/admin/backup/info [get]
// BackupInfoHandler returns recent backups, the last backup, the database size and the backup count
// GET /api/v1/admin/backup/info
func (h *BackupHandlers) BackupInfoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := h.svc.Info(c.Request.Context())
		if err != nil {
			respondError(c, err, "Failed to load backup information")
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

// @Summary      Download backup
// @Tags         Backups
// @Security     Bearer
// @Produce      application/gzip
// @Param        id  path  string  true  "Backup ID"
// @Success      200  {file}  file
// @Failure      404  {object}  map[string]interface{}  "Backup not found"
// @Router       /api/v1/admin/backup/{id}/download [get]
// DownloadBackupHandler streams a backup archive
// GET /api/v1/admin/backup/:id/download
func (h *BackupHandlers) DownloadBackupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		b, rc, err := h.svc.Open(ctx, c.Param("id"))
		if errors.Is(err, backup.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
			return
		}
		if err != nil {
			respondError(c, err, "Failed to open backup")
			return
		}
		defer rc.Close()

		c.Header("Content-Type", "application/gzip")
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, b.FileName))
		if b.SizeBytes > 0 {
			c.Header("Content-Length", strconv.FormatInt(b.SizeBytes, 10))
		}
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			slog.Warn("backup download interrupted", "backup_id", b.ID, "error", err)
			return
		}
		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionExport,
			Resource:   models.ResourceBackup,
			ResourceID: b.ID,
		})
	}
}

// @Summary      Delete backup
// @Tags         Backups
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Backup ID"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      404  {object}  map[string]interface{}  "Backup not found"
// @Router       /api/v1/admin/backup/{id} [delete]
// DeleteBackupHandler removes a backup archive and its record
// DELETE /api/v1/admin/backup/:id
func (h *BackupHandlers) DeleteBackupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		b, err := h.svc.Delete(ctx, c.Param("id"))
		if errors.Is(err, backup.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Backup not found"})
			return
		}
		if err != nil {
			respondError(c, err, "Failed to delete backup")
			return
		}
		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionDelete,
			Resource:   models.ResourceBackup,
			ResourceID: b.ID,
			OldValues:  b,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, gin.H{"message": "Backup deleted"})
	}
}
