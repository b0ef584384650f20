// Package admin implements the session, user management and system administration endpoints.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/services"
)

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "A user with this email already exists"})
	case errors.Is(err, repositories.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": "A record with this code already exists"})
	default:
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// limitOffset reads limit and offset. limit defaults to def and is capped at max.
func limitOffset(c *gin.Context, def, max int) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > max {
		limit = def
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// parseDay accepts RFC3339 or YYYY-MM-DD. With endOfDay a bare date covers the whole day.
func parseDay(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
