// Package directory implements the volunteer, congregation and project endpoints.
package directory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
)

// inScope reports whether a row owned by cg is visible to the caller.
func inScope(c *gin.Context, cg *string) bool {
	scope := middleware.CGScope(c)
	if scope == nil {
		return true
	}
	return cg != nil && *cg == *scope
}

// ownerGroup is the construction group new rows are created in: the caller's own, or the
// requested one for SUPER_ADMIN.
func ownerGroup(c *gin.Context, requested *string) *string {
	if cg := middleware.CGScope(c); cg != nil {
		return cg
	}
	return requested
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repositories.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": "A record with this name already exists"})
	default:
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// paging reads page and per_page, defaulting to 1 and 50 with per_page capped at 200.
func paging(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	return page, perPage, (page - 1) * perPage
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
