package teams

import (
	"errors"
	"log/slog"
	"net/http"

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

// respondError maps a service or repository error to a status and writes it.
func respondError(c *gin.Context, err error, notFound, fallback string) {
	switch {
	case services.IsValidation(err), errors.Is(err, services.ErrRoleLimitReached):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	case services.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": services.ErrorMessage(err)})
	case errors.Is(err, repositories.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{"error": "A record with this name already exists"})
	default:
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
