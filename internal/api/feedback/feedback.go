// Package feedback implements bug report and feature request submission and the
// administrator triage endpoints.
package feedback

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/services"
)

// maxSubmitBytes bounds the submission body, screenshots included.
const maxSubmitBytes = services.MaxScreenshots*services.MaxScreenshotBytes*4/3 + 1<<20

// FeedbackHandlers handles feedback endpoints
type FeedbackHandlers struct {
	feedback *repositories.FeedbackRepository
	svc      *services.FeedbackService
}

// NewFeedbackHandlers creates a new FeedbackHandlers instance
func NewFeedbackHandlers(db *sqlx.DB, svc *services.FeedbackService) *FeedbackHandlers {
	return &FeedbackHandlers{feedback: repositories.NewFeedbackRepository(db), svc: svc}
}

// SubmitRequest is the body of POST /feedback
type SubmitRequest struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Screenshots []string `json:"screenshots"`
}

// StatusRequest is the body of PATCH /admin/feedback/:id/status
type StatusRequest struct {
	Status string `json:"status"`
}

// CommentRequest is the body of POST /admin/feedback/:id/comments
type CommentRequest struct {
	Content string `json:"content"`
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case services.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Feedback not found"})
	default:
		slog.Error(fallback, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// @Summary      Submit feedback
// @Description  Screenshots are base64 images or data URLs, at most 5 of 5 MB each.
// @Tags         Feedback
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  SubmitRequest  true  "Feedback"
// @Success      201  {object}  map[string]interface{}  "id, message"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Failure      413  {object}  map[string]interface{}  "Request too large"
// @Router       /api/v1/feedback [post]
// SubmitFeedbackHandler records a bug report, enhancement or feature request
// POST /api/v1/feedback
func (h *FeedbackHandlers) SubmitFeedbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSubmitBytes)
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		fb, err := h.svc.Submit(c.Request.Context(), middleware.GetUser(c), services.FeedbackInput{
			Type:        req.Type,
			Title:       req.Title,
			Description: req.Description,
			Priority:    req.Priority,
			Screenshots: req.Screenshots,
		})
		if err != nil {
			respondError(c, err, "Failed to submit feedback")
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": fb.ID, "message": "Feedback submitted successfully"})
	}
}

// @Summary      List my feedback
// @Tags         Feedback
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "feedback: []models.Feedback"
// @Router       /api/v1/feedback/mine [get]
// MyFeedbackHandler lists the caller's submissions with administrator comments
// GET /api/v1/feedback/mine
func (h *FeedbackHandlers) MyFeedbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := middleware.GetUser(c)
		list, err := h.feedback.ListFeedback(c.Request.Context(), repositories.FeedbackFilters{SubmittedBy: user.ID})
		if err != nil {
			respondError(c, err, "Failed to fetch feedback")
			return
		}
		c.JSON(http.StatusOK, gin.H{"feedback": list, "count": len(list)})
	}
}

// @Summary      Download feedback screenshot
// @Tags         Feedback
// @Security     Bearer
// @Produce      octet-stream
// @Param        id            path  string  true  "Feedback ID"
// @Param        attachmentId  path  string  true  "Attachment ID"
// @Success      200  {file}  binary
// @Failure      404  {object}  map[string]interface{}  "Feedback not found"
// @Router       /api/v1/feedback/{id}/attachments/{attachmentId} [get]
// AttachmentHandler streams a screenshot to its submitter or a feedback manager
// GET /api/v1/feedback/:id/attachments/:attachmentId
func (h *FeedbackHandlers) AttachmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		manager := auth.HasScope(middleware.GetScopes(c), auth.ScopeFeedbackManage)
		a, rc, err := h.svc.OpenAttachment(c.Request.Context(), middleware.GetUser(c), manager, c.Param("id"), c.Param("attachmentId"))
		if err != nil {
			respondError(c, err, "Failed to load attachment")
			return
		}
		defer rc.Close()

		c.Header("Content-Type", a.MimeType)
		c.Header("Content-Length", strconv.Itoa(a.FileSize))
		c.Header("Content-Disposition", `inline; filename="`+a.Filename+`"`)
		c.Status(http.StatusOK)
		if _, err := io.Copy(c.Writer, rc); err != nil {
			slog.Warn("failed to stream attachment", "attachment_id", a.ID, "error", err)
		}
	}
}

// @Summary      List all feedback
// @Tags         Feedback
// @Security     Bearer
// @Produce      json
// @Param        status  query  string  false  "Status filter"
// @Param        type    query  string  false  "Type filter"
// @Success      200  {object}  map[string]interface{}  "feedback, stats"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/admin/feedback [get]
// ListFeedbackHandler lists every submission with status counts
// GET /api/v1/admin/feedback
func (h *FeedbackHandlers) ListFeedbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := repositories.FeedbackFilters{}
		if s := strings.ToUpper(strings.TrimSpace(c.Query("status"))); s != "" && s != "ALL" {
			if !models.IsValidFeedbackStatus(s) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
				return
			}
			filters.Status = s
		}
		if t := strings.ToUpper(strings.TrimSpace(c.Query("type"))); t != "" && t != "ALL" {
			if !models.IsValidFeedbackType(t) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feedback type"})
				return
			}
			filters.Type = t
		}

		ctx := c.Request.Context()
		list, err := h.feedback.ListFeedback(ctx, filters)
		if err != nil {
			respondError(c, err, "Failed to fetch feedback")
			return
		}
		stats, err := h.feedback.GetStats(ctx)
		if err != nil {
			respondError(c, err, "Failed to fetch feedback")
			return
		}
		c.JSON(http.StatusOK, gin.H{"feedback": list, "stats": stats})
	}
}

// @Summary      Set feedback status
// @Tags         Feedback
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string         true  "Feedback ID"
// @Param        body  body  StatusRequest  true  "Status"
// @Success      200  {object}  map[string]interface{}  "message"
// @Failure      400  {object}  map[string]interface{}  "Invalid status"
// @Failure      404  {object}  map[string]interface{}  "Feedback not found"
// @Router       /api/v1/admin/feedback/{id}/status [patch]
// UpdateStatusHandler moves a submission through triage
// PATCH /api/v1/admin/feedback/:id/status
func (h *FeedbackHandlers) UpdateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := h.svc.SetStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
			respondError(c, err, "Failed to update status")
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Status updated"})
	}
}

// @Summary      Comment on feedback
// @Tags         Feedback
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string          true  "Feedback ID"
// @Param        body  body  CommentRequest  true  "Comment"
// @Success      201  {object}  models.FeedbackComment
// @Failure      400  {object}  map[string]interface{}  "Comment content is required"
// @Failure      404  {object}  map[string]interface{}  "Feedback not found"
// @Router       /api/v1/admin/feedback/{id}/comments [post]
// AddCommentHandler replies to a submission
// POST /api/v1/admin/feedback/:id/comments
func (h *FeedbackHandlers) AddCommentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CommentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		comment, err := h.svc.AddComment(c.Request.Context(), middleware.GetUser(c), c.Param("id"), req.Content)
		if err != nil {
			respondError(c, err, "Failed to add comment")
			return
		}
		c.JSON(http.StatusCreated, comment)
	}
}
