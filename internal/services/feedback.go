package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	pgdb "github.com/ldc-construction/ldc-tools/internal/db"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/storage"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// Screenshot limits per feedback item.
const (
	MaxScreenshots     = 5
	MaxScreenshotBytes = 5 << 20
)

var screenshotExt = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// FeedbackService records user feedback and keeps its screenshots in object storage
type FeedbackService struct {
	db       *sqlx.DB
	feedback *repositories.FeedbackRepository
	store    storage.Storage
}

// NewFeedbackService creates a FeedbackService. store may be nil, which disables screenshots.
func NewFeedbackService(db *sqlx.DB, feedback *repositories.FeedbackRepository, store storage.Storage) *FeedbackService {
	return &FeedbackService{db: db, feedback: feedback, store: store}
}

// FeedbackInput is a feedback submission. Screenshots are base64 images, optionally as data URLs.
type FeedbackInput struct {
	Type        string
	Title       string
	Description string
	Priority    string
	Screenshots []string
}

type screenshot struct {
	data []byte
	mime string
}

// decodeScreenshot accepts raw base64 or a data URL and checks the content is an image.
func decodeScreenshot(s string) (*screenshot, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if base64.StdEncoding.DecodedLen(len(s)) > MaxScreenshotBytes+3 {
		return nil, invalid("Screenshots must be at most %d MB", MaxScreenshotBytes>>20)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, invalid("Screenshots must be base64 encoded images")
	}
	if len(data) > MaxScreenshotBytes {
		return nil, invalid("Screenshots must be at most %d MB", MaxScreenshotBytes>>20)
	}
	mime := http.DetectContentType(data)
	if _, ok := screenshotExt[mime]; !ok {
		return nil, invalid("Screenshots must be PNG, JPEG, GIF or WebP images")
	}
	return &screenshot{data: data, mime: mime}, nil
}

// Submit validates and stores feedback from by. Screenshots are uploaded before the rows are
// written and removed again if the insert fails.
func (s *FeedbackService) Submit(ctx context.Context, by *models.User, in FeedbackInput) (*models.Feedback, error) {
	fbType := strings.ToUpper(strings.TrimSpace(in.Type))
	title := validation.Text(in.Title)
	desc := strings.TrimSpace(in.Description)
	if fbType == "" || title == "" || desc == "" {
		return nil, invalid("Missing required fields: type, title, description")
	}
	if !models.IsValidFeedbackType(fbType) {
		return nil, invalid("Invalid feedback type")
	}
	priority := strings.ToUpper(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = models.FeedbackMedium
	}
	if !models.IsValidFeedbackPriority(priority) {
		return nil, invalid("Invalid priority level")
	}
	if len(title) > 200 {
		return nil, invalid("Title must be at most 200 characters")
	}
	if len(in.Screenshots) > MaxScreenshots {
		return nil, invalid("At most %d screenshots are allowed", MaxScreenshots)
	}
	if len(in.Screenshots) > 0 && s.store == nil {
		return nil, invalid("Screenshot uploads are not available")
	}

	shots := make([]*screenshot, 0, len(in.Screenshots))
	for _, raw := range in.Screenshots {
		shot, err := decodeScreenshot(raw)
		if err != nil {
			return nil, err
		}
		shots = append(shots, shot)
	}

	fb := &models.Feedback{
		ID:          uuid.New().String(),
		Type:        fbType,
		Title:       title,
		Description: desc,
		Priority:    priority,
		SubmittedBy: by.ID,
	}
	uploaded := make([]string, 0, len(shots))
	cleanup := func() {
		for _, key := range uploaded {
			if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
				slog.Warn("failed to remove orphaned screenshot", "key", key, "error", err)
			}
		}
	}
	for i, shot := range shots {
		name := fmt.Sprintf("screenshot-%d.%s", i+1, screenshotExt[shot.mime])
		key := "feedback/" + fb.ID + "/" + name
		res, err := s.store.Upload(ctx, key, bytes.NewReader(shot.data))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to store screenshot: %w", err)
		}
		uploaded = append(uploaded, res.Path)
		fb.Attachments = append(fb.Attachments, models.FeedbackAttachment{
			Filename:   name,
			MimeType:   shot.mime,
			FileSize:   len(shot.data),
			StorageKey: res.Path,
		})
	}

	err := pgdb.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		return s.feedback.CreateFeedback(ctx, tx, fb)
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create feedback: %w", err)
	}
	return fb, nil
}

// SetStatus moves a feedback item to status
func (s *FeedbackService) SetStatus(ctx context.Context, id, status string) error {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !models.IsValidFeedbackStatus(status) {
		return invalid("Invalid status")
	}
	found, err := s.feedback.SetStatus(ctx, id, status)
	if err != nil {
		return fmt.Errorf("failed to update feedback status: %w", err)
	}
	if !found {
		return fmt.Errorf("feedback %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddComment records an administrator reply on a feedback item
func (s *FeedbackService) AddComment(ctx context.Context, by *models.User, feedbackID, content string) (*models.FeedbackComment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, invalid("Comment content is required")
	}
	fb, err := s.feedback.GetFeedback(ctx, feedbackID)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	if fb == nil {
		return nil, fmt.Errorf("feedback %s: %w", feedbackID, ErrNotFound)
	}
	c := &models.FeedbackComment{FeedbackID: fb.ID, AuthorID: &by.ID, AuthorName: by.Name, Content: content}
	if err := s.feedback.AddComment(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}
	return c, nil
}

// OpenAttachment returns a screenshot and its content. Only the submitter and feedback
// managers may read it.
func (s *FeedbackService) OpenAttachment(ctx context.Context, by *models.User, manager bool, feedbackID, attachmentID string) (*models.FeedbackAttachment, io.ReadCloser, error) {
	fb, err := s.feedback.GetFeedback(ctx, feedbackID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load feedback: %w", err)
	}
	if fb == nil || (!manager && fb.SubmittedBy != by.ID) {
		return nil, nil, fmt.Errorf("feedback %s: %w", feedbackID, ErrNotFound)
	}
	a, err := s.feedback.GetAttachment(ctx, fb.ID, attachmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load attachment: %w", err)
	}
	if a == nil || s.store == nil {
		return nil, nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
	}
	rc, err := s.store.Download(ctx, a.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return a, rc, nil
}
