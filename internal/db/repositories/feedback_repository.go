package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// FeedbackRepository handles feedback, its comments and attachments
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository creates a new FeedbackRepository
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// FeedbackFilters narrows ListFeedback
type FeedbackFilters struct {
	SubmittedBy string
	Status      string
	Type        string
}

const feedbackSelect = `
	SELECT f.id, f.type, f.title, f.description, f.priority, f.status, f.submitted_by,
		f.created_at, f.updated_at,
		u.name AS submitter_name, u.email AS submitter_email, u.role AS submitter_role
	FROM feedback f
	LEFT JOIN users u ON u.id = f.submitted_by`

// CreateFeedback inserts a feedback item and its attachments in ext, which may be a transaction.
// An ID set by the caller is kept so attachment storage keys can be derived from it.
func (r *FeedbackRepository) CreateFeedback(ctx context.Context, ext sqlx.ExtContext, fb *models.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	fb.CreatedAt = time.Now()
	fb.UpdatedAt = fb.CreatedAt
	if fb.Status == "" {
		fb.Status = models.FeedbackNew
	}
	if _, err := sqlx.NamedExecContext(ctx, ext, `
		INSERT INTO feedback (id, type, title, description, priority, status, submitted_by, created_at, updated_at)
		VALUES (:id, :type, :title, :description, :priority, :status, :submitted_by, :created_at, :updated_at)
	`, fb); err != nil {
		return err
	}
	for i := range fb.Attachments {
		a := &fb.Attachments[i]
		a.ID = uuid.New().String()
		a.FeedbackID = fb.ID
		a.CreatedAt = fb.CreatedAt
		if _, err := sqlx.NamedExecContext(ctx, ext, `
			INSERT INTO feedback_attachments (id, feedback_id, filename, mime_type, file_size, storage_key, created_at)
			VALUES (:id, :feedback_id, :filename, :mime_type, :file_size, :storage_key, :created_at)
		`, a); err != nil {
			return err
		}
	}
	return nil
}

// ListFeedback returns matching feedback newest first, each with its comments and attachments
func (r *FeedbackRepository) ListFeedback(ctx context.Context, filters FeedbackFilters) ([]*models.Feedback, error) {
	f := &filter{}
	if filters.SubmittedBy != "" {
		f.add("f.submitted_by = ?", filters.SubmittedBy)
	}
	if filters.Status != "" {
		f.add("f.status = ?", filters.Status)
	}
	if filters.Type != "" {
		f.add("f.type = ?", filters.Type)
	}
	items := make([]*models.Feedback, 0)
	if err := r.db.SelectContext(ctx, &items, feedbackSelect+f.where()+` ORDER BY f.created_at DESC`, f.args...); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]string, len(items))
	byID := make(map[string]*models.Feedback, len(items))
	for i, fb := range items {
		ids[i] = fb.ID
		fb.Comments = make([]models.FeedbackComment, 0)
		fb.Attachments = make([]models.FeedbackAttachment, 0)
		byID[fb.ID] = fb
	}

	comments, err := r.comments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		byID[c.FeedbackID].Comments = append(byID[c.FeedbackID].Comments, c)
	}
	attachments, err := r.attachments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range attachments {
		byID[a.FeedbackID].Attachments = append(byID[a.FeedbackID].Attachments, a)
	}
	return items, nil
}

func (r *FeedbackRepository) comments(ctx context.Context, feedbackIDs []string) ([]models.FeedbackComment, error) {
	query, args, err := sqlx.In(`
		SELECT c.id, c.feedback_id, c.author_id, u.name AS author_name, c.content, c.created_at
		FROM feedback_comments c
		LEFT JOIN users u ON u.id = c.author_id
		WHERE c.feedback_id IN (?) ORDER BY c.created_at`, feedbackIDs)
	if err != nil {
		return nil, err
	}
	out := make([]models.FeedbackComment, 0)
	err = r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...)
	return out, err
}

func (r *FeedbackRepository) attachments(ctx context.Context, feedbackIDs []string) ([]models.FeedbackAttachment, error) {
	query, args, err := sqlx.In(`
		SELECT id, feedback_id, filename, mime_type, file_size, storage_key, created_at
		FROM feedback_attachments WHERE feedback_id IN (?) ORDER BY created_at, filename`, feedbackIDs)
	if err != nil {
		return nil, err
	}
	out := make([]models.FeedbackAttachment, 0)
	err = r.db.SelectContext(ctx, &out, r.db.Rebind(query), args...)
	return out, err
}

// GetFeedback retrieves a feedback item without comments, or nil when it does not exist
func (r *FeedbackRepository) GetFeedback(ctx context.Context, id string) (*models.Feedback, error) {
	fb := &models.Feedback{}
	err := r.db.GetContext(ctx, fb, feedbackSelect+` WHERE f.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fb, nil
}

// SetStatus changes a feedback item's status and reports whether it existed
func (r *FeedbackRepository) SetStatus(ctx context.Context, id, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE feedback SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AddComment inserts a comment and touches the feedback item
func (r *FeedbackRepository) AddComment(ctx context.Context, c *models.FeedbackComment) error {
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feedback_comments (id, feedback_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.FeedbackID, c.AuthorID, c.Content, c.CreatedAt)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE feedback SET updated_at = now() WHERE id = $1`, c.FeedbackID)
	return err
}

// GetAttachment retrieves an attachment of feedbackID, or nil when it does not exist
func (r *FeedbackRepository) GetAttachment(ctx context.Context, feedbackID, id string) (*models.FeedbackAttachment, error) {
	a := &models.FeedbackAttachment{}
	err := r.db.GetContext(ctx, a, `
		SELECT id, feedback_id, filename, mime_type, file_size, storage_key, created_at
		FROM feedback_attachments WHERE id = $1 AND feedback_id = $2`, id, feedbackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetStats counts feedback by status
func (r *FeedbackRepository) GetStats(ctx context.Context) (*models.FeedbackStats, error) {
	stats := &models.FeedbackStats{}
	err := r.db.GetContext(ctx, stats, `
		SELECT COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'NEW') AS new,
			COUNT(*) FILTER (WHERE status = 'IN_PROGRESS') AS in_progress,
			COUNT(*) FILTER (WHERE status = 'RESOLVED') AS resolved,
			COUNT(*) FILTER (WHERE status = 'CLOSED') AS closed
		FROM feedback`)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
