// Package models - feedback.go defines user feedback (bug reports and feature ideas), the
// administrator comments on it and its screenshot attachments.
package models

import "time"

// Feedback types.
const (
	FeedbackBug         = "BUG"
	FeedbackEnhancement = "ENHANCEMENT"
	FeedbackFeature     = "FEATURE"
)

// Feedback priorities.
const (
	FeedbackLow    = "LOW"
	FeedbackMedium = "MEDIUM"
	FeedbackHigh   = "HIGH"
	FeedbackUrgent = "URGENT"
)

// Feedback statuses.
const (
	FeedbackNew        = "NEW"
	FeedbackInProgress = "IN_PROGRESS"
	FeedbackResolved   = "RESOLVED"
	FeedbackClosed     = "CLOSED"
)

func oneOf(v string, set ...string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// IsValidFeedbackType reports whether t is a known feedback type.
func IsValidFeedbackType(t string) bool {
	return oneOf(t, FeedbackBug, FeedbackEnhancement, FeedbackFeature)
}

// IsValidFeedbackPriority reports whether p is a known priority.
func IsValidFeedbackPriority(p string) bool {
	return oneOf(p, FeedbackLow, FeedbackMedium, FeedbackHigh, FeedbackUrgent)
}

// IsValidFeedbackStatus reports whether s is a known status.
func IsValidFeedbackStatus(s string) bool {
	return oneOf(s, FeedbackNew, FeedbackInProgress, FeedbackResolved, FeedbackClosed)
}

// Feedback is a bug report, enhancement or feature request submitted by a user.
type Feedback struct {
	ID          string    `db:"id" json:"id"`
	Type        string    `db:"type" json:"type"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Priority    string    `db:"priority" json:"priority"`
	Status      string    `db:"status" json:"status"`
	SubmittedBy string    `db:"submitted_by" json:"submitted_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// joined
	SubmitterName  *string `db:"submitter_name" json:"submitter_name,omitempty"`
	SubmitterEmail *string `db:"submitter_email" json:"submitter_email,omitempty"`
	SubmitterRole  *string `db:"submitter_role" json:"submitter_role,omitempty"`

	Comments    []FeedbackComment    `db:"-" json:"comments"`
	Attachments []FeedbackAttachment `db:"-" json:"attachments"`
}

// FeedbackComment is an administrator reply on a feedback item.
type FeedbackComment struct {
	ID         string    `db:"id" json:"id"`
	FeedbackID string    `db:"feedback_id" json:"feedback_id"`
	AuthorID   *string   `db:"author_id" json:"author_id,omitempty"`
	AuthorName *string   `db:"author_name" json:"author,omitempty"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FeedbackAttachment is a screenshot kept in object storage.
type FeedbackAttachment struct {
	ID         string    `db:"id" json:"id"`
	FeedbackID string    `db:"feedback_id" json:"feedback_id"`
	Filename   string    `db:"filename" json:"filename"`
	MimeType   string    `db:"mime_type" json:"mime_type"`
	FileSize   int       `db:"file_size" json:"size"`
	StorageKey string    `db:"storage_key" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FeedbackStats counts feedback by status for the admin console.
type FeedbackStats struct {
	Total      int `db:"total" json:"total"`
	New        int `db:"new" json:"new"`
	InProgress int `db:"in_progress" json:"in_progress"`
	Resolved   int `db:"resolved" json:"resolved"`
	Closed     int `db:"closed" json:"closed"`
}
