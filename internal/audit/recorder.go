package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/safego"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// Writer persists audit rows. *repositories.AuditRepository satisfies it.
type Writer interface {
	CreateAuditLog(ctx context.Context, ext sqlx.ExtContext, log *models.AuditLog) error
}

// Actor identifies who performed an action and from where.
type Actor struct {
	UserID              string
	ConstructionGroupID string
	IPAddress           string
	UserAgent           string
}

// Event describes one auditable change.
type Event struct {
	Action     string
	Resource   string
	ResourceID string
	OldValues  interface{}
	NewValues  interface{}
	Metadata   map[string]interface{}
}

// Build turns an event and its actor into an audit row
func Build(actor Actor, ev Event) *models.AuditLog {
	l := &models.AuditLog{
		Action:    ev.Action,
		Resource:  ev.Resource,
		Timestamp: time.Now(),
		OldValues: models.MustJSON(ev.OldValues),
		NewValues: models.MustJSON(ev.NewValues),
		Metadata:  models.MustJSON(ev.Metadata),
	}
	opt := func(s string) *string {
		if s == "" {
			return nil
		}
		return &s
	}
	l.ResourceID = opt(ev.ResourceID)
	l.UserID = opt(actor.UserID)
	l.ConstructionGroupID = opt(actor.ConstructionGroupID)
	l.IPAddress = opt(actor.IPAddress)
	l.UserAgent = opt(actor.UserAgent)
	return l
}

// Recorder writes audit rows and forwards them to the shippers.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	writer  Writer
	shipper Shipper
	timeout time.Duration
}

// NewRecorder creates a Recorder. shipper may be nil.
func NewRecorder(writer Writer, shipper Shipper) *Recorder {
	return &Recorder{writer: writer, shipper: shipper, timeout: 5 * time.Second}
}

// RecordTx writes the row using ext, normally the caller's transaction, and
// returns the error so the transaction can be rolled back. Call Ship after commit.
func (r *Recorder) RecordTx(ctx context.Context, ext sqlx.ExtContext, l *models.AuditLog) error {
	if r == nil || r.writer == nil {
		return nil
	}
	err := r.writer.CreateAuditLog(ctx, ext, l)
	r.count(l, err)
	return err
}

// Record writes the row outside any transaction and ships it. Failures are
// logged and never returned to the caller.
func (r *Recorder) Record(ctx context.Context, actor Actor, ev Event) {
	if r == nil || r.writer == nil {
		return
	}
	l := Build(actor, ev)
	err := r.writer.CreateAuditLog(ctx, nil, l)
	r.count(l, err)
	if err != nil {
		slog.Error("failed to write audit log", "action", l.Action, "resource", l.Resource, "error", err)
		return
	}
	r.Ship(l)
}

// RecordAsync is Record on a background goroutine, for request middleware.
func (r *Recorder) RecordAsync(actor Actor, ev Event) {
	if r == nil {
		return
	}
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.Record(ctx, actor, ev)
	})
}

// Ship forwards a committed row to the shippers in the background.
func (r *Recorder) Ship(l *models.AuditLog) {
	if r == nil || r.shipper == nil {
		return
	}
	entry := EntryFromLog(l)
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		_ = r.shipper.Ship(ctx, entry)
	})
}

func (r *Recorder) count(l *models.AuditLog, err error) {
	outcome := "stored"
	if err != nil {
		outcome = "failed"
	}
	telemetry.AuditEventsTotal.WithLabelValues(l.Resource, outcome).Inc()
}
