// Package audit records security and data-change events. Entries are written to the
// audit_logs table by a Recorder and fanned out to external sinks (JSON-lines file,
// batched webhook, AMQP topic exchange) through the Shipper interface, so audit
// records can reach a SIEM independently of application logs.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// LogEntry is the shipped form of an audit row
type LogEntry struct {
	ID                  string                 `json:"id"`
	Timestamp           time.Time              `json:"timestamp"`
	Action              string                 `json:"action"`
	Resource            string                 `json:"resource"`
	ResourceID          string                 `json:"resource_id,omitempty"`
	UserID              string                 `json:"user_id,omitempty"`
	ConstructionGroupID string                 `json:"construction_group_id,omitempty"`
	IPAddress           string                 `json:"ip_address,omitempty"`
	UserAgent           string                 `json:"user_agent,omitempty"`
	OldValues           json.RawMessage        `json:"old_values,omitempty"`
	NewValues           json.RawMessage        `json:"new_values,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
}

// EntryFromLog converts a stored audit row into a LogEntry
func EntryFromLog(l *models.AuditLog) *LogEntry {
	e := &LogEntry{
		ID:        l.ID,
		Timestamp: l.Timestamp,
		Action:    l.Action,
		Resource:  l.Resource,
		Metadata:  l.Metadata.Map(),
	}
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	e.ResourceID = deref(l.ResourceID)
	e.UserID = deref(l.UserID)
	e.ConstructionGroupID = deref(l.ConstructionGroupID)
	e.IPAddress = deref(l.IPAddress)
	e.UserAgent = deref(l.UserAgent)
	if len(l.OldValues) > 0 {
		e.OldValues = json.RawMessage(l.OldValues)
	}
	if len(l.NewValues) > 0 {
		e.NewValues = json.RawMessage(l.NewValues)
	}
	return e
}

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close flushes and releases any resources
	Close() error
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers map[string]Shipper
	mu       sync.RWMutex
}

// NewMultiShipper builds the enabled shippers from configuration
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make(map[string]Shipper)}

	for i, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File.Path)
		case "amqp":
			if cfg.AMQP == nil {
				return nil, fmt.Errorf("amqp config is required for amqp shipper")
			}
			shipper, err = NewAMQPShipper(cfg.AMQP.URL, cfg.AMQP.Exchange)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}
		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}
		ms.shippers[fmt.Sprintf("%s-%d", cfg.Type, i)] = shipper
	}

	return ms, nil
}

// Add registers an extra shipper under name
func (ms *MultiShipper) Add(name string, s Shipper) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.shippers[name] = s
}

// Len reports how many shippers are active
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to all configured shippers, returning the last error
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for name, shipper := range ms.shippers {
		if err := shipper.Ship(ctx, entry); err != nil {
			lastErr = err
			telemetry.AuditShipFailuresTotal.WithLabelValues(name).Inc()
			slog.Warn("audit shipper error", "shipper", name, "error", err)
		}
	}
	return lastErr
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, shipper := range ms.shippers {
		if err := shipper.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

// WebhookShipper POSTs entries to an HTTP endpoint, optionally in batches
type WebhookShipper struct {
	cfg           config.AuditWebhookConfig
	timeout       time.Duration
	flushInterval time.Duration
	client        *http.Client
	batchCh       chan *LogEntry
	batch         []*LogEntry
	batchMu       sync.Mutex
	closeCh       chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	flush := time.Duration(cfg.FlushInterval) * time.Second
	if flush == 0 {
		flush = 5 * time.Second
	}

	ws := &WebhookShipper{
		cfg:           *cfg,
		timeout:       timeout,
		flushInterval: flush,
		client:        &http.Client{Timeout: timeout},
		batchCh:       make(chan *LogEntry, 1000),
		closeCh:       make(chan struct{}),
		done:          make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go ws.processBatches()
	} else {
		close(ws.done)
	}
	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.done)
	ticker := time.NewTicker(ws.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			ws.flushBatch()
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			ws.batchMu.Lock()
		drain:
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
				default:
					break drain
				}
			}
			ws.flushBatch()
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch; callers hold batchMu
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}
	data, err := json.Marshal(ws.batch)
	ws.batch = ws.batch[:0]
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()
	if err := ws.sendRequest(ctx, data); err != nil {
		telemetry.AuditShipFailuresTotal.WithLabelValues("webhook").Inc()
		slog.Warn("failed to send audit batch", "error", err)
	}
}

// Ship sends an entry to the webhook, or queues it when batching
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
			// queue full; send directly
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	return ws.sendRequest(ctx, data)
}

func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close flushes any pending batch and stops the batch loop
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
	})
	<-ws.done
	return nil
}

// ---------------------------------------------------------------------------
// File
// ---------------------------------------------------------------------------

// FileShipper appends entries to a file as JSON lines
type FileShipper struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) path for appending
func NewFileShipper(path string) (*FileShipper, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{file: file}, nil
}

// Ship writes an entry followed by a newline
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
