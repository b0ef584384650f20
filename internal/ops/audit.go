package ops

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Audit outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeRateLimited = "rate_limited"
)

// AuditEntry is one line of ops.audit_log.
type AuditEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	Environment string    `json:"environment"`
	Host        string    `json:"host"`
	Commands    []string  `json:"commands,omitempty"`
	Outcome     string    `json:"outcome"`
	DurationMS  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	Failure     Failure   `json:"failure,omitempty"`
	Operator    string    `json:"operator,omitempty"`
}

// AuditLog appends entries to a JSON-lines file.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// NewAuditLog returns a log writing to path. The file is created on first append.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Append writes e as one line.
func (a *AuditLog) Append(e AuditEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal ops audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 -- operator-configured path
	if err != nil {
		return fmt.Errorf("open ops audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write ops audit log: %w", err)
	}
	return nil
}

// Entries reads every entry, oldest first. A missing file yields no entries and
// malformed lines are skipped.
func (a *AuditLog) Entries() ([]AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ops audit log: %w", err)
	}
	defer f.Close()

	var out []AuditEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			slog.Warn("skipping malformed ops audit line", "file", a.path, "line", line, "error", err)
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read ops audit log: %w", err)
	}
	return out, nil
}
