package ops

import (
	"sort"
	"sync"
	"time"
)

// An operation is deadlocked after deadlockAttempts attempts spread over more than deadlockWindow.
const (
	deadlockAttempts = 3
	deadlockWindow   = 60 * time.Second
)

// DeadlockStatus is the outcome of Tracker.Check.
type DeadlockStatus struct {
	IsDeadlock         bool          `json:"is_deadlock"`
	NeedsForceRecovery bool          `json:"needs_force_recovery"`
	Attempts           int           `json:"attempts"`
	SinceFirst         time.Duration `json:"since_first"`
}

// OperationStatus is one row of the guardian status report.
type OperationStatus struct {
	Operation    string     `json:"operation"`
	Target       string     `json:"target"`
	Attempts     int        `json:"attempts"`
	FirstAttempt *time.Time `json:"first_attempt,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
}

type attempt struct {
	count int
	first time.Time
}

type opKey struct {
	operation string
	target    string
}

// Tracker counts attempts per (operation, target) and remembers the last success.
// It is safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	attempts    map[opKey]*attempt
	lastSuccess map[opKey]time.Time
	forceAfter  time.Duration
	now         func() time.Time
}

// NewTracker creates a Tracker. forceAfter is how long an operation may go without a
// success before a deadlock escalates to force recovery.
func NewTracker(forceAfter time.Duration) *Tracker {
	return &Tracker{
		attempts:    make(map[opKey]*attempt),
		lastSuccess: make(map[opKey]time.Time),
		forceAfter:  forceAfter,
		now:         time.Now,
	}
}

// Check records a new attempt and reports whether the operation looks deadlocked.
func (t *Tracker) Check(operation, target string) DeadlockStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := opKey{operation, target}
	a := t.attemptAt(k, now)

	sinceFirst := now.Sub(a.first)
	last, ok := t.lastSuccess[k]
	needsForce := !ok || now.Sub(last) > t.forceAfter

	return DeadlockStatus{
		IsDeadlock:         a.count >= deadlockAttempts && sinceFirst > deadlockWindow,
		NeedsForceRecovery: needsForce,
		Attempts:           a.count,
		SinceFirst:         sinceFirst,
	}
}

// Success resets the attempts of the operation.
func (t *Tracker) Success(operation, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successAt(opKey{operation, target}, t.now())
}

func (t *Tracker) attemptAt(k opKey, at time.Time) *attempt {
	a, ok := t.attempts[k]
	if !ok {
		a = &attempt{first: at}
		t.attempts[k] = a
	}
	a.count++
	return a
}

func (t *Tracker) successAt(k opKey, at time.Time) {
	delete(t.attempts, k)
	t.lastSuccess[k] = at
}

// Replay rebuilds the state from earlier audit entries, oldest first. The guardian is a
// one-shot process, so the audit log is what carries attempts across invocations.
func (t *Tracker) Replay(entries []AuditEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		if e.Outcome == OutcomeRateLimited || e.Operation == "" {
			continue
		}
		k := opKey{e.Operation, e.Environment}
		t.attemptAt(k, e.Timestamp)
		if e.Outcome == OutcomeSuccess {
			t.successAt(k, e.Timestamp)
		}
	}
}

// Snapshot lists every known operation, sorted by operation then target.
func (t *Tracker) Snapshot() []OperationStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make(map[opKey]struct{})
	for k := range t.attempts {
		keys[k] = struct{}{}
	}
	for k := range t.lastSuccess {
		keys[k] = struct{}{}
	}

	out := make([]OperationStatus, 0, len(keys))
	for k := range keys {
		s := OperationStatus{Operation: k.operation, Target: k.target}
		if a, ok := t.attempts[k]; ok {
			first := a.first
			s.Attempts = a.count
			s.FirstAttempt = &first
		}
		if last, ok := t.lastSuccess[k]; ok {
			s.LastSuccess = &last
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Operation != out[j].Operation {
			return out[i].Operation < out[j].Operation
		}
		return out[i].Target < out[j].Target
	})
	return out
}
