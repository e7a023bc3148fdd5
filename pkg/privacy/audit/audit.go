// Package audit provides the append-only record of privacy-relevant events.
// Entries are never removed or reordered; an optional sink persists each
// entry synchronously as one NDJSON line.
package audit

import (
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Action classifies an audit entry.
type Action string

const (
	ActionPIIDetected      Action = "pii_detected"
	ActionPIIAnonymized    Action = "pii_anonymized"
	ActionContentFiltered  Action = "content_filtered"
	ActionContentFlagged   Action = "content_flagged"
	ActionContentRejected  Action = "content_rejected"
	ActionValidationPassed Action = "validation_passed"
	ActionValidationFailed Action = "validation_failed"
)

// Entry is one immutable audit record. Entries are created only through
// Log.Add.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    Action         `json:"action"`
	Details   map[string]any `json:"details"`
	User      string         `json:"user,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
}

// Sink receives each appended entry. Implementations own durability; the
// log treats sink failures as non-fatal.
type Sink interface {
	Write(e Entry) error
}

// Log is the append-only audit log. Appends are serialized and atomic; the
// sink write happens inside the append so sink lines correspond 1:1 with
// in-memory entries. The zero value is not usable; construct with New.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	sink    Sink
	logger  *slog.Logger
	lastTS  time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithSink attaches a persistence sink. The sink is shared infrastructure
// owned by the caller, not by the log.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithLogger sets the logger used to report sink write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// New constructs an empty audit log.
func New(opts ...Option) *Log {
	l := &Log{logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddOption attaches optional attribution to one entry.
type AddOption func(*Entry)

// WithUser records the acting user.
func WithUser(user string) AddOption {
	return func(e *Entry) { e.User = user }
}

// WithSession records the session the entry belongs to.
func WithSession(sessionID string) AddOption {
	return func(e *Entry) { e.SessionID = sessionID }
}

// Add appends one entry. The append is atomic and never rolled back; a sink
// write failure is reported through the logger and never propagated.
// Timestamps are monotonic non-decreasing across the life of the log.
func (l *Log) Add(action Action, details map[string]any, opts ...AddOption) {
	entry := Entry{Action: action, Details: cloneDetails(details)}
	for _, opt := range opts {
		opt(&entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Before(l.lastTS) {
		now = l.lastTS
	}
	l.lastTS = now
	entry.Timestamp = now

	l.entries = append(l.entries, entry)

	if l.sink != nil {
		if err := l.sink.Write(entry); err != nil {
			l.logger.Error("audit sink write failed", "action", string(action), "error", err)
		}
	}
}

// Filter narrows the entries returned by Entries. Nil fields match
// everything.
type Filter struct {
	Action    *Action
	StartTime *time.Time
	EndTime   *time.Time
}

// Entries returns the entries matching all supplied filters, in original
// append order. Each returned entry carries its own Details map, so mutating
// a result never edits the stored record.
func (l *Log) Entries(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries {
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
			continue
		}
		if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
			continue
		}
		e.Details = cloneDetails(e.Details)
		out = append(out, e)
	}
	return out
}

// cloneDetails copies the top-level map so the log and its callers cannot
// edit each other's records. Nested values are shared.
func cloneDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	return maps.Clone(details)
}

// Summary aggregates the log's contents.
type Summary struct {
	TotalEntries int            `json:"total_entries"`
	ActionCounts map[Action]int `json:"action_counts"`
	FirstEntry   *time.Time     `json:"first_entry"`
	LastEntry    *time.Time     `json:"last_entry"`
}

// GetSummary computes counts and the first/last timestamps. Timestamps are
// nil when the log is empty.
func (l *Log) GetSummary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{
		TotalEntries: len(l.entries),
		ActionCounts: make(map[Action]int),
	}
	for _, e := range l.entries {
		s.ActionCounts[e.Action]++
	}
	if len(l.entries) > 0 {
		first := l.entries[0].Timestamp
		last := l.entries[len(l.entries)-1].Timestamp
		s.FirstEntry = &first
		s.LastEntry = &last
	}
	return s
}
