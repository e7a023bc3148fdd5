package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// failingSink always errors to exercise the non-fatal path.
type failingSink struct{ writes int }

func (s *failingSink) Write(Entry) error {
	s.writes++
	return errors.New("disk full")
}

func TestAddAppendsInOrder(t *testing.T) {
	log := New()

	log.Add(ActionPIIDetected, map[string]any{"entities": 2})
	log.Add(ActionPIIAnonymized, map[string]any{"method": "redact"})
	log.Add(ActionValidationPassed, nil)

	entries := log.Entries(Filter{})
	require.Len(t, entries, 3)
	assert.Equal(t, ActionPIIDetected, entries[0].Action)
	assert.Equal(t, ActionPIIAnonymized, entries[1].Action)
	assert.Equal(t, ActionValidationPassed, entries[2].Action)
	assert.Equal(t, 2, entries[0].Details["entities"])
}

func TestTimestampsAreMonotonic(t *testing.T) {
	log := New()
	for i := 0; i < 100; i++ {
		log.Add(ActionValidationPassed, nil)
	}

	entries := log.Entries(Filter{})
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp),
			"entry %d precedes entry %d", i, i-1)
	}
}

func TestEntriesFilterByAction(t *testing.T) {
	log := New()
	log.Add(ActionPIIDetected, nil)
	log.Add(ActionValidationFailed, nil)
	log.Add(ActionPIIDetected, nil)

	action := ActionPIIDetected
	entries := log.Entries(Filter{Action: &action})
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, ActionPIIDetected, e.Action)
	}
}

func TestEntriesFilterByTimeRange(t *testing.T) {
	log := New()
	log.Add(ActionPIIDetected, nil)
	cutoff := log.Entries(Filter{})[0].Timestamp

	before := cutoff.Add(-time.Hour)
	after := cutoff.Add(time.Hour)

	assert.Len(t, log.Entries(Filter{StartTime: &before, EndTime: &after}), 1)
	assert.Empty(t, log.Entries(Filter{EndTime: &before}))
	assert.Empty(t, log.Entries(Filter{StartTime: &after}))
}

func TestAddAttribution(t *testing.T) {
	log := New()
	log.Add(ActionContentFlagged, nil, WithUser("alice"), WithSession("sess-1"))

	entries := log.Entries(Filter{})
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].User)
	assert.Equal(t, "sess-1", entries[0].SessionID)
}

func TestDetailsAreIsolatedFromCallers(t *testing.T) {
	log := New()
	details := map[string]any{"count": 1}
	log.Add(ActionPIIDetected, details)

	// Mutating the caller's map after Add must not reach the stored record.
	details["count"] = 99
	got := log.Entries(Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Details["count"])

	// Mutating a returned entry must not reach the stored record either.
	got[0].Details["count"] = 42
	again := log.Entries(Filter{})
	assert.Equal(t, 1, again[0].Details["count"])
}

func TestSinkFailureIsNonFatal(t *testing.T) {
	sink := &failingSink{}
	log := New(WithSink(sink), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	log.Add(ActionValidationFailed, map[string]any{"level": "strict"})

	assert.Equal(t, 1, sink.writes)
	assert.Len(t, log.Entries(Filter{}), 1)
}

func TestGetSummary(t *testing.T) {
	log := New()
	s := log.GetSummary()
	assert.Zero(t, s.TotalEntries)
	assert.Nil(t, s.FirstEntry)
	assert.Nil(t, s.LastEntry)

	log.Add(ActionPIIDetected, nil)
	log.Add(ActionPIIDetected, nil)
	log.Add(ActionValidationPassed, nil)

	s = log.GetSummary()
	assert.Equal(t, 3, s.TotalEntries)
	assert.Equal(t, 2, s.ActionCounts[ActionPIIDetected])
	assert.Equal(t, 1, s.ActionCounts[ActionValidationPassed])
	require.NotNil(t, s.FirstEntry)
	require.NotNil(t, s.LastEntry)
	assert.False(t, s.LastEntry.Before(*s.FirstEntry))
}

func TestSummaryCountsMatchAdds(t *testing.T) {
	actions := []Action{
		ActionPIIDetected,
		ActionPIIAnonymized,
		ActionContentFiltered,
		ActionContentFlagged,
		ActionContentRejected,
		ActionValidationPassed,
		ActionValidationFailed,
	}

	rapid.Check(t, func(t *rapid.T) {
		log := New()
		want := make(map[Action]int)

		n := rapid.IntRange(0, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			action := rapid.SampledFrom(actions).Draw(t, "action")
			log.Add(action, nil)
			want[action]++
		}

		s := log.GetSummary()
		if s.TotalEntries != n {
			t.Fatalf("total %d, want %d", s.TotalEntries, n)
		}
		for action, count := range want {
			if s.ActionCounts[action] != count {
				t.Fatalf("count for %s: %d, want %d", action, s.ActionCounts[action], count)
			}
		}
	})
}

func TestFileSinkWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()

	log := New(WithSink(sink))
	log.Add(ActionPIIAnonymized, map[string]any{"method": "hash"}, WithSession("sess-9"))
	log.Add(ActionValidationPassed, nil)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []sinkRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec sinkRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 2)

	assert.Equal(t, "pii_anonymized", records[0].Action)
	assert.Equal(t, "hash", records[0].Details["method"])
	require.NotNil(t, records[0].SessionID)
	assert.Equal(t, "sess-9", *records[0].SessionID)
	assert.Nil(t, records[0].User)

	_, err = time.Parse(time.RFC3339Nano, records[0].Timestamp)
	assert.NoError(t, err)

	assert.Nil(t, records[1].User)
	assert.Nil(t, records[1].SessionID)
}

func TestNewFileSinkRejectsEmptyPath(t *testing.T) {
	_, err := NewFileSink("")
	require.Error(t, err)
}
