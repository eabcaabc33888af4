package harness

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TraceLogEntry is one operator-visible diagnostic line. Entries are never
// persisted; the trace is the flow's only diagnostic surface.
type TraceLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// TraceLog is an append-only log of flow progress shown to the operator
// regardless of how the flow ends.
type TraceLog struct {
	mu      sync.Mutex
	entries []TraceLogEntry
}

// Append adds a formatted line to the trace
func (t *TraceLog) Append(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TraceLogEntry{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf(format, args...),
	})
}

// Entries returns a copy of the accumulated entries
func (t *TraceLog) Entries() []TraceLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceLogEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// String concatenates the trace messages, one per line
func (t *TraceLog) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for i, e := range t.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Message)
	}
	return b.String()
}
