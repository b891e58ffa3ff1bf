package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

// TranscriptStore accumulates transcript lines in arrival order. Lines
// are append-only: server timestamps are never re-sorted locally. A full
// snapshot from the server replaces the store wholesale.
type TranscriptStore struct {
	mu    sync.Mutex
	lines []protocol.TranscriptUpdate
}

// NewTranscriptStore creates an empty transcript store
func NewTranscriptStore() *TranscriptStore {
	return &TranscriptStore{}
}

// Append adds transcript lines in arrival order
func (s *TranscriptStore) Append(updates ...protocol.TranscriptUpdate) {
	if len(updates) == 0 {
		return
	}
	s.mu.Lock()
	s.lines = append(s.lines, updates...)
	s.mu.Unlock()
}

// Replace swaps the whole transcript for an authoritative server snapshot
func (s *TranscriptStore) Replace(updates []protocol.TranscriptUpdate) {
	s.mu.Lock()
	s.lines = append([]protocol.TranscriptUpdate(nil), updates...)
	s.mu.Unlock()
}

// Clear drops all accumulated lines
func (s *TranscriptStore) Clear() {
	s.mu.Lock()
	s.lines = nil
	s.mu.Unlock()
}

// Len returns the number of accumulated lines
func (s *TranscriptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Snapshot returns a copy of the accumulated lines
func (s *TranscriptStore) Snapshot() []protocol.TranscriptUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.TranscriptUpdate(nil), s.lines...)
}

// Text renders the transcript as "[HH:MM:SS] text" lines
func (s *TranscriptStore) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for i, line := range s.lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s", line.Timestamp, line.Text)
	}
	return b.String()
}
