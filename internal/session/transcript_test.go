package session

import (
	"testing"

	"github.com/andrewmoshu/live-transcribe/internal/protocol"
)

func TestTranscriptStorePreservesArrivalOrder(t *testing.T) {
	store := NewTranscriptStore()

	// Timestamps out of order: arrival order wins, never re-sorted
	store.Append(protocol.TranscriptUpdate{Timestamp: "10:00:05", Text: "late stamp first"})
	store.Append(protocol.TranscriptUpdate{Timestamp: "10:00:01", Text: "early stamp second"})

	lines := store.Snapshot()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Text != "late stamp first" || lines[1].Text != "early stamp second" {
		t.Errorf("arrival order not preserved: %+v", lines)
	}
}

func TestTranscriptStoreReplace(t *testing.T) {
	store := NewTranscriptStore()
	store.Append(protocol.TranscriptUpdate{Timestamp: "10:00:00", Text: "stale"})

	store.Replace([]protocol.TranscriptUpdate{
		{Timestamp: "10:00:01", Text: "fresh one"},
		{Timestamp: "10:00:02", Text: "fresh two"},
	})

	if store.Len() != 2 {
		t.Fatalf("expected 2 lines after replace, got %d", store.Len())
	}
	if store.Snapshot()[0].Text != "fresh one" {
		t.Error("replace did not discard stale lines")
	}
}

func TestTranscriptStoreText(t *testing.T) {
	store := NewTranscriptStore()
	if store.Text() != "" {
		t.Error("empty store should render empty text")
	}

	store.Append(
		protocol.TranscriptUpdate{Timestamp: "10:00:01", Text: "hello"},
		protocol.TranscriptUpdate{Timestamp: "10:00:02", Text: "world"},
	)

	expected := "[10:00:01] hello\n[10:00:02] world"
	if got := store.Text(); got != expected {
		t.Errorf("unexpected rendering:\n%s\nexpected:\n%s", got, expected)
	}
}

func TestTranscriptStoreSnapshotIsACopy(t *testing.T) {
	store := NewTranscriptStore()
	store.Append(protocol.TranscriptUpdate{Timestamp: "10:00:01", Text: "original"})

	snapshot := store.Snapshot()
	snapshot[0].Text = "mutated"

	if store.Snapshot()[0].Text != "original" {
		t.Error("snapshot mutation leaked into the store")
	}
}
