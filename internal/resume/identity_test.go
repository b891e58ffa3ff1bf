package resume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestIdentityGeneratedWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "owner-id")
	store := NewIdentityStore(path, testLogger())

	id, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("generated id is not a uuid: %q", id)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("identity was not persisted: %v", err)
	}
	if len(data) == 0 {
		t.Error("identity file is empty")
	}
}

func TestIdentityStableAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner-id")

	first, err := NewIdentityStore(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("first Load failed: %v", err)
	}

	// A fresh store over the same file sees the same identity
	second, err := NewIdentityStore(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if first != second {
		t.Errorf("identity changed across reloads: %q != %q", first, second)
	}
}

func TestIdentityRegeneratedOnlyIfEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner-id")
	if err := os.WriteFile(path, []byte("  \n"), 0600); err != nil {
		t.Fatal(err)
	}

	id, err := NewIdentityStore(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id == "" {
		t.Error("expected a regenerated id for an empty file")
	}

	// An existing non-uuid value is preserved as-is, never rewritten
	if err := os.WriteFile(path, []byte("legacy-owner-id\n"), 0600); err != nil {
		t.Fatal(err)
	}
	id, err = NewIdentityStore(path, testLogger()).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id != "legacy-owner-id" {
		t.Errorf("existing identity was not preserved: %q", id)
	}
}
