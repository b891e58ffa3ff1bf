package resume

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IdentityStore persists the durable owner identity to a state file.
// The id associates sessions with this client installation across
// restarts; it is generated exactly once and only regenerated if the
// file is absent or empty.
type IdentityStore struct {
	path   string
	logger *slog.Logger
}

// NewIdentityStore creates a store backed by the given file path
func NewIdentityStore(path string, logger *slog.Logger) *IdentityStore {
	return &IdentityStore{path: path, logger: logger}
}

// Load returns the persisted owner id, generating and persisting a new
// one when none exists yet.
func (s *IdentityStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read identity file: %w", err)
	}

	id := uuid.NewString()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create identity dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to persist identity: %w", err)
	}

	s.logger.Info("Generated new owner identity", slog.String("owner_id", id))
	return id, nil
}
