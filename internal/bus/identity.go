package bus

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadIdentity returns the stable identity for this execution context,
// generating and persisting one on first use so it survives restarts but
// stays distinct across contexts (each context owns its own data dir).
// An unwritable dir yields an ephemeral identity, which only weakens echo
// suppression for this process, never correctness.
func LoadIdentity(dir string) string {
	if dir == "" {
		return uuid.NewString()
	}
	path := filepath.Join(dir, "identity")
	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(dir, 0o755); err == nil {
		_ = os.WriteFile(path, []byte(id+"\n"), 0o644)
	}
	return id
}
