package apiclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// IdentityHeader carries the stable per-device caller identity. The server
// keys rate limiting on it, so every request must attach it.
const IdentityHeader = "X-Client-Identity"

// LoadOrCreateIdentity returns the persisted device identity token, creating
// and persisting a new one on first use. An empty path picks the default
// location under the user config directory.
func LoadOrCreateIdentity(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(base, "facet", "identity")
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		token := strings.TrimSpace(string(raw))
		if token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read identity: %w", err)
	}

	token := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist identity: %w", err)
	}
	return token, nil
}
