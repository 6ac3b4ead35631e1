package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ClientIDFile is the filename for the persisted client id inside ConfigDir
const ClientIDFile = "client_id"

// ClientID returns the id of this relaycache install, creating it on first use.
// It tags log lines so caches from several machines can be told apart.
func (p *Paths) ClientID() (string, error) {
	path := filepath.Join(p.ConfigDir, ClientIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", err
	}
	return id, nil
}
