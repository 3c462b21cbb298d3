package reportclient

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const reporterIDFile = "reporter_id"

// LoadOrCreateReporterID returns the pseudonymous id stored in dataDir,
// creating a random one on first use. It is never derived from the machine
// or its traffic.
func LoadOrCreateReporterID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, reporterIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return id, nil
		}
		log.Warn("Stored reporter id is invalid, generating a new one", "path", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reportclient: read reporter id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("reportclient: create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("reportclient: write reporter id: %w", err)
	}

	log.Info("Created reporter id", "path", path)
	return id, nil
}
