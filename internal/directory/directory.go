// Package directory holds the configured, prioritized list of humans eligible
// to receive qualified-lead notifications. The admin surface owns editing the
// backing file; this service only reads it.
package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/arcosum/lead-relay/pkg/logging"
)

// Recipient is one notification target.
type Recipient struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Priority int    `json:"priority"`
	Active   bool   `json:"active"`
}

// Source supplies the current recipient list to the dispatcher.
type Source interface {
	Recipients() []Recipient
}

// FileStore reads recipients from a JSON file. Reload picks up edits made by
// the external configuration surface without a restart.
type FileStore struct {
	path   string
	logger *logging.Logger

	mu         sync.RWMutex
	recipients []Recipient
}

// NewFileStore loads the recipient file. A missing file is not an error; the
// store starts empty and a later Reload can populate it.
func NewFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.Default()
	}
	s := &FileStore{path: path, logger: logger}
	if err := s.Reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		logger.Warn("recipient file missing, starting with empty directory", "path", path)
	}
	return s, nil
}

// Reload re-reads the backing file.
func (s *FileStore) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var recipients []Recipient
	if err := json.Unmarshal(data, &recipients); err != nil {
		return fmt.Errorf("directory: parse %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.recipients = recipients
	s.mu.Unlock()

	s.logger.Info("recipient directory loaded", "path", s.path, "recipients", len(recipients))
	return nil
}

// Recipients returns the configured list in file order. Filtering and
// priority ordering belong to the dispatcher.
func (s *FileStore) Recipients() []Recipient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Recipient, len(s.recipients))
	copy(out, s.recipients)
	return out
}

// StaticSource is a fixed recipient list, used by tests and single-tenant
// deployments configured entirely through the environment.
type StaticSource []Recipient

// Recipients returns the static list.
func (s StaticSource) Recipients() []Recipient {
	out := make([]Recipient, len(s))
	copy(out, s)
	return out
}

var (
	_ Source = (*FileStore)(nil)
	_ Source = StaticSource(nil)
)
