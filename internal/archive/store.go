// Package archive keeps the size-bounded, FIFO-evicting log of full
// conversation records. It is a rolling audit/export cache backed by a local
// file, not a transactional database: an append is durable before it returns,
// but a crash mid-write may corrupt at most that one write.
package archive

import (
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcosum/lead-relay/internal/observability/metrics"
	"github.com/arcosum/lead-relay/pkg/logging"
)

// DefaultCapacity bounds the rolling archive.
const DefaultCapacity = 500

// Store holds the ring of archived conversations behind a single-writer lock.
type Store struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	path     string
	logger   *logging.Logger
	metrics  *metrics.RelayMetrics
}

// NewStore opens (or creates) a file-backed archive. Existing entries are
// loaded so the ring survives restarts; an oversized file is trimmed to the
// newest capacity entries on load.
func NewStore(path string, capacity int, logger *logging.Logger, m *metrics.RelayMetrics) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		capacity: capacity,
		path:     path,
		logger:   logger,
		metrics:  m,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	m.SetArchiveEntries(len(s.entries))
	return s, nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("archive: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("archive: parse %s: %w", s.path, err)
	}
	if len(entries) > s.capacity {
		entries = entries[len(entries)-s.capacity:]
	}
	s.entries = entries
	s.logger.Info("conversation archive loaded", "path", s.path, "entries", len(entries))
	return nil
}

// Append inserts an entry at the newest end, evicting the oldest first when
// the ring is full. The eviction-then-insert happens atomically under the
// writer lock, and the backing file is durably rewritten before Append
// returns success.
func (s *Store) Append(entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ArchivedAt.IsZero() {
		entry.ArchivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.entries
	next := s.entries
	if len(next) >= s.capacity {
		evict := len(next) - s.capacity + 1
		next = next[evict:]
	}
	next = append(next, entry)

	s.entries = next
	if err := s.persistLocked(); err != nil {
		// Roll back so the in-memory ring matches what is on disk.
		s.entries = previous
		s.metrics.ObserveArchiveFailure()
		return err
	}

	s.metrics.SetArchiveEntries(len(s.entries))
	s.logger.Info("conversation archived",
		"correspondent", entry.Correspondent,
		"score", entry.Assessment.Score,
		"qualified", entry.Assessment.Qualified,
		"turns", len(entry.Turns),
		"entries", len(s.entries),
	)
	return nil
}

// persistLocked rewrites the backing file via a temp file and rename, so a
// crash never leaves a half-written archive in place.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal entries: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".archive-*.json")
	if err != nil {
		return fmt.Errorf("archive: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("archive: replace %s: %w", s.path, err)
	}
	return nil
}

// Export returns a lazy, restartable sequence over the entries matching the
// predicate, in insertion order. The sequence iterates a snapshot taken at
// call time: appends that land mid-iteration are not reflected. A nil
// predicate matches everything.
func (s *Store) Export(pred func(Entry) bool) iter.Seq[Entry] {
	s.mu.RLock()
	snapshot := make([]Entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	return func(yield func(Entry) bool) {
		for _, entry := range snapshot {
			if pred != nil && !pred(entry) {
				continue
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// Recent returns up to limit of the newest entries, oldest of those first.
func (s *Store) Recent(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]Entry, limit)
	copy(out, s.entries[len(s.entries)-limit:])
	return out
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
