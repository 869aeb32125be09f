package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcosum/lead-relay/pkg/logging"
)

// ErrMissingCorrespondent is returned when a session operation lacks an identifier.
var ErrMissingCorrespondent = errors.New("session: correspondent identifier required")

const (
	// DefaultInactivityWindow is how long a correspondent may stay silent
	// before their next exchange is treated as a fresh conversation.
	DefaultInactivityWindow = time.Hour
	// DefaultActiveWindowTurns caps the context window for active sessions.
	DefaultActiveWindowTurns = 10
	// DefaultIdleWindowTurns caps the context window after an inactivity gap.
	DefaultIdleWindowTurns = 3
)

type state struct {
	mu           sync.Mutex
	turns        []Turn
	lastActivity time.Time
	class        ActivityClass
}

// Store owns per-correspondent conversational state. Each correspondent's
// window updates are serialized behind that correspondent's lock; operations
// on different correspondents never contend beyond the keyed lookup.
//
// The turn sequence held here is never truncated: the window caps apply only
// to the view handed to the scorer, while the full record feeds the archive.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*state

	inactivity  time.Duration
	activeTurns int
	idleTurns   int
	now         func() time.Time
	logger      *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithInactivityWindow overrides the inactivity boundary.
func WithInactivityWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.inactivity = d
		}
	}
}

// WithWindowTurns overrides the active/idle context window caps.
func WithWindowTurns(active, idle int) Option {
	return func(s *Store) {
		if active > 0 {
			s.activeTurns = active
		}
		if idle > 0 {
			s.idleTurns = idle
		}
	}
}

// WithClock injects a clock, used by tests to control elapsed time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a session store.
func NewStore(logger *logging.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		sessions:    make(map[string]*state),
		inactivity:  DefaultInactivityWindow,
		activeTurns: DefaultActiveWindowTurns,
		idleTurns:   DefaultIdleWindowTurns,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) session(correspondentID string, create bool) *state {
	s.mu.RLock()
	st, ok := s.sessions[correspondentID]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.sessions[correspondentID]; ok {
		return st
	}
	st = &state{class: ClassActive}
	s.sessions[correspondentID] = st
	return st
}

// RecordTurn appends a turn to the correspondent's session, updates
// last-activity, and recomputes the activity class.
//
// A turn that arrives after the inactivity window has elapsed leaves the
// session classified inactive for this exchange: the following window read
// returns the reduced cap, so the conversation restarts fresh. The turn after
// that flips the session back to active.
func (s *Store) RecordTurn(correspondentID string, turn Turn) error {
	if strings.TrimSpace(correspondentID) == "" {
		return ErrMissingCorrespondent
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now().UTC()
	}

	st := s.session(correspondentID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	if len(st.turns) == 0 {
		st.class = ClassActive
	} else if turn.Timestamp.Sub(st.lastActivity) >= s.inactivity {
		st.class = ClassInactive
		s.logger.Info("session restarting fresh after inactivity",
			"correspondent", correspondentID,
			"silent_for", turn.Timestamp.Sub(st.lastActivity).String(),
		)
	} else {
		st.class = ClassActive
	}

	st.turns = append(st.turns, turn)
	if turn.Timestamp.After(st.lastActivity) {
		st.lastActivity = turn.Timestamp
	}
	return nil
}

// Restore seeds a session from a persisted transcript, e.g. after a restart.
// It is a no-op when the session already holds turns.
func (s *Store) Restore(correspondentID string, turns []Turn) error {
	if strings.TrimSpace(correspondentID) == "" {
		return ErrMissingCorrespondent
	}
	if len(turns) == 0 {
		return nil
	}

	st := s.session(correspondentID, true)
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.turns) > 0 {
		return nil
	}

	st.turns = append(st.turns, turns...)
	last := turns[len(turns)-1].Timestamp
	st.lastActivity = last
	st.class = s.classify(last)
	return nil
}

// ContextWindow returns the bounded recency view for a correspondent: the most
// recent 10 turns while the session is active, 3 once it has gone inactive.
// An unknown correspondent yields an empty window, not an error.
func (s *Store) ContextWindow(correspondentID string) []Turn {
	st := s.session(correspondentID, false)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	limit := s.activeTurns
	if st.class == ClassInactive || s.classify(st.lastActivity) == ClassInactive {
		limit = s.idleTurns
	}
	if len(st.turns) <= limit {
		window := make([]Turn, len(st.turns))
		copy(window, st.turns)
		return window
	}
	window := make([]Turn, limit)
	copy(window, st.turns[len(st.turns)-limit:])
	return window
}

// Turns returns a copy of the full turn sequence for a correspondent. This is
// what flows into the archive; it is never capped by the context window.
func (s *Store) Turns(correspondentID string) []Turn {
	st := s.session(correspondentID, false)
	if st == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	turns := make([]Turn, len(st.turns))
	copy(turns, st.turns)
	return turns
}

// Activity reports the current class and last-activity timestamp for a
// correspondent. The second return is false for unknown correspondents.
func (s *Store) Activity(correspondentID string) (ActivityClass, time.Time, bool) {
	st := s.session(correspondentID, false)
	if st == nil {
		return "", time.Time{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.class, st.lastActivity, true
}

// SweepInactive reclassifies every session against the current time and
// returns how many flipped to inactive. It only ever downgrades: a session
// becomes active again solely through a new turn. Repeated sweeps with no
// elapsed time are no-ops, so the sweep is safe to run inline on every inbound
// message as well as on a fixed interval.
func (s *Store) SweepInactive() int {
	s.mu.RLock()
	snapshot := make(map[string]*state, len(s.sessions))
	for id, st := range s.sessions {
		snapshot[id] = st
	}
	s.mu.RUnlock()

	swept := 0
	for id, st := range snapshot {
		st.mu.Lock()
		if st.class != ClassInactive && s.classify(st.lastActivity) == ClassInactive {
			st.class = ClassInactive
			swept++
			s.logger.Debug("session classified inactive", "correspondent", id)
		}
		st.mu.Unlock()
	}
	if swept > 0 {
		s.logger.Info("session sweep complete", "reclassified", swept)
	}
	return swept
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// classify applies the inactivity boundary: exactly at the boundary counts as
// inactive.
func (s *Store) classify(lastActivity time.Time) ActivityClass {
	if lastActivity.IsZero() {
		return ClassActive
	}
	if s.now().Sub(lastActivity) >= s.inactivity {
		return ClassInactive
	}
	return ClassActive
}
