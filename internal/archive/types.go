package archive

import (
	"time"

	"github.com/arcosum/lead-relay/internal/decision"
	"github.com/arcosum/lead-relay/internal/scoring"
	"github.com/arcosum/lead-relay/internal/session"
)

// Entry is a finalized conversation snapshot. Entries are immutable once
// written; the archive only appends and evicts, never edits in place.
type Entry struct {
	ID            string             `json:"id"`
	Correspondent string             `json:"correspondent"`
	Turns         []session.Turn     `json:"turns"`
	Assessment    scoring.Assessment `json:"assessment"`
	Decision      decision.Decision  `json:"decision"`
	Media         []session.MediaRef `json:"media,omitempty"`
	ArchivedAt    time.Time          `json:"archived_at"`
}

// Qualified is an export predicate selecting entries the scorer qualified.
func Qualified(e Entry) bool {
	return e.Assessment.Qualified
}

// MinScore returns an export predicate selecting entries at or above a score.
func MinScore(min int) func(Entry) bool {
	return func(e Entry) bool {
		return e.Assessment.Score >= min
	}
}
