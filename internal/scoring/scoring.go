// Package scoring is the boundary to the external lead-scoring collaborator.
// It assembles a prompt from the windowed context plus example transcripts and
// parses the model's structured verdict. Anything the model returns that does
// not decode strictly is an error: the relay fails closed and sends no
// notification for that turn.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/arcosum/lead-relay/internal/session"
)

// Assessment is the scorer's verdict for a conversation at a point in time.
// Immutable once produced; one assessment is associated with the triggering
// turn.
type Assessment struct {
	Score     int    `json:"lead_score"`
	Qualified bool   `json:"is_qualified_lead"`
	LeadType  string `json:"lead_type"`
	Rationale string `json:"rationale"`
	Summary   string `json:"summary_for_seller"`
	Reply     string `json:"response"`
}

// Example is a past qualified transcript handed to the scorer as a few-shot
// reference, typically assembled from the archive export.
type Example struct {
	LeadType   string
	Score      int
	Transcript string
}

// ErrUnparseableAssessment is returned when the model output carries no valid
// assessment JSON.
var ErrUnparseableAssessment = errors.New("scoring: unparseable assessment")

// ParseAssessment extracts and decodes the assessment object from raw model
// output. Models occasionally wrap the JSON in prose or code fences, so the
// parser locates the outermost object before decoding.
func ParseAssessment(raw string) (*Assessment, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in output", ErrUnparseableAssessment)
	}

	var a Assessment
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableAssessment, err)
	}
	return &a, nil
}

// FormatTranscript renders turns as a plain conversation transcript for the
// prompt.
func FormatTranscript(turns []session.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		label := "Customer"
		if turn.Role == session.RoleBot {
			label = "Assistant"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(turn.Text)
		if len(turn.Media) > 0 {
			fmt.Fprintf(&b, " [%d attachment(s)]", len(turn.Media))
		}
		b.WriteString("\n")
	}
	return b.String()
}
