package scoring

import (
	"errors"
	"testing"
	"time"

	"github.com/arcosum/lead-relay/internal/session"
)

func TestParseAssessment(t *testing.T) {
	raw := `{"response":"¡Perfecto! Un asesor te contacta en breve.","is_qualified_lead":true,"lead_score":9,"lead_type":"serious_quote","summary_for_seller":"Wants a 200m2 roof, has budget.","rationale":"Concrete dimensions and timeline."}`

	a, err := ParseAssessment(raw)
	if err != nil {
		t.Fatalf("ParseAssessment: %v", err)
	}
	if a.Score != 9 || !a.Qualified {
		t.Errorf("expected score 9 qualified, got %d / %v", a.Score, a.Qualified)
	}
	if a.LeadType != "serious_quote" {
		t.Errorf("unexpected lead type %q", a.LeadType)
	}
	if a.Reply == "" || a.Summary == "" {
		t.Error("reply and summary must survive parsing")
	}
}

func TestParseAssessmentWrappedInProse(t *testing.T) {
	raw := "Sure, here is the analysis:\n```json\n{\"lead_score\": 4, \"is_qualified_lead\": false, \"lead_type\": \"price_inquiry\", \"response\": \"ok\"}\n```\nLet me know."

	a, err := ParseAssessment(raw)
	if err != nil {
		t.Fatalf("ParseAssessment: %v", err)
	}
	if a.Score != 4 || a.Qualified {
		t.Errorf("expected score 4 unqualified, got %d / %v", a.Score, a.Qualified)
	}
}

func TestParseAssessmentUnparseable(t *testing.T) {
	for _, raw := range []string{"", "no json here", "{broken", "{\"lead_score\": \"high\"}"} {
		if _, err := ParseAssessment(raw); !errors.Is(err, ErrUnparseableAssessment) {
			t.Errorf("ParseAssessment(%q): expected ErrUnparseableAssessment, got %v", raw, err)
		}
	}
}

func TestFormatTranscript(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleCustomer, Text: "necesito un techo", Timestamp: time.Now()},
		{Role: session.RoleBot, Text: "¿De qué dimensiones?", Timestamp: time.Now()},
		{Role: session.RoleCustomer, Text: "aquí el plano", Media: []session.MediaRef{{ID: "m1", Type: "document"}}},
	}

	got := FormatTranscript(turns)
	want := "Customer: necesito un techo\nAssistant: ¿De qué dimensiones?\nCustomer: aquí el plano [1 attachment(s)]\n"
	if got != want {
		t.Errorf("FormatTranscript mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestNewOpenAIScorerRequiresKey(t *testing.T) {
	if s := NewOpenAIScorer(OpenAIConfig{}, nil); s != nil {
		t.Error("expected nil scorer without API key")
	}
	if s := NewOpenAIScorer(OpenAIConfig{APIKey: "sk-test"}, nil); s == nil {
		t.Error("expected scorer with API key")
	}
}
