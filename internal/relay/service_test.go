package relay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/arcosum/lead-relay/internal/archive"
	"github.com/arcosum/lead-relay/internal/directory"
	"github.com/arcosum/lead-relay/internal/dispatch"
	"github.com/arcosum/lead-relay/internal/scoring"
	"github.com/arcosum/lead-relay/internal/session"
)

type mockScorer struct {
	mu         sync.Mutex
	assessment scoring.Assessment
	err        error
	windows    [][]session.Turn
}

func (m *mockScorer) ScoreLead(ctx context.Context, correspondentID string, window []session.Turn, examples []scoring.Example) (*scoring.Assessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = append(m.windows, window)
	if m.err != nil {
		return nil, m.err
	}
	a := m.assessment
	return &a, nil
}

func (m *mockScorer) lastWindow() []session.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.windows) == 0 {
		return nil
	}
	return m.windows[len(m.windows)-1]
}

type mockSender struct {
	mu    sync.Mutex
	texts []struct{ to, body string }
	err   error
}

func (m *mockSender) SendText(ctx context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.texts = append(m.texts, struct{ to, body string }{to, body})
	return nil
}

func (m *mockSender) SendMedia(ctx context.Context, to string, media session.MediaRef, caption string) error {
	return m.err
}

func (m *mockSender) sentTo(to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.texts {
		if t.to == to {
			n++
		}
	}
	return n
}

type serviceFixture struct {
	service  *Service
	sessions *session.Store
	scorer   *mockScorer
	sender   *mockSender
	archive  *archive.Store
}

func newFixture(t *testing.T, scorer *mockScorer) *serviceFixture {
	t.Helper()

	sessions := session.NewStore(nil)
	sender := &mockSender{}
	store, err := archive.NewStore(filepath.Join(t.TempDir(), "history.json"), 500, nil, nil)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	dispatcher := dispatch.NewDispatcher(sender, nil, time.Second, nil, nil)
	recipients := directory.StaticSource{
		{ID: 1, Name: "Ana", Phone: "+5215551111111", Priority: 9, Active: true},
		{ID: 2, Name: "Luis", Phone: "+5215552222222", Priority: 5, Active: true},
	}

	service, err := NewService(ServiceConfig{
		Sessions:        sessions,
		Scorer:          scorer,
		Dispatcher:      dispatcher,
		Directory:       recipients,
		Archive:         store,
		Replies:         sender,
		NotifyThreshold: 7,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &serviceFixture{
		service:  service,
		sessions: sessions,
		scorer:   scorer,
		sender:   sender,
		archive:  store,
	}
}

func inbound(text string) InboundMessage {
	return InboundMessage{
		Correspondent: "+5215550001111",
		Text:          text,
		ReceivedAt:    time.Now().UTC(),
	}
}

func TestProcessInboundQualifiedLeadNotifies(t *testing.T) {
	scorer := &mockScorer{assessment: scoring.Assessment{
		Score:     9,
		Qualified: true,
		LeadType:  "serious_quote",
		Summary:   "Ready to buy.",
		Reply:     "¡Con gusto! ¿Para cuándo lo necesitas?",
	}}
	f := newFixture(t, scorer)

	result, err := f.service.ProcessInbound(context.Background(), inbound("necesito un techo de 200m2"))
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}

	if !result.Decision.ShouldNotify {
		t.Fatal("score 9 qualified must notify at threshold 7")
	}
	if result.Dispatch == nil || result.Dispatch.TextSuccess != 2 {
		t.Fatalf("expected both recipients notified, got %+v", result.Dispatch)
	}
	if f.sender.sentTo("+5215550001111") != 1 {
		t.Error("customer should receive exactly one reply")
	}
	turns := f.sessions.Turns("+5215550001111")
	if len(turns) != 2 {
		t.Fatalf("expected customer + bot turn recorded, got %d", len(turns))
	}
	if turns[1].Role != session.RoleBot {
		t.Errorf("second turn should be the bot reply, got %s", turns[1].Role)
	}
	if !result.Archived || f.archive.Len() != 1 {
		t.Errorf("conversation should be archived, archived=%v len=%d", result.Archived, f.archive.Len())
	}
}

func TestProcessInboundBelowThresholdNoDispatch(t *testing.T) {
	scorer := &mockScorer{assessment: scoring.Assessment{
		Score:     4,
		Qualified: true,
		Reply:     "Thanks for reaching out!",
	}}
	f := newFixture(t, scorer)

	result, err := f.service.ProcessInbound(context.Background(), inbound("how much is a small repair"))
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}

	if result.Decision.ShouldNotify {
		t.Fatal("score 4 must not notify at threshold 7")
	}
	if result.Dispatch != nil {
		t.Errorf("no dispatch should happen, got %+v", result.Dispatch)
	}
	// The customer still gets the conversational reply.
	if f.sender.sentTo("+5215550001111") != 1 {
		t.Error("reply must be sent regardless of the notification decision")
	}
	if f.sender.sentTo("+5215551111111") != 0 {
		t.Error("recipients must not be contacted")
	}
}

func TestProcessInboundUnqualifiedHighScoreNoDispatch(t *testing.T) {
	scorer := &mockScorer{assessment: scoring.Assessment{Score: 10, Qualified: false}}
	f := newFixture(t, scorer)

	result, err := f.service.ProcessInbound(context.Background(), inbound("just curious about prices"))
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if result.Decision.ShouldNotify {
		t.Error("unqualified lead must never notify, whatever the score")
	}
}

func TestProcessInboundTestingModeZeroesThreshold(t *testing.T) {
	scorer := &mockScorer{assessment: scoring.Assessment{Score: 3, Qualified: true}}
	f := newFixture(t, scorer)
	f.service.testingMode = true

	result, err := f.service.ProcessInbound(context.Background(), inbound("hola"))
	if err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}
	if !result.Decision.ShouldNotify {
		t.Error("testing mode must notify any qualified lead")
	}
	if result.Decision.ThresholdUsed != 0 {
		t.Errorf("testing mode resolves threshold to 0, got %d", result.Decision.ThresholdUsed)
	}
}

func TestProcessInboundScorerFailureFailsClosed(t *testing.T) {
	scorer := &mockScorer{err: errors.New("model unavailable")}
	f := newFixture(t, scorer)

	result, err := f.service.ProcessInbound(context.Background(), inbound("necesito una cotización"))
	if err != nil {
		t.Fatalf("scorer failure must not fail the message: %v", err)
	}

	if result.Decision.ShouldNotify {
		t.Error("scorer failure must fail closed")
	}
	if result.Decision.Reason == "" {
		t.Error("decision should carry a reason")
	}
	// The customer turn survives so the conversation resumes next message.
	if len(f.sessions.Turns("+5215550001111")) != 1 {
		t.Error("customer turn must be recorded despite the scorer failure")
	}
	if f.sender.sentTo("+5215551111111") != 0 {
		t.Error("no recipient may be contacted on a scorer failure")
	}
}

func TestProcessInboundMissingCorrespondent(t *testing.T) {
	f := newFixture(t, &mockScorer{})

	_, err := f.service.ProcessInbound(context.Background(), InboundMessage{Text: "hola"})
	if !errors.Is(err, session.ErrMissingCorrespondent) {
		t.Fatalf("expected ErrMissingCorrespondent, got %v", err)
	}
}

func TestProcessInboundRehydratesFromTranscript(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	transcripts := session.NewTranscriptStore(client)

	// A previous process mirrored two turns before restarting.
	prior := []session.Turn{
		{Role: session.RoleCustomer, Text: "hola, busco un techo", Timestamp: time.Now().Add(-5 * time.Minute)},
		{Role: session.RoleBot, Text: "¿De qué tamaño?", Timestamp: time.Now().Add(-4 * time.Minute)},
	}
	for _, turn := range prior {
		if err := transcripts.Append(context.Background(), "+5215550001111", turn); err != nil {
			t.Fatalf("seed transcript: %v", err)
		}
	}

	scorer := &mockScorer{assessment: scoring.Assessment{Score: 5, Qualified: false}}
	f := newFixture(t, scorer)
	f.service.transcripts = transcripts

	if _, err := f.service.ProcessInbound(context.Background(), inbound("200 metros")); err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}

	window := scorer.lastWindow()
	if len(window) != 3 {
		t.Fatalf("scorer should see the rehydrated context plus the new turn, got %d turns", len(window))
	}
	if window[0].Text != "hola, busco un techo" {
		t.Errorf("rehydrated turns must come first, got %q", window[0].Text)
	}
}

func TestProcessInboundFeedsPromptExamples(t *testing.T) {
	scorer := &mockScorer{assessment: scoring.Assessment{Score: 9, Qualified: true}}
	f := newFixture(t, scorer)

	// First qualified conversation lands in the archive and becomes a few-shot
	// example for the next one.
	if _, err := f.service.ProcessInbound(context.Background(), inbound("quiero comprar ya")); err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}

	msg := inbound("otro cliente")
	msg.Correspondent = "+5215550002222"
	if _, err := f.service.ProcessInbound(context.Background(), msg); err != nil {
		t.Fatalf("ProcessInbound: %v", err)
	}

	examples := f.service.promptExamples()
	if len(examples) == 0 {
		t.Fatal("qualified archive entries should surface as prompt examples")
	}
	if len(examples) > maxPromptExamples {
		t.Errorf("examples must be capped at %d, got %d", maxPromptExamples, len(examples))
	}
}

func TestPromptExamplesPickNewestQualified(t *testing.T) {
	f := newFixture(t, &mockScorer{})

	// Interleave qualified and unqualified entries; only the newest qualified
	// ones should become examples.
	for i := 1; i <= 6; i++ {
		entry := archive.Entry{
			Correspondent: fmt.Sprintf("+52155500%04d", i),
			Turns:         []session.Turn{{Role: session.RoleCustomer, Text: fmt.Sprintf("mensaje %d", i)}},
			Assessment:    scoring.Assessment{Score: i, Qualified: i%2 == 0},
		}
		if err := f.archive.Append(entry); err != nil {
			t.Fatalf("seed archive: %v", err)
		}
	}

	examples := f.service.promptExamples()
	if len(examples) != 3 {
		t.Fatalf("expected the 3 qualified entries, got %d", len(examples))
	}
	// Oldest first among the selected, so the prompt reads chronologically.
	wantScores := []int{2, 4, 6}
	for i, ex := range examples {
		if ex.Score != wantScores[i] {
			t.Errorf("example %d: expected score %d, got %d", i, wantScores[i], ex.Score)
		}
	}
}
