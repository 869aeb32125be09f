// Package relay wires the inbound pipeline together: session memory, the
// scorer, the notification decision, recipient fan-out, and the archive.
// One ProcessInbound call handles one customer message end to end.
package relay

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/arcosum/lead-relay/internal/archive"
	"github.com/arcosum/lead-relay/internal/decision"
	"github.com/arcosum/lead-relay/internal/directory"
	"github.com/arcosum/lead-relay/internal/dispatch"
	"github.com/arcosum/lead-relay/internal/observability/metrics"
	"github.com/arcosum/lead-relay/internal/scoring"
	"github.com/arcosum/lead-relay/internal/session"
	"github.com/arcosum/lead-relay/pkg/logging"
)

const maxPromptExamples = 3

// Scorer produces an assessment for a windowed conversation context.
type Scorer interface {
	ScoreLead(ctx context.Context, correspondentID string, window []session.Turn, examples []scoring.Example) (*scoring.Assessment, error)
}

// Result is what one processed message produced, mostly for tests and
// structured logging. The customer-facing side effects have already happened
// by the time it is returned.
type Result struct {
	Assessment scoring.Assessment
	Decision   decision.Decision
	Dispatch   *dispatch.Summary
	Archived   bool
}

// Service is the relay pipeline. All collaborators except the session store
// are optional: a nil scorer fails closed, a nil dispatcher or directory skips
// fan-out, a nil archive skips archiving.
type Service struct {
	sessions    *session.Store
	transcripts *session.TranscriptStore
	scorer      Scorer
	dispatcher  *dispatch.Dispatcher
	directory   directory.Source
	archive     *archive.Store
	replies     dispatch.TextSender

	threshold     int
	testingMode   bool
	scorerTimeout time.Duration

	logger  *logging.Logger
	metrics *metrics.RelayMetrics
}

// ServiceConfig collects the relay's collaborators and decision settings.
type ServiceConfig struct {
	Sessions    *session.Store
	Transcripts *session.TranscriptStore
	Scorer      Scorer
	Dispatcher  *dispatch.Dispatcher
	Directory   directory.Source
	Archive     *archive.Store
	Replies     dispatch.TextSender

	NotifyThreshold int
	TestingMode     bool
	ScorerTimeout   time.Duration

	Logger  *logging.Logger
	Metrics *metrics.RelayMetrics
}

// NewService creates the relay pipeline.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("relay: session store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ScorerTimeout <= 0 {
		cfg.ScorerTimeout = 30 * time.Second
	}
	return &Service{
		sessions:      cfg.Sessions,
		transcripts:   cfg.Transcripts,
		scorer:        cfg.Scorer,
		dispatcher:    cfg.Dispatcher,
		directory:     cfg.Directory,
		archive:       cfg.Archive,
		replies:       cfg.Replies,
		threshold:     cfg.NotifyThreshold,
		testingMode:   cfg.TestingMode,
		scorerTimeout: cfg.ScorerTimeout,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}, nil
}

// ProcessInbound runs one customer message through the full pipeline:
// record, window, score, reply, decide, fan out, archive.
//
// Scorer failures fail closed: the customer turn stays recorded, no
// notification goes out, and the conversation continues on the next message.
// Archive failures are logged and counted but never fail the message.
func (s *Service) ProcessInbound(ctx context.Context, msg InboundMessage) (*Result, error) {
	if strings.TrimSpace(msg.Correspondent) == "" {
		s.metrics.ObserveInbound("rejected")
		return nil, session.ErrMissingCorrespondent
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	s.rehydrate(ctx, msg.Correspondent)

	customerTurn := session.Turn{
		Role:      session.RoleCustomer,
		Text:      msg.Text,
		Media:     msg.Media,
		Timestamp: msg.ReceivedAt,
	}
	if err := s.sessions.RecordTurn(msg.Correspondent, customerTurn); err != nil {
		s.metrics.ObserveInbound("rejected")
		return nil, err
	}
	s.mirror(ctx, msg.Correspondent, customerTurn)

	// Reclassify idle sessions before reading the window, so a correspondent
	// who went silent shrinks the context even between timer sweeps.
	s.sessions.SweepInactive()
	window := s.sessions.ContextWindow(msg.Correspondent)

	result := &Result{}

	assessment, err := s.score(ctx, msg.Correspondent, window)
	if err != nil {
		s.logger.Error("relay: scoring failed, continuing without notification",
			"error", err,
			"correspondent", msg.Correspondent,
		)
		s.metrics.ObserveInbound("scorer_error")
		result.Decision = decision.Decision{
			ThresholdUsed: s.resolvedThreshold(),
			TestingMode:   s.testingMode,
			Reason:        "scoring unavailable",
		}
		s.archiveConversation(msg, result)
		return result, nil
	}
	result.Assessment = *assessment

	s.reply(ctx, msg.Correspondent, assessment.Reply)

	result.Decision = decision.Decide(assessment.Score, assessment.Qualified, s.threshold, s.testingMode)
	if result.Decision.ShouldNotify {
		summary := s.notify(ctx, msg, result)
		result.Dispatch = &summary
	} else {
		s.logger.Info("lead below notification bar",
			"correspondent", msg.Correspondent,
			"score", result.Decision.Score,
			"threshold", result.Decision.ThresholdUsed,
			"reason", result.Decision.Reason,
		)
	}

	s.archiveConversation(msg, result)
	s.metrics.ObserveInbound("ok")
	return result, nil
}

// rehydrate seeds an empty in-memory session from the transcript mirror.
func (s *Service) rehydrate(ctx context.Context, correspondentID string) {
	if s.transcripts == nil {
		return
	}
	if len(s.sessions.Turns(correspondentID)) > 0 {
		return
	}
	turns, err := s.transcripts.List(ctx, correspondentID, 0)
	if err != nil {
		s.logger.Warn("relay: transcript rehydration failed", "error", err, "correspondent", correspondentID)
		return
	}
	if len(turns) == 0 {
		return
	}
	if err := s.sessions.Restore(correspondentID, turns); err != nil {
		s.logger.Warn("relay: session restore failed", "error", err, "correspondent", correspondentID)
		return
	}
	s.logger.Info("session rehydrated from transcript mirror",
		"correspondent", correspondentID,
		"turns", len(turns),
	)
}

func (s *Service) mirror(ctx context.Context, correspondentID string, turn session.Turn) {
	if s.transcripts == nil {
		return
	}
	if err := s.transcripts.Append(ctx, correspondentID, turn); err != nil {
		s.logger.Warn("relay: transcript mirror append failed", "error", err, "correspondent", correspondentID)
	}
}

func (s *Service) score(ctx context.Context, correspondentID string, window []session.Turn) (*scoring.Assessment, error) {
	if s.scorer == nil {
		return nil, fmt.Errorf("relay: no scorer configured")
	}

	scoreCtx, cancel := context.WithTimeout(ctx, s.scorerTimeout)
	defer cancel()

	start := time.Now()
	assessment, err := s.scorer.ScoreLead(scoreCtx, correspondentID, window, s.promptExamples())
	s.metrics.ObserveScorerLatency(time.Since(start).Seconds())
	return assessment, err
}

// promptExamples pulls the newest qualified conversations from the archive as
// few-shot references for the scorer. The scan walks newest-first and stops at
// the cap, so only the transcripts actually handed to the scorer get
// formatted.
func (s *Service) promptExamples() []scoring.Example {
	if s.archive == nil {
		return nil
	}
	entries := s.archive.Recent(0)
	examples := make([]scoring.Example, 0, maxPromptExamples)
	for i := len(entries) - 1; i >= 0 && len(examples) < maxPromptExamples; i-- {
		entry := entries[i]
		if !entry.Assessment.Qualified {
			continue
		}
		examples = append(examples, scoring.Example{
			LeadType:   entry.Assessment.LeadType,
			Score:      entry.Assessment.Score,
			Transcript: scoring.FormatTranscript(entry.Turns),
		})
	}
	slices.Reverse(examples)
	return examples
}

// reply sends the scorer's conversational response back to the customer and
// records it as a bot turn. A send failure leaves the turn unrecorded.
func (s *Service) reply(ctx context.Context, correspondentID, text string) {
	if s.replies == nil || strings.TrimSpace(text) == "" {
		return
	}
	if err := s.replies.SendText(ctx, correspondentID, text); err != nil {
		s.logger.Error("relay: customer reply failed", "error", err, "correspondent", correspondentID)
		return
	}
	botTurn := session.Turn{
		Role:      session.RoleBot,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	if err := s.sessions.RecordTurn(correspondentID, botTurn); err != nil {
		s.logger.Warn("relay: bot turn record failed", "error", err, "correspondent", correspondentID)
		return
	}
	s.mirror(ctx, correspondentID, botTurn)
}

func (s *Service) notify(ctx context.Context, msg InboundMessage, result *Result) dispatch.Summary {
	if s.dispatcher == nil || s.directory == nil {
		s.logger.Warn("relay: notification decided but no dispatcher configured",
			"correspondent", msg.Correspondent,
			"score", result.Decision.Score,
		)
		return dispatch.Summary{Decision: result.Decision, Correspondent: msg.Correspondent}
	}

	notification := dispatch.Notification{
		Correspondent: msg.Correspondent,
		Assessment:    result.Assessment,
		Decision:      result.Decision,
		Excerpt:       s.sessions.ContextWindow(msg.Correspondent),
		Media:         msg.Media,
		OccurredAt:    msg.ReceivedAt,
	}
	return s.dispatcher.Dispatch(ctx, notification, s.directory.Recipients())
}

func (s *Service) archiveConversation(msg InboundMessage, result *Result) {
	if s.archive == nil {
		return
	}
	turns := s.sessions.Turns(msg.Correspondent)
	entry := archive.Entry{
		Correspondent: msg.Correspondent,
		Turns:         turns,
		Assessment:    result.Assessment,
		Decision:      result.Decision,
		Media:         collectMedia(turns),
		ArchivedAt:    time.Now().UTC(),
	}
	if err := s.archive.Append(entry); err != nil {
		s.logger.Error("relay: archive append failed", "error", err, "correspondent", msg.Correspondent)
		return
	}
	result.Archived = true
}

func collectMedia(turns []session.Turn) []session.MediaRef {
	var refs []session.MediaRef
	for _, turn := range turns {
		refs = append(refs, turn.Media...)
	}
	return refs
}

func (s *Service) resolvedThreshold() int {
	if s.testingMode {
		return 0
	}
	return s.threshold
}

// RunSweeper reclassifies idle sessions on a fixed interval until the context
// is cancelled. Run it in its own goroutine.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sessions.SweepInactive()
		}
	}
}
