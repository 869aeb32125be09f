// Package dispatch fans a qualified-lead notification out to the recipient
// directory. Every per-recipient, per-channel attempt is independent:
// failures are collected, never escalated, and the whole fan-out is summarized
// in one audit record. Delivery is best-effort with no idempotency key, so
// callers invoke Dispatch at most once per qualifying assessment.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/arcosum/lead-relay/internal/decision"
	"github.com/arcosum/lead-relay/internal/directory"
	"github.com/arcosum/lead-relay/internal/notify"
	"github.com/arcosum/lead-relay/internal/observability/metrics"
	"github.com/arcosum/lead-relay/internal/scoring"
	"github.com/arcosum/lead-relay/internal/session"
	"github.com/arcosum/lead-relay/pkg/logging"
)

// Delivery channels attempted per recipient.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// TextSender is the outbound chat transport: per-recipient sends, transient
// failures surface as errors, retries belong to the transport itself.
type TextSender interface {
	SendText(ctx context.Context, to, body string) error
	SendMedia(ctx context.Context, to string, media session.MediaRef, caption string) error
}

// Notification carries everything the recipients need to act on a lead.
type Notification struct {
	Correspondent string
	Assessment    scoring.Assessment
	Decision      decision.Decision
	Excerpt       []session.Turn
	Media         []session.MediaRef
	OccurredAt    time.Time
}

// Outcome records one delivery attempt for one (recipient, channel) pair.
type Outcome struct {
	RecipientID   int64  `json:"recipient_id"`
	RecipientName string `json:"recipient_name"`
	Channel       string `json:"channel"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

// Summary aggregates a whole fan-out for audit and for the caller.
type Summary struct {
	Decision      decision.Decision `json:"decision"`
	Correspondent string            `json:"correspondent"`
	TextSuccess   int               `json:"text_success"`
	TextFailure   int               `json:"text_failure"`
	EmailSuccess  int               `json:"email_success"`
	EmailFailure  int               `json:"email_failure"`
	Outcomes      []Outcome         `json:"outcomes"`
}

// Failed reports whether any attempt in the fan-out failed.
func (s Summary) Failed() bool {
	return s.TextFailure > 0 || s.EmailFailure > 0
}

// Dispatcher fans notifications out to recipients over the configured
// channels.
type Dispatcher struct {
	texts       TextSender
	email       notify.EmailSender
	sendTimeout time.Duration
	logger      *logging.Logger
	metrics     *metrics.RelayMetrics
}

// NewDispatcher creates a dispatcher. Either sender may be nil; the matching
// channel is then skipped for every recipient.
func NewDispatcher(texts TextSender, email notify.EmailSender, sendTimeout time.Duration, logger *logging.Logger, m *metrics.RelayMetrics) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	return &Dispatcher{
		texts:       texts,
		email:       email,
		sendTimeout: sendTimeout,
		logger:      logger,
		metrics:     m,
	}
}

// Dispatch notifies every active recipient, highest priority first. Callers
// must have already checked decision.ShouldNotify; the dispatcher does not
// re-derive the decision. Recipient sends run concurrently; the summary is
// produced only after every attempt has finished or timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification, recipients []directory.Recipient) Summary {
	targets := activeByPriority(recipients)

	summary := Summary{
		Decision:      n.Decision,
		Correspondent: n.Correspondent,
	}
	if len(targets) == 0 {
		d.logger.Warn("dispatch: no active recipients configured", "correspondent", n.Correspondent)
		return summary
	}

	textBody := d.buildTextSummary(n)
	emailMsg := d.buildEmail(n)

	results := make([][]Outcome, len(targets))
	var wg sync.WaitGroup
	for i, recipient := range targets {
		wg.Add(1)
		go func(i int, r directory.Recipient) {
			defer wg.Done()
			results[i] = d.notifyRecipient(ctx, r, textBody, emailMsg, n.Media)
		}(i, recipient)
	}
	wg.Wait()

	for _, outcomes := range results {
		for _, o := range outcomes {
			summary.Outcomes = append(summary.Outcomes, o)
			switch {
			case o.Channel == ChannelWhatsApp && o.Success:
				summary.TextSuccess++
			case o.Channel == ChannelWhatsApp:
				summary.TextFailure++
			case o.Channel == ChannelEmail && o.Success:
				summary.EmailSuccess++
			default:
				summary.EmailFailure++
			}
		}
	}

	d.logger.Info("lead notification dispatched",
		"correspondent", n.Correspondent,
		"score", n.Decision.Score,
		"threshold", n.Decision.ThresholdUsed,
		"testing_mode", n.Decision.TestingMode,
		"recipients", len(targets),
		"text_success", summary.TextSuccess,
		"text_failure", summary.TextFailure,
		"email_success", summary.EmailSuccess,
		"email_failure", summary.EmailFailure,
	)
	return summary
}

// notifyRecipient attempts each channel the recipient has an address for.
// A failure on one channel does not stop the other.
func (d *Dispatcher) notifyRecipient(ctx context.Context, r directory.Recipient, textBody string, emailMsg notify.EmailMessage, media []session.MediaRef) []Outcome {
	var outcomes []Outcome

	if r.Phone != "" && d.texts != nil {
		outcomes = append(outcomes, d.sendWhatsApp(ctx, r, textBody, media)...)
	}
	if r.Email != "" && d.email != nil {
		outcomes = append(outcomes, d.sendEmail(ctx, r, emailMsg))
	}
	return outcomes
}

// sendWhatsApp attempts the summary text and then one forward per media
// reference. Every attempt is its own outcome, so the summary counts reflect
// failed forwards as well as failed texts. Media is only forwarded once the
// summary itself went through.
func (d *Dispatcher) sendWhatsApp(ctx context.Context, r directory.Recipient, body string, media []session.MediaRef) []Outcome {
	text := Outcome{RecipientID: r.ID, RecipientName: r.Name, Channel: ChannelWhatsApp}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if err := d.texts.SendText(sendCtx, r.Phone, body); err != nil {
		d.logger.Error("dispatch: whatsapp send failed", "error", err, "to", r.Phone, "recipient", r.Name)
		d.metrics.ObserveNotification(ChannelWhatsApp, "failure")
		text.Error = err.Error()
		return []Outcome{text}
	}
	d.metrics.ObserveNotification(ChannelWhatsApp, "success")
	text.Success = true

	outcomes := []Outcome{text}
	for _, ref := range media {
		forward := Outcome{RecipientID: r.ID, RecipientName: r.Name, Channel: ChannelWhatsApp}
		mediaCtx, mediaCancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.texts.SendMedia(mediaCtx, r.Phone, ref, "Customer attachment")
		mediaCancel()
		if err != nil {
			d.logger.Error("dispatch: media forward failed", "error", err, "to", r.Phone, "media_id", ref.ID)
			d.metrics.ObserveNotification(ChannelWhatsApp, "failure")
			forward.Error = err.Error()
		} else {
			d.metrics.ObserveNotification(ChannelWhatsApp, "success")
			forward.Success = true
		}
		outcomes = append(outcomes, forward)
	}
	return outcomes
}

func (d *Dispatcher) sendEmail(ctx context.Context, r directory.Recipient, msg notify.EmailMessage) Outcome {
	outcome := Outcome{RecipientID: r.ID, RecipientName: r.Name, Channel: ChannelEmail}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	msg.To = r.Email
	msg.ToName = r.Name
	if err := d.email.Send(sendCtx, msg); err != nil {
		d.logger.Error("dispatch: email send failed", "error", err, "to", r.Email, "recipient", r.Name)
		d.metrics.ObserveNotification(ChannelEmail, "failure")
		outcome.Error = err.Error()
		return outcome
	}

	d.metrics.ObserveNotification(ChannelEmail, "success")
	outcome.Success = true
	return outcome
}

func (d *Dispatcher) buildTextSummary(n Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 Qualified lead: %s\n", n.Correspondent)
	fmt.Fprintf(&b, "Score: %d/10", n.Decision.Score)
	if n.Assessment.LeadType != "" {
		fmt.Fprintf(&b, " · %s", n.Assessment.LeadType)
	}
	b.WriteString("\n")
	if n.Assessment.Summary != "" {
		fmt.Fprintf(&b, "%s\n", n.Assessment.Summary)
	}
	if len(n.Media) > 0 {
		fmt.Fprintf(&b, "Attachments: %d (forwarded below)\n", len(n.Media))
	}
	if len(n.Excerpt) > 0 {
		b.WriteString("\nRecent messages:")
		for _, turn := range n.Excerpt {
			label := "Customer"
			if turn.Role == session.RoleBot {
				label = "Bot"
			}
			fmt.Fprintf(&b, "\n[%s] %s", label, truncate(turn.Text, 80))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nContact: %s", n.Correspondent)
	return b.String()
}

func (d *Dispatcher) buildEmail(n Notification) notify.EmailMessage {
	subject := fmt.Sprintf("🔔 New Qualified Lead - Score: %d/10", n.Decision.Score)
	body := d.buildTextSummary(n)
	if n.Assessment.Rationale != "" {
		body += fmt.Sprintf("\n\nScoring rationale: %s", n.Assessment.Rationale)
	}
	body += fmt.Sprintf("\n\nThreshold used: %d (testing mode: %v)", n.Decision.ThresholdUsed, n.Decision.TestingMode)
	return notify.EmailMessage{
		Subject: subject,
		Body:    body,
	}
}

// activeByPriority filters out inactive recipients and orders the rest by
// descending priority. The sort is stable so equal priorities keep their
// configured order.
func activeByPriority(recipients []directory.Recipient) []directory.Recipient {
	targets := make([]directory.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if r.Active {
			targets = append(targets, r)
		}
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Priority > targets[j].Priority
	})
	return targets
}

// truncate caps a string at maxLen runes. Cutting on a rune boundary keeps
// accented text and emoji valid when summaries are shortened.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
