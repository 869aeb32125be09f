// Package handlers holds the HTTP surface: the WhatsApp webhook, health, and
// the archive export endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arcosum/lead-relay/internal/observability/metrics"
	"github.com/arcosum/lead-relay/internal/relay"
	"github.com/arcosum/lead-relay/internal/session"
	"github.com/arcosum/lead-relay/pkg/logging"
)

// Enqueuer accepts inbound messages for asynchronous processing.
type Enqueuer interface {
	Enqueue(msg relay.InboundMessage) error
}

// WebhookHandler terminates the WhatsApp Business Cloud webhook. It validates,
// extracts, enqueues, and acknowledges; all processing happens off the request
// path.
type WebhookHandler struct {
	verifyToken string
	queue       Enqueuer
	logger      *logging.Logger
	metrics     *metrics.RelayMetrics
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(verifyToken string, queue Enqueuer, logger *logging.Logger, m *metrics.RelayMetrics) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		queue:       queue,
		logger:      logger,
		metrics:     m,
	}
}

// Verify answers the platform's subscription handshake: echo hub.challenge
// when the verify token matches, 403 otherwise.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.verifyToken {
		h.logger.Info("webhook verification succeeded")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(challenge))
		return
	}

	h.logger.Warn("webhook verification rejected", "mode", mode)
	http.Error(w, "verification failed", http.StatusForbidden)
}

// webhookPayload mirrors the WhatsApp Business Cloud webhook envelope, down to
// the fields this service reads.
type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []webhookMessage `json:"messages"`
	Statuses []json.RawMessage `json:"statuses"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image       *webhookMedia `json:"image"`
	Video       *webhookMedia `json:"video"`
	Audio       *webhookMedia `json:"audio"`
	Document    *webhookMedia `json:"document"`
	Sticker     *webhookMedia `json:"sticker"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

// Receive ingests webhook deliveries. The platform retries on anything but
// 200, so malformed payloads and queue overflows are logged and acknowledged
// rather than bounced.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("webhook payload decode failed", "error", err)
		h.metrics.ObserveInbound("malformed")
		w.WriteHeader(http.StatusOK)
		return
	}

	if payload.Object != "whatsapp_business_account" {
		h.logger.Debug("ignoring webhook for unknown object", "object", payload.Object)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			name := contactName(change.Value)
			for _, msg := range change.Value.Messages {
				h.ingest(msg, name)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) ingest(msg webhookMessage, name string) {
	inbound, ok := extractInbound(msg)
	if !ok {
		h.logger.Debug("skipping unsupported message type", "type", msg.Type, "message_id", msg.ID)
		return
	}
	inbound.Name = name

	if err := h.queue.Enqueue(inbound); err != nil {
		if errors.Is(err, relay.ErrQueueFull) {
			h.metrics.ObserveInbound("queue_full")
		}
		h.logger.Error("inbound enqueue failed", "error", err, "correspondent", inbound.Correspondent)
		return
	}
	h.metrics.ObserveInbound("accepted")
}

// extractInbound maps one platform message onto the relay's inbound shape.
// Delivery statuses never reach here; unsupported types report ok=false.
func extractInbound(msg webhookMessage) (relay.InboundMessage, bool) {
	inbound := relay.InboundMessage{
		Correspondent: msg.From,
		MessageID:     msg.ID,
		ReceivedAt:    parseWebhookTimestamp(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return inbound, false
		}
		inbound.Text = msg.Text.Body
	case "image", "video", "audio", "document", "sticker":
		media := msg.mediaRef()
		if media == nil {
			return inbound, false
		}
		inbound.Text = media.Caption
		inbound.Media = []session.MediaRef{{
			ID:      media.ID,
			Type:    media.MimeType,
			Caption: media.Caption,
		}}
	case "interactive":
		if msg.Interactive == nil {
			return inbound, false
		}
		switch {
		case msg.Interactive.ButtonReply != nil:
			inbound.Text = msg.Interactive.ButtonReply.Title
		case msg.Interactive.ListReply != nil:
			inbound.Text = msg.Interactive.ListReply.Title
		default:
			return inbound, false
		}
	default:
		return inbound, false
	}

	if strings.TrimSpace(inbound.Text) == "" && len(inbound.Media) == 0 {
		return inbound, false
	}
	return inbound, true
}

func (m webhookMessage) mediaRef() *webhookMedia {
	switch m.Type {
	case "image":
		return m.Image
	case "video":
		return m.Video
	case "audio":
		return m.Audio
	case "document":
		return m.Document
	case "sticker":
		return m.Sticker
	}
	return nil
}

func contactName(v webhookValue) string {
	if len(v.Contacts) == 0 {
		return ""
	}
	return v.Contacts[0].Profile.Name
}

// parseWebhookTimestamp decodes the platform's unix-seconds string; the
// current time stands in when it is absent or unreadable.
func parseWebhookTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
