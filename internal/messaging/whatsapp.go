// Package messaging talks to the WhatsApp Business Cloud API: the inbound
// channel's outbound half. It exposes the two send primitives the relay
// needs, per-recipient and independent, with no batching assumed.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/arcosum/lead-relay/internal/session"
	"github.com/arcosum/lead-relay/pkg/logging"
)

var sendTracer = otel.Tracer("leadrelay.internal.messaging.whatsapp")

const defaultAPIBaseURL = "https://graph.facebook.com/v21.0"

// WhatsAppClient sends messages through the WhatsApp Business Cloud API.
type WhatsAppClient struct {
	accessToken   string
	phoneNumberID string
	baseURL       string
	httpClient    *http.Client
	logger        *logging.Logger
}

// WhatsAppConfig holds credentials for the Cloud API.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	BaseURL       string
}

// NewWhatsAppClient builds a client for the Cloud API messages endpoint.
func NewWhatsAppClient(cfg WhatsAppConfig, logger *logging.Logger) *WhatsAppClient {
	if logger == nil {
		logger = logging.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	return &WhatsAppClient{
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		baseURL:       baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// SendText sends a plain text message to one recipient.
func (c *WhatsAppClient) SendText(ctx context.Context, to, body string) error {
	if to == "" {
		return errors.New("messaging: to required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("messaging: body required")
	}

	ctx, span := sendTracer.Start(ctx, "messaging.whatsapp.send_text")
	defer span.End()
	span.SetAttributes(attribute.String("leadrelay.to", to))

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        body,
		},
	}
	if err := c.post(ctx, payload); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Info("whatsapp text sent", "to", to)
	return nil
}

// SendMedia forwards a media reference to one recipient. The Cloud API lets a
// received media id be re-sent directly, so nothing is re-uploaded; when only
// a URL is known the reference is relayed as a text message instead.
func (c *WhatsAppClient) SendMedia(ctx context.Context, to string, media session.MediaRef, caption string) error {
	if to == "" {
		return errors.New("messaging: to required")
	}
	if media.ID == "" && media.URL == "" {
		return errors.New("messaging: media reference required")
	}

	ctx, span := sendTracer.Start(ctx, "messaging.whatsapp.send_media")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadrelay.to", to),
		attribute.String("leadrelay.media_type", media.Type),
	)

	if media.ID == "" {
		body := fmt.Sprintf("Customer attachment (%s): %s", media.Type, media.URL)
		if caption != "" {
			body = caption + "\n" + body
		}
		return c.SendText(ctx, to, body)
	}

	mediaType := normalizeMediaType(media.Type)
	object := map[string]any{"id": media.ID}
	if caption != "" && mediaType != "audio" {
		object["caption"] = caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              mediaType,
		mediaType:           object,
	}
	if err := c.post(ctx, payload); err != nil {
		span.RecordError(err)
		return err
	}
	c.logger.Info("whatsapp media forwarded", "to", to, "media_type", mediaType, "media_id", media.ID)
	return nil
}

func (c *WhatsAppClient) post(ctx context.Context, payload map[string]any) error {
	if c.accessToken == "" || c.phoneNumberID == "" {
		return errors.New("messaging: whatsapp credentials missing")
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: marshal whatsapp payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("messaging: build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messaging: whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("messaging: whatsapp api status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}

// Media type groups the Cloud API accepts for re-sending by id. Anything
// unrecognized is forwarded as a document.
func normalizeMediaType(t string) string {
	switch {
	case strings.Contains(t, "image"):
		return "image"
	case strings.Contains(t, "video"):
		return "video"
	case strings.Contains(t, "audio"):
		return "audio"
	case strings.Contains(t, "sticker"):
		return "sticker"
	default:
		return "document"
	}
}
