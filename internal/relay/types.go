package relay

import (
	"time"

	"github.com/arcosum/lead-relay/internal/session"
)

// InboundMessage is one customer message handed off by the webhook layer.
type InboundMessage struct {
	Correspondent string             `json:"correspondent"`
	Name          string             `json:"name,omitempty"`
	MessageID     string             `json:"message_id,omitempty"`
	Text          string             `json:"text"`
	Media         []session.MediaRef `json:"media,omitempty"`
	ReceivedAt    time.Time          `json:"received_at"`
}
