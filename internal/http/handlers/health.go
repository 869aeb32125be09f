package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/arcosum/lead-relay/internal/archive"
	"github.com/arcosum/lead-relay/internal/relay"
	"github.com/arcosum/lead-relay/internal/session"
)

// HealthHandler reports liveness plus a few cheap gauges.
type HealthHandler struct {
	sessions *session.Store
	archive  *archive.Store
	queue    *relay.Queue
}

// NewHealthHandler creates the health endpoint.
func NewHealthHandler(sessions *session.Store, store *archive.Store, queue *relay.Queue) *HealthHandler {
	return &HealthHandler{sessions: sessions, archive: store, queue: queue}
}

// Check responds 200 with current counters.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
	}
	if h.sessions != nil {
		body["sessions"] = h.sessions.Len()
	}
	if h.archive != nil {
		body["archived_conversations"] = h.archive.Len()
	}
	if h.queue != nil {
		body["queued_messages"] = h.queue.Len()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
