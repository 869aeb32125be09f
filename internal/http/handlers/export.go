package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/arcosum/lead-relay/internal/archive"
	"github.com/arcosum/lead-relay/pkg/logging"
)

// ExportHandler streams archived conversations, optionally filtered, as a JSON
// array. Its main consumer is the training-data pipeline that mines qualified
// transcripts.
type ExportHandler struct {
	archive *archive.Store
	logger  *logging.Logger
}

// NewExportHandler creates the export endpoint.
func NewExportHandler(store *archive.Store, logger *logging.Logger) *ExportHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ExportHandler{archive: store, logger: logger}
}

// Export handles GET /export. Query parameters: qualified=true restricts to
// qualified leads, min_score=N restricts to entries at or above N.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		http.Error(w, "archive not configured", http.StatusServiceUnavailable)
		return
	}

	pred, err := buildPredicate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	w.Write([]byte("["))
	first := true
	count := 0
	for entry := range h.archive.Export(pred) {
		if !first {
			w.Write([]byte(","))
		}
		first = false
		if err := enc.Encode(entry); err != nil {
			h.logger.Error("export encoding failed", "error", err)
			return
		}
		count++
	}
	w.Write([]byte("]"))

	h.logger.Info("archive exported", "entries", count,
		"qualified_only", r.URL.Query().Get("qualified") == "true",
	)
}

func buildPredicate(r *http.Request) (func(archive.Entry) bool, error) {
	var preds []func(archive.Entry) bool

	if r.URL.Query().Get("qualified") == "true" {
		preds = append(preds, archive.Qualified)
	}
	if raw := r.URL.Query().Get("min_score"); raw != "" {
		min, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.New("min_score must be an integer")
		}
		preds = append(preds, archive.MinScore(min))
	}

	if len(preds) == 0 {
		return nil, nil
	}
	return func(e archive.Entry) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}, nil
}
