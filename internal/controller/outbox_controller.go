package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type OutboxController struct {
	notifier Notifier
}

func NewOutboxController(notifier Notifier) *OutboxController {
	return &OutboxController{notifier: notifier}
}

// List handles GET /api/v1/outbox
func (h *OutboxController) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.notifier.ListOutbox(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	resp := OutboxListResponse{Count: len(entries), Entries: make([]OutboxEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, fromOutboxEntry(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Flush handles POST /api/v1/outbox/flush
func (h *OutboxController) Flush(w http.ResponseWriter, r *http.Request) {
	summary, err := h.notifier.FlushOutbox(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Discard handles DELETE /api/v1/outbox/{id}
func (h *OutboxController) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.DiscardOutboxEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
