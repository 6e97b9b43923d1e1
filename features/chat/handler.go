// Package chat exposes the shared answering conversation to operators.
package chat

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Session is the conversation the query loop answers with.
type Session interface {
	HistoryLen() int
	Reset()
}

type Handler struct {
	session Session
}

func NewHandler(session Session) *Handler {
	return &Handler{session: session}
}

// GetHistory reports how many turns the conversation currently holds.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{"data": map[string]int{"turns": h.session.HistoryLen()}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// ResetHistory starts the conversation over.
func (h *Handler) ResetHistory(w http.ResponseWriter, r *http.Request) {
	dropped := h.session.HistoryLen()
	h.session.Reset()
	slog.InfoContext(r.Context(), "chat history reset", "dropped_turns", dropped)
	w.WriteHeader(http.StatusNoContent)
}
