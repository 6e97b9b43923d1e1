// Package stats reports ingest totals for one graph.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"kgrag/internal/ledger"
	"kgrag/internal/middleware"
)

type SourceLister interface {
	List(ctx context.Context, graph string) ([]ledger.Source, error)
}

type Handler struct {
	sources SourceLister
	graph   string
}

func NewHandler(sources SourceLister, graph string) *Handler {
	return &Handler{sources: sources, graph: graph}
}

type StatsResponse struct {
	Graph      string `json:"graph"`
	Sources    int    `json:"sources"`
	Processing int    `json:"processing"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Chunks     int    `json:"chunks"`
	Triples    int    `json:"triples"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	sources, err := h.sources.List(ctx, h.graph)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list sources", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list sources", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{Graph: h.graph, Sources: len(sources)}
	for _, s := range sources {
		switch s.Status {
		case ledger.StatusProcessing:
			resp.Processing++
		case ledger.StatusCompleted:
			resp.Completed++
		case ledger.StatusFailed:
			resp.Failed++
		}
		resp.Chunks += s.Chunks
		resp.Triples += s.Triples
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
