package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"kgrag/features/chat"
	"kgrag/features/source"
	"kgrag/features/stats"
	"kgrag/internal/adapter/gemini"
	"kgrag/internal/config"
	"kgrag/internal/fetch"
	"kgrag/internal/knowledge"
	"kgrag/internal/messaging"
	"kgrag/internal/metrics"
	"kgrag/internal/middleware"
	"kgrag/internal/retrieval"
	"kgrag/internal/worker"
)

type App struct {
	Handler     http.Handler
	Coordinator *Coordinator
	Metrics     *metrics.Metrics

	mux     *http.ServeMux
	opsAddr string
	logger  *slog.Logger
}

// New builds the knowledge graph service on top of deps and wires it into
// the server loops.
func New(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*App, error) {
	embedder := gemini.NewEmbedder(deps.Gemini, cfg.EmbeddingModel)

	searcher := retrieval.NewService(embedder, deps.Store, deps.Reranker, retrieval.Options{
		Graph: cfg.GraphName,
		Alpha: cfg.SearchAlpha,
		Limit: cfg.SearchTopK,
	}, deps.QueryLog)

	session := gemini.NewChatSession(deps.Gemini, cfg.ChatModel, knowledge.SystemPrompt(deps.Ontology), cfg.ChatHistory)

	kg := knowledge.NewService(knowledge.Deps{
		Ontology:  deps.Ontology,
		Searcher:  searcher,
		Chat:      session,
		Completer: gemini.NewCompleter(deps.Gemini, cfg.ChatModel),
		Embedder:  embedder,
		Fetcher:   fetch.New(cfg.FetchTimeout, fetch.WithMaxBytes(cfg.FetchMaxBytes)),
		Store:     deps.Store,
		Ledger:    deps.Ledger,
		Logger:    logger,
	}, knowledge.Options{
		Graph:          cfg.GraphName,
		ChunkMaxTokens: cfg.ChunkMaxTokens,
		ChunkOverlap:   cfg.ChunkOverlap,
		QueryTimeout:   cfg.QueryTimeout,
	})

	var opts []CoordinatorOption
	for _, r := range deps.storage() {
		opts = append(opts, WithCloser(r.name, r.closer))
	}
	a := Wire(cfg, deps.Query, deps.Queue, kg, kg, logger, opts...)

	sources := source.NewHandler(source.NewService(deps.Ledger, deps.Queue, cfg.GraphName, cfg.SourceQueue))
	a.Handle("GET /sources", http.HandlerFunc(sources.List))
	a.Handle("POST /sources", http.HandlerFunc(sources.Create))
	a.Handle("GET /sources/one", http.HandlerFunc(sources.Get))
	a.Handle("POST /sources/resync", http.HandlerFunc(sources.ReSync))
	a.Handle("GET /stats", http.HandlerFunc(stats.NewHandler(deps.Ledger, cfg.GraphName).GetStats))

	history := chat.NewHandler(session)
	a.Handle("GET /chat/history", http.HandlerFunc(history.GetHistory))
	a.Handle("DELETE /chat/history", http.HandlerFunc(history.ResetHistory))
	return a, nil
}

// Wire assembles both loops, their coordinator and the ops handler around the
// given capabilities. The coordinator closes query and queue on shutdown.
func Wire(cfg *config.Config, query messaging.QueryClient, queue messaging.QueueClient, answerer worker.Answerer, ingester worker.Ingester, logger *slog.Logger, opts ...CoordinatorOption) *App {
	m := metrics.New()
	signal := worker.NewShutdownSignal()

	responder := worker.NewQueryResponder(query, answerer, cfg.QueryChannel, signal,
		worker.WithConcurrency(cfg.QueryConcurrency),
		worker.WithResponderMetrics(m),
		worker.WithResponderLogger(logger),
	)
	ingestor := worker.NewSourceIngestor(queue, ingester, cfg.SourceQueue, signal,
		worker.WithBatchSize(cfg.PollBatchSize),
		worker.WithPollWait(cfg.PollWait),
		worker.WithBackoff(worker.PollBackoff(cfg.PollBackoffMax)),
		worker.WithIngestorMetrics(m),
		worker.WithIngestorLogger(logger),
	)

	opts = append([]CoordinatorOption{
		WithJoinTimeout(cfg.ShutdownTimeout),
		WithCloser("query-client", query),
		WithCloser("queue-client", queue),
		WithCoordinatorLogger(logger),
	}, opts...)
	coord := NewCoordinator(signal, responder, ingestor, opts...)

	a := &App{
		Coordinator: coord,
		Metrics:     m,
		opsAddr:     cfg.OpsAddr,
		logger:      logger,
	}

	a.mux = http.NewServeMux()
	a.Handler = a.mux
	a.Handle("GET /health", http.HandlerFunc(a.health))
	a.Handle("GET /metrics", m.Handler())
	return a
}

// Handle mounts h on the ops server.
func (a *App) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, middleware.CorrelationID(h))
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	state := a.Coordinator.State()
	status, code := "ok", http.StatusOK
	if state != StateRunning {
		status, code = "unavailable", http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": status, "state": state.String()}); err != nil {
		a.logger.WarnContext(r.Context(), "failed to write health response", "error", err)
	}
}

// Run serves the ops endpoints and runs the loops until ctx is done.
func (a *App) Run(ctx context.Context) error {
	var srv *http.Server
	if a.opsAddr != "" {
		srv = &http.Server{
			Addr:              a.opsAddr,
			Handler:           a.Handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("ops server starting", "addr", a.opsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("ops server failed", "error", err)
			}
		}()
	}

	err := a.Coordinator.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown failed", "error", err)
		}
	}
	return err
}
