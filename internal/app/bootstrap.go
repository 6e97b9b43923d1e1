package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/generative-ai-go/genai"
	_ "github.com/lib/pq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"kgrag/internal/adapter/gemini"
	natsadapter "kgrag/internal/adapter/nats"
	nsqadapter "kgrag/internal/adapter/nsq"
	"kgrag/internal/adapter/reranker"
	sqsadapter "kgrag/internal/adapter/sqs"
	wstore "kgrag/internal/adapter/weaviate"
	"kgrag/internal/config"
	"kgrag/internal/ledger"
	"kgrag/internal/messaging"
	"kgrag/internal/ontology"
	"kgrag/internal/retrieval"
)

// VectorStore is what bootstrap needs from the store before serving.
type VectorStore interface {
	EnsureSchema(ctx context.Context) error
}

// Dependencies are the external clients the server runs on. Every non-nil
// closer is released by the coordinator at shutdown.
type Dependencies struct {
	Query    messaging.QueryClient
	Queue    messaging.QueueClient
	DB       *sql.DB
	Ledger   ledger.Repository
	Store    *wstore.Store
	Gemini   *genai.Client
	Reranker retrieval.Reranker
	Ontology *ontology.Ontology
	QueryLog *retrieval.QueryLogger

	queryLogFile io.Closer
}

type namedResource struct {
	name   string
	closer io.Closer
}

// resources lists what must be released, messaging clients first.
func (d *Dependencies) resources() []namedResource {
	var out []namedResource
	if d.Query != nil {
		out = append(out, namedResource{"query-client", d.Query})
	}
	if d.Queue != nil {
		out = append(out, namedResource{"queue-client", d.Queue})
	}
	return append(out, d.storage()...)
}

// storage lists the non-messaging resources.
func (d *Dependencies) storage() []namedResource {
	var out []namedResource
	if d.DB != nil {
		out = append(out, namedResource{"database", d.DB})
	}
	if d.Gemini != nil {
		out = append(out, namedResource{"gemini", d.Gemini})
	}
	if d.queryLogFile != nil {
		out = append(out, namedResource{"query-log", d.queryLogFile})
	}
	return out
}

func (d *Dependencies) close(logger *slog.Logger) {
	for _, r := range d.resources() {
		if err := r.closer.Close(); err != nil {
			logger.Warn("failed to close client", "client", r.name, "error", err)
		}
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	if err := bootstrap(ctx, cfg, logger, deps); err != nil {
		deps.close(logger)
		return nil, err
	}
	return deps, nil
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps *Dependencies) error {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	// A missing or invalid ontology is fatal.
	o, err := ontology.Load(cfg.OntologyPath)
	if err != nil {
		return fmt.Errorf("ontology error: %w", err)
	}
	deps.Ontology = o

	// Source ledger
	switch cfg.LedgerBackend {
	case config.LedgerBackendMemory:
		deps.Ledger = ledger.NewMemoryRepo()
	default:
		db, err := OpenDatabase(ctx, cfg, logger)
		if err != nil {
			return err
		}
		deps.DB = db
		deps.Ledger = ledger.NewPostgresRepo(db)
	}

	// Weaviate
	wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		return fmt.Errorf("weaviate client error: %w", err)
	}
	deps.Store = wstore.NewStore(wClient)
	if err := EnsureSchemaWithRetry(ctx, deps.Store, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return fmt.Errorf("weaviate schema error: %w", err)
	}

	// Gemini
	deps.Gemini, err = gemini.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("gemini client error: %w", err)
	}

	if rr := reranker.NewClient(cfg.RerankProvider, cfg.RerankAPIKey); rr.Enabled() {
		deps.Reranker = rr
	}

	if cfg.QueryLogPath != "" {
		ql, f, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			logger.Warn("failed to create query logger, falling back to stdout", "error", err)
			ql = retrieval.NewQueryLogger(os.Stdout)
		}
		deps.QueryLog = ql
		deps.queryLogFile = f
	}

	// Messaging last, so nothing is consumed before the pipeline exists.
	deps.Query, deps.Queue, err = ConnectMessaging(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return nil
}

// OpenDatabase connects to Postgres, waiting for it to come up, and applies
// pending migrations.
func OpenDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	attempt := 0
	err = retry(ctx, cfg.BootstrapRetryAttempts, retryDelay, func() error {
		attempt++
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("failed to ping db, retrying...", "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	return db, nil
}

// ConnectMessaging opens the query client and the queue client selected by
// QUEUE_BACKEND. Each client owns its own connection.
func ConnectMessaging(ctx context.Context, cfg *config.Config, logger *slog.Logger) (messaging.QueryClient, messaging.QueueClient, error) {
	query, err := ConnectQuery(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	queue, err := ConnectQueue(ctx, cfg, logger)
	if err != nil {
		_ = query.Close()
		return nil, nil, err
	}
	return query, queue, nil
}

// ConnectQuery dials NATS for the request/reply channel only.
func ConnectQuery(cfg *config.Config, logger *slog.Logger) (messaging.QueryClient, error) {
	conn, err := natsadapter.Dial(cfg.NATSURL,
		natsadapter.WithName("kgrag-query"),
		natsadapter.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return natsadapter.NewQueryClient(conn), nil
}

// ConnectQueue opens the work queue of QUEUE_BACKEND.
func ConnectQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (messaging.QueueClient, error) {
	var (
		queue messaging.QueueClient
		err   error
	)
	switch cfg.QueueBackend {
	case config.QueueBackendSQS:
		queue, err = sqsadapter.NewFromRegion(ctx, cfg.SQSRegion, cfg.SQSEndpoint)
	case config.QueueBackendNSQ:
		queue, err = nsqadapter.New(cfg.NSQDHost, cfg.QueueConsumer,
			nsqadapter.WithLookupd(cfg.NSQLookupd),
			nsqadapter.WithBuffer(cfg.PollBatchSize),
			nsqadapter.WithLogger(logger),
		)
	default:
		var conn *natsadapter.Conn
		conn, err = natsadapter.Dial(cfg.NATSURL,
			natsadapter.WithName("kgrag-queue"),
			natsadapter.WithLogger(logger),
		)
		if err != nil {
			break
		}
		queue, err = natsadapter.NewQueue(ctx, conn, config.SourceStream, cfg.QueueConsumer, cfg.SourceQueue)
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s queue: %w", cfg.QueueBackend, err)
	}
	return queue, nil
}

// EnsureSchemaWithRetry delegates schema check to a helper with retry logic.
func EnsureSchemaWithRetry(ctx context.Context, store VectorStore, attempts int, delay time.Duration) error {
	return retry(ctx, attempts, delay, func() error {
		return store.EnsureSchema(ctx)
	})
}

// retry runs op up to attempts times with a constant delay between tries.
func retry(ctx context.Context, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts-1)),
		ctx,
	)
	return backoff.Retry(op, b)
}
