package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	QueueBackendJetStream = "jetstream"
	QueueBackendSQS       = "sqs"
	QueueBackendNSQ       = "nsq"

	LedgerBackendPostgres = "postgres"
	LedgerBackendMemory   = "memory"
)

type Config struct {
	// Messaging
	NATSURL       string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	QueryChannel  string `envconfig:"QUERY_CHANNEL" default:"rag-chat-query"`
	SourceQueue   string `envconfig:"SOURCE_QUEUE" default:"rag-sources-queue"`
	QueueBackend  string `envconfig:"QUEUE_BACKEND" default:"jetstream"`
	QueueConsumer string `envconfig:"QUEUE_CONSUMER" default:"rag-server"`

	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQLookupd string `envconfig:"NSQ_LOOKUPD"`

	SQSRegion   string `envconfig:"SQS_REGION"`
	SQSEndpoint string `envconfig:"SQS_ENDPOINT"`

	// Loops
	PollBatchSize    int           `envconfig:"POLL_BATCH_SIZE" default:"10"`
	PollWait         time.Duration `envconfig:"POLL_WAIT" default:"1s"`
	PollBackoffMax   time.Duration `envconfig:"POLL_BACKOFF_MAX" default:"5s"`
	QueryConcurrency int           `envconfig:"QUERY_CONCURRENCY" default:"1"`
	QueryTimeout     time.Duration `envconfig:"QUERY_TIMEOUT" default:"30s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	// Knowledge graph
	GraphName      string        `envconfig:"GRAPH_NAME" default:"movies"`
	OntologyPath   string        `envconfig:"ONTOLOGY_PATH" default:"ontology.json"`
	GeminiAPIKey   string        `envconfig:"GEMINI_API_KEY"`
	ChatModel      string        `envconfig:"CHAT_MODEL" default:"gemini-1.5-flash"`
	EmbeddingModel string        `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	ChatHistory    int           `envconfig:"CHAT_HISTORY_TURNS" default:"10"`
	ChunkMaxTokens int           `envconfig:"CHUNK_MAX_TOKENS" default:"512"`
	ChunkOverlap   int           `envconfig:"CHUNK_OVERLAP" default:"64"`
	SearchAlpha    float32       `envconfig:"SEARCH_ALPHA" default:"0.5"`
	SearchTopK     int           `envconfig:"SEARCH_TOP_K" default:"8"`
	FetchTimeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"20s"`
	FetchMaxBytes  int64         `envconfig:"FETCH_MAX_BYTES" default:"5242880"` // 5MB

	RerankProvider string `envconfig:"RERANK_PROVIDER"`
	RerankAPIKey   string `envconfig:"RERANK_API_KEY"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// Source ledger
	LedgerBackend string `envconfig:"LEDGER_BACKEND" default:"postgres"`
	DBHost        string `envconfig:"DB_HOST" default:"postgres"`
	DBPort        int    `envconfig:"DB_PORT" default:"5432"`
	DBUser        string `envconfig:"DB_USER" default:"kgrag"`
	DBPass        string `envconfig:"DB_PASS" default:"password"`
	DBName        string `envconfig:"DB_NAME" default:"kgrag"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Ops
	OpsAddr      string `envconfig:"OPS_ADDR" default:":8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.QueryChannel == "" {
		return fmt.Errorf("%w: QUERY_CHANNEL", ErrMissingRequired)
	}
	if c.SourceQueue == "" {
		return fmt.Errorf("%w: SOURCE_QUEUE", ErrMissingRequired)
	}
	if c.OntologyPath == "" {
		return fmt.Errorf("%w: ONTOLOGY_PATH", ErrMissingRequired)
	}

	switch c.QueueBackend {
	case QueueBackendJetStream, QueueBackendNSQ:
	case QueueBackendSQS:
		if c.SQSRegion == "" {
			return fmt.Errorf("%w: SQS_REGION", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: QUEUE_BACKEND=%q", ErrInvalidValue, c.QueueBackend)
	}

	switch c.LedgerBackend {
	case LedgerBackendMemory:
	case LedgerBackendPostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: LEDGER_BACKEND=%q", ErrInvalidValue, c.LedgerBackend)
	}

	if c.PollBatchSize < 1 {
		return fmt.Errorf("%w: POLL_BATCH_SIZE must be positive", ErrInvalidValue)
	}
	if c.QueryConcurrency < 1 {
		return fmt.Errorf("%w: QUERY_CONCURRENCY must be positive", ErrInvalidValue)
	}
	return nil
}
