// Package testutils starts the backing services integration tests run against.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"kgrag/internal/config"
)

type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NATSURL  string

	weaviateHost string

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	natsContainer     testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// Setup starts every service.
func (s *IntegrationSuite) Setup() {
	s.SetupPostgres()
	s.SetupWeaviate()
	s.SetupNATS()
}

// SetupPostgres starts Postgres and applies the repository migrations.
func (s *IntegrationSuite) SetupPostgres() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("kgrag_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	migrationPath := fmt.Sprintf("file://%s/../../migrations", basepath)

	m, err := migrate.New(migrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) SetupWeaviate() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.33.6",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	host, err := weaviateC.Host(ctx)
	require.NoError(s.T, err)
	port, err := weaviateC.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.weaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{
		Host:   s.weaviateHost,
		Scheme: "http",
	})
	require.NoError(s.T, err)
}

// SetupNATS starts a JetStream-enabled NATS server.
func (s *IntegrationSuite) SetupNATS() {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.10-alpine",
		ExposedPorts: []string{"4222/tcp"},
		Cmd:          []string{"-js"},
		WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(60 * time.Second),
	}
	natsC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.natsContainer = natsC

	host, err := natsC.Host(ctx)
	require.NoError(s.T, err)
	port, err := natsC.MappedPort(ctx, "4222")
	require.NoError(s.T, err)
	s.NATSURL = fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Fail fast if the server is not reachable yet.
	nc, err := nats.Connect(s.NATSURL, nats.Timeout(5*time.Second))
	require.NoError(s.T, err)
	nc.Close()
}

// GetAppConfig points a server configuration at every started service.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()
	cfg := &config.Config{
		QueryChannel:               config.DefaultQueryChannel,
		SourceQueue:                config.DefaultSourceQueue,
		QueueBackend:               config.QueueBackendJetStream,
		QueueConsumer:              "rag-server-test",
		LedgerBackend:              config.LedgerBackendMemory,
		WeaviateHost:               s.weaviateHost,
		WeaviateScheme:             "http",
		NATSURL:                    s.NATSURL,
		GraphName:                  "movies",
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}

	if s.pgContainer != nil {
		host, err := s.pgContainer.Host(ctx)
		require.NoError(s.T, err)
		port, err := s.pgContainer.MappedPort(ctx, "5432")
		require.NoError(s.T, err)

		cfg.LedgerBackend = config.LedgerBackendPostgres
		cfg.DBHost = host
		cfg.DBPort = port.Int()
		cfg.DBUser = "test"
		cfg.DBPass = "test"
		cfg.DBName = "kgrag_test"
	}
	return cfg
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.DB != nil {
		_ = s.DB.Close()
	}
	for _, c := range []testcontainers.Container{s.weaviateContainer, s.natsContainer} {
		if c != nil {
			_ = c.Terminate(ctx)
		}
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(ctx)
	}
}
