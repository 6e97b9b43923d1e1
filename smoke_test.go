package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgrag/internal/app"
	"kgrag/internal/messaging"
	"kgrag/internal/testutils"
)

func TestSmoke_Startup(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping smoke test in short mode")
	}

	// 1. Start Infrastructure
	suite := testutils.NewIntegrationSuite(t)
	suite.Setup()
	defer suite.Teardown()

	// 2. Configure App to use Infrastructure
	cfg := suite.GetAppConfig()
	_, b, _, _ := runtime.Caller(0)
	basepath := filepath.Dir(b)
	cfg.MigrationPath = fmt.Sprintf("file://%s/migrations", basepath)
	cfg.OntologyPath = filepath.Join(basepath, "ontology.json")
	cfg.GeminiAPIKey = "invalid-test-key"
	cfg.OpsAddr = "127.0.0.1:18081"
	cfg.QueryConcurrency = 1
	cfg.QueryTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.PollBatchSize = 10
	cfg.PollWait = 200 * time.Millisecond
	cfg.PollBackoffMax = time.Second

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 3. Run App in Background
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger) }()

	// 4. Wait for Health Check
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.OpsAddr + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 30*time.Second, 500*time.Millisecond)

	// 5. Every query gets exactly one response, here a failure from the LLM.
	query, err := app.ConnectQuery(cfg, logger)
	require.NoError(t, err)
	defer query.Close()

	_, err = query.Request(context.Background(), cfg.QueryChannel, []byte("Who directed The Matrix?"), 30*time.Second)
	var remote *messaging.RemoteError
	assert.True(t, errors.As(err, &remote), "expected a failure response, got %v", err)

	// 6. Graceful shutdown
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}
