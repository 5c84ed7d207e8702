package server

import (
	"context"
	"testing"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/config"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineConfig() *config.Config {
	return &config.Config{
		LogLevel:           "error",
		WorkerAddr:         "localhost:0",
		EmbeddingBatchSize: 8,
		EmbeddingTimeout:   time.Second,
		UseLLMExtraction:   false,
		UseLocalOnlyLLM:    true,
		OllamaHost:         "http://localhost:11434",
		OllamaModel:        "llama3",
		DefaultTimeout:     time.Second,
		TupleDelimiter:     "<|>",
		RecordDelimiter:    "##",
		GraphBackend:       config.BackendSQLite,
		SQLitePath:         ":memory:",
		LinkThreshold:      0.3,
		TopK:               3,
		IngestWorkers:      2,
		StoreRetries:       1,
		LedgerPath:         ":memory:",
		HTTPAddr:           "127.0.0.1:0",
	}
}

func TestBuildOffline(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, offlineConfig())
	require.NoError(t, err)

	assert.NotNil(t, app.Graph())
	assert.NotNil(t, app.Engine())
	assert.NotNil(t, app.Answerer())
	assert.NotNil(t, app.Ledger())
	assert.NotNil(t, app.Pipeline(false))

	require.NoError(t, app.Close(ctx))
	// Second close is a no-op.
	require.NoError(t, app.Close(ctx))
}

func TestBuildRouterOpenAI(t *testing.T) {
	cfg := offlineConfig()
	cfg.UseLocalOnlyLLM = false
	cfg.CloudProvider = config.ProviderOpenAI
	cfg.OpenAIAPIKey = "test-key"
	cfg.OpenAIModel = "gpt-4o-mini"

	a := &App{cfg: cfg}
	router, err := a.buildRouter(context.Background())
	require.NoError(t, err)

	client := router.RouteLLMTask(repository.TaskEntityExtraction)
	require.NotNil(t, client)
	assert.IsType(t, &llm.OpenAIClient{}, client)
}

func TestBuildRouterUnknownProvider(t *testing.T) {
	cfg := offlineConfig()
	cfg.UseLocalOnlyLLM = false
	cfg.CloudProvider = "bedrock"

	a := &App{cfg: cfg}
	_, err := a.buildRouter(context.Background())
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx := context.Background()
	app, err := Build(ctx, offlineConfig())
	require.NoError(t, err)
	defer func() { _ = app.Close(ctx) }()

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- app.Serve(serveCtx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
