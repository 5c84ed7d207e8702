// Package server wires configuration into the ingestion pipeline, the
// retrieval engine and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/config"
	"github.com/cxrgraph/cxrgraph-api/internal/database/bunstore"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/graphstore"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/embedding"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/llm"
	httpserver "github.com/cxrgraph/cxrgraph-api/internal/interface/http"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"github.com/cxrgraph/cxrgraph-api/internal/usecase/ingest"
	"github.com/cxrgraph/cxrgraph-api/internal/usecase/query"
)

var logger = logging.Component("System")

// App holds the wired dependencies of one process.
type App struct {
	cfg      *config.Config
	graph    repository.GraphRepository
	worker   *embedding.WorkerClient
	ledger   *bunstore.BunStore
	router   *llm.Router
	engine   *query.Engine
	answerer *query.Answerer
	closers  []func() error
}

// Build connects every backend named by cfg. On error the backends opened
// so far are closed.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.build(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	logger.Info("connecting to embedding worker", "addr", cfg.WorkerAddr)
	worker, err := embedding.NewWorkerClient(cfg.WorkerAddr, cfg.EmbeddingTimeout)
	if err != nil {
		return fmt.Errorf("embedding worker: %w", err)
	}
	a.worker = worker
	a.closers = append(a.closers, worker.Close)

	router, err := a.buildRouter(ctx)
	if err != nil {
		return err
	}
	a.router = router

	graph, err := graphstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	a.graph = graph

	ledger, err := bunstore.Open(ctx, cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("ingest ledger: %w", err)
	}
	a.ledger = ledger
	a.closers = append(a.closers, ledger.Close)

	a.engine = query.NewEngine(graph, query.EngineOptions{
		RelatedLimit: cfg.RelatedLimit,
		TextLimit:    cfg.ContextTextLimit,
	})
	a.answerer = query.NewAnswerer(worker, a.engine, router, cfg.TopK)
	return nil
}

// buildRouter picks the local model and, unless local-only, the cloud
// provider. OpenAI serves extraction and answering with separate system
// prompts.
func (a *App) buildRouter(ctx context.Context) (*llm.Router, error) {
	cfg := a.cfg
	local := llm.NewLocalOllamaClient(cfg.OllamaHost, cfg.OllamaModel, cfg.DefaultTimeout)

	if cfg.UseLocalOnlyLLM {
		logger.Info("local-only LLM mode", "local", local.Name())
		return llm.NewRouter(local, nil), nil
	}

	switch cfg.CloudProvider {
	case config.ProviderOpenAI:
		extractor, err := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		router := llm.NewRouter(local, extractor).
			Assign(repository.TaskEntityExtraction, extractor).
			Assign(repository.TaskAnswerGeneration, extractor.WithSystemPrompt(llm.AnswerSystemPrompt))
		logger.Info("LLM router initialized", "cloud", extractor.Name(), "local", local.Name())
		return router, nil
	case config.ProviderGemini:
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		a.closers = append(a.closers, gemini.Close)
		logger.Info("LLM router initialized", "cloud", gemini.Name(), "local", local.Name())
		return llm.NewRouter(local, gemini), nil
	default:
		return nil, fmt.Errorf("unknown cloud provider %q", cfg.CloudProvider)
	}
}

// Pipeline returns an ingestion pipeline. reset clears the graph before
// the run.
func (a *App) Pipeline(reset bool) *ingest.Pipeline {
	cfg := a.cfg
	parser := &ingest.Parser{
		TupleDelimiter:      cfg.TupleDelimiter,
		RecordDelimiter:     cfg.RecordDelimiter,
		CompletionDelimiter: cfg.CompletionDelimiter,
	}

	policy := &ingest.FallbackPolicy{Fallback: ingest.NewLexiconExtractor()}
	if cfg.UseLLMExtraction {
		policy.Primary = ingest.NewLLMExtractor(a.router, parser, cfg.EntityTypes)
	}

	texts := embedding.NewBatcher(a.worker, cfg.EmbeddingBatchSize, cfg.IngestWorkers)
	linker := ingest.NewLinker(texts, a.graph, cfg.LinkThreshold)

	return ingest.NewPipeline(a.graph, policy, a.worker, linker, a.ledger, ingest.Options{
		Workers:      cfg.IngestWorkers,
		StoreRetries: cfg.StoreRetries,
		StoreBackoff: cfg.StoreBackoff,
		Reset:        reset,
	})
}

func (a *App) Graph() repository.GraphRepository { return a.graph }
func (a *App) Engine() *query.Engine             { return a.engine }
func (a *App) Answerer() *query.Answerer         { return a.answerer }
func (a *App) Ledger() *bunstore.BunStore        { return a.ledger }

// Serve runs the HTTP API until ctx is cancelled, then drains connections.
func (a *App) Serve(ctx context.Context) error {
	api := httpserver.NewServer(a.answerer, a.engine, a.ledger)
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.RegisterRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting REST API server", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.graph != nil {
		errs = append(errs, a.graph.Close(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	a.graph = nil
	return errors.Join(errs...)
}
