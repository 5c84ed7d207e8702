package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cxrgraph/cxrgraph-api/internal/database"
	dbmodels "github.com/cxrgraph/cxrgraph-api/internal/database/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/models"
	"github.com/cxrgraph/cxrgraph-api/internal/domain/repository"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/resilience"
	"github.com/cxrgraph/cxrgraph-api/internal/logging"
	"golang.org/x/sync/errgroup"
)

var pipelineLog = logging.Component("Ingest")

// ImageEmbedder produces the feature vector of one image file.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
}

// Options tune a pipeline run.
type Options struct {
	Workers      int
	StoreRetries int
	StoreBackoff time.Duration
	// Reset clears the whole graph before ingesting.
	Reset bool
}

// Failure is one isolated per-item failure. ImagePath is empty for
// document-level failures.
type Failure struct {
	DocID     string
	ImagePath string
	Stage     dbmodels.IngestStage
	Fatal     bool
	Err       error
}

func (f Failure) String() string {
	where := f.DocID
	if f.ImagePath != "" {
		where += " " + f.ImagePath
	}
	return fmt.Sprintf("%s [%s]: %v", where, f.Stage, f.Err)
}

// Report summarizes a pipeline run. The run always completes; failures are
// listed rather than returned.
type Report struct {
	RunID         string
	Documents     int
	Succeeded     int
	Failed        int
	Entities      int
	Relationships int
	Images        int
	Links         int
	Fallbacks     int
	Failures      []Failure
}

// Pipeline drives ingestion: extraction, graph upserts, image registration
// and cross-modal linking for every report.
type Pipeline struct {
	store    repository.GraphRepository
	policy   *FallbackPolicy
	images   ImageEmbedder
	linker   *Linker
	ledger   database.LedgerRepository
	opts     Options
	mu       sync.Mutex
	report   *Report
	runRow   *dbmodels.IngestRun
	fallback string
}

// NewPipeline wires a pipeline. images and ledger may be nil.
func NewPipeline(store repository.GraphRepository, policy *FallbackPolicy, images ImageEmbedder, linker *Linker, ledger database.LedgerRepository, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.StoreRetries <= 0 {
		opts.StoreRetries = 1
	}
	p := &Pipeline{
		store:  store,
		policy: policy,
		images: images,
		linker: linker,
		ledger: ledger,
		opts:   opts,
	}
	if policy != nil && policy.Fallback != nil {
		p.fallback = policy.Fallback.Name()
	}
	return p
}

// DocumentID returns the id of the n-th report, counting from zero.
func DocumentID(n int) string {
	return fmt.Sprintf("doc_%d", n+1)
}

// Run ingests reports, attaching the images listed in mapping under each
// document id. It returns an error only when the graph reset fails or ctx
// is cancelled. Run must not be called concurrently on one Pipeline.
func (p *Pipeline) Run(ctx context.Context, reports []string, mapping map[string][]string) (*Report, error) {
	p.mu.Lock()
	p.report = &Report{Documents: len(reports)}
	p.mu.Unlock()

	p.startRun(ctx, len(reports))

	if p.opts.Reset {
		if err := p.retry(ctx, func(ctx context.Context) error { return p.store.ClearAll(ctx) }); err != nil {
			p.finishRun(ctx, err)
			return p.report, fmt.Errorf("reset graph: %w", err)
		}
		pipelineLog.Info("graph cleared")
	}

	g := new(errgroup.Group)
	g.SetLimit(p.opts.Workers)
	for i, text := range reports {
		docID := DocumentID(i)
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			p.processDocument(ctx, docID, text, mapping[docID])
			return nil
		})
	}
	_ = g.Wait()

	p.finishRun(ctx, ctx.Err())
	pipelineLog.Info("ingestion finished",
		"documents", p.report.Documents,
		"succeeded", p.report.Succeeded,
		"failed", p.report.Failed,
		"images", p.report.Images,
		"links", p.report.Links,
	)
	if err := ctx.Err(); err != nil {
		return p.report, err
	}
	return p.report, nil
}

type docOutcome struct {
	item     dbmodels.IngestItem
	failures []Failure
}

func (o *docOutcome) fail(stage dbmodels.IngestStage, imagePath string, fatal bool, err error) {
	o.failures = append(o.failures, Failure{
		DocID:     o.item.DocID,
		ImagePath: imagePath,
		Stage:     stage,
		Fatal:     fatal,
		Err:       err,
	})
}

func (p *Pipeline) processDocument(ctx context.Context, docID, text string, imagePaths []string) {
	out := &docOutcome{item: dbmodels.IngestItem{DocID: docID, Stage: dbmodels.StageExtraction}}
	defer p.record(ctx, out)

	ext, strategy, err := p.extract(ctx, text)
	out.item.Strategy = strategy
	if err != nil {
		out.fail(dbmodels.StageExtraction, "", true, err)
		return
	}
	out.item.Entities = len(ext.Entities)
	out.item.Relationships = len(ext.Relationships)

	out.item.Stage = dbmodels.StageGraph
	if err := p.writeSubgraph(ctx, docID, text, ext, out); err != nil {
		out.fail(dbmodels.StageGraph, "", true, err)
		return
	}

	out.item.Stage = dbmodels.StageImages
	if len(imagePaths) > 0 {
		p.attachImages(ctx, docID, ext.Entities, imagePaths, out)
	}
	out.item.Stage = dbmodels.StageDone
}

func (p *Pipeline) extract(ctx context.Context, text string) (models.Extraction, string, error) {
	if p.policy == nil {
		return models.Extraction{}, "", fmt.Errorf("no extraction policy: %w", repository.ErrExtractionUnavailable)
	}
	return p.policy.Extract(ctx, text)
}

// writeSubgraph upserts nodes before any edge that references them.
func (p *Pipeline) writeSubgraph(ctx context.Context, docID, text string, ext models.Extraction, out *docOutcome) error {
	if err := p.retry(ctx, func(ctx context.Context) error {
		return p.store.UpsertDocument(ctx, docID, text)
	}); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}

	for _, e := range ext.Entities {
		if err := p.retry(ctx, func(ctx context.Context) error {
			_, err := p.store.UpsertEntity(ctx, e.Name, e.Type, e.Description)
			return err
		}); err != nil {
			return fmt.Errorf("upsert entity %q: %w", e.Name, err)
		}
	}

	for _, e := range ext.Entities {
		if err := p.retry(ctx, func(ctx context.Context) error {
			return p.store.LinkDocumentMentionsEntity(ctx, docID, e.Name, e.Type)
		}); err != nil {
			return fmt.Errorf("link mention %q: %w", e.Name, err)
		}
	}

	for _, r := range ext.Relationships {
		err := p.retry(ctx, func(ctx context.Context) error {
			return p.store.LinkEntityRelatedTo(ctx, r.Source, r.Target, r.Description, r.Strength)
		})
		if errors.Is(err, repository.ErrNotFound) {
			// The model named an entity it did not extract.
			out.fail(dbmodels.StageGraph, "", false, fmt.Errorf("relationship %q -> %q: %w", r.Source, r.Target, err))
			continue
		}
		if err != nil {
			return fmt.Errorf("link relationship %q -> %q: %w", r.Source, r.Target, err)
		}
	}
	return nil
}

func (p *Pipeline) attachImages(ctx context.Context, docID string, entities []models.Entity, paths []string, out *docOutcome) {
	if p.images == nil {
		return
	}

	var textVecs [][]float32
	if p.linker != nil {
		textVecs = p.linker.EmbedEntities(ctx, entities)
	}

	for _, path := range paths {
		vec, err := p.images.EmbedImage(ctx, path)
		if err != nil {
			out.fail(dbmodels.StageImages, path, false, err)
			continue
		}

		if err := p.retry(ctx, func(ctx context.Context) error {
			return p.store.UpsertImage(ctx, path, vec, docID)
		}); err != nil {
			out.fail(dbmodels.StageImages, path, false, fmt.Errorf("upsert image: %w", err))
			continue
		}
		if err := p.retry(ctx, func(ctx context.Context) error {
			return p.store.LinkDocumentHasImage(ctx, docID, path)
		}); err != nil {
			out.fail(dbmodels.StageImages, path, false, fmt.Errorf("link image: %w", err))
			continue
		}
		out.item.Images++

		if p.linker == nil {
			continue
		}
		var linked int
		err = p.retry(ctx, func(ctx context.Context) error {
			var linkErr error
			linked, linkErr = p.linker.LinkImage(ctx, entities, textVecs, path, vec)
			return linkErr
		})
		out.item.Links += linked
		if err != nil {
			out.fail(dbmodels.StageImages, path, false, fmt.Errorf("link entities: %w", err))
		}
	}
}

func (p *Pipeline) retry(ctx context.Context, fn func(context.Context) error) error {
	return resilience.RetryIf(ctx, p.opts.StoreRetries, p.opts.StoreBackoff, isUnavailable, fn)
}

func isUnavailable(err error) bool {
	return errors.Is(err, repository.ErrUnavailable)
}

// record folds one document outcome into the report and the ledger.
func (p *Pipeline) record(ctx context.Context, out *docOutcome) {
	fatal := false
	var logs []string
	for _, f := range out.failures {
		fatal = fatal || f.Fatal
		logs = append(logs, f.String())
		pipelineLog.Warn("ingest failure", "doc", f.DocID, "image", f.ImagePath, "stage", f.Stage, "fatal", f.Fatal, "err", f.Err)
	}

	switch {
	case fatal:
		out.item.Status = dbmodels.RunStatusFailed
	case len(out.failures) > 0:
		out.item.Status = dbmodels.RunStatusPartial
	default:
		out.item.Status = dbmodels.RunStatusCompleted
	}
	out.item.ErrorLog = strings.Join(logs, "\n")

	p.mu.Lock()
	r := p.report
	if fatal {
		r.Failed++
	} else {
		r.Succeeded++
	}
	r.Entities += out.item.Entities
	r.Relationships += out.item.Relationships
	r.Images += out.item.Images
	r.Links += out.item.Links
	if p.fallback != "" && out.item.Strategy == p.fallback {
		r.Fallbacks++
	}
	r.Failures = append(r.Failures, out.failures...)
	runRow := p.runRow
	p.mu.Unlock()

	if p.ledger == nil || runRow == nil {
		return
	}
	out.item.RunID = runRow.ID
	if err := p.ledger.RecordItem(context.WithoutCancel(ctx), &out.item); err != nil {
		pipelineLog.Error("failed to record ingest item", "doc", out.item.DocID, "err", err)
	}
}

func (p *Pipeline) startRun(ctx context.Context, documents int) {
	if p.ledger == nil {
		return
	}
	run := &dbmodels.IngestRun{
		Status:    dbmodels.RunStatusProcessing,
		Reset:     p.opts.Reset,
		Documents: documents,
	}
	if err := p.ledger.CreateRun(ctx, run); err != nil {
		pipelineLog.Error("failed to create ingest run", "err", err)
		return
	}
	p.mu.Lock()
	p.runRow = run
	p.report.RunID = run.ID
	p.mu.Unlock()
}

func (p *Pipeline) finishRun(ctx context.Context, runErr error) {
	p.mu.Lock()
	run := p.runRow
	r := p.report
	p.mu.Unlock()
	if p.ledger == nil || run == nil {
		return
	}

	run.Succeeded = r.Succeeded
	run.Failed = r.Failed
	run.Images = r.Images
	run.Links = r.Links
	switch {
	case runErr != nil:
		run.Status = dbmodels.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	case r.Failed > 0 && r.Succeeded == 0:
		run.Status = dbmodels.RunStatusFailed
	case len(r.Failures) > 0:
		run.Status = dbmodels.RunStatusPartial
	default:
		run.Status = dbmodels.RunStatusCompleted
	}
	if err := p.ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		pipelineLog.Error("failed to finish ingest run", "run", run.ID, "err", err)
	}
}
