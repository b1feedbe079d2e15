package pipeline

import (
	"context"
	"errors"
	"log/slog"
)

// Result is everything a document run produced.
type Result struct {
	Document Document
	Quality  QualityMetrics
	Route    Route
	// PagesPerBatch is the batch size actually used, after AutoBatchSize.
	PagesPerBatch int
	Plan          []Batch
	Outcomes      []BatchOutcome
	Merged        MergedResult
}

// Pipeline wires evaluator, planner, executor and merger for one configuration. A Pipeline
// is safe for concurrent runs; all runs share its RateLimiter.
type Pipeline struct {
	extractor BatchExtractor
	limiter   *RateLimiter
	evaluator *QualityEvaluator
	merger    *Merger
	cfg       Config
	progress  ProgressFunc
	logger    *slog.Logger
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithProgressFunc registers a progress callback for every run.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New validates cfg and builds a Pipeline. When limiter is nil one is built from
// cfg.RateLimit; pass a shared limiter to bound calls across pipelines.
func New(extractor BatchExtractor, limiter *RateLimiter, cfg Config, opts ...Option) (*Pipeline, error) {
	if extractor == nil {
		return nil, configError("extractor must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	evaluator, err := NewQualityEvaluator(cfg.Quality)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		extractor: extractor,
		evaluator: evaluator,
		merger:    NewMerger(MarkersFor(cfg.MarkerLanguage)),
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if limiter == nil {
		limiter, err = NewRateLimiter(cfg.RateLimit, WithLimiterLogger(p.logger))
		if err != nil {
			return nil, err
		}
	}
	p.limiter = limiter
	if cfg.Normalize {
		p.extractor = normalizingExtractor{next: extractor}
	}
	return p, nil
}

// Evaluate scores locally extracted text with the configured thresholds.
func (p *Pipeline) Evaluate(localText string, pageCount int) QualityMetrics {
	return p.evaluator.Evaluate(localText, pageCount)
}

// Plan returns the batch plan for doc and the batch size used.
func (p *Pipeline) Plan(doc Document) ([]Batch, int, error) {
	size := p.cfg.PagesPerBatch
	if p.cfg.AutoBatchSize {
		size = RecommendBatchSize(doc)
	}
	batches, err := Plan(doc, p.cfg.planConfig(size))
	return batches, size, err
}

// Run routes doc by the quality of localText. Acceptable local text completes the run
// without remote calls; otherwise the document is planned, executed and merged.
//
// Batch failures are reported in Result.Merged. The error is non-nil for configuration
// errors (no Result), and for a *FatalError or ErrRunCanceled, in which case the partial
// Result is still returned. An abort does not change Merged.Status: batches that succeeded
// before it keep the run PARTIALLY_COMPLETED.
func (p *Pipeline) Run(ctx context.Context, doc Document, localText string) (*Result, error) {
	logCtx := p.logger.With("documentId", doc.ID, "pageCount", doc.PageCount)

	res := &Result{Document: doc, Quality: p.evaluator.Evaluate(localText, doc.PageCount)}
	res.Route = res.Quality.Route()
	logCtx.Info("Local text evaluated.",
		"route", res.Route,
		"reason", res.Quality.Reason,
		"textDensity", res.Quality.TextDensity,
		"garbageRatio", res.Quality.GarbageRatio,
		"scriptRatio", res.Quality.ScriptRatio,
	)

	if res.Route == RouteLocal {
		text := localText
		if p.cfg.Normalize {
			text = NormalizeText(text)
		}
		res.Merged = MergedResult{Text: text, Status: StatusCompleted}
		return res, nil
	}

	batches, size, err := p.Plan(doc)
	if err != nil {
		return nil, err
	}
	res.PagesPerBatch = size
	res.Plan = batches
	logCtx.Info("Document planned.", "batches", len(batches), "pagesPerBatch", size, "overlapPages", p.cfg.OverlapPages)

	return p.execute(ctx, logCtx, res, batches, nil)
}

// RunText processes a plain-text document in token-bounded chunks. There is no local
// extraction to evaluate, so the route is always remote.
func (p *Pipeline) RunText(ctx context.Context, doc Document, text string) (*Result, error) {
	logCtx := p.logger.With("documentId", doc.ID)
	batches, err := PlanText(text, p.cfg.MaxChunkTokens)
	if err != nil {
		return nil, err
	}
	res := &Result{Document: doc, Route: RouteRemoteOCR, Plan: batches, PagesPerBatch: 1}
	logCtx.Info("Text document chunked.", "batches", len(batches), "maxTokens", p.cfg.MaxChunkTokens)
	return p.execute(ctx, logCtx, res, batches, nil)
}

// RetryFailed replans doc and re-executes only the batches whose prior outcome failed or
// is missing. Prior successes are merged unchanged.
func (p *Pipeline) RetryFailed(ctx context.Context, doc Document, prior []BatchOutcome) (*Result, error) {
	batches, size, err := p.Plan(doc)
	if err != nil {
		return nil, err
	}
	return p.RetryBatches(ctx, doc, batches, size, prior)
}

// RetryBatches is RetryFailed over an explicit plan, as produced by Plan or PlanText.
func (p *Pipeline) RetryBatches(ctx context.Context, doc Document, plan []Batch, pagesPerBatch int, prior []BatchOutcome) (*Result, error) {
	logCtx := p.logger.With("documentId", doc.ID)

	succeeded := make(map[int]BatchOutcome, len(prior))
	for _, o := range prior {
		if o.Success {
			succeeded[o.BatchNumber] = o
		}
	}
	kept := make([]BatchOutcome, 0, len(succeeded))
	pending := make([]Batch, 0, len(plan))
	for _, b := range plan {
		if o, ok := succeeded[b.Number]; ok {
			kept = append(kept, o)
			continue
		}
		pending = append(pending, b)
	}

	res := &Result{Document: doc, Route: RouteRemoteOCR, Plan: plan, PagesPerBatch: pagesPerBatch}
	logCtx.Info("Retrying failed batches.", "retrying", len(pending), "kept", len(kept))
	return p.execute(ctx, logCtx, res, pending, kept)
}

func (p *Pipeline) execute(ctx context.Context, logCtx *slog.Logger, res *Result, batches []Batch, kept []BatchOutcome) (*Result, error) {
	exec, err := NewExecutor(p.extractor, p.limiter, p.cfg.executorConfig(),
		WithProgress(p.progress),
		WithExecutorLogger(logCtx),
	)
	if err != nil {
		return nil, err
	}

	outcomes, runErr := exec.Execute(ctx, batches)
	res.Outcomes = append(kept, outcomes...)
	res.Merged = p.merger.Merge(res.Outcomes)

	var fatal *FatalError
	switch {
	case errors.As(runErr, &fatal):
		logCtx.Error("Document run aborted.", "batch", fatal.BatchNumber, "status", res.Merged.Status, "error", fatal.Err)
	case runErr != nil:
		logCtx.Warn("Document run canceled.", "error", runErr)
	default:
		logCtx.Info("Document run finished.",
			"status", res.Merged.Status,
			"successfulBatches", res.Merged.SuccessfulBatches,
			"failedBatches", res.Merged.FailedBatches,
			"processingTime", res.Merged.TotalProcessingTime.String(),
		)
	}
	return res, runErr
}
