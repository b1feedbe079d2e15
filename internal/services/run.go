package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentingestion/internal/gcp"
	"github.com/Lllllllleong/documentingestion/internal/models"
	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// GCSEvent is the subset of a storage object finalize event the ingest function reads.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

type sourceKind int

const (
	kindUnsupported sourceKind = iota
	kindPDF
	kindText
)

func kindOf(objectName string) sourceKind {
	switch strings.ToLower(filepath.Ext(objectName)) {
	case ".pdf":
		return kindPDF
	case ".txt", ".md":
		return kindText
	}
	return kindUnsupported
}

// runner holds the clients shared by the ingest and retry functions. Its limiter is
// created once per process so concurrent runs share one call budget.
type runner struct {
	storageClient *storage.Client
	store         *gcp.RunStore
	workflow      *gcp.WorkflowTrigger
	vertex        *gcp.VertexClient
	limiter       *pipeline.RateLimiter
	config        *ServiceConfig
	pipelineCfg   pipeline.Config
}

func newRunner(ctx context.Context) (*runner, error) {
	config, err := loadServiceConfig()
	if err != nil {
		return nil, err
	}
	pipelineCfg, err := LoadPipelineConfig()
	if err != nil {
		return nil, err
	}
	limiter, err := pipeline.NewRateLimiter(pipelineCfg.RateLimit)
	if err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.VertexModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	r := &runner{
		storageClient: storageClient,
		store:         gcp.NewRunStore(firestoreClient, config.CollectionName),
		vertex:        vertexClient,
		limiter:       limiter,
		config:        config,
		pipelineCfg:   pipelineCfg,
	}
	if config.WorkflowID != "" {
		r.workflow, err = gcp.NewWorkflowTrigger(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *runner) buildPipeline(extractor pipeline.BatchExtractor, cfg pipeline.Config, logCtx *slog.Logger) (*pipeline.Pipeline, error) {
	return pipeline.New(extractor, r.limiter, cfg,
		pipeline.WithLogger(logCtx),
		pipeline.WithProgressFunc(logProgress(logCtx)),
	)
}

func logProgress(logCtx *slog.Logger) pipeline.ProgressFunc {
	return func(ev pipeline.ProgressEvent) {
		switch ev.Status {
		case pipeline.ProgressRetrying:
			logCtx.Warn("Batch retrying.", "batch", ev.BatchNumber, "attempt", ev.Attempt, "error", ev.Err)
		case pipeline.ProgressFailed:
			logCtx.Error("Batch failed.", "batch", ev.BatchNumber, "pages", fmt.Sprintf("%d-%d", ev.StartPage, ev.EndPage), "percent", ev.Percentage, "error", ev.Err)
		case pipeline.ProgressCompleted:
			logCtx.Info("Batch completed.", "batch", ev.BatchNumber, "total", ev.TotalBatches, "percent", ev.Percentage)
		}
	}
}

func batchPrefix(docID string) string {
	return docID + "/batches/"
}

func batchObjectName(docID string, batchNumber int) string {
	return fmt.Sprintf("%s%05d.txt", batchPrefix(docID), batchNumber)
}

func batchNumberFromObject(docID, objectName string) (int, bool) {
	base, ok := strings.CutPrefix(objectName, batchPrefix(docID))
	if !ok {
		return 0, false
	}
	base, ok = strings.CutSuffix(base, ".txt")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(base)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func mergedObjectName(docID string) string {
	return docID + "/extracted.txt"
}

// loadPriorOutcomes rebuilds the successful outcomes of an earlier run from the batch texts
// it stored. Objects that do not match a batch of plan are ignored.
func (r *runner) loadPriorOutcomes(ctx context.Context, docID string, plan []pipeline.Batch) ([]pipeline.BatchOutcome, error) {
	bucket := r.storageClient.Bucket(r.config.TextBucket)
	names, err := gcp.ListObjectNames(ctx, bucket, batchPrefix(docID))
	if err != nil {
		return nil, err
	}
	byNumber := make(map[int]pipeline.Batch, len(plan))
	for _, b := range plan {
		byNumber[b.Number] = b
	}
	var prior []pipeline.BatchOutcome
	for _, name := range names {
		n, ok := batchNumberFromObject(docID, name)
		if !ok {
			continue
		}
		b, ok := byNumber[n]
		if !ok {
			continue
		}
		data, err := gcp.ReadObject(ctx, bucket, name)
		if err != nil {
			return nil, err
		}
		prior = append(prior, pipeline.BatchOutcome{
			BatchNumber: n,
			StartPage:   b.StartPage,
			EndPage:     b.EndPage,
			Text:        string(data),
			Success:     true,
		})
	}
	return prior, nil
}

// persistResult stores batch and merged texts, records the outcome and hands the document
// to the downstream workflow. It returns the merged text URI.
func (r *runner) persistResult(ctx context.Context, logCtx *slog.Logger, docID, executionID string, res *pipeline.Result, runErr error) (string, error) {
	bucket := r.storageClient.Bucket(r.config.TextBucket)
	for _, o := range res.Outcomes {
		if !o.Success {
			continue
		}
		if err := gcp.SaveToGCSAtomically(ctx, bucket, batchObjectName(docID, o.BatchNumber), o.Text); err != nil {
			return "", fmt.Errorf("batch %d: %w", o.BatchNumber, err)
		}
	}

	uri := fmt.Sprintf("gs://%s/%s", r.config.TextBucket, mergedObjectName(docID))
	if err := gcp.OverwriteGCSObject(ctx, bucket, mergedObjectName(docID), res.Merged.Text); err != nil {
		return "", err
	}

	status := res.Merged.Status
	if err := r.store.Update(ctx, docID, resultUpdates(res, runErr, uri)...); err != nil {
		return "", err
	}
	logCtx.Info("Run persisted.", "status", status, "outputGcsUri", uri)

	if !handOff(status, runErr) || r.workflow == nil {
		return uri, nil
	}
	execName, err := r.workflow.Trigger(ctx, models.ExtractedTextEvent{
		DocumentID:    docID,
		Status:        string(status),
		Route:         string(res.Route),
		PageCount:     res.Document.PageCount,
		FailedBatches: nonNil(res.Merged.FailedBatches),
		TextGCSUri:    uri,
		ExecutionID:   executionID,
	})
	if err != nil {
		return "", err
	}
	if err := r.store.Update(ctx, docID, firestore.Update{Path: "workflowExecutionId", Value: execName}); err != nil {
		return "", err
	}
	logCtx.Info("Hand-off to workflow complete.", "execution", execName)
	return uri, nil
}

// handOff reports whether a run goes to the downstream workflow. Aborted and canceled
// runs wait for a retry.
func handOff(status pipeline.RunStatus, runErr error) bool {
	return runErr == nil && status != pipeline.StatusFailed
}

// resultUpdates maps a run result onto the run record fields. The status is the merged
// one; an abort is recorded in errorDetails.
func resultUpdates(res *pipeline.Result, runErr error, uri string) []firestore.Update {
	batchErrors := make(map[string]string)
	for _, o := range res.Outcomes {
		if !o.Success && o.Err != nil {
			batchErrors[strconv.Itoa(o.BatchNumber)] = o.Err.Error()
		}
	}
	errorDetails := ""
	if runErr != nil {
		errorDetails = runErr.Error()
	}
	return []firestore.Update{
		{Path: "status", Value: string(res.Merged.Status)},
		{Path: "successfulBatches", Value: res.Merged.SuccessfulBatches},
		{Path: "failedBatches", Value: nonNil(res.Merged.FailedBatches)},
		{Path: "batchErrors", Value: batchErrors},
		{Path: "outputGcsUri", Value: uri},
		{Path: "processingMillis", Value: res.Merged.TotalProcessingTime.Milliseconds()},
		{Path: "errorDetails", Value: errorDetails},
	}
}

func qualityUpdates(m pipeline.QualityMetrics) []firestore.Update {
	return []firestore.Update{
		{Path: "route", Value: string(m.Route())},
		{Path: "qualityReason", Value: m.Reason},
		{Path: "textDensity", Value: m.TextDensity},
		{Path: "garbageRatio", Value: m.GarbageRatio},
		{Path: "scriptRatio", Value: m.ScriptRatio},
	}
}

func planUpdates(cfg pipeline.Config, pagesPerBatch, total int) []firestore.Update {
	return []firestore.Update{
		{Path: "status", Value: models.StatusPlanned},
		{Path: "plan", Value: models.BatchPlan{
			PagesPerBatch:  pagesPerBatch,
			OverlapPages:   cfg.OverlapPages,
			MaxBatches:     cfg.MaxBatches,
			TotalBatches:   total,
			MaxChunkTokens: cfg.MaxChunkTokens,
		}},
	}
}

// handleError logs a processing failure and marks the record FAILED.
func (r *runner) handleError(ctx context.Context, logCtx *slog.Logger, docID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := r.store.UpdateStatus(ctx, docID, models.StatusFailed, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

// finishRun persists whatever a run produced. A nil result means the run never started.
// Partial results of an aborted or canceled run are still persisted so they can be retried.
func (r *runner) finishRun(ctx context.Context, logCtx *slog.Logger, docID, executionID string, res *pipeline.Result, runErr error) (string, error) {
	if runErr != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if res == nil {
		return "", r.handleError(ctx, logCtx, docID, "pipeline run failed", runErr)
	}
	uri, err := r.persistResult(ctx, logCtx, docID, executionID, res, runErr)
	if err != nil {
		return "", r.handleError(ctx, logCtx, docID, "failed to persist run result", err)
	}
	var fatal *pipeline.FatalError
	switch {
	case errors.As(runErr, &fatal):
		return uri, fmt.Errorf("document %s aborted: %w", docID, runErr)
	case runErr != nil:
		return uri, fmt.Errorf("document %s: %w", docID, runErr)
	}
	return uri, nil
}

func nonNil(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
