package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Lllllllleong/documentingestion/internal/gcp"
	"github.com/Lllllllleong/documentingestion/internal/models"
	"github.com/Lllllllleong/documentingestion/internal/pdf"
	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// RetryFunction re-executes the failed batches of an earlier run. Batches that succeeded
// before are read back from storage and merged unchanged.
type RetryFunction struct {
	*runner
}

func NewRetryFunction(ctx context.Context) (*RetryFunction, error) {
	r, err := newRunner(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Retry batches logic initialized.", "textBucket", r.config.TextBucket)
	return &RetryFunction{runner: r}, nil
}

func (f *RetryFunction) Process(ctx context.Context, req *models.RetryBatchesRequest) (*models.RetryBatchesResponse, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("documentId is required")
	}
	if req.ExecutionID == "" {
		req.ExecutionID = uuid.NewString()
	}
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID)
	logCtx.Info("Starting batch retry.")

	rec, err := f.store.Get(ctx, req.DocumentID)
	if err != nil {
		logCtx.Error("Failed to load run record", "error", err)
		return nil, err
	}
	resp := &models.RetryBatchesResponse{
		Status:            rec.Status,
		ExecutionID:       req.ExecutionID,
		RetriedBatches:    []int{},
		FailedBatches:     nonNil(rec.FailedBatches),
		SuccessfulBatches: rec.SuccessfulBatches,
		OutputGCSUri:      rec.OutputGCSUri,
	}
	if rec.Status == models.StatusCompleted {
		logCtx.Info("Document already completed. Nothing to retry.")
		return resp, nil
	}
	if rec.Plan == nil {
		logCtx.Error("Run record has no batch plan.", "status", rec.Status, "route", rec.Route)
		return nil, fmt.Errorf("document %s has no batch plan to retry", req.DocumentID)
	}

	tempDir, err := os.MkdirTemp("", "retry-batches-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source"+filepath.Ext(rec.SourceObject))
	if err := gcp.DownloadToFile(ctx, f.storageClient.Bucket(rec.SourceBucket), rec.SourceObject, sourcePath); err != nil {
		return nil, f.handleError(ctx, logCtx, req.DocumentID, "failed to download source document", err)
	}

	p, doc, plan, err := f.replan(logCtx, req.DocumentID, rec, sourcePath)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, req.DocumentID, "failed to replan document", err)
	}
	prior, err := f.loadPriorOutcomes(ctx, req.DocumentID, plan)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, req.DocumentID, "failed to load prior batch texts", err)
	}
	resp.RetriedBatches = pendingBatches(plan, prior)

	if err := f.store.UpdateStatus(ctx, req.DocumentID, models.StatusExecuting, ""); err != nil {
		logCtx.Error("Failed to update status to EXECUTING", "error", err)
		return nil, err
	}
	res, runErr := p.RetryBatches(ctx, doc, plan, rec.Plan.PagesPerBatch, prior)
	uri, err := f.finishRun(ctx, logCtx, req.DocumentID, req.ExecutionID, res, runErr)
	if err != nil {
		return nil, err
	}

	resp.Status = string(res.Merged.Status)
	resp.FailedBatches = nonNil(res.Merged.FailedBatches)
	resp.SuccessfulBatches = res.Merged.SuccessfulBatches
	resp.OutputGCSUri = uri
	logCtx.Info("Batch retry complete.", "status", resp.Status, "retried", len(resp.RetriedBatches), "stillFailed", len(resp.FailedBatches))
	return resp, nil
}

// replan rebuilds the pipeline and batch plan the original run used.
func (f *RetryFunction) replan(logCtx *slog.Logger, docID string, rec *models.Document, sourcePath string) (*pipeline.Pipeline, pipeline.Document, []pipeline.Batch, error) {
	switch kindOf(rec.SourceObject) {
	case kindPDF:
		cfg := retryConfig(f.pipelineCfg, rec.Plan)
		src, err := pdf.LoadFile(sourcePath)
		if err != nil {
			return nil, pipeline.Document{}, nil, err
		}
		doc := src.Document(docID, rec.SourceObject)
		extractor := pdf.PageRangeExtractor{Source: src, Next: gcp.NewVertexExtractor(f.vertex)}
		p, err := f.buildPipeline(extractor, cfg, logCtx)
		if err != nil {
			return nil, pipeline.Document{}, nil, err
		}
		plan, _, err := p.Plan(doc)
		if err != nil {
			return nil, pipeline.Document{}, nil, err
		}
		return p, doc, plan, nil

	case kindText:
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return nil, pipeline.Document{}, nil, fmt.Errorf("failed to read text document: %w", err)
		}
		cfg := textRetryConfig(f.pipelineCfg, rec.Plan)
		plan, err := pipeline.PlanText(string(data), cfg.MaxChunkTokens)
		if err != nil {
			return nil, pipeline.Document{}, nil, err
		}
		doc := pipeline.Document{ID: docID, Name: rec.SourceObject, ByteSize: int64(len(data)), PageCount: len(plan), MIMEType: "text/plain"}
		p, err := f.buildPipeline(gcp.NewVertexTextExtractor(f.vertex), cfg, logCtx)
		if err != nil {
			return nil, pipeline.Document{}, nil, err
		}
		return p, doc, plan, nil
	}
	return nil, pipeline.Document{}, nil, fmt.Errorf("unsupported source object %q", rec.SourceObject)
}

// retryConfig pins the planning settings to those stored with the run, so batch numbers
// line up with the batch texts already saved.
func retryConfig(base pipeline.Config, plan *models.BatchPlan) pipeline.Config {
	cfg := textRetryConfig(base, plan)
	cfg.AutoBatchSize = false
	cfg.PagesPerBatch = plan.PagesPerBatch
	cfg.OverlapPages = plan.OverlapPages
	cfg.MaxBatches = plan.MaxBatches
	return cfg
}

// textRetryConfig pins the chunk budget of a text run. Records written before the budget
// was stored keep the current one.
func textRetryConfig(base pipeline.Config, plan *models.BatchPlan) pipeline.Config {
	cfg := base
	if plan.MaxChunkTokens > 0 {
		cfg.MaxChunkTokens = plan.MaxChunkTokens
	}
	return cfg
}

func pendingBatches(plan []pipeline.Batch, prior []pipeline.BatchOutcome) []int {
	done := make(map[int]bool, len(prior))
	for _, o := range prior {
		if o.Success {
			done[o.BatchNumber] = true
		}
	}
	pending := []int{}
	for _, b := range plan {
		if !done[b.Number] {
			pending = append(pending, b.Number)
		}
	}
	return pending
}
