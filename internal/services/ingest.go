package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/Lllllllleong/documentingestion/internal/gcp"
	"github.com/Lllllllleong/documentingestion/internal/models"
	"github.com/Lllllllleong/documentingestion/internal/pdf"
	"github.com/Lllllllleong/documentingestion/internal/pipeline"
)

// IngestFunction runs a newly uploaded document through the extraction pipeline.
type IngestFunction struct {
	*runner
}

func NewIngestFunction(ctx context.Context) (*IngestFunction, error) {
	r, err := newRunner(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("Document ingest logic initialized.",
		"workflowId", r.config.WorkflowID,
		"rateLimit", r.pipelineCfg.RateLimit.PerMinute(),
		"maxConcurrent", r.pipelineCfg.MaxConcurrent,
	)
	return &IngestFunction{runner: r}, nil
}

func (f *IngestFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	kind := kindOf(e.Name)
	if kind == kindUnsupported {
		logCtx.Warn("Unsupported file type. Skipping.")
		return nil
	}

	tempDir, err := os.MkdirTemp("", "document-ingest-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source"+filepath.Ext(e.Name))
	if err := gcp.DownloadToFile(ctx, f.storageClient.Bucket(e.Bucket), e.Name, sourcePath); err != nil {
		logCtx.Error("Failed to download source document", "error", err)
		return err
	}

	fileHash, err := calculateFileHash(sourcePath)
	if err != nil {
		logCtx.Error("Failed to calculate file hash", "error", err)
		return fmt.Errorf("failed to calculate file hash: %w", err)
	}
	logCtx = logCtx.With("fileHash", fileHash)

	existingID, isDuplicate, err := f.store.FindByHash(ctx, fileHash)
	if err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return err
	}
	if isDuplicate {
		logCtx.Info("Duplicate file detected. Skipping.", "existingDocId", existingID)
		return nil
	}

	docID, err := f.store.Create(ctx, models.Document{
		FileHash:         fileHash,
		OriginalFilename: filepath.Base(e.Name),
		SourceBucket:     e.Bucket,
		SourceObject:     e.Name,
		Status:           models.StatusValidating,
	})
	if err != nil {
		logCtx.Error("Failed to create initial Firestore document", "error", err)
		return err
	}
	executionID := uuid.NewString()
	logCtx = logCtx.With("documentId", docID, "executionId", executionID)
	logCtx.Info("Created master document in Firestore.")

	var res *pipeline.Result
	var runErr error
	switch kind {
	case kindPDF:
		res, runErr = f.runPDF(ctx, logCtx, docID, e.Name, sourcePath)
	case kindText:
		res, runErr = f.runText(ctx, logCtx, docID, e.Name, sourcePath)
	}
	if _, err := f.finishRun(ctx, logCtx, docID, executionID, res, runErr); err != nil {
		return err
	}
	logCtx.Info("Document ingestion complete.", "status", res.Merged.Status)
	return nil
}

func (f *IngestFunction) runPDF(ctx context.Context, logCtx *slog.Logger, docID, name, path string) (*pipeline.Result, error) {
	src, err := pdf.LoadFile(path)
	if err != nil {
		return nil, err
	}
	doc := src.Document(docID, name)

	localText, err := src.Text()
	if err != nil {
		logCtx.Warn("Failed to read text layer. Treating as scanned.", "error", err)
		localText = ""
	}

	extractor := pdf.PageRangeExtractor{Source: src, Next: gcp.NewVertexExtractor(f.vertex)}
	p, err := f.buildPipeline(extractor, f.pipelineCfg, logCtx)
	if err != nil {
		return nil, err
	}

	quality := p.Evaluate(localText, doc.PageCount)
	updates := append(qualityUpdates(quality),
		firestore.Update{Path: "pageCount", Value: doc.PageCount},
		firestore.Update{Path: "byteSize", Value: doc.ByteSize},
	)
	if quality.Route() == pipeline.RouteRemoteOCR {
		batches, size, err := p.Plan(doc)
		if err != nil {
			return nil, err
		}
		updates = append(updates, planUpdates(f.pipelineCfg, size, len(batches))...)
	}
	if err := f.store.Update(ctx, docID, updates...); err != nil {
		return nil, err
	}
	if err := f.markExecuting(ctx, docID, quality.Route()); err != nil {
		return nil, err
	}
	return p.Run(ctx, doc, localText)
}

func (f *IngestFunction) runText(ctx context.Context, logCtx *slog.Logger, docID, name, path string) (*pipeline.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read text document: %w", err)
	}
	text := string(data)
	batches, err := pipeline.PlanText(text, f.pipelineCfg.MaxChunkTokens)
	if err != nil {
		return nil, err
	}
	doc := pipeline.Document{
		ID:        docID,
		Name:      name,
		ByteSize:  int64(len(data)),
		PageCount: len(batches),
		MIMEType:  "text/plain",
	}

	p, err := f.buildPipeline(gcp.NewVertexTextExtractor(f.vertex), f.pipelineCfg, logCtx)
	if err != nil {
		return nil, err
	}
	updates := append(planUpdates(f.pipelineCfg, 1, len(batches)),
		firestore.Update{Path: "route", Value: string(pipeline.RouteRemoteOCR)},
		firestore.Update{Path: "pageCount", Value: doc.PageCount},
		firestore.Update{Path: "byteSize", Value: doc.ByteSize},
	)
	if err := f.store.Update(ctx, docID, updates...); err != nil {
		return nil, err
	}
	if err := f.markExecuting(ctx, docID, pipeline.RouteRemoteOCR); err != nil {
		return nil, err
	}
	return p.RunText(ctx, doc, text)
}

func (f *IngestFunction) markExecuting(ctx context.Context, docID string, route pipeline.Route) error {
	if route == pipeline.RouteLocal {
		return nil
	}
	return f.store.UpdateStatus(ctx, docID, models.StatusExecuting, "")
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
