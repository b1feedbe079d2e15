package models

import "time"

// Document statuses in Firestore. VALIDATING precedes planning; the rest mirror the
// pipeline's run states.
const (
	StatusValidating         = "VALIDATING"
	StatusPlanned            = "PLANNED"
	StatusExecuting          = "EXECUTING"
	StatusCompleted          = "COMPLETED"
	StatusPartiallyCompleted = "PARTIALLY_COMPLETED"
	StatusFailed             = "FAILED"
)

// Document represents the main record for an ingestion run in Firestore.
// It tracks the overall status, the routing decision and what is needed to retry failed batches.
type Document struct {
	FileHash         string `firestore:"fileHash,omitempty"`
	OriginalFilename string `firestore:"originalFilename,omitempty"`
	SourceBucket     string `firestore:"sourceBucket,omitempty"`
	SourceObject     string `firestore:"sourceObject,omitempty"`
	Status           string `firestore:"status,omitempty"`
	ErrorDetails     string `firestore:"errorDetails,omitempty"`
	PageCount        int    `firestore:"pageCount,omitempty"`
	ByteSize         int64  `firestore:"byteSize,omitempty"`

	Route         string  `firestore:"route,omitempty"`
	QualityReason string  `firestore:"qualityReason,omitempty"`
	TextDensity   float64 `firestore:"textDensity"`
	GarbageRatio  float64 `firestore:"garbageRatio"`
	ScriptRatio   float64 `firestore:"scriptRatio"`

	Plan              *BatchPlan `firestore:"plan,omitempty"`
	SuccessfulBatches int        `firestore:"successfulBatches"`
	FailedBatches     []int      `firestore:"failedBatches"`
	// BatchErrors maps a failed batch number, as a string, to its last error.
	BatchErrors map[string]string `firestore:"batchErrors,omitempty"`

	OutputGCSUri        string    `firestore:"outputGcsUri,omitempty"`
	ProcessingMillis    int64     `firestore:"processingMillis,omitempty"`
	WorkflowExecutionID string    `firestore:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt           time.Time `firestore:"updatedAt,omitempty"`
}

// BatchPlan is the planning configuration a run used, kept so retries replan identically.
type BatchPlan struct {
	PagesPerBatch  int `firestore:"pagesPerBatch"`
	OverlapPages   int `firestore:"overlapPages"`
	MaxBatches     int `firestore:"maxBatches"`
	TotalBatches   int `firestore:"totalBatches"`
	MaxChunkTokens int `firestore:"maxChunkTokens,omitempty"`
}
