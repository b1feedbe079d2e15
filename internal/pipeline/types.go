package pipeline

import (
	"fmt"
	"time"
)

// Document describes a source file handed to the pipeline. The pipeline never mutates it.
type Document struct {
	ID        string
	Name      string
	ByteSize  int64
	PageCount int
	MIMEType  string
}

// BytesPerPage returns the average encoded size of a page, or 0 for an empty document.
func (d Document) BytesPerPage() int64 {
	if d.PageCount <= 0 {
		return 0
	}
	return d.ByteSize / int64(d.PageCount)
}

// Batch is a contiguous, 1-indexed, inclusive page range processed as one extraction unit.
type Batch struct {
	Number    int
	StartPage int
	EndPage   int
	// Payload is opaque page content. It may be empty, in which case the extractor is
	// expected to resolve the page range itself.
	Payload []byte
}

// PageCount returns the number of pages covered by the batch.
func (b Batch) PageCount() int {
	return b.EndPage - b.StartPage + 1
}

// PageRange renders the range as "start-end".
func (b Batch) PageRange() string {
	return fmt.Sprintf("%d-%d", b.StartPage, b.EndPage)
}

// BatchOutcome is the immutable result of executing one Batch.
type BatchOutcome struct {
	BatchNumber int
	StartPage   int
	EndPage     int
	Text        string
	Success     bool
	Err         error
	Attempts    int
	Elapsed     time.Duration
}

// RunStatus is the lifecycle state of a document run.
type RunStatus string

const (
	StatusPlanned            RunStatus = "PLANNED"
	StatusExecuting          RunStatus = "EXECUTING"
	StatusCompleted          RunStatus = "COMPLETED"
	StatusPartiallyCompleted RunStatus = "PARTIALLY_COMPLETED"
	StatusFailed             RunStatus = "FAILED"
)

// PageRange is an inclusive page interval.
type PageRange struct {
	Start int
	End   int
}

// MergedResult is the document-level output assembled from batch outcomes.
type MergedResult struct {
	Text              string
	Status            RunStatus
	SuccessfulBatches int
	FailedBatches     []int
	FailedRanges      []PageRange
	// TotalProcessingTime is the sum of per-batch elapsed time, not pipeline wall-clock.
	TotalProcessingTime time.Duration
}

// FailedCount returns the number of failed batches.
func (m MergedResult) FailedCount() int {
	return len(m.FailedBatches)
}
