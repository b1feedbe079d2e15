package pipeline

// ProgressStatus is the state reported for a batch in a ProgressEvent.
type ProgressStatus string

const (
	ProgressProcessing ProgressStatus = "processing"
	ProgressRetrying   ProgressStatus = "retrying"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
)

// Terminal reports whether the status ends a batch.
func (s ProgressStatus) Terminal() bool {
	return s == ProgressCompleted || s == ProgressFailed
}

// ProgressEvent is delivered on batch start, on every retry, and on batch terminal state.
// Percentage counts batches that reached a terminal state.
type ProgressEvent struct {
	BatchNumber  int
	TotalBatches int
	StartPage    int
	EndPage      int
	Percentage   float64
	Status       ProgressStatus
	Attempt      int
	Err          error
}

// ProgressFunc receives progress events. It is called from worker goroutines concurrently
// and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

func percentOf(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}
