package models

// These structs define the JSON payloads exchanged with the retry function and the
// downstream workflow.

// RetryBatchesRequest is the input for the retry-batches function.
type RetryBatchesRequest struct {
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId,omitempty"`
}

// RetryBatchesResponse is the output of the retry-batches function.
type RetryBatchesResponse struct {
	Status            string `json:"status"`
	ExecutionID       string `json:"executionId"`
	RetriedBatches    []int  `json:"retriedBatches"`
	FailedBatches     []int  `json:"failedBatches"`
	SuccessfulBatches int    `json:"successfulBatches"`
	OutputGCSUri      string `json:"outputGcsUri,omitempty"`
}

// ExtractedTextEvent is the argument handed to the downstream NLP workflow.
type ExtractedTextEvent struct {
	DocumentID    string `json:"documentId"`
	Status        string `json:"status"`
	Route         string `json:"route"`
	PageCount     int    `json:"pageCount"`
	FailedBatches []int  `json:"failedBatches"`
	TextGCSUri    string `json:"textGcsUri"`
	ExecutionID   string `json:"executionId"`
}
