package model

// WebSocket message types
const (
	WSMessageTypeJob       = "job"
	WSMessageTypeSummary   = "summary"
	WSMessageTypeBatchDone = "batchDone"
	WSMessageTypeError     = "error"
	WSMessageTypePing      = "ping"
	WSMessageTypePong      = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSJobMessage announces a single job's status transition
type WSJobMessage struct {
	Type       string      `json:"type"`
	BatchID    string      `json:"batchId"`
	JobID      string      `json:"jobId"`
	Status     JobStatus   `json:"status"`
	RetryCount int         `json:"retryCount"`
	Failure    *JobFailure `json:"failure,omitempty"`
}

// WSSummaryMessage carries the running per-status rollup for a batch
type WSSummaryMessage struct {
	Type    string       `json:"type"`
	BatchID string       `json:"batchId"`
	Summary BatchSummary `json:"summary"`
}

// WSBatchDoneMessage announces that every job reached a terminal status
type WSBatchDoneMessage struct {
	Type    string `json:"type"`
	BatchID string `json:"batchId"`
	Status  string `json:"status"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type    string  `json:"type"`
	BatchID string  `json:"batchId"`
	Error   WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
