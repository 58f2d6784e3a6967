package model

import (
	"encoding/json"
	"time"
)

// AssignmentJob is one unit of work: assign one resource to one target
// group with one intent. Settings is the rendered settings payload for
// the resource's type, or nil when the intent carries none.
type AssignmentJob struct {
	ID           string          `json:"id"`
	BatchID      string          `json:"batchId"`
	ResourceID   string          `json:"resourceId"`
	ResourceName string          `json:"resourceName,omitempty"`
	ResourceType AppType         `json:"resourceType"`
	GroupID      string          `json:"groupId"`
	GroupName    string          `json:"groupName,omitempty"`
	TargetType   TargetType      `json:"targetType"`
	Intent       Intent          `json:"intent"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	Filter       *FilterRef      `json:"filter,omitempty"`
	Status       JobStatus       `json:"status"`
	Priority     Priority        `json:"priority"`
	RetryCount   int             `json:"retryCount"`
	Failure      *JobFailure     `json:"failure,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ModifiedAt   time.Time       `json:"modifiedAt"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// FilterRef attaches an assignment filter to a job's target.
type FilterRef struct {
	ID   string     `json:"id"`
	Mode FilterMode `json:"mode"`
}

// JobFailure records why a job failed or is being retried.
type JobFailure struct {
	Kind       string    `json:"kind"`
	StatusCode int       `json:"statusCode,omitempty"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Batch groups the jobs created by one bulk request.
type Batch struct {
	ID        string     `json:"id"`
	Priority  Priority   `json:"priority"`
	JobCount  int        `json:"jobCount"`
	Notes     string     `json:"notes,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	CreatedBy string     `json:"createdBy,omitempty"`
	DoneAt    *time.Time `json:"doneAt,omitempty"`
}

// Batch-level statuses (derived from job statuses, not a state machine)
const (
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusPartial   = "completedWithErrors"
	BatchStatusCancelled = "cancelled"
)

// BatchSummary is the per-status rollup for a batch, including the
// identity and reason of every job that ended in failed.
type BatchSummary struct {
	BatchID   string            `json:"batchId"`
	Status    string            `json:"status"`
	Total     int               `json:"total"`
	Counts    map[JobStatus]int `json:"counts"`
	Failures  []FailedJob       `json:"failures,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	DoneAt    *time.Time        `json:"doneAt,omitempty"`
}

// FailedJob identifies one failed job and why it failed.
type FailedJob struct {
	JobID        string `json:"jobId"`
	ResourceID   string `json:"resourceId"`
	ResourceName string `json:"resourceName,omitempty"`
	GroupID      string `json:"groupId"`
	GroupName    string `json:"groupName,omitempty"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

// Done reports whether every job in the batch reached a terminal status.
func (s *BatchSummary) Done() bool {
	terminal := s.Counts[JobStatusCompleted] + s.Counts[JobStatusFailed] + s.Counts[JobStatusCancelled]
	return s.Total > 0 && terminal == s.Total
}

// DeriveStatus computes the batch status from the rollup counts.
func (s *BatchSummary) DeriveStatus() string {
	if !s.Done() {
		return BatchStatusRunning
	}
	switch {
	case s.Counts[JobStatusCancelled] > 0 && s.Counts[JobStatusCompleted] == 0 && s.Counts[JobStatusFailed] == 0:
		return BatchStatusCancelled
	case s.Counts[JobStatusFailed] > 0 || s.Counts[JobStatusCancelled] > 0:
		return BatchStatusPartial
	default:
		return BatchStatusCompleted
	}
}
