package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/deploydeck/api/internal/client"
	"github.com/deploydeck/api/internal/model"
	"github.com/deploydeck/api/internal/store"
)

// TaskTypeAssignChunk is the asynq task type for one dispatch chunk.
const TaskTypeAssignChunk = "assign:chunk"

// ChunkTask is the payload of an assign:chunk task. Requeue marks a
// retry chunk whose jobs sit in retrying and must re-enter the queue
// before dispatch.
type ChunkTask struct {
	BatchID string   `json:"batchId"`
	JobIDs  []string `json:"jobIds"`
	Requeue bool     `json:"requeue,omitempty"`
}

// NewChunkTask builds the asynq task for a chunk.
func NewChunkTask(batchID string, jobIDs []string, requeue bool) (*asynq.Task, error) {
	data, err := json.Marshal(ChunkTask{BatchID: batchID, JobIDs: jobIDs, Requeue: requeue})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk task: %w", err)
	}
	return asynq.NewTask(TaskTypeAssignChunk, data), nil
}

// RetryScheduler re-enqueues a job for another attempt after a delay.
// Implemented by the dispatch service.
type RetryScheduler interface {
	DispatchRetry(batchID, jobID string, priority model.Priority, delay time.Duration) error
}

// AssignWorker executes dispatch chunks: it moves the chunk's jobs to
// inProgress, issues one batched call, and feeds each per-item outcome
// back through the store. Retry bookkeeping belongs to the store; the
// asynq task itself never retries.
type AssignWorker struct {
	store           *store.Store
	graph           client.GraphAPI
	retries         RetryScheduler
	resourceTimeout time.Duration
}

// NewAssignWorker creates a new assignment worker.
func NewAssignWorker(st *store.Store, graph client.GraphAPI, retries RetryScheduler, resourceTimeout time.Duration) *AssignWorker {
	if resourceTimeout <= 0 {
		resourceTimeout = 2 * time.Minute
	}
	return &AssignWorker{
		store:           st,
		graph:           graph,
		retries:         retries,
		resourceTimeout: resourceTimeout,
	}
}

// ProcessTask handles one assign:chunk task.
func (w *AssignWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var task ChunkTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	if w.store.BatchCancelled(task.BatchID) {
		log.Printf("[Worker] Batch %s cancelled, dropping chunk of %d jobs", task.BatchID, len(task.JobIDs))
		return nil
	}

	if task.Requeue {
		for _, id := range task.JobIDs {
			if err := w.store.Requeue(id); err != nil && !errors.Is(err, store.ErrNotRetrying) {
				log.Printf("[Worker] Requeue %s: %v", id, err)
			}
		}
		w.store.MarkScheduled(task.JobIDs)
	}

	inFlight := w.store.MarkInFlight(task.JobIDs)
	if len(inFlight) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, w.resourceTimeout)
	defer cancel()

	requests := make([]client.BatchRequest, 0, len(inFlight))
	for i := range inFlight {
		req, err := buildAssignmentRequest(&inFlight[i])
		if err != nil {
			// A job we cannot even serialize is a contract bug, not a
			// remote failure.
			w.applyResult(inFlight[i], store.Result{
				OK:      false,
				Failure: &model.JobFailure{Kind: string(client.ErrKindDecoding), Message: err.Error(), At: time.Now()},
			})
			continue
		}
		requests = append(requests, req)
	}
	if len(requests) == 0 {
		return nil
	}

	results, err := w.graph.Batch(cctx, requests)
	if err != nil {
		w.failChunk(task.BatchID, inFlight, err)
		return nil
	}

	byID := make(map[string]client.BatchResult, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}
	for _, job := range inFlight {
		res, ok := byID[job.ID]
		if !ok {
			continue // handled at request-build time
		}
		w.applyResult(job, resultFromBatch(res))
	}
	return nil
}

// failChunk applies one process-level error to every job of the chunk.
// Logged once, not once per job.
func (w *AssignWorker) failChunk(batchID string, jobs []model.AssignmentJob, err error) {
	log.Printf("[Worker] ✗ Chunk for batch %s failed before per-item results: %v", batchID, err)
	res := store.Result{OK: false, Retryable: true}
	if apiErr, ok := client.AsAPIError(err); ok {
		res.Retryable = apiErr.Retryable()
		res.RetryAfter = apiErr.RetryAfter
		res.Failure = failureFrom(apiErr)
	} else {
		res.Failure = &model.JobFailure{Kind: string(client.ErrKindNetwork), Message: err.Error(), At: time.Now()}
	}
	for _, job := range jobs {
		w.applyResult(job, res)
	}
}

// applyResult feeds one outcome into the store and schedules the next
// attempt when the store says the job is retrying. Stale results, e.g.
// for jobs cancelled while the call was in flight, are discarded.
func (w *AssignWorker) applyResult(job model.AssignmentJob, res store.Result) {
	tr, err := w.store.ApplyResult(job.ID, res)
	if err != nil {
		if errors.Is(err, store.ErrStaleResult) {
			log.Printf("[Worker] Discarding late result for job %s", job.ID)
		} else {
			log.Printf("[Worker] ApplyResult %s: %v", job.ID, err)
		}
		return
	}
	if tr.Status == model.JobStatusRetrying && w.retries != nil {
		if err := w.retries.DispatchRetry(job.BatchID, job.ID, job.Priority, tr.Delay); err != nil {
			log.Printf("[Worker] Failed to schedule retry for job %s: %v", job.ID, err)
		}
	}
}

// resultFromBatch converts one batch item outcome into a store result.
func resultFromBatch(res client.BatchResult) store.Result {
	if res.Err == nil {
		return store.Result{OK: true}
	}
	return store.Result{
		OK:         false,
		Retryable:  res.Err.Retryable(),
		RetryAfter: res.Err.RetryAfter,
		Failure:    failureFrom(res.Err),
	}
}

func failureFrom(e *client.APIError) *model.JobFailure {
	msg := e.Message
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return &model.JobFailure{
		Kind:       string(e.Kind),
		StatusCode: e.StatusCode,
		Message:    msg,
		At:         time.Now(),
	}
}

// buildAssignmentRequest renders one job into its batched API call. The
// settings key is omitted entirely when the job carries none; the remote
// API reads a present-but-empty settings object as an explicit override.
func buildAssignmentRequest(job *model.AssignmentJob) (client.BatchRequest, error) {
	target := map[string]any{
		"@odata.type": job.TargetType.ODataType(),
	}
	switch job.TargetType {
	case model.TargetTypeGroup, model.TargetTypeExclusionGroup:
		target["groupId"] = job.GroupID
	case model.TargetTypeExternalCollection:
		target["collectionId"] = job.GroupID
	}
	if job.Filter != nil {
		target["deviceAndAppManagementAssignmentFilterId"] = job.Filter.ID
		target["deviceAndAppManagementAssignmentFilterType"] = string(job.Filter.Mode)
	}

	body := map[string]any{
		"@odata.type": "#microsoft.graph.mobileAppAssignment",
		"intent":      string(job.Intent),
		"target":      target,
	}
	if len(job.Settings) > 0 {
		body["settings"] = json.RawMessage(job.Settings)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return client.BatchRequest{}, fmt.Errorf("failed to marshal assignment for job %s: %w", job.ID, err)
	}
	return client.BatchRequest{
		ID:     job.ID,
		Method: "POST",
		URL:    fmt.Sprintf("/deviceAppManagement/mobileApps/%s/assignments", job.ResourceID),
		Body:   data,
	}, nil
}
