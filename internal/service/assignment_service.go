package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/deploydeck/api/internal/expander"
	"github.com/deploydeck/api/internal/model"
	"github.com/deploydeck/api/internal/store"
)

// AssignmentService coordinates batch submission: it expands selections
// into jobs, records them, and hands them to the dispatcher. Reads and
// cancellation go straight to the store.
type AssignmentService struct {
	store      *store.Store
	dispatcher *Dispatcher
}

// NewAssignmentService creates the assignment service.
func NewAssignmentService(st *store.Store, d *Dispatcher) *AssignmentService {
	return &AssignmentService{store: st, dispatcher: d}
}

// SubmitBulk expands a bulk request into one job per resource-group
// pair, records the batch, and dispatches it. The batch is accepted
// once recorded; dispatch failures surface as an error but recorded
// jobs are recovered on restart.
func (s *AssignmentService) SubmitBulk(ctx context.Context, req *model.BulkAssignRequest, createdBy string) (*model.BulkAssignResponse, error) {
	batchID := uuid.New().String()
	now := time.Now().UTC()

	jobs, err := expander.Expand(req, batchID, now)
	if err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	batch := &model.Batch{
		ID:        batchID,
		Priority:  priority,
		JobCount:  len(jobs),
		Notes:     req.Notes,
		CreatedAt: now,
		CreatedBy: createdBy,
	}

	if err := s.store.CreateBatch(ctx, batch, jobs); err != nil {
		return nil, fmt.Errorf("failed to record batch: %w", err)
	}

	chunks, err := s.dispatcher.DispatchBatch(batchID, jobs)
	if err != nil {
		return nil, err
	}
	log.Printf("[Assign] Batch %s accepted: %d resources × %d groups = %d jobs (%d chunks, priority %s)",
		batchID, len(req.Resources), len(req.Groups), len(jobs), chunks, priority)

	return &model.BulkAssignResponse{
		BatchID:   batchID,
		JobCount:  len(jobs),
		Priority:  priority,
		CreatedAt: now,
	}, nil
}

// Cancel marks every non-terminal job of the batch cancelled. In-flight
// requests are not aborted; their results are discarded when they land.
func (s *AssignmentService) Cancel(batchID string) (*model.CancelResponse, error) {
	cancelled, skipped, err := s.store.CancelBatch(batchID)
	if err != nil {
		return nil, err
	}
	return &model.CancelResponse{
		BatchID:   batchID,
		Cancelled: cancelled,
		Skipped:   skipped,
	}, nil
}

// Batch returns the batch record.
func (s *AssignmentService) Batch(batchID string) (model.Batch, error) {
	return s.store.GetBatch(batchID)
}

// Summary returns live per-status counts for the batch.
func (s *AssignmentService) Summary(batchID string) (model.BatchSummary, error) {
	return s.store.Summary(batchID)
}

// Jobs lists a batch's jobs in creation order, optionally filtered by
// status. Offset and limit page through the filtered list; limit <= 0
// means no cap.
func (s *AssignmentService) Jobs(batchID string, status model.JobStatus, offset, limit int) (*model.JobListResponse, error) {
	jobs, err := s.store.BatchJobs(batchID)
	if err != nil {
		return nil, err
	}
	if status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Status == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	total := len(jobs)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	jobs = jobs[offset:]
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return &model.JobListResponse{
		BatchID: batchID,
		Total:   total,
		Jobs:    jobs,
	}, nil
}

// Batches lists all known batches, newest first.
func (s *AssignmentService) Batches() []model.Batch {
	return s.store.ListBatches()
}

// Redispatch re-enqueues jobs handed back by store recovery: pending
// jobs as fresh chunks, retrying jobs with whatever backoff they had
// left. Call once at startup, after the store loop is running.
func (s *AssignmentService) Redispatch(jobs []model.AssignmentJob) error {
	if len(jobs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	byBatch := make(map[string][]model.AssignmentJob)
	for _, j := range jobs {
		if j.Status == model.JobStatusRetrying {
			// Honor whatever backoff was left when the process died.
			delay := time.Duration(0)
			if j.ScheduledFor != nil && j.ScheduledFor.After(now) {
				delay = j.ScheduledFor.Sub(now)
			}
			if err := s.dispatcher.DispatchRetry(j.BatchID, j.ID, j.Priority, delay); err != nil {
				return err
			}
			continue
		}
		byBatch[j.BatchID] = append(byBatch[j.BatchID], j)
	}
	for batchID, pending := range byBatch {
		if _, err := s.dispatcher.DispatchBatch(batchID, pending); err != nil {
			return err
		}
	}
	log.Printf("[Assign] Re-dispatched %d recovered jobs", len(jobs))
	return nil
}
