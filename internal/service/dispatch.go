package service

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"github.com/deploydeck/api/internal/model"
	"github.com/deploydeck/api/internal/store"
	"github.com/deploydeck/api/internal/worker"
)

// Queue names, one per priority tier. Weights are configured on the
// asynq server so higher tiers are preferred without starving lower
// ones.
const (
	QueueCritical = "critical"
	QueueHigh     = "high"
	QueueNormal   = "normal"
	QueueLow      = "low"
)

// QueueForPriority maps a job priority to its dispatch queue.
func QueueForPriority(p model.Priority) string {
	switch p {
	case model.PriorityCritical:
		return QueueCritical
	case model.PriorityHigh:
		return QueueHigh
	case model.PriorityLow:
		return QueueLow
	default:
		return QueueNormal
	}
}

// TaskEnqueuer is the slice of the asynq client the dispatcher uses.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher plans pending jobs into chunks no larger than the batch
// ceiling and enqueues one task per chunk. It also re-enqueues retrying
// jobs once their backoff is known.
type Dispatcher struct {
	store       *store.Store
	asynqClient TaskEnqueuer
	chunkSize   int
	retention   time.Duration
}

// NewDispatcher creates a dispatcher. chunkSize must match the API
// client's batch ceiling; chunks never exceed it.
func NewDispatcher(st *store.Store, asynqClient TaskEnqueuer, chunkSize int) *Dispatcher {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	return &Dispatcher{
		store:       st,
		asynqClient: asynqClient,
		chunkSize:   chunkSize,
		retention:   24 * time.Hour,
	}
}

// PlanChunks orders jobs by priority descending then creation time
// ascending (stable, so expansion order breaks ties) and slices them
// into chunks of at most size jobs. A job is never split across chunks.
func PlanChunks(jobs []model.AssignmentJob, size int) [][]model.AssignmentJob {
	if len(jobs) == 0 {
		return nil
	}
	ordered := make([]model.AssignmentJob, len(jobs))
	copy(ordered, jobs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority.Rank() != ordered[j].Priority.Rank() {
			return ordered[i].Priority.Rank() > ordered[j].Priority.Rank()
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	var chunks [][]model.AssignmentJob
	for start := 0; start < len(ordered); start += size {
		end := start + size
		if end > len(ordered) {
			end = len(ordered)
		}
		chunks = append(chunks, ordered[start:end])
	}
	return chunks
}

// DispatchBatch selects a batch's jobs into chunks, marks them
// scheduled, and enqueues one task per chunk. Returns the chunk count.
func (d *Dispatcher) DispatchBatch(batchID string, jobs []model.AssignmentJob) (int, error) {
	chunks := PlanChunks(jobs, d.chunkSize)
	for n, chunk := range chunks {
		ids := make([]string, len(chunk))
		for i, j := range chunk {
			ids[i] = j.ID
		}
		moved := d.store.MarkScheduled(ids)
		if len(moved) == 0 {
			continue
		}
		movedIDs := make([]string, len(moved))
		for i, j := range moved {
			movedIDs[i] = j.ID
		}

		task, err := worker.NewChunkTask(batchID, movedIDs, false)
		if err != nil {
			return n, err
		}
		_, err = d.asynqClient.Enqueue(task,
			asynq.Queue(QueueForPriority(chunk[0].Priority)),
			asynq.MaxRetry(0),
			asynq.Retention(d.retention),
		)
		if err != nil {
			// Scheduled-but-unqueued jobs are picked back up by crash
			// recovery on the next start.
			return n, fmt.Errorf("failed to enqueue chunk %d of batch %s: %w", n+1, batchID, err)
		}
	}
	log.Printf("[Dispatch] Batch %s: %d jobs planned into %d chunks", batchID, len(jobs), len(chunks))
	return len(chunks), nil
}

// DispatchRetry re-enqueues one retrying job as a single-job chunk,
// firing after the backoff delay.
func (d *Dispatcher) DispatchRetry(batchID, jobID string, priority model.Priority, delay time.Duration) error {
	task, err := worker.NewChunkTask(batchID, []string{jobID}, true)
	if err != nil {
		return err
	}
	_, err = d.asynqClient.Enqueue(task,
		asynq.Queue(QueueForPriority(priority)),
		asynq.MaxRetry(0),
		asynq.Retention(d.retention),
		asynq.ProcessIn(delay),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue retry for job %s: %w", jobID, err)
	}
	return nil
}
