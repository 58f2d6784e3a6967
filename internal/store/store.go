package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/deploydeck/api/internal/model"
)

// ErrJobNotFound reports a job id the store has never seen.
var ErrJobNotFound = errors.New("job not found")

// ErrBatchNotFound reports a batch id the store has never seen.
var ErrBatchNotFound = errors.New("batch not found")

// ErrStaleResult reports a result for a job that is not in progress,
// typically because the batch was cancelled while the call was in
// flight. Stale results are discarded, never applied.
var ErrStaleResult = errors.New("stale result for job")

// ErrNotRetrying reports a requeue for a job that is not awaiting retry.
var ErrNotRetrying = errors.New("job is not awaiting retry")

// Result is the outcome of one attempt at a job, as decomposed from a
// batch response. RetryAfter carries a server-supplied delay hint.
type Result struct {
	OK         bool
	Failure    *model.JobFailure
	Retryable  bool
	RetryAfter time.Duration
}

// Transition reports what ApplyResult decided. Delay is only set when
// the job went back to retrying and says how long to hold it.
type Transition struct {
	Status model.JobStatus
	Delay  time.Duration
}

// Event is emitted on every job status change, with the batch rollup as
// of that change.
type Event struct {
	Job     model.AssignmentJob
	Summary model.BatchSummary
}

// Listener receives store events. It runs on the store's goroutine and
// must not call back into the store.
type Listener func(Event)

// Persister writes jobs and batches through to durable storage. A nil
// persister keeps the store memory-only.
type Persister interface {
	SaveJob(ctx context.Context, job *model.AssignmentJob) error
	SaveBatch(ctx context.Context, batch *model.Batch) error
	LoadAll(ctx context.Context) ([]model.Batch, []model.AssignmentJob, error)
}

// Store is the authoritative record of every assignment job. All
// mutation goes through one goroutine so concurrent chunk completions
// cannot race a retry count or interleave half-applied transitions.
type Store struct {
	cmds     chan func()
	quit     chan struct{}
	stopOnce sync.Once

	// actor-owned state, never touched off the run loop
	jobs      map[string]*model.AssignmentJob
	batches   map[string]*model.Batch
	batchJobs map[string][]string
	counts    map[string]map[model.JobStatus]int
	failures  map[string][]model.FailedJob
	cancelled map[string]bool

	policy    RetryPolicy
	persister Persister
	listener  Listener
}

// New creates a store with the given retry policy. persister may be nil.
func New(policy RetryPolicy, persister Persister) *Store {
	return &Store{
		cmds:      make(chan func()),
		quit:      make(chan struct{}),
		jobs:      make(map[string]*model.AssignmentJob),
		batches:   make(map[string]*model.Batch),
		batchJobs: make(map[string][]string),
		counts:    make(map[string]map[model.JobStatus]int),
		failures:  make(map[string][]model.FailedJob),
		cancelled: make(map[string]bool),
		policy:    policy,
		persister: persister,
	}
}

// SetListener installs the event listener. Call before Run.
func (s *Store) SetListener(l Listener) {
	s.listener = l
}

// Run starts the store's main loop.
func (s *Store) Run() {
	for {
		select {
		case cmd := <-s.cmds:
			cmd()
		case <-s.quit:
			return
		}
	}
}

// Stop terminates the run loop. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// do runs fn on the store goroutine and waits for it.
func (s *Store) do(fn func()) {
	done := make(chan struct{})
	s.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// Recover loads persisted state and resets jobs that were mid-dispatch
// when the previous process died: scheduled and inProgress jobs go back
// to pending since their results can never arrive. It returns the jobs
// needing re-dispatch (pending and retrying), in creation order per
// batch. Call before Run, while nothing else holds the store.
func (s *Store) Recover(ctx context.Context) ([]model.AssignmentJob, error) {
	if s.persister == nil {
		return nil, nil
	}
	batches, jobs, err := s.persister.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted state: %w", err)
	}

	for i := range batches {
		b := batches[i]
		s.batches[b.ID] = &b
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })

	var redispatch []model.AssignmentJob
	now := time.Now()
	for i := range jobs {
		j := jobs[i]
		switch j.Status {
		case model.JobStatusScheduled, model.JobStatusInProgress:
			j.Status = model.JobStatusPending
			j.ModifiedAt = now
			s.persist(ctx, &j)
		}
		s.jobs[j.ID] = &j
		s.batchJobs[j.BatchID] = append(s.batchJobs[j.BatchID], j.ID)
		s.bumpCount(j.BatchID, j.Status, 1)
		if j.Status == model.JobStatusFailed {
			s.failures[j.BatchID] = append(s.failures[j.BatchID], failedEntry(&j))
		}
		if j.Status == model.JobStatusPending || j.Status == model.JobStatusRetrying {
			redispatch = append(redispatch, j)
		}
	}
	if len(jobs) > 0 {
		log.Printf("[Store] Recovered %d jobs in %d batches, %d to re-dispatch", len(jobs), len(s.batches), len(redispatch))
	}
	return redispatch, nil
}

// CreateBatch records a batch and its expanded jobs. The write is
// rejected if persistence fails; accepted work must survive a restart.
func (s *Store) CreateBatch(ctx context.Context, batch *model.Batch, jobs []model.AssignmentJob) error {
	var err error
	s.do(func() {
		if _, exists := s.batches[batch.ID]; exists {
			err = fmt.Errorf("batch %s already exists", batch.ID)
			return
		}
		if s.persister != nil {
			if perr := s.persister.SaveBatch(ctx, batch); perr != nil {
				err = fmt.Errorf("failed to persist batch: %w", perr)
				return
			}
			for i := range jobs {
				if perr := s.persister.SaveJob(ctx, &jobs[i]); perr != nil {
					err = fmt.Errorf("failed to persist job %s: %w", jobs[i].ID, perr)
					return
				}
			}
		}
		b := *batch
		s.batches[b.ID] = &b
		ids := make([]string, 0, len(jobs))
		for i := range jobs {
			j := jobs[i]
			s.jobs[j.ID] = &j
			ids = append(ids, j.ID)
			s.bumpCount(j.BatchID, j.Status, 1)
		}
		s.batchJobs[b.ID] = ids
	})
	return err
}

// MarkScheduled moves pending jobs into scheduled and returns the jobs
// that actually moved. Jobs in any other state are skipped, which is how
// a cancelled batch's queued chunks dissolve.
func (s *Store) MarkScheduled(ids []string) []model.AssignmentJob {
	var moved []model.AssignmentJob
	s.do(func() {
		now := time.Now()
		for _, id := range ids {
			j, ok := s.jobs[id]
			if !ok || j.Status != model.JobStatusPending {
				continue
			}
			s.transition(j, model.JobStatusScheduled, now)
			moved = append(moved, *j)
		}
	})
	return moved
}

// MarkInFlight moves scheduled jobs into inProgress immediately before
// their chunk's batch call goes out, returning the jobs that moved.
func (s *Store) MarkInFlight(ids []string) []model.AssignmentJob {
	var moved []model.AssignmentJob
	s.do(func() {
		now := time.Now()
		for _, id := range ids {
			j, ok := s.jobs[id]
			if !ok || j.Status != model.JobStatusScheduled {
				continue
			}
			s.transition(j, model.JobStatusInProgress, now)
			moved = append(moved, *j)
		}
	})
	return moved
}

// ApplyResult feeds one attempt's outcome back into the state machine.
// Only inProgress jobs accept results; anything else is a stale result
// and comes back ErrStaleResult so the caller can discard it. The retry
// count increments exactly once per applied failure.
func (s *Store) ApplyResult(id string, res Result) (Transition, error) {
	var tr Transition
	var err error
	s.do(func() {
		j, ok := s.jobs[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrJobNotFound, id)
			return
		}
		if j.Status != model.JobStatusInProgress {
			err = fmt.Errorf("%w: %s is %s", ErrStaleResult, id, j.Status)
			return
		}
		now := time.Now()
		switch {
		case res.OK:
			j.Failure = nil
			j.ScheduledFor = nil
			completed := now
			j.CompletedAt = &completed
			s.transition(j, model.JobStatusCompleted, now)
			tr = Transition{Status: model.JobStatusCompleted}
		case res.Retryable && j.RetryCount < s.policy.MaxRetries:
			j.RetryCount++
			j.Failure = res.Failure
			delay := s.policy.NextDelay(j.RetryCount, res.RetryAfter)
			at := now.Add(delay)
			j.ScheduledFor = &at
			s.transition(j, model.JobStatusRetrying, now)
			tr = Transition{Status: model.JobStatusRetrying, Delay: delay}
		default:
			j.Failure = res.Failure
			j.ScheduledFor = nil
			completed := now
			j.CompletedAt = &completed
			s.transition(j, model.JobStatusFailed, now)
			tr = Transition{Status: model.JobStatusFailed}
		}
	})
	return tr, err
}

// Requeue returns a retrying job to pending once its backoff elapsed.
func (s *Store) Requeue(id string) error {
	var err error
	s.do(func() {
		j, ok := s.jobs[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrJobNotFound, id)
			return
		}
		if j.Status != model.JobStatusRetrying {
			err = fmt.Errorf("%w: %s is %s", ErrNotRetrying, id, j.Status)
			return
		}
		j.ScheduledFor = nil
		s.transition(j, model.JobStatusPending, time.Now())
	})
	return err
}

// CancelBatch moves every non-terminal job of the batch to cancelled and
// marks the batch so no further chunks are dispatched for it. Terminal
// jobs are left untouched and counted as skipped.
func (s *Store) CancelBatch(batchID string) (int, int, error) {
	var cancelledCount, skipped int
	var err error
	s.do(func() {
		ids, ok := s.batchJobs[batchID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
			return
		}
		s.cancelled[batchID] = true
		now := time.Now()
		for _, id := range ids {
			j := s.jobs[id]
			if j.Status.IsTerminal() {
				skipped++
				continue
			}
			j.ScheduledFor = nil
			completed := now
			j.CompletedAt = &completed
			s.transition(j, model.JobStatusCancelled, now)
			cancelledCount++
		}
		log.Printf("[Store] Batch %s cancelled: %d jobs cancelled, %d already terminal", batchID, cancelledCount, skipped)
	})
	return cancelledCount, skipped, err
}

// BatchCancelled reports whether cancellation was requested for a batch.
func (s *Store) BatchCancelled(batchID string) bool {
	var c bool
	s.do(func() { c = s.cancelled[batchID] })
	return c
}

// Job returns a copy of one job.
func (s *Store) Job(id string) (model.AssignmentJob, error) {
	var out model.AssignmentJob
	var err error
	s.do(func() {
		j, ok := s.jobs[id]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrJobNotFound, id)
			return
		}
		out = *j
	})
	return out, err
}

// GetBatch returns a copy of one batch record.
func (s *Store) GetBatch(batchID string) (model.Batch, error) {
	var out model.Batch
	var err error
	s.do(func() {
		b, ok := s.batches[batchID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
			return
		}
		out = *b
	})
	return out, err
}

// BatchJobs returns copies of a batch's jobs in creation order.
func (s *Store) BatchJobs(batchID string) ([]model.AssignmentJob, error) {
	var out []model.AssignmentJob
	var err error
	s.do(func() {
		ids, ok := s.batchJobs[batchID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
			return
		}
		out = make([]model.AssignmentJob, 0, len(ids))
		for _, id := range ids {
			out = append(out, *s.jobs[id])
		}
	})
	return out, err
}

// ListBatches returns copies of all known batches, newest first.
func (s *Store) ListBatches() []model.Batch {
	var out []model.Batch
	s.do(func() {
		out = make([]model.Batch, 0, len(s.batches))
		for _, b := range s.batches {
			out = append(out, *b)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Summary returns the per-status rollup for a batch.
func (s *Store) Summary(batchID string) (model.BatchSummary, error) {
	var out model.BatchSummary
	var err error
	s.do(func() {
		b, ok := s.batches[batchID]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
			return
		}
		out = s.summaryLocked(b)
	})
	return out, err
}

// transition applies a status change, stamps timestamps, keeps rollup
// counts, persists, and notifies. Callers set job fields first.
func (s *Store) transition(j *model.AssignmentJob, to model.JobStatus, now time.Time) {
	s.bumpCount(j.BatchID, j.Status, -1)
	j.Status = to
	j.ModifiedAt = now
	s.bumpCount(j.BatchID, to, 1)
	if to == model.JobStatusFailed {
		s.failures[j.BatchID] = append(s.failures[j.BatchID], failedEntry(j))
	}
	s.persist(context.Background(), j)

	b := s.batches[j.BatchID]
	if b == nil {
		return
	}
	summary := s.summaryLocked(b)
	if b.DoneAt == nil && summary.Done() {
		done := now
		b.DoneAt = &done
		summary.DoneAt = &done
		if s.persister != nil {
			if err := s.persister.SaveBatch(context.Background(), b); err != nil {
				log.Printf("[Store] Failed to persist batch %s: %v", b.ID, err)
			}
		}
	}
	if s.listener != nil {
		s.listener(Event{Job: *j, Summary: summary})
	}
}

func (s *Store) summaryLocked(b *model.Batch) model.BatchSummary {
	counts := make(map[model.JobStatus]int, len(s.counts[b.ID]))
	total := 0
	for st, n := range s.counts[b.ID] {
		if n > 0 {
			counts[st] = n
		}
		total += n
	}
	summary := model.BatchSummary{
		BatchID: b.ID,
		Total:   total,
		Counts:  counts,
		// Summaries escape the store goroutine via events, so the
		// failure list must be a copy.
		Failures:  append([]model.FailedJob(nil), s.failures[b.ID]...),
		CreatedAt: b.CreatedAt,
		DoneAt:    b.DoneAt,
	}
	summary.Status = summary.DeriveStatus()
	return summary
}

func failedEntry(j *model.AssignmentJob) model.FailedJob {
	e := model.FailedJob{
		JobID:        j.ID,
		ResourceID:   j.ResourceID,
		ResourceName: j.ResourceName,
		GroupID:      j.GroupID,
		GroupName:    j.GroupName,
	}
	if j.Failure != nil {
		e.Kind = j.Failure.Kind
		e.Message = j.Failure.Message
	}
	return e
}

func (s *Store) bumpCount(batchID string, status model.JobStatus, delta int) {
	m := s.counts[batchID]
	if m == nil {
		m = make(map[model.JobStatus]int)
		s.counts[batchID] = m
	}
	m[status] += delta
}

func (s *Store) persist(ctx context.Context, j *model.AssignmentJob) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveJob(ctx, j); err != nil {
		log.Printf("[Store] Failed to persist job %s: %v", j.ID, err)
	}
}
