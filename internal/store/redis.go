package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deploydeck/api/internal/model"
)

const (
	jobKeyPrefix   = "job:"
	batchKeyPrefix = "batch:"
)

// RedisPersister writes jobs and batches through to Redis as JSON with a
// rolling TTL, and reloads them for crash recovery.
type RedisPersister struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPersister creates a persister on the given Redis client.
func NewRedisPersister(client *redis.Client, ttl time.Duration) *RedisPersister {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisPersister{client: client, ttl: ttl}
}

// SaveJob writes a job, refreshing its TTL.
func (p *RedisPersister) SaveJob(ctx context.Context, job *model.AssignmentJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return p.client.Set(ctx, jobKeyPrefix+job.ID, data, p.ttl).Err()
}

// SaveBatch writes a batch record, refreshing its TTL.
func (p *RedisPersister) SaveBatch(ctx context.Context, batch *model.Batch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	return p.client.Set(ctx, batchKeyPrefix+batch.ID, data, p.ttl).Err()
}

// LoadAll scans every persisted batch and job. Entries that no longer
// parse are skipped with a log line rather than failing recovery.
func (p *RedisPersister) LoadAll(ctx context.Context) ([]model.Batch, []model.AssignmentJob, error) {
	var batches []model.Batch
	iter := p.client.Scan(ctx, 0, batchKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := p.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, nil, fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		var b model.Batch
		if err := json.Unmarshal(data, &b); err != nil {
			log.Printf("[Store] Skipping unreadable key %s: %v", iter.Val(), err)
			continue
		}
		batches = append(batches, b)
	}
	if err := iter.Err(); err != nil {
		return nil, nil, fmt.Errorf("batch scan failed: %w", err)
	}

	var jobs []model.AssignmentJob
	iter = p.client.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := p.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, nil, fmt.Errorf("failed to read %s: %w", iter.Val(), err)
		}
		var j model.AssignmentJob
		if err := json.Unmarshal(data, &j); err != nil {
			log.Printf("[Store] Skipping unreadable key %s: %v", iter.Val(), err)
			continue
		}
		jobs = append(jobs, j)
	}
	if err := iter.Err(); err != nil {
		return nil, nil, fmt.Errorf("job scan failed: %w", err)
	}

	return batches, jobs, nil
}
