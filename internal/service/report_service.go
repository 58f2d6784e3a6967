package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/deploydeck/api/internal/client"
	"github.com/deploydeck/api/internal/model"
	"github.com/deploydeck/api/internal/store"
)

// ErrReportNotReady is returned when a report is requested for a batch
// that still has active jobs.
var ErrReportNotReady = errors.New("batch still has active jobs")

// ReportService archives finished batches as JSON documents in object
// storage and hands out signed download links. With no storage client
// configured it returns a mock link so the flow stays testable.
type ReportService struct {
	store   *store.Store
	storage client.StorageClient
	urlTTL  time.Duration
}

// NewReportService creates the report service. storage may be nil.
func NewReportService(st *store.Store, storage client.StorageClient, urlTTL time.Duration) *ReportService {
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &ReportService{store: st, storage: storage, urlTTL: urlTTL}
}

type batchReport struct {
	Batch       model.Batch           `json:"batch"`
	Summary     model.BatchSummary    `json:"summary"`
	Jobs        []model.AssignmentJob `json:"jobs"`
	GeneratedAt time.Time             `json:"generatedAt"`
}

// Generate archives the batch's final state and returns a signed URL
// for the document. The batch must be done; partial reports would go
// stale the moment another job lands.
func (s *ReportService) Generate(ctx context.Context, batchID string) (*model.ReportResponse, error) {
	batch, err := s.store.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.Summary(batchID)
	if err != nil {
		return nil, err
	}
	if !summary.Done() {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrReportNotReady)
	}
	jobs, err := s.store.BatchJobs(batchID)
	if err != nil {
		return nil, err
	}

	report := batchReport{
		Batch:       batch,
		Summary:     summary,
		Jobs:        jobs,
		GeneratedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize report: %w", err)
	}

	if s.storage == nil {
		return s.generateMock(batchID), nil
	}

	key := fmt.Sprintf("reports/%s.json", batchID)
	if err := s.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return nil, fmt.Errorf("failed to upload report: %w", err)
	}
	url, err := s.storage.GetSignedURL(ctx, key, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign report URL: %w", err)
	}
	log.Printf("[Report] Batch %s archived to %s (%d bytes)", batchID, key, len(data))

	return &model.ReportResponse{
		BatchID:   batchID,
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(s.urlTTL),
	}, nil
}

func (s *ReportService) generateMock(batchID string) *model.ReportResponse {
	log.Printf("[Report] Mock mode: no storage configured, returning placeholder link for batch %s", batchID)
	return &model.ReportResponse{
		BatchID:   batchID,
		URL:       fmt.Sprintf("https://storage.invalid/reports/%s.json", batchID),
		ExpiresAt: time.Now().UTC().Add(s.urlTTL),
	}
}
