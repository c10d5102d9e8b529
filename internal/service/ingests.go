package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dropwatch/internal/ingest"
	"dropwatch/internal/repository"

	"github.com/google/uuid"
)

// IngestService 把处理结果写入上传日志，并为状态接口提供查询。
type IngestService struct {
	repo repository.IngestRepository
	now  func() time.Time
}

func NewIngestService(repo repository.IngestRepository) *IngestService {
	return &IngestService{repo: repo, now: time.Now}
}

// Record 实现 ingest.Journal。
func (s *IngestService) Record(ctx context.Context, outcome ingest.Outcome) error {
	if s == nil || s.repo == nil {
		return errors.New("ingest service not initialized")
	}
	if err := validateOutcome(outcome); err != nil {
		return err
	}

	record := &repository.IngestRecord{
		ID:         uuid.NewString(),
		Descriptor: outcome.Descriptor,
		MediaName:  outcome.Media,
		Key:        outcome.Key,
		Status:     repository.IngestStatus(outcome.Status),
		Reason:     string(outcome.Reason),
		SizeBytes:  outcome.Size,
		Metadata:   normalizeMetadata(outcome.Metadata),
		Relocated:  outcome.Relocated,
		CreatedAt:  s.now().UTC(),
	}
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		record.Error = &msg
	}

	if _, err := s.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("create ingest record: %w", err)
	}
	return nil
}

// ListIngests 以分页形式列出上传日志。
func (s *IngestService) ListIngests(ctx context.Context, params repository.ListIngestsParams) ([]repository.IngestRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("ingest service not initialized")
	}
	if params.Limit > 500 {
		params.Limit = 500
	}
	return s.repo.List(ctx, params)
}

// GetIngest 查询单条记录。
func (s *IngestService) GetIngest(ctx context.Context, id string) (*repository.IngestRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("ingest service not initialized")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.repo.GetByID(ctx, id)
}

// Stats 返回各终态的累计数量。
func (s *IngestService) Stats(ctx context.Context) (map[repository.IngestStatus]int64, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("ingest service not initialized")
	}
	return s.repo.CountByStatus(ctx)
}

func validateOutcome(outcome ingest.Outcome) error {
	switch {
	case outcome.Descriptor == "":
		return fmt.Errorf("descriptor is required")
	case outcome.Status != ingest.StatusDone && outcome.Status != ingest.StatusError && outcome.Status != ingest.StatusAborted:
		return fmt.Errorf("unknown status %q", outcome.Status)
	default:
		return nil
	}
}

func normalizeMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}
