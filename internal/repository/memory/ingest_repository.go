package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"dropwatch/internal/repository"
)

// IngestRepository 是容量有限的内存上传日志，超出容量时丢弃最旧的记录。
// 未配置 database-url 时使用。
type IngestRepository struct {
	mu       sync.RWMutex
	capacity int
	records  []repository.IngestRecord
	counts   map[repository.IngestStatus]int64
}

func NewIngestRepository(capacity int) *IngestRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &IngestRepository{
		capacity: capacity,
		counts:   make(map[repository.IngestStatus]int64),
	}
}

func (r *IngestRepository) Create(ctx context.Context, record *repository.IngestRecord) (*repository.IngestRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("ingest record is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) >= r.capacity {
		r.records = slices.Delete(r.records, 0, len(r.records)-r.capacity+1)
	}
	r.records = append(r.records, *record)
	r.counts[record.Status]++

	out := *record
	return &out, nil
}

func (r *IngestRepository) GetByID(ctx context.Context, id string) (*repository.IngestRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].ID == id {
			out := r.records[i]
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

// List 按写入时间倒序返回。
func (r *IngestRepository) List(ctx context.Context, params repository.ListIngestsParams) ([]repository.IngestRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		result  []repository.IngestRecord
		skipped int
	)
	for i := len(r.records) - 1; i >= 0 && len(result) < limit; i-- {
		rec := r.records[i]
		if len(params.Statuses) > 0 && !slices.Contains(params.Statuses, rec.Status) {
			continue
		}
		if params.Descriptor != "" && rec.Descriptor != params.Descriptor {
			continue
		}
		if skipped < params.Offset {
			skipped++
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// CountByStatus 统计进程启动以来的全部记录，包括已被淘汰的。
func (r *IngestRepository) CountByStatus(ctx context.Context) (map[repository.IngestStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[repository.IngestStatus]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out, nil
}
