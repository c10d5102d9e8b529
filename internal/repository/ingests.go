package repository

import (
	"context"
	"time"
)

// IngestStatus 描述一对文件在一轮处理后的终态。
type IngestStatus string

const (
	IngestStatusDone    IngestStatus = "done"
	IngestStatusError   IngestStatus = "error"
	IngestStatusAborted IngestStatus = "aborted"
)

// IngestRecord 是上传日志中的一条记录。
type IngestRecord struct {
	ID         string            `json:"id"`
	Descriptor string            `json:"descriptor"`
	MediaName  string            `json:"media_name,omitempty"`
	Key        string            `json:"key,omitempty"`
	Status     IngestStatus      `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	SizeBytes  int64             `json:"size_bytes"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Relocated  bool              `json:"relocated"`
	Error      *string           `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ListIngestsParams 用于分页检索上传日志。
type ListIngestsParams struct {
	Statuses   []IngestStatus
	Descriptor string
	Limit      int
	Offset     int
}

// IngestRepository 统一上传日志持久层接口。
type IngestRepository interface {
	Create(ctx context.Context, record *IngestRecord) (*IngestRecord, error)
	GetByID(ctx context.Context, id string) (*IngestRecord, error)
	List(ctx context.Context, params ListIngestsParams) ([]IngestRecord, error)
	CountByStatus(ctx context.Context) (map[IngestStatus]int64, error)
}
