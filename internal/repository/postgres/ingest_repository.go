package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"dropwatch/internal/repository"
)

// NewIngestRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewIngestRepository(db *sql.DB) *IngestRepository {
	return &IngestRepository{db: db}
}

// IngestRepository 实现 repository.IngestRepository。
type IngestRepository struct {
	db *sql.DB
}

var ingestSelectColumns = []string{
	"id",
	"descriptor",
	"media_name",
	"object_key",
	"status",
	"reason",
	"size_bytes",
	"metadata",
	"relocated",
	"error",
	"created_at",
}

var ingestInsertColumns = []string{
	"id",
	"descriptor",
	"media_name",
	"object_key",
	"status",
	"reason",
	"size_bytes",
	"metadata",
	"relocated",
	"error",
	"created_at",
}

// Create 插入一条上传日志。
func (r *IngestRepository) Create(ctx context.Context, record *repository.IngestRecord) (*repository.IngestRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("ingest record is nil")
	}

	metadataBytes, err := encodeMetadata(record.Metadata)
	if err != nil {
		return nil, err
	}

	placeholders := make([]string, len(ingestInsertColumns))
	for i := range ingestInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO ingests (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(ingestInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(ingestSelectColumns, ","),
	)

	var errText sql.NullString
	if record.Error != nil {
		errText = sql.NullString{String: *record.Error, Valid: true}
	}

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.ID,
		record.Descriptor,
		record.MediaName,
		record.Key,
		record.Status,
		record.Reason,
		record.SizeBytes,
		metadataBytes,
		record.Relocated,
		errText,
		record.CreatedAt,
	)

	return scanIngestRecord(row)
}

// GetByID 通过主键查询。
func (r *IngestRepository) GetByID(ctx context.Context, id string) (*repository.IngestRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM ingests WHERE id = $1`, strings.Join(ingestSelectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, id)
	rec, err := scanIngestRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List 支持按状态与描述文件名过滤并分页，按时间倒序。
func (r *IngestRepository) List(ctx context.Context, params repository.ListIngestsParams) ([]repository.IngestRecord, error) {
	query, args := buildListQuery(params)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.IngestRecord
	for rows.Next() {
		rec, err := scanIngestRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// buildListQuery 生成 List 的 SQL 与参数，占位符按参数追加顺序编号。
func buildListQuery(params repository.ListIngestsParams) (string, []any) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	args := make([]any, 0, len(params.Statuses)+3)
	var conditions []string
	if len(params.Statuses) > 0 {
		placeholders := make([]string, len(params.Statuses))
		for i, status := range params.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if params.Descriptor != "" {
		args = append(args, params.Descriptor)
		conditions = append(conditions, fmt.Sprintf("descriptor = $%d", len(args)))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	tail := fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM ingests%s%s`, strings.Join(ingestSelectColumns, ","), whereClause, tail)
	return query, args
}

// CountByStatus 统计各终态的记录数。
func (r *IngestRepository) CountByStatus(ctx context.Context) (map[repository.IngestStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[repository.IngestStatus]int64)
	for rows.Next() {
		var (
			status repository.IngestStatus
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIngestRecord(rs rowScanner) (*repository.IngestRecord, error) {
	var (
		rec      repository.IngestRecord
		metadata []byte
		errText  sql.NullString
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.Descriptor,
		&rec.MediaName,
		&rec.Key,
		&rec.Status,
		&rec.Reason,
		&rec.SizeBytes,
		&metadata,
		&rec.Relocated,
		&errText,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	if errText.Valid {
		rec.Error = &errText.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, err
		}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]string{}
	}

	return &rec, nil
}

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if meta == nil {
		meta = map[string]string{}
	}
	return json.Marshal(meta)
}
