package storage

import (
	"context"
	"errors"
	"io"
)

// ErrAlreadyExists 表示条件写入（IfAbsent）因目标 key 已存在而被拒绝。
var ErrAlreadyExists = errors.New("storage: object already exists")

// Writer 定义对象存储写接口，支持流式写入。
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader, opts WriteOptions) (Location, error)
}

// Prober 查询对象是否存在。
// 返回 (false, nil) 表示存储明确答复“不存在”；其余错误一律原样返回，由调用方判定。
type Prober interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// Deleter 删除对象。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Storage 组合了探测、写入、删除能力的完整存储接口。
type Storage interface {
	Prober
	Writer
	Deleter
}

// WriteOptions 描述一次写入附带的属性。
type WriteOptions struct {
	Size        int64 // 未知时为 -1
	ContentType string
	Metadata    map[string]string
	ACL         string
	// IfAbsent 要求存储仅在 key 不存在时创建对象。
	IfAbsent bool
	Progress *ProgressCounter
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path string
	URL  string
}
