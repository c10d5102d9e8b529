package ingest

import (
	"context"
	"log/slog"

	"dropwatch/internal/storage"
)

// VerdictState 是重复检查的三种结论。
type VerdictState int

const (
	Absent VerdictState = iota + 1
	Present
	// Indeterminate 既不能当作存在也不能当作不存在，调用方必须放弃本轮处理。
	Indeterminate
)

func (s VerdictState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

type Verdict struct {
	State VerdictState
	Cause error
}

// Guard 向远端存储查询上传 key 是否已存在。
type Guard struct {
	prober storage.Prober
	logger *slog.Logger
}

func NewGuard(prober storage.Prober, logger *slog.Logger) *Guard {
	return &Guard{prober: prober, logger: logger}
}

func (g *Guard) Check(ctx context.Context, key string) Verdict {
	exists, err := g.prober.Exists(ctx, key)
	if err != nil {
		g.logger.Error("查询对象是否存在失败", "key", key, "error", err)
		return Verdict{State: Indeterminate, Cause: err}
	}
	if exists {
		return Verdict{State: Present}
	}
	return Verdict{State: Absent}
}
