package ingest

import (
	"context"
	"log/slog"
	"time"
)

const defaultInterval = 5 * time.Second

// Runner 执行一轮处理，*Cycle 实现了它。
type Runner interface {
	Run(ctx context.Context) (CycleReport, error)
}

// Loop 周期性地运行 Runner，直到 ctx 被取消。
type Loop struct {
	runner   Runner
	interval time.Duration
	wake     <-chan struct{}
	logger   *slog.Logger
}

// NewLoop 创建循环。wake 可以为 nil；非 nil 时收到信号会提前开始下一轮。
func NewLoop(runner Runner, interval time.Duration, wake <-chan struct{}, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{runner: runner, interval: interval, wake: wake, logger: logger}
}

// Run 只在 ctx 被取消时返回。单轮失败（连接存储、列目录）只记录日志，等待间隔后重试。
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("开始监控", "interval", l.interval)

	for {
		report, err := l.runner.Run(ctx)
		if ctx.Err() != nil {
			l.logger.Info("停止监控")
			return ctx.Err()
		}
		if err != nil {
			l.logger.Error("本轮处理失败，等待下一轮", "error", err, "retry_in", l.interval)
		} else if len(report.Outcomes) > 0 {
			l.logger.Info("本轮处理结束",
				"done", report.Count(StatusDone),
				"error", report.Count(StatusError),
				"aborted", report.Count(StatusAborted),
				"elapsed", report.Elapsed.Round(time.Millisecond))
		}

		if err := l.wait(ctx); err != nil {
			l.logger.Info("停止监控")
			return err
		}
	}
}

func (l *Loop) wait(ctx context.Context) error {
	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-l.wake:
		l.logger.Debug("收到目录变更通知，提前开始下一轮")
	}
	return nil
}
