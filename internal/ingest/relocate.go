package ingest

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-billy/v5"
)

const (
	defaultRelocateRetries = 3
	defaultRelocateDelay   = time.Second
)

// Relocator 把文件移动到终态目录，并确认源文件确实消失。
type Relocator struct {
	fs     billy.Filesystem
	logger *slog.Logger

	// Retries 是 rename 报告成功但源文件仍在时的补救次数。
	Retries int
	Delay   time.Duration
	Sleep   func(time.Duration)
}

// NewRelocator 创建 Relocator。retries 为 0 表示不重试，负数使用默认值。
func NewRelocator(fs billy.Filesystem, retries int, delay time.Duration, logger *slog.Logger) *Relocator {
	if retries < 0 {
		retries = defaultRelocateRetries
	}
	if delay <= 0 {
		delay = defaultRelocateDelay
	}
	return &Relocator{
		fs:      fs,
		logger:  logger,
		Retries: retries,
		Delay:   delay,
		Sleep:   time.Sleep,
	}
}

// Relocate 尽力把 src 移动到 dst，从不向调用方返回错误。
// 返回 false 表示最终仍未确认移动成功。
//
// rename 本身报错时立即放弃（通常是目标目录缺失这类非瞬时错误）；
// rename 报告成功但源文件仍可见时，间隔 Delay 重试至多 Retries 次。
func (r *Relocator) Relocate(src, dst string) bool {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			r.Sleep(r.Delay)
		}

		if err := r.fs.Rename(src, dst); err != nil {
			r.logger.Error("移动文件失败", "src", src, "dst", dst, "error", err)
			return false
		}

		present, err := r.stillPresent(src)
		if err != nil {
			r.logger.Error("确认源文件状态失败", "src", src, "error", err)
			return false
		}
		if !present {
			return true
		}

		if attempt >= r.Retries {
			r.logger.Error("移动文件后源文件仍然存在，放弃重试",
				"src", src, "dst", dst, "attempts", attempt+1)
			return false
		}
		r.logger.Warn("移动文件后源文件仍然存在，稍后重试",
			"src", src, "dst", dst, "attempt", attempt+1, "delay", r.Delay)
	}
}

func (r *Relocator) stillPresent(path string) (bool, error) {
	_, err := r.fs.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
