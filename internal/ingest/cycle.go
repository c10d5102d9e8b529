package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"dropwatch/internal/storage"

	"github.com/go-git/go-billy/v5"
)

// 终态目录，相对于被监控目录。
const (
	DoneDir  = "done"
	ErrorDir = "error"
)

// Status 是一对文件在一轮处理后的终态。
type Status string

const (
	StatusDone    Status = "done"
	StatusError   Status = "error"
	StatusAborted Status = "aborted"
)

// Reason 说明 error 与 aborted 的原因。
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMalformed        Reason = "malformed"
	ReasonMediaMissing     Reason = "media-missing"
	ReasonMediaPending     Reason = "media-pending"
	ReasonMediaUnreadable  Reason = "media-unreadable"
	ReasonDuplicate        Reason = "duplicate"
	ReasonIndeterminate    Reason = "indeterminate"
	ReasonUploadFailed     Reason = "upload-failed"
	ReasonRelocationFailed Reason = "relocation-failed"
)

// Outcome 记录一对文件的处理结果。
type Outcome struct {
	Descriptor string
	Media      string
	Key        string
	Status     Status
	Reason     Reason
	Size       int64
	Metadata   map[string]string
	// Relocated 为 false 表示终态移动未能确认完成。
	Relocated bool
	Err       error
}

// CycleReport 汇总一轮处理。
type CycleReport struct {
	Started  time.Time
	Elapsed  time.Duration
	Outcomes []Outcome
}

// Count 统计指定终态的数量。
func (r CycleReport) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// StoreFactory 为每一轮构造存储连接。
type StoreFactory func(ctx context.Context) (storage.Storage, error)

// Journal 持久化每对文件的处理结果。
type Journal interface {
	Record(ctx context.Context, outcome Outcome) error
}

// Observer 接收处理过程中的计数事件。
type Observer interface {
	PairProcessed(status, reason string)
	BytesUploaded(n int64)
	RelocationFailed()
	CycleCompleted(result string, elapsed time.Duration)
}

// Options 是一轮处理所需的配置。
type Options struct {
	Extension        string
	Prefix           *string
	ACL              string
	Metadata         map[string]string
	ConditionalPut   bool
	UploadTimeout    time.Duration
	MediaGracePeriod time.Duration
	RelocateRetries  int // 0 表示不重试，负数使用默认值
	RelocateDelay    time.Duration
}

// Cycle 处理被监控目录的一次快照。
type Cycle struct {
	fs        billy.Filesystem
	factory   StoreFactory
	opts      Options
	logger    *slog.Logger
	resolver  *Resolver
	Relocator *Relocator

	Journal  Journal
	Observer Observer
	Shuffle  func([]string)
	Now      func() time.Time

	// aborted 记录每个仍滞留在根目录的描述文件上一次被中止的原因，
	// 同一原因连续出现时只写一次上传日志。
	aborted map[string]Reason
}

func NewCycle(fs billy.Filesystem, factory StoreFactory, opts Options, logger *slog.Logger) *Cycle {
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	return &Cycle{
		fs:        fs,
		factory:   factory,
		opts:      opts,
		logger:    logger,
		resolver:  NewResolver(fs),
		Relocator: NewRelocator(fs, opts.RelocateRetries, opts.RelocateDelay, logger),
		Observer:  nopObserver{},
		Shuffle: func(names []string) {
			rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
		},
		Now:     time.Now,
		aborted: make(map[string]Reason),
	}
}

// Run 执行一轮处理。构造存储失败或列目录失败时整轮放弃，不触碰任何文件；
// 单对文件的失败只影响该对文件。
func (c *Cycle) Run(ctx context.Context) (CycleReport, error) {
	report := CycleReport{Started: c.Now()}
	result := "ok"
	defer func() {
		report.Elapsed = c.Now().Sub(report.Started)
		c.Observer.CycleCompleted(result, report.Elapsed)
	}()

	store, err := c.factory(ctx)
	if err != nil {
		result = "store_failed"
		c.logger.Error("连接远端存储失败，放弃本轮", "error", err)
		return report, fmt.Errorf("open store: %w", err)
	}
	defer closeStore(store, c.logger)

	names, err := c.listDescriptors()
	if err != nil {
		result = "list_failed"
		c.logger.Error("列出描述文件失败，放弃本轮", "error", err)
		return report, fmt.Errorf("list descriptors: %w", err)
	}
	c.forgetAborted(names)
	if len(names) == 0 {
		return report, nil
	}

	c.Shuffle(names)
	c.logger.Debug("开始处理", "count", len(names))

	guard := NewGuard(store, c.logger)
	uploader := NewUploader(c.fs, store, c.opts.ConditionalPut, c.opts.UploadTimeout, c.logger)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			result = "cancelled"
			return report, err
		}

		outcome := c.process(ctx, name, guard, uploader)
		report.Outcomes = append(report.Outcomes, outcome)
		c.record(ctx, outcome)
	}

	return report, nil
}

func (c *Cycle) listDescriptors() ([]string, error) {
	entries, err := c.fs.ReadDir(".")
	if err != nil {
		return nil, err
	}

	suffix := "." + c.opts.Extension
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	// 排序保证注入的 Shuffle 得到确定的输入
	sort.Strings(names)
	return names, nil
}

func (c *Cycle) process(ctx context.Context, name string, guard *Guard, uploader *Uploader) Outcome {
	log := c.logger.With("descriptor", name)
	outcome := Outcome{Descriptor: name}

	pair, desc, err := c.resolver.Resolve(name)
	if err != nil {
		log.Error("描述文件无效，移入 error", "error", err)
		outcome.Status, outcome.Reason, outcome.Err = StatusError, ReasonMalformed, err
		outcome.Relocated = c.relocate(ErrorDir, name)
		return outcome
	}
	outcome.Media = pair.MediaName
	log = log.With("media", pair.MediaName)

	if _, err := c.fs.Stat(pair.MediaName); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Error("读取媒体文件状态失败，下一轮重试", "error", err)
			outcome.Status, outcome.Reason, outcome.Err = StatusAborted, ReasonMediaUnreadable, err
			return outcome
		}
		if c.mediaPending(name) {
			log.Info("媒体文件尚未就绪，等待下一轮")
			outcome.Status, outcome.Reason = StatusAborted, ReasonMediaPending
			return outcome
		}
		log.Error("媒体文件不存在，描述文件移入 error")
		outcome.Status, outcome.Reason, outcome.Err = StatusError, ReasonMediaMissing, fmt.Errorf("media %s: %w", pair.MediaName, err)
		outcome.Relocated = c.relocate(ErrorDir, name)
		return outcome
	}

	key := UploadKey(c.opts.Prefix, pair.MediaName)
	outcome.Key = key
	log = log.With("key", key)

	verdict := guard.Check(ctx, key)
	switch verdict.State {
	case Indeterminate:
		log.Warn("无法确认对象是否已存在，下一轮重试", "error", verdict.Cause)
		outcome.Status, outcome.Reason, outcome.Err = StatusAborted, ReasonIndeterminate, verdict.Cause
		return outcome
	case Present:
		log.Error("对象已存在，两个文件移入 error")
		outcome.Status, outcome.Reason, outcome.Err = StatusError, ReasonDuplicate, ErrDuplicate
		outcome.Relocated = c.relocate(ErrorDir, name, pair.MediaName)
		return outcome
	}

	metadata := ExtractMetadata(desc, c.opts.Metadata, log)
	outcome.Metadata = metadata

	size, err := uploader.Upload(ctx, pair.MediaName, key, metadata, c.opts.ACL)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			log.Error("条件写入被拒绝，对象已存在，两个文件移入 error", "error", err)
			outcome.Status, outcome.Reason, outcome.Err = StatusError, ReasonDuplicate, err
			outcome.Relocated = c.relocate(ErrorDir, name, pair.MediaName)
			return outcome
		}
		log.Error("上传失败，下一轮重试", "error", err)
		outcome.Status, outcome.Reason, outcome.Err = StatusAborted, ReasonUploadFailed, err
		return outcome
	}
	outcome.Size = size
	c.Observer.BytesUploaded(size)

	outcome.Status = StatusDone
	outcome.Relocated = c.relocate(DoneDir, name, pair.MediaName)
	if !outcome.Relocated {
		outcome.Reason = ReasonRelocationFailed
	}
	log.Info("处理完成", "bytes", size)
	return outcome
}

// mediaPending 判断描述文件是否仍在宽限期内。
func (c *Cycle) mediaPending(descriptor string) bool {
	if c.opts.MediaGracePeriod <= 0 {
		return false
	}
	info, err := c.fs.Stat(descriptor)
	if err != nil {
		return false
	}
	return c.Now().Sub(info.ModTime()) < c.opts.MediaGracePeriod
}

// relocate 依次移动 names 到 dir，全部确认成功时返回 true。
func (c *Cycle) relocate(dir string, names ...string) bool {
	ok := true
	for _, name := range names {
		if !c.Relocator.Relocate(name, path.Join(dir, name)) {
			c.Observer.RelocationFailed()
			ok = false
		}
	}
	return ok
}

func (c *Cycle) record(ctx context.Context, outcome Outcome) {
	c.Observer.PairProcessed(string(outcome.Status), string(outcome.Reason))

	if outcome.Status == StatusAborted {
		if prev, ok := c.aborted[outcome.Descriptor]; ok && prev == outcome.Reason {
			return
		}
		c.aborted[outcome.Descriptor] = outcome.Reason
	} else {
		delete(c.aborted, outcome.Descriptor)
	}

	if c.Journal == nil {
		return
	}
	if err := c.Journal.Record(context.WithoutCancel(ctx), outcome); err != nil {
		c.logger.Warn("记录处理结果失败", "descriptor", outcome.Descriptor, "error", err)
	}
}

// forgetAborted 丢弃已不在根目录中的描述文件的中止记录。
func (c *Cycle) forgetAborted(names []string) {
	if len(c.aborted) == 0 {
		return
	}
	present := make(map[string]struct{}, len(names))
	for _, name := range names {
		present[name] = struct{}{}
	}
	for name := range c.aborted {
		if _, ok := present[name]; !ok {
			delete(c.aborted, name)
		}
	}
}

func closeStore(store storage.Storage, logger *slog.Logger) {
	closer, ok := store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("关闭存储连接失败", "error", err)
	}
}

type nopObserver struct{}

func (nopObserver) PairProcessed(string, string)         {}
func (nopObserver) BytesUploaded(int64)                  {}
func (nopObserver) RelocationFailed()                    {}
func (nopObserver) CycleCompleted(string, time.Duration) {}
