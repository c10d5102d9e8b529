package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Notifier 监听被监控目录，描述文件出现时唤醒 Loop。
// 它只是加速手段，轮询仍是唯一可靠的发现途径。
type Notifier struct {
	root     string
	suffix   string
	debounce time.Duration
	logger   *slog.Logger
	wake     chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

func NewNotifier(root, extension string, logger *slog.Logger) *Notifier {
	return &Notifier{
		root:     root,
		suffix:   "." + strings.TrimPrefix(extension, "."),
		debounce: defaultDebounce,
		logger:   logger,
		wake:     make(chan struct{}, 1),
	}
}

// Wake 返回唤醒信号通道，容量为 1，多次事件会合并。
func (n *Notifier) Wake() <-chan struct{} {
	return n.wake
}

// Run 阻塞直到 ctx 取消。
func (n *Notifier) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(n.root); err != nil {
		return fmt.Errorf("watch %s: %w", n.root, err)
	}
	defer n.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if n.relevant(ev) {
				n.schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			n.logger.Warn("目录监听出错", "error", err)
		}
	}
}

func (n *Notifier) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	return strings.HasSuffix(filepath.Base(ev.Name), n.suffix)
}

// schedule 在最后一次事件 debounce 之后发出唤醒信号。
func (n *Notifier) schedule() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer == nil {
		n.timer = time.AfterFunc(n.debounce, n.signal)
		return
	}
	n.timer.Reset(n.debounce)
}

func (n *Notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Notifier) stopTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
	}
}
