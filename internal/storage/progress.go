package storage

import "sync"

// ProgressFunc 接收累计传输字节数与总字节数。
type ProgressFunc func(transferred, total int64)

// ProgressCounter 是并发安全的字节计数器。
// 传输库可能在自己的 goroutine 中回调，计数与通知都在互斥区内完成。
type ProgressCounter struct {
	mu          sync.Mutex
	transferred int64
	total       int64
	notify      ProgressFunc
}

// NewProgressCounter 创建计数器，notify 可以为 nil。
func NewProgressCounter(total int64, notify ProgressFunc) *ProgressCounter {
	return &ProgressCounter{total: total, notify: notify}
}

// Add 记录新传输的 n 个字节。
func (p *ProgressCounter) Add(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transferred += n
	if p.notify != nil {
		p.notify(p.transferred, p.total)
	}
}

// Set 用驱动报告的绝对值覆盖计数（GCS 的 ProgressFunc 报告的是累计值）。
func (p *ProgressCounter) Set(transferred int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if transferred <= p.transferred {
		return
	}
	p.transferred = transferred
	if p.notify != nil {
		p.notify(p.transferred, p.total)
	}
}

// Read 让计数器可以作为 minio-go 的 Progress reader 使用：
// minio-go 每发送一段数据就以对应长度的缓冲区调用一次 Read。
func (p *ProgressCounter) Read(b []byte) (int, error) {
	p.Add(int64(len(b)))
	return len(b), nil
}

// Reset 在重试（例如 SDK 回绕 body）时清零计数。
func (p *ProgressCounter) Reset() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.transferred = 0
	p.mu.Unlock()
}

// Transferred 返回当前累计字节数。
func (p *ProgressCounter) Transferred() int64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transferred
}

// Total 返回总字节数。
func (p *ProgressCounter) Total() int64 {
	if p == nil {
		return 0
	}
	return p.total
}
