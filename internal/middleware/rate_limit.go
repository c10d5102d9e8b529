package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimit 对每个来源地址做固定窗口限流，并通过 X-RateLimit-* 头告知剩余额度。
// 来源取 RemoteAddr，路由上的 RealIP 中间件负责从代理头还原真实地址。
func RateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	if limit <= 0 || window <= 0 {
		return passthrough
	}

	limiter := newWindowLimiter(limit, window)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := limiter.take(remoteHost(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(q.remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(q.reset.Unix(), 10))

			if !q.allowed {
				retry := int(time.Until(q.reset).Round(time.Second).Seconds())
				h.Set("Retry-After", strconv.Itoa(max(retry, 1)))
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}

// quota 是一次 take 的结果。
type quota struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type bucket struct {
	used  int
	reset time.Time
}

// windowLimiter 按 key 维护固定窗口计数，过期条目每个窗口最多清理一次。
type windowLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	buckets   map[string]*bucket
	nextSweep time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{limit: limit, window: window, buckets: make(map[string]*bucket)}
}

func (l *windowLimiter) take(key string, now time.Time) quota {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextSweep) {
		for k, b := range l.buckets {
			if !now.Before(b.reset) {
				delete(l.buckets, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.reset) {
		b = &bucket{reset: now.Add(l.window)}
		l.buckets[key] = b
	}

	if b.used >= l.limit {
		return quota{remaining: 0, reset: b.reset}
	}
	b.used++
	return quota{allowed: true, remaining: l.limit - b.used, reset: b.reset}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
