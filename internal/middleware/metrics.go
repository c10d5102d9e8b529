package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics 收集状态接口的请求指标。
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	size     *prometheus.HistogramVec
}

// NewHTTPMetrics 创建指标并注册到 reg；reg 为 nil 时使用默认注册表。
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dropwatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of status API requests",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dropwatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		}, []string{"method", "path"}),
		size: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dropwatch",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Status API response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path"}),
	}
	reg.MustRegister(m.requests, m.duration, m.size)
	return m
}

// Handler 记录每个请求的状态码、耗时与响应大小。m 为 nil 时不做任何记录。
func (m *HTTPMetrics) Handler(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := routePattern(r)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rw.status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.size.WithLabelValues(r.Method, route).Observe(float64(rw.bytes))
	})
}

// routePattern 使用路由模式而非实际路径，避免 /ingests/{id} 产生高基数。
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.RoutePattern() == "" {
		return "unmatched"
	}
	return rctx.RoutePattern()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
