package api

import (
	"net/http"

	"dropwatch/internal/config"
	dwmiddleware "dropwatch/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter 构建状态接口的 HTTP 路由。httpMetrics 为 nil 时不记录请求指标。
func NewRouter(cfg *config.Config, ingestHandler *IngestHandler, httpMetrics *dwmiddleware.HTTPMetrics) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(dwmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(httpMetrics.Handler)

	// 健康检查与指标不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	if ingestHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(dwmiddleware.APIKeyAuth(cfg.APIKeys))
			ingestHandler.RegisterRoutes(r)
		})
	}

	return r
}
