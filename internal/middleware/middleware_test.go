package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAPIKeyAuth(t *testing.T) {
	handler := APIKeyAuth([]string{" secret ", ""})(okHandler)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Bearer secret", http.StatusUnauthorized},
		{"empty key", "ApiKey   ", http.StatusUnauthorized},
		{"wrong key", "ApiKey nope", http.StatusUnauthorized},
		{"valid", "ApiKey secret", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ingests", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAPIKeyAuth_NoKeysDisablesCheck(t *testing.T) {
	rec := httptest.NewRecorder()
	APIKeyAuth(nil)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_BlocksAfterMax(t *testing.T) {
	handler := RateLimit(2, time.Minute)(okHandler)

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ingests", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header().Get("Retry-After"))

	other := httptest.NewRequest(http.MethodGet, "/ingests", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestWindowLimiter_WindowExpires(t *testing.T) {
	l := newWindowLimiter(1, time.Second)
	now := time.Now()

	assert.True(t, l.take("a", now).allowed)
	assert.False(t, l.take("a", now.Add(500*time.Millisecond)).allowed)
	assert.True(t, l.take("a", now.Add(2*time.Second)).allowed)
}

func TestWindowLimiter_SweepsExpired(t *testing.T) {
	l := newWindowLimiter(5, time.Second)
	now := time.Now()

	l.take("a", now)
	l.take("b", now)
	l.take("c", now.Add(3*time.Second))

	assert.Len(t, l.buckets, 1)
}

func TestHTTPMetrics_RecordsRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.Handler)
	r.Get("/ingests/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ingests/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/ingests/{id}", "404")))
}

func TestHTTPMetrics_NilIsPassthrough(t *testing.T) {
	var m *HTTPMetrics
	rec := httptest.NewRecorder()
	m.Handler(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
