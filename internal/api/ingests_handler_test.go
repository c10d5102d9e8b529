package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dropwatch/internal/config"
	"dropwatch/internal/ingest"
	dwmiddleware "dropwatch/internal/middleware"
	"dropwatch/internal/repository"
	"dropwatch/internal/repository/memory"
	"dropwatch/internal/service"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestRouter(t *testing.T, apiKeys []string) (http.Handler, *memory.IngestRepository) {
	t.Helper()
	repo := memory.NewIngestRepository(10)
	svc := service.NewIngestService(repo)

	outcomes := []ingest.Outcome{
		{Descriptor: "img1.json", Media: "img1.jpg", Key: "img1.jpg", Status: ingest.StatusDone, Size: 5, Relocated: true},
		{Descriptor: "img2.json", Media: "img2.jpg", Status: ingest.StatusError, Reason: ingest.ReasonMediaMissing},
	}
	for _, o := range outcomes {
		if err := svc.Record(context.Background(), o); err != nil {
			t.Fatalf("seed outcome: %v", err)
		}
	}

	cfg := &config.Config{APIKeys: apiKeys, RateLimitRequests: 100, RateLimitWindow: time.Minute}
	return NewRouter(cfg, NewIngestHandler(svc), dwmiddleware.NewHTTPMetrics(prometheus.NewRegistry())), repo
}

func TestIngestHandler_List(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/ingests?status=error", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Data []repository.IngestRecord `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != 1 {
		t.Fatalf("expected 1 record, got %d", len(body.Data))
	}
	if body.Data[0].Reason != "media-missing" {
		t.Fatalf("unexpected reason: %s", body.Data[0].Reason)
	}
}

func TestIngestHandler_ListRejectsBadParams(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	for _, target := range []string{"/ingests?status=lost", "/ingests?limit=-1", "/ingests?offset=abc"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rec.Code)
		}
	}
}

func TestIngestHandler_Get(t *testing.T) {
	router, repo := newTestRouter(t, nil)

	records, err := repo.List(context.Background(), repository.ListIngestsParams{Descriptor: "img1.json"})
	if err != nil || len(records) != 1 {
		t.Fatalf("seeded record missing: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingests/"+records[0].ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingests/00000000-0000-0000-0000-000000000000", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestIngestHandler_Stats(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingests/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var body struct {
		Data map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data["done"] != 1 || body.Data["error"] != 1 {
		t.Fatalf("unexpected stats: %v", body.Data)
	}
}

func TestRouter_AuthProtectsIngestsOnly(t *testing.T) {
	router, _ := newTestRouter(t, []string{"secret"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingests", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/ingests", nil)
	req.Header.Set("Authorization", "ApiKey secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}
}
