package api

import (
	"errors"
	"net/http"

	"dropwatch/internal/repository"
	"dropwatch/internal/service"

	"github.com/go-chi/chi/v5"
)

// IngestHandler 提供上传日志的只读 HTTP 端点。
type IngestHandler struct {
	service *service.IngestService
}

func NewIngestHandler(s *service.IngestService) *IngestHandler {
	return &IngestHandler{service: s}
}

func (h *IngestHandler) RegisterRoutes(r chi.Router) {
	r.Route("/ingests", func(r chi.Router) {
		r.Get("/", h.ListIngests)
		r.Get("/stats", h.Stats)
		r.Get("/{id}", h.GetIngest)
	})
}

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// ListIngests 返回上传日志，支持 status、descriptor、limit、offset 查询参数。
func (h *IngestHandler) ListIngests(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	params, err := parseListParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.service.ListIngests(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []repository.IngestRecord{}
	}

	writeJSON(w, http.StatusOK, envelope{Data: records})
}

// GetIngest 返回单条记录。
func (h *IngestHandler) GetIngest(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "ingest id is required")
		return
	}

	record, err := h.service.GetIngest(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ingest not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: record})
}

// Stats 返回各终态的累计数量。
func (h *IngestHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	counts, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, envelope{Data: counts})
}
