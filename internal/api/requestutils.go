package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dropwatch/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: message})
}

func parseListParams(q url.Values) (repository.ListIngestsParams, error) {
	params := repository.ListIngestsParams{
		Descriptor: strings.TrimSpace(q.Get("descriptor")),
	}

	var err error
	if params.Limit, err = parseNonNegative(q, "limit"); err != nil {
		return params, err
	}
	if params.Offset, err = parseNonNegative(q, "offset"); err != nil {
		return params, err
	}

	statuses := q["status"]
	if len(statuses) == 1 && strings.Contains(statuses[0], ",") {
		statuses = strings.Split(statuses[0], ",")
	}
	for _, raw := range statuses {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		status := repository.IngestStatus(trimmed)
		switch status {
		case repository.IngestStatusDone, repository.IngestStatusError, repository.IngestStatusAborted:
			params.Statuses = append(params.Statuses, status)
		default:
			return params, fmt.Errorf("unknown status %q", trimmed)
		}
	}

	return params, nil
}

func parseNonNegative(q url.Values, key string) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return value, nil
}
