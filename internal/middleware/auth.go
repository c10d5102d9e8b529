package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// APIKeyAuth 创建 API Key 鉴权中间件。keys 为空时不做任何检查。
// 期望请求头格式：Authorization: ApiKey <token>
func APIKeyAuth(validKeys []string) func(http.Handler) http.Handler {
	keys := make([][]byte, 0, len(validKeys))
	for _, key := range validKeys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			keys = append(keys, []byte(trimmed))
		}
	}
	if len(keys) == 0 {
		return passthrough
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing Authorization header")
				return
			}

			const prefix = "ApiKey "
			if !strings.HasPrefix(authHeader, prefix) {
				writeAuthError(w, "invalid Authorization format, expected: ApiKey <token>")
				return
			}

			apiKey := []byte(strings.TrimSpace(strings.TrimPrefix(authHeader, prefix)))
			if len(apiKey) == 0 {
				writeAuthError(w, "empty API key")
				return
			}

			if !matchesAny(keys, apiKey) {
				writeAuthError(w, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func matchesAny(keys [][]byte, candidate []byte) bool {
	matched := 0
	for _, key := range keys {
		matched |= subtle.ConstantTimeCompare(key, candidate)
	}
	return matched == 1
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `ApiKey realm="dropwatch"`)
	writeJSONError(w, http.StatusUnauthorized, message)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
