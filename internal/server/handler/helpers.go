// Package handler implements the read-only JSON API over the running core.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/arbcore/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseLimit reads ?limit, defaulting to def and capping at max.
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, max)
}

// pairParam reads a pair from the path. Both "ETH/USD" (matched with a
// trailing wildcard) and "ETH-USD" are accepted.
func pairParam(r *http.Request) string {
	p := strings.ReplaceAll(r.PathValue("pair"), "-", "/")
	return domain.NormalizePair(p)
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
