package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arremate/internal/common"
	"github.com/ternarybob/arremate/internal/queue"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteTaxonomyError maps an error from the failure taxonomy onto its
// HTTP status. Queue saturation and rate limits carry a Retry-After hint.
func WriteTaxonomyError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, queue.ErrQueueSaturated):
		w.Header().Set("Retry-After", "30")
		return WriteError(w, http.StatusServiceUnavailable, "processing queue is full, retry later")
	case errors.Is(err, common.ErrRateLimited):
		w.Header().Set("Retry-After", "10")
		return WriteError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, common.ErrValidation):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrNotFound):
		return WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		return WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, common.ErrAlreadyExists), errors.Is(err, common.ErrConflict):
		return WriteError(w, http.StatusConflict, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

// PathSegment returns the i-th segment of the request path after prefix,
// or "" when the path is too short. PathSegment("/jobs/j1/status",
// "/jobs/", 0) is "j1".
func PathSegment(path, prefix string, i int) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return ""
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}
