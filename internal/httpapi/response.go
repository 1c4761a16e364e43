package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/paulgrammer/surveyd/internal/jobs"
	"github.com/paulgrammer/surveyd/internal/storage"
	"github.com/paulgrammer/surveyd/internal/survey"
)

// respondWithJSON writes the given payload as JSON with the provided status code.
// If encoding fails, it falls back to http.Error.
func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

// respondWithError writes a standardized JSON error payload.
func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidDate),
		errors.Is(err, survey.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrInvalidMedia):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
