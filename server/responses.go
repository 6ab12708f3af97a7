package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-auth-lifecycle/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Storage failures
// are never reported as a negative answer.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrPrincipalNotFound):
		writeJSONError(w, "principal_not_found", "principal not found", http.StatusNotFound)
	case errors.Is(err, errors.ErrActiveSessionExists):
		writeJSONError(w, "active_session_exists", "principal already has an active session; retry with force", http.StatusConflict)
	case errors.Is(err, errors.ErrNoMatchingCredential):
		writeJSONError(w, "no_matching_credential", "no matching credential", http.StatusNotFound)
	case errors.Is(err, errors.ErrTransientTransport):
		writeJSONError(w, "upstream_unavailable", "credential issuer unavailable", http.StatusBadGateway)
	case errors.Is(err, errors.ErrStorage):
		writeJSONError(w, "storage_unavailable", "storage unavailable", http.StatusServiceUnavailable)
	default:
		writeJSONError(w, "internal_error", "internal server error", http.StatusInternalServerError)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
