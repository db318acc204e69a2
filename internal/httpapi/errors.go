package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/store"
)

// APIError is the JSON body of every non-2xx response, grounded on the
// teacher's internal/controlplane/server/errors.go shape.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Error: message, Code: code})
}

// writeStoreError translates a store.Kind into the HTTP status spec.md §7
// mandates and logs unexpected (internal/transient) errors at error level.
func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch store.ErrorKind(err) {
	case store.KindNotFound:
		writeJSONError(w, http.StatusNotFound, "not_found", "resource not found")
	case store.KindUnauthorized:
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	case store.KindForbidden:
		writeJSONError(w, http.StatusForbidden, "forbidden", "not permitted")
	case store.KindConflict:
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case store.KindInvalid:
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid", err.Error())
	case store.KindTransient:
		s.logger.Error(op+" transient failure", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "transient", "temporarily unavailable, retry")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusBadRequest, "bad_request", message)
}

func unauthorized(w http.ResponseWriter) {
	writeJSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
}

func forbidden(w http.ResponseWriter) {
	writeJSONError(w, http.StatusForbidden, "forbidden", "not permitted")
}
