package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kbuck1/navilink/internal/navilink"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnsupported  = "unsupported"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeTimeout      = "timeout"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeSessionError maps a navilink error to a response.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, navilink.ErrUnknownDevice):
		writeNotFound(w, "device not found")
	case errors.Is(err, navilink.ErrUnsupported):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeUnsupported, err.Error())
	case errors.Is(err, navilink.ErrResponseTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "gateway did not answer in time")
	case errors.Is(err, navilink.ErrNotConnected),
		errors.Is(err, navilink.ErrDisconnected),
		errors.Is(err, navilink.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "navilink session is not connected")
	default:
		writeInternalError(w, "command failed")
	}
}
