// Package httpapi is the local HTTP surface of the agent: a thin JSON API
// over the race controller, the tracker, the roster and the session, plus a
// websocket stream of race snapshots for UI bindings.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/stuartshay/treasurio/internal/errors"
)

// Error codes of API error responses
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "PERMISSION_DENIED"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeRejected     = "REJECTED"
	ErrCodeUpstream     = "UPSTREAM_UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_SERVER_ERROR"
)

// APIError is an error with an HTTP status and an error code
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// BadRequest creates a 400 error
func BadRequest(message string) *APIError {
	return &APIError{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: message}
}

// ToAPIError maps an error kind to its HTTP status
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	msg := apperrors.Message(err)
	switch apperrors.KindOf(err) {
	case apperrors.KindNotFound:
		return &APIError{Status: http.StatusNotFound, Code: ErrCodeNotFound, Message: msg}
	case apperrors.KindInvalidInput:
		return &APIError{Status: http.StatusBadRequest, Code: ErrCodeBadRequest, Message: msg}
	case apperrors.KindPermission:
		return &APIError{Status: http.StatusForbidden, Code: ErrCodeForbidden, Message: msg}
	case apperrors.KindConflict:
		return &APIError{Status: http.StatusConflict, Code: ErrCodeConflict, Message: msg}
	case apperrors.KindRejected:
		return &APIError{Status: http.StatusUnprocessableEntity, Code: ErrCodeRejected, Message: msg}
	case apperrors.KindNetwork:
		return &APIError{Status: http.StatusBadGateway, Code: ErrCodeUpstream, Message: msg}
	default:
		log.Error().Err(err).Msg("Internal error")
		return &APIError{Status: http.StatusInternalServerError, Code: ErrCodeInternal, Message: "internal server error"}
	}
}

// respondJSON writes a JSON response with the given status code
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

func respondOK(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, data)
}

func respondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func respondError(w http.ResponseWriter, err error) {
	apiErr := ToAPIError(err)
	respondJSON(w, apiErr.Status, apiErr)
}

// decodeJSON decodes the request body into target
func decodeJSON(r *http.Request, target interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return BadRequest("request body is empty")
		}
		return BadRequest("invalid JSON: " + err.Error())
	}
	return nil
}

// parseIntParam extracts and parses an integer URL parameter
func parseIntParam(r *http.Request, name string) (int, error) {
	param := chi.URLParam(r, name)
	if param == "" {
		return 0, BadRequest("missing " + name + " parameter")
	}
	id, err := strconv.Atoi(param)
	if err != nil {
		return 0, BadRequest("invalid " + name + " parameter")
	}
	return id, nil
}

// parseLimit reads the optional limit query parameter
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, BadRequest("invalid limit parameter")
	}
	return n, nil
}

func logRequest(r *http.Request, status int, elapsed time.Duration) {
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Dur("elapsed", elapsed).
		Msg("HTTP request")
}
