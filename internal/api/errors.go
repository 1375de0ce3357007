package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// ErrorCode is a stable, machine-readable API error classifier.
type ErrorCode string

const (
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeConflict        ErrorCode = "CONFLICT"
	CodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// APIError is the envelope every non-2xx response body uses
// (SPEC_FULL.md §4.12).
type APIError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	RequestID string    `json:"requestId,omitempty"`
	Timestamp string    `json:"timestamp"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func newAPIError(code ErrorCode, message string) APIError {
	return APIError{Code: code, Message: message, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

func (e APIError) statusCode() int {
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, apiErr APIError) {
	apiErr.RequestID = requestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.statusCode())
	_ = json.NewEncoder(w).Encode(errorResponse{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// engineErrorToAPIError maps the three engine.ErrorKind values onto the
// API's error envelope (SPEC_FULL.md §7).
func engineErrorToAPIError(err error) APIError {
	kind, ok := core.KindOf(err)
	if !ok {
		return newAPIError(CodeInternalError, err.Error())
	}
	switch kind {
	case core.InvalidArgument:
		return newAPIError(CodeValidationError, err.Error())
	case core.QuotaExceeded:
		return newAPIError(CodeRateLimitExceeded, err.Error())
	case core.StateConflict:
		return newAPIError(CodeConflict, err.Error())
	default:
		return newAPIError(CodeInternalError, err.Error())
	}
}
