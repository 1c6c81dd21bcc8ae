package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
)

// ErrorHandler maps errors to HTTP statuses and wire codes. Domain errors
// carry their own status; everything else gets classified here.
type ErrorHandler struct {
	debugMode bool
}

// NewErrorHandler creates an error handler
func NewErrorHandler(debugMode bool) *ErrorHandler {
	return &ErrorHandler{debugMode: debugMode}
}

// ValidationError reports field-level request validation failures
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// asValidationError returns the ValidationError in err's chain, or nil
func asValidationError(err error) *ValidationError {
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ve
	}
	return nil
}

// HandleError determines the status, wire code, message and details for
// an error. errors.As walks the chain itself, so a wrapped AppError keeps
// its status even when a cause sits below it.
func (h *ErrorHandler) HandleError(err error) (int, string, string, map[string]interface{}) {
	if err == nil {
		return http.StatusOK, "", "", nil
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		details := appErr.Details
		if h.debugMode && appErr.Cause != nil {
			if details == nil {
				details = make(map[string]interface{})
			}
			details["cause"] = appErr.Cause.Error()
		}
		return appErr.StatusCode, appErr.Code, appErr.Message, details
	}

	if ve := asValidationError(err); ve != nil {
		return http.StatusBadRequest, "VALIDATION_ERROR", ve.Message, nil
	}

	if stderrors.Is(err, context.Canceled) {
		return http.StatusRequestTimeout, "REQUEST_CANCELED", "Request was canceled", nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "REQUEST_TIMEOUT", "Request timed out", nil
	}

	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return http.StatusBadRequest, "INVALID_JSON",
			"Request body is not valid JSON",
			map[string]interface{}{"offset": syntaxErr.Offset}
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		return http.StatusBadRequest, "INVALID_JSON",
			"Request body ended mid-document", nil
	}

	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &typeErr) {
		return http.StatusBadRequest, "TYPE_MISMATCH",
			fmt.Sprintf("Invalid type for field %q", typeErr.Field),
			map[string]interface{}{
				"field":    typeErr.Field,
				"expected": typeErr.Type.String(),
			}
	}

	var maxBytesErr *http.MaxBytesError
	if stderrors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
			"Request body exceeds the size limit",
			map[string]interface{}{"limit_bytes": maxBytesErr.Limit}
	}

	if isNetworkError(err) {
		return http.StatusBadGateway, "UPSTREAM_ERROR",
			"An upstream dependency failed", nil
	}

	var details map[string]interface{}
	if h.debugMode {
		details = map[string]interface{}{"error": err.Error()}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR",
		"An internal error occurred", details
}

// HandlePanic turns a recovered panic into a response triple
func (h *ErrorHandler) HandlePanic(recovered interface{}) (int, string, string) {
	if h.debugMode {
		return http.StatusInternalServerError, "PANIC",
			fmt.Sprintf("Handler panicked: %v", recovered)
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR",
		"An internal error occurred"
}

// IsRetryable reports whether the caller should retry the request
func (h *ErrorHandler) IsRetryable(err error) bool {
	return errors.IsRetryable(err)
}

// SuggestRetryAfter returns how long the caller should wait, or zero when
// a retry hint makes no sense.
func (h *ErrorHandler) SuggestRetryAfter(err error) time.Duration {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		return 0
	}
	switch {
	case appErr.Code == "RATE_LIMIT_EXCEEDED":
		return 30 * time.Second
	case appErr.StatusCode == http.StatusServiceUnavailable:
		return 10 * time.Second
	case appErr.Retryable:
		return 5 * time.Second
	}
	return 0
}

// isNetworkError recognizes transport failures by message shape
func isNetworkError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"broken pipe",
		"i/o timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
