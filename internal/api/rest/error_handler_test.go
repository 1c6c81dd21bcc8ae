package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/errors"
)

func TestHandleError(t *testing.T) {
	h := NewErrorHandler(false)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "nil error",
			err:        nil,
			wantStatus: http.StatusOK,
			wantCode:   "",
		},
		{
			name:       "domain validation error",
			err:        errors.NewValidationError("BAD_FIELD", "field is wrong"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_FIELD",
		},
		{
			name:       "domain not found",
			err:        errors.ErrEntryNotFound,
			wantStatus: http.StatusNotFound,
			wantCode:   "RESOURCE_NOT_FOUND",
		},
		{
			name:       "wrapped domain error keeps its status",
			err:        fmt.Errorf("handling request: %w", errors.NewUnauthorizedError("no token")),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "request validation error",
			err:        &ValidationError{Message: "bad request"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "canceled context",
			err:        context.Canceled,
			wantStatus: http.StatusRequestTimeout,
			wantCode:   "REQUEST_CANCELED",
		},
		{
			name:       "deadline exceeded",
			err:        fmt.Errorf("query: %w", context.DeadlineExceeded),
			wantStatus: http.StatusRequestTimeout,
			wantCode:   "REQUEST_TIMEOUT",
		},
		{
			name:       "json syntax error",
			err:        jsonSyntaxError(t),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_JSON",
		},
		{
			name:       "truncated json",
			err:        jsonTruncatedError(t),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_JSON",
		},
		{
			name:       "type mismatch",
			err:        jsonTypeError(t),
			wantStatus: http.StatusBadRequest,
			wantCode:   "TYPE_MISMATCH",
		},
		{
			name:       "oversized body",
			err:        &http.MaxBytesError{Limit: 1024},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "BODY_TOO_LARGE",
		},
		{
			name:       "transport failure",
			err:        stderrors.New("dial tcp 10.0.0.5:5432: connection refused"),
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_ERROR",
		},
		{
			name:       "unknown error",
			err:        stderrors.New("something odd"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := h.HandleError(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func jsonSyntaxError(t *testing.T) error {
	t.Helper()
	var v map[string]any
	err := json.Unmarshal([]byte(`{"a": }`), &v)
	require.Error(t, err)
	return err
}

func jsonTruncatedError(t *testing.T) error {
	t.Helper()
	var v map[string]any
	err := json.NewDecoder(strings.NewReader(`{"a": "b"`)).Decode(&v)
	require.Error(t, err)
	return err
}

func jsonTypeError(t *testing.T) error {
	t.Helper()
	var v struct {
		Count int `json:"count"`
	}
	err := json.Unmarshal([]byte(`{"count": "many"}`), &v)
	require.Error(t, err)
	return err
}

func TestHandleErrorDebugDetails(t *testing.T) {
	cause := stderrors.New("pool exhausted")
	wrapped := errors.NewStorageError("append", cause)

	_, _, _, prodDetails := NewErrorHandler(false).HandleError(wrapped)
	assert.NotContains(t, prodDetails, "cause")

	_, _, _, debugDetails := NewErrorHandler(true).HandleError(wrapped)
	require.Contains(t, debugDetails, "cause")
	assert.Contains(t, debugDetails["cause"], "pool exhausted")
}

func TestSuggestRetryAfter(t *testing.T) {
	h := NewErrorHandler(false)

	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"rate limited", errors.NewRateLimitError("slow down"), 30 * time.Second},
		{"storage unavailable", errors.NewStorageError("append", stderrors.New("down")), 10 * time.Second},
		{"plain validation", errors.NewValidationError("X", "y"), 0},
		{"non-domain error", stderrors.New("whatever"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.SuggestRetryAfter(tt.err))
		})
	}
}

func TestHandlePanic(t *testing.T) {
	status, code, msg := NewErrorHandler(false).HandlePanic("boom")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", code)
	assert.NotContains(t, msg, "boom")

	_, code, msg = NewErrorHandler(true).HandlePanic("boom")
	assert.Equal(t, "PANIC", code)
	assert.Contains(t, msg, "boom")
}

func TestIsNetworkError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"dial tcp: connection refused", true},
		{"read tcp: connection reset by peer", true},
		{"lookup db.internal: no such host", true},
		{"write: broken pipe", true},
		{"read tcp: i/o timeout", true},
		{"record not found", false},
		{"invalid input", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, isNetworkError(stderrors.New(tt.msg)))
		})
	}
}
