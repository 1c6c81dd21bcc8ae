package rest

import (
	"net/http"
	"time"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/safety"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/service/ledger"
)

// ResponseEnvelope wraps every API response
type ResponseEnvelope struct {
	Success bool              `json:"success"`
	Data    interface{}       `json:"data,omitempty"`
	Error   *ErrorResponse    `json:"error,omitempty"`
	Meta    *ResponseMeta     `json:"meta,omitempty"`
	Links   map[string]string `json:"_links,omitempty"`
}

// ResponseMeta carries request bookkeeping back to the caller
type ResponseMeta struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	Version      string    `json:"version"`
	ResponseTime string    `json:"response_time,omitempty"`
}

// ErrorResponse is the error payload inside a failed envelope
type ErrorResponse struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Fields     map[string][]string    `json:"fields,omitempty"`
	TraceID    string                 `json:"trace_id,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"`
}

// RecordAcceptedResponse acknowledges an async record submission. The
// entry itself materializes once a worker drains the queue.
type RecordAcceptedResponse struct {
	Status        string `json:"status"`
	AgentID       string `json:"agent_id"`
	InteractionID string `json:"interaction_id"`
}

// StatusCode reports 202 so the wrapper signals deferred processing
func (RecordAcceptedResponse) StatusCode() int { return http.StatusAccepted }

// RecordedResponse returns the sealed entry with its gate verdict
type RecordedResponse struct {
	Entry  *trail.Entry    `json:"entry"`
	Safety safety.Decision `json:"safety"`
}

// StatusCode reports 201 since a chain row now exists
func (RecordedResponse) StatusCode() int { return http.StatusCreated }

// EntryListResponse returns history or search results
type EntryListResponse struct {
	Entries []*trail.Entry `json:"entries"`
	Count   int            `json:"count"`
}

// SafetyCheckResponse returns the gate verdict for a standalone check
type SafetyCheckResponse struct {
	Decision safety.Decision `json:"decision"`
}

// StatsResponse reports service counters and store health
type StatsResponse struct {
	Ledger   ledger.Stats  `json:"ledger"`
	Database DatabaseStats `json:"database"`
	Uptime   string        `json:"uptime"`
}

// DatabaseStats summarizes the connection pool
type DatabaseStats struct {
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	IdleConnections   int64 `json:"idle_connections"`
}
