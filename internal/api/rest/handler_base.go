package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/davidleathers/agent-trust-ledger/internal/domain/signal"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/trail"
	"github.com/davidleathers/agent-trust-ledger/internal/domain/values"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	contextKeyRequestMeta contextKey = "request_meta"
	contextKeyUserID      contextKey = "user_id"
	contextKeyScopes      contextKey = "scopes"
	contextKeySessionID   contextKey = "session_id"
)

// RequestMeta carries per-request bookkeeping through the context
type RequestMeta struct {
	RequestID string
	StartTime time.Time
	Method    string
	Path      string
}

// BaseHandler provides decoding, validation and response writing shared by
// every endpoint. Handlers embed it and return plain values; the wrapper
// owns the envelope.
type BaseHandler struct {
	validator    *validator.Validate
	errorHandler *ErrorHandler
	apiVersion   string

	// When false the user-presence check in WrapHandler is skipped, so
	// development setups work without tokens.
	authEnabled bool
}

// NewBaseHandler creates a base handler with the ledger's value-format
// validators registered.
func NewBaseHandler(version string, authEnabled, debugMode bool) *BaseHandler {
	v := validator.New()

	// report failures under the json names clients actually sent
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("context_type", validateContextType)
	v.RegisterValidation("autonomy_level", validateAutonomyLevel)
	v.RegisterValidation("compliance_status", validateComplianceStatus)
	v.RegisterValidation("emotional_axis", validateEmotionalAxis)
	v.RegisterValidation("chain_hash", validateChainHash)

	return &BaseHandler{
		validator:    v,
		errorHandler: NewErrorHandler(debugMode),
		apiVersion:   version,
		authEnabled:  authEnabled,
	}
}

func validateContextType(fl validator.FieldLevel) bool {
	return trail.ContextType(fl.Field().String()).IsValid()
}

func validateAutonomyLevel(fl validator.FieldLevel) bool {
	return trail.AutonomyLevel(fl.Field().String()).IsValid()
}

func validateComplianceStatus(fl validator.FieldLevel) bool {
	switch trail.ComplianceStatus(fl.Field().String()) {
	case trail.ComplianceCompliant, trail.ComplianceWarning, trail.ComplianceViolation:
		return true
	}
	return false
}

func validateEmotionalAxis(fl validator.FieldLevel) bool {
	return signal.Axis(fl.Field().String()).IsValid()
}

func validateChainHash(fl validator.FieldLevel) bool {
	_, err := values.NewHashValue(fl.Field().String())
	return err == nil
}

// HandlerFunc is the signature endpoint logic implements. It returns the
// response payload; the wrapper envelopes it and maps errors to statuses.
type HandlerFunc func(ctx context.Context, r *http.Request) (interface{}, error)

// handlerConfig holds per-route options
type handlerConfig struct {
	MaxBodySize int64
	Timeout     time.Duration
	RequireAuth bool
	CacheTTL    time.Duration
}

// HandlerOption configures handler behavior
type HandlerOption func(*handlerConfig)

// WithMaxBodySize sets the request body size limit
func WithMaxBodySize(size int64) HandlerOption {
	return func(c *handlerConfig) { c.MaxBodySize = size }
}

// WithTimeout sets the handler deadline
func WithTimeout(d time.Duration) HandlerOption {
	return func(c *handlerConfig) { c.Timeout = d }
}

// WithoutAuth marks a route as public
func WithoutAuth() HandlerOption {
	return func(c *handlerConfig) { c.RequireAuth = false }
}

// WithCache sets a private Cache-Control max-age on successful responses
func WithCache(ttl time.Duration) HandlerOption {
	return func(c *handlerConfig) { c.CacheTTL = ttl }
}

// statusCoder lets a response payload pick its own HTTP status
type statusCoder interface {
	StatusCode() int
}

// WrapHandler turns endpoint logic into an http.HandlerFunc with body
// limits, deadline, auth presence check and envelope writing applied.
func (h *BaseHandler) WrapHandler(handler HandlerFunc, opts ...HandlerOption) http.HandlerFunc {
	cfg := &handlerConfig{
		MaxBodySize: 1 << 20, // 1MB
		Timeout:     30 * time.Second,
		RequireAuth: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		if cfg.MaxBodySize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxBodySize)
		}

		if cfg.RequireAuth && h.authEnabled {
			if _, err := getUserFromContext(ctx); err != nil {
				h.WriteError(w, r, err)
				return
			}
		}

		result, err := handler(ctx, r)
		if err != nil {
			h.WriteError(w, r, err)
			return
		}

		if cfg.CacheTTL > 0 {
			w.Header().Set("Cache-Control",
				fmt.Sprintf("private, max-age=%d", int(cfg.CacheTTL.Seconds())))
		}

		status := http.StatusOK
		if sc, ok := result.(statusCoder); ok {
			status = sc.StatusCode()
		}
		h.WriteResponse(w, r, status, result)
	}
}

// ParseJSON decodes the request body into v and validates it. Validation
// failures come back as field-keyed ValidationErrors.
func (h *BaseHandler) ParseJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return &ValidationError{Message: "Request body is required"}
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// the decoder reports an empty body as a bare EOF
		if stderrors.Is(err, io.EOF) && !stderrors.Is(err, io.ErrUnexpectedEOF) {
			return &ValidationError{Message: "Request body is required"}
		}
		return err
	}
	return h.Validate(v)
}

// Validate runs struct validation and converts failures to a ValidationError
func (h *BaseHandler) Validate(v interface{}) error {
	err := h.validator.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err
	}

	fields := make(map[string][]string)
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		fields[field] = append(fields[field], formatValidationError(fe))
	}
	return &ValidationError{
		Message: "Request validation failed",
		Fields:  fields,
	}
}

// formatValidationError renders one field failure as a readable message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "context_type":
		return "must be one of single_agent, multi_agent, other"
	case "autonomy_level":
		return "must be one of supervised, semi_autonomous, autonomous"
	case "compliance_status":
		return "must be one of compliant, warning, violation"
	case "emotional_axis":
		return "must name a telemetry axis"
	case "chain_hash":
		return "must be a 64-character hex digest"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// WriteResponse writes a success envelope
func (h *BaseHandler) WriteResponse(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	envelope := ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta:    h.responseMeta(r),
	}
	writeJSON(w, status, envelope)
}

// WriteError maps err to a status and writes an error envelope
func (h *BaseHandler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := h.errorHandler.HandleError(err)

	resp := &ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
	if ve := asValidationError(err); ve != nil {
		resp.Fields = ve.Fields
	}
	if retryAfter := h.errorHandler.SuggestRetryAfter(err); retryAfter > 0 {
		resp.RetryAfter = int(retryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", resp.RetryAfter))
	}
	if meta := getRequestMeta(r.Context()); meta != nil {
		resp.TraceID = meta.RequestID
	}

	envelope := ResponseEnvelope{
		Success: false,
		Error:   resp,
		Meta:    h.responseMeta(r),
	}
	writeJSON(w, status, envelope)
}

func (h *BaseHandler) responseMeta(r *http.Request) *ResponseMeta {
	meta := &ResponseMeta{
		Timestamp: time.Now().UTC(),
		Version:   h.apiVersion,
	}
	if rm := getRequestMeta(r.Context()); rm != nil {
		meta.RequestID = rm.RequestID
		meta.ResponseTime = time.Since(rm.StartTime).String()
	}
	if meta.RequestID == "" {
		meta.RequestID = uuid.New().String()
	}
	return meta
}

// writeJSON writes v with the standard headers. Escaping stays off so
// entry text survives round trips unmangled.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.Encode(v)
}
