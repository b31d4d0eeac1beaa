// Package requestctx carries the per-request identifiers and timing the
// server threads through the middleware chain, the worker pool and the
// SAPI bridge, adapting a generic config map into a single fixed
// request-scoped record.
package requestctx

import (
	"context"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	libctx "github.com/nabbar/fenrir/context"
)

// TLSSummary captures the negotiated TLS parameters for a connection, when
// present, for inclusion in access logs and $_SERVER-equivalent variables.
type TLSSummary struct {
	Version     string
	CipherSuite string
	ServerName  string
	ALPN        string
	HandshakeUs int64
}

// RequestContext is the per-request record threaded alongside the standard
// context.Context, holding the identifiers and metadata the SAPI bridge
// and access log need to observe.
type RequestContext struct {
	RequestID     string
	TraceID       string
	SpanID        string
	ParentSpanID  string
	ClientIP      string
	HTTPVersion   string
	TLS           *TLSSummary
	Start         time.Time
	Headers       http.Header
	scratch       libctx.Config[string]
}

type ctxKey struct{}
type tlsCtxKey struct{}

// WithTLSSummary attaches a negotiated TLS summary to ctx, so every request
// served over the connection it was accepted on can pick it up via New.
func WithTLSSummary(ctx context.Context, summary *TLSSummary) context.Context {
	return context.WithValue(ctx, tlsCtxKey{}, summary)
}

// TLSSummaryFromContext retrieves a summary attached by WithTLSSummary, if
// any.
func TLSSummaryFromContext(ctx context.Context) (*TLSSummary, bool) {
	s, ok := ctx.Value(tlsCtxKey{}).(*TLSSummary)
	return s, ok
}

// New builds a RequestContext for an inbound request, deriving the client
// IP from RemoteAddr and minting a fresh request id. TraceID/SpanID default
// to a new id each when no incoming trace-context header is present; callers
// populate those from request headers via WithTrace. TLS is populated from
// the summary the accept loop attached to the connection's context, when
// the connection was negotiated over TLS.
func New(r *http.Request) *RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	var tlsSummary *TLSSummary
	if s, ok := TLSSummaryFromContext(r.Context()); ok {
		tlsSummary = s
	}

	return &RequestContext{
		RequestID:   uuid.NewString(),
		TraceID:     newHexID(32),
		SpanID:      newHexID(16),
		ClientIP:    ip,
		HTTPVersion: r.Proto,
		TLS:         tlsSummary,
		Start:       time.Now(),
		Headers:     r.Header.Clone(),
		scratch:     libctx.New[string](nil),
	}
}

// WithTrace overrides the trace/span identifiers, used when an inbound
// traceparent header carries an upstream trace to continue.
func (rc *RequestContext) WithTrace(traceID, parentSpanID string) *RequestContext {
	if traceID != "" {
		rc.TraceID = traceID
	}
	rc.ParentSpanID = parentSpanID
	return rc
}

// Elapsed returns the time spent since the request started.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.Start)
}

// Set stores an arbitrary key/value pair for the lifetime of the request,
// used by middleware to pass data downstream (e.g. an authenticated user).
func (rc *RequestContext) Set(key string, value interface{}) {
	rc.scratch.Store(key, value)
}

// Get retrieves a value previously stored with Set.
func (rc *RequestContext) Get(key string) (interface{}, bool) {
	return rc.scratch.Load(key)
}

// Inject attaches rc to ctx for retrieval downstream via FromContext.
func Inject(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext retrieves the RequestContext injected by Inject, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}

// ParseTraceparent validates a W3C traceparent header value
// ("00-<32hex>-<16hex>-<2hex>") and returns the extracted trace id and
// parent span id. A syntactically invalid header (wrong field widths, bad
// version, all-zero trace/span id) is rejected so the caller falls back to
// minting a fresh trace id.
func ParseTraceparent(header string) (traceID, parentSpanID string, ok bool) {
	parts := strings.Split(header, "-")
	if len(parts) != 4 {
		return "", "", false
	}
	if parts[0] != "00" {
		return "", "", false
	}
	if len(parts[1]) != 32 || !isHex(parts[1]) || isAllZero(parts[1]) {
		return "", "", false
	}
	if len(parts[2]) != 16 || !isHex(parts[2]) || isAllZero(parts[2]) {
		return "", "", false
	}
	if len(parts[3]) != 2 || !isHex(parts[3]) {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func isAllZero(s string) bool {
	for _, c := range s {
		if c != '0' {
			return false
		}
	}
	return true
}

// newHexID returns n lowercase hex characters derived from random UUIDs,
// concatenating as many as needed since a single UUID yields 32 hex chars.
func newHexID(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(strings.ReplaceAll(uuid.NewString(), "-", ""))
	}
	return b.String()[:n]
}

// Traceparent formats the outbound W3C traceparent header for this
// request's trace/span identifiers.
func (rc *RequestContext) Traceparent() string {
	span := rc.SpanID
	if len(span) > 16 {
		span = span[:16]
	} else if len(span) < 16 {
		span = span + strings.Repeat("0", 16-len(span))
	}
	return "00-" + rc.TraceID + "-" + span + "-01"
}
