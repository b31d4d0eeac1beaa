// Package sapi defines the bridge contract between the front-end server
// and the embedded script interpreter, adapting a request-scoped
// logger.Entry-style object (handed down per call, output captured,
// headers finalized lazily) to the executor contract a PHP-style SAPI
// binding needs.
package sapi

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Request is the interpreter-facing view of an inbound HTTP request: method,
// URI, headers, the $_SERVER-equivalent variable set reqparse builds, and
// the request body.
type Request struct {
	Method      string
	URI         string
	QueryString string
	Headers     http.Header
	Server      map[string]string
	Cookies     map[string]string
	Body        io.Reader
	ScriptPath  string
	RemoteAddr  string

	// QueryPairs, PostPairs and CookiePairs carry the same data as
	// QueryString/Body/Cookies but as order-preserving key/value lists,
	// matching the ordered $_GET/$_POST/$_COOKIE arrays a script expects
	// (map iteration order is not guaranteed).
	QueryPairs  []Pair
	PostPairs   []Pair
	CookiePairs []Pair

	// Files holds one entry per stored multipart file part, populated when
	// the request's content type is multipart/form-data.
	Files []UploadedFile

	// Profile requests that the executor's Response carry timing
	// breakdown data, triggered by an inbound X-Profile: 1 header.
	Profile bool
}

// UploadedFile is one multipart file part stored to a temp file, the
// equivalent of PHP's $_FILES entry (original name, temp path, size, and an
// error code set when the part was rejected, e.g. for exceeding the
// per-part size limit).
type UploadedFile struct {
	FieldName string
	FileName  string
	TempPath  string
	Size      int64
	Error     int
}

// ProfileData is the timing breakdown captured while handling a profiled
// request, surfaced on Response when Request.Profile was set.
type ProfileData struct {
	HTTPVersion      string
	TLSHandshakeUs   int64
	TLSProtocol      string
	TLSALPN          string
	ParseRequestUs   int64
	HeadersExtractUs int64
	QueryParseUs     int64
	CookiesParseUs   int64
	BodyReadUs       int64
	BodyParseUs      int64
	ServerVarsUs     int64
	PathResolveUs    int64
	FileCheckUs      int64
}

// Pair is an ordered key/value entry; see internal/reqparse's query/cookie
// parsing functions for the rules that produce these (reqparse.Pair is an
// alias of this type).
type Pair struct {
	Key   string
	Value string
}

// Response accumulates what the script produced: status, headers and body,
// built incrementally through the Bridge callbacks below.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte

	// Profile carries the timing breakdown for this request when it was
	// requested via Request.Profile; nil otherwise.
	Profile *ProfileData
}

// Bridge is the callback surface an Executor invokes while a script runs,
// matching the sapi module's write-output/flush/send-headers/read-post/
// log-message contract.
type Bridge interface {
	// WriteOutput appends body bytes. Once streaming mode has been
	// activated via ActivateStreaming, writes are forwarded immediately
	// instead of being buffered.
	WriteOutput(p []byte) (int, error)
	// Flush pushes any buffered output to the client immediately.
	Flush() error
	// SendHeaders finalizes the status code and headers. It is a no-op
	// if called more than once.
	SendHeaders(status int, headers http.Header)
	// ActivateStreaming switches the response to chunked/SSE delivery;
	// subsequent WriteOutput calls bypass buffering.
	ActivateStreaming()
	// FinishRequest ends interpreter execution early while leaving the
	// connection open for any response bytes already flushed, matching
	// the original's "finish_request" early-finish semantics.
	FinishRequest()
	// LogMessage records a diagnostic line through the server's
	// structured logger, tagged with the request's identifiers.
	LogMessage(level string, message string)
	// Heartbeat extends the worker pool's timeout for this request,
	// signaling the script is still making progress (e.g. during a long
	// upstream call) rather than stuck.
	Heartbeat()
	// RequestTime returns how long the request has been executing.
	RequestTime() time.Duration
}

// Executor runs a Request against a script and returns its Response. The
// Bridge lets long-running or streaming scripts interact with the
// connection incrementally instead of buffering the full response.
type Executor interface {
	// Execute runs req to completion or until ctx is canceled. It returns
	// the finalized Response for non-streaming scripts; streaming
	// scripts return a Response with Status/Headers set and drive Body
	// delivery entirely through the Bridge.
	Execute(ctx context.Context, req Request, bridge Bridge) (Response, error)
	// Name identifies the executor implementation for diagnostics.
	Name() string
}
