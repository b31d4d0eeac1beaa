// Package server wires together the accept loop, connection handling,
// middleware chain, rate limiter, worker pool, script executor and
// shutdown coordinator into the single front-end process, the same
// top-level assembly role an httpserver.Server plays over its pool of
// listeners.
package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nabbar/fenrir/internal/accept"
	"github.com/nabbar/fenrir/internal/applog"
	"github.com/nabbar/fenrir/internal/conn"
	"github.com/nabbar/fenrir/internal/ferrors"
	"github.com/nabbar/fenrir/internal/filecache"
	"github.com/nabbar/fenrir/internal/health"
	"github.com/nabbar/fenrir/internal/metrics"
	"github.com/nabbar/fenrir/internal/middleware"
	"github.com/nabbar/fenrir/internal/ratelimit"
	"github.com/nabbar/fenrir/internal/reqparse"
	"github.com/nabbar/fenrir/internal/requestctx"
	"github.com/nabbar/fenrir/internal/response"
	"github.com/nabbar/fenrir/internal/sapi"
	"github.com/nabbar/fenrir/internal/shutdown"
	"github.com/nabbar/fenrir/internal/stream"
	"github.com/nabbar/fenrir/internal/tlsaccept"
	"github.com/nabbar/fenrir/internal/workerpool"
)

// Options configures a Server instance.
type Options struct {
	Listen             accept.Config
	TLSConfig          *tls.Config
	ScriptRoot         string
	IndexFile          string
	RequestTime        time.Duration
	IdlePeek           time.Duration
	HeaderRead         time.Duration
	Log                applog.Logger
	Metrics            *metrics.Observer
	Health             *health.Checker
	RateLimit          *ratelimit.Limiter
	Middleware         *middleware.Chain
	Executor           sapi.Executor
	Pool               *workerpool.Pool
	FileCache          *filecache.Cache
	StaticCacheSeconds int
	ErrorPages         map[int][]byte
	UploadTempDir      string
}

// Server is a single front-end listener group: N accept-loop goroutines
// sharing one worker pool, middleware chain and executor.
type Server struct {
	opts  Options
	coord *shutdown.Coordinator
}

// New builds a Server from Options. A nil Pool/Executor/Middleware/
// RateLimit is filled with a sensible default so the server is runnable
// out of the box.
func New(opts Options) *Server {
	if opts.Pool == nil {
		opts.Pool = workerpool.New(4, 256)
	}
	if opts.Executor == nil {
		opts.Executor = sapi.NewStub()
	}
	if opts.Middleware == nil {
		opts.Middleware = middleware.NewChain()
	}
	if opts.Log == nil {
		opts.Log = applog.New(applog.InfoLevel)
	}
	if opts.Health == nil {
		opts.Health = health.New()
	}
	if opts.IndexFile == "" {
		opts.IndexFile = "index.php"
	}
	if opts.UploadTempDir == "" {
		opts.UploadTempDir = os.TempDir()
	}

	return &Server{opts: opts, coord: shutdown.New()}
}

// ActiveConnections reports the number of connections currently accepted
// and not yet returned, for the health/diagnostics endpoint.
func (s *Server) ActiveConnections() int64 {
	return s.coord.ActiveConnections()
}

// ListenAndServe opens the configured listeners and serves connections
// until ctx is canceled, at which point it drains in-flight connections
// and returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listeners, err := accept.Listen(ctx, s.opts.Listen)
	if err != nil {
		return ferrors.Wrap(ferrors.ErrorBindFailure, err)
	}

	s.opts.Health.MarkStarted()
	s.opts.Health.MarkReady()

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func(l net.Listener) {
			defer wg.Done()
			s.acceptLoop(ctx, l)
		}(l)
	}

	if s.opts.Metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.reportGauges(ctx)
		}()
	}

	<-ctx.Done()
	s.opts.Health.MarkShuttingDown()

	for _, l := range listeners {
		l.Close()
	}

	wg.Wait()
	return nil
}

// reportGauges periodically pushes queue depth and active connection
// counts to the metrics observer until ctx is canceled.
func (s *Server) reportGauges(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.opts.Metrics.SetQueueDepth(s.opts.Pool.PendingCount())
			s.opts.Metrics.SetActiveConnections(s.coord.ActiveConnections())
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, l net.Listener) {
	handler := s.buildHandler()

	for {
		c, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.opts.Log.Warning("accept failed", applog.Fields{"error": err.Error()})
				continue
			}
		}

		if terr := accept.Tune(c); terr != nil {
			s.opts.Log.Debug("connection tuning failed", applog.Fields{"error": terr.Error()})
		}

		go s.serveConn(ctx, c, handler)
	}
}

// serveConn completes the TLS handshake (when configured) with its own
// bounded budget before handing the connection to conn.Serve, attaching the
// negotiated TLSSummary to the connection's context so every request served
// over it can expose HTTPS/SSL_PROTOCOL/SSL_CIPHER server vars.
func (s *Server) serveConn(ctx context.Context, c net.Conn, handler http.Handler) {
	connCtx := ctx

	if s.opts.TLSConfig != nil {
		start := time.Now()
		tlsConn, summary, err := tlsaccept.Handshake(ctx, c, s.opts.TLSConfig, tlsaccept.DefaultHandshakeTimeout)
		if err != nil {
			s.opts.Log.Debug("tls handshake failed", applog.Fields{"error": err.Error()})
			c.Close()
			return
		}
		summary.HandshakeUs = time.Since(start).Microseconds()
		summary.ALPN = tlsaccept.NegotiatedProtocol(tlsConn)

		c = tlsConn
		connCtx = requestctx.WithTLSSummary(ctx, summary)
	}

	conn.Serve(connCtx, c, conn.Config{
		Handler:     handler,
		Coordinator: s.coord,
		IdlePeek:    s.opts.IdlePeek,
		HeaderRead:  s.opts.HeaderRead,
	})
}

// buildHandler assembles the net/http.Handler the connection layer invokes
// per request: rate limiting, the middleware chain, and finally the worker
// pool executing the script.
func (s *Server) buildHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := requestctx.New(r)
		if tp := r.Header.Get("traceparent"); tp != "" {
			if traceID, parentSpan, ok := requestctx.ParseTraceparent(tp); ok {
				rc.WithTrace(traceID, parentSpan)
			}
		}
		if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
			rc.RequestID = reqID
		}

		ctx := requestctx.Inject(r.Context(), rc)
		r = r.WithContext(ctx)

		w.Header().Set("X-Request-ID", rc.RequestID)
		w.Header().Set("traceparent", rc.Traceparent())

		if s.opts.RateLimit != nil {
			res := s.opts.RateLimit.Allow(rc.ClientIP)
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", s.opts.RateLimit.Limit()))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%.0f", res.RetryAfter.Seconds()))
			if !res.Allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", res.RetryAfter.Seconds()))
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write(response.ErrorPage(http.StatusTooManyRequests))
				return
			}
		}

		start := time.Now()
		resp := s.opts.Middleware.Process(ctx, r, func(r *http.Request) *http.Response {
			return s.dispatch(ctx, r, rc)
		})

		if s.opts.Metrics != nil {
			status := http.StatusInternalServerError
			if resp != nil {
				status = resp.StatusCode
			}
			s.opts.Metrics.ObserveRequest(r.Method, fmt.Sprintf("%d", status), time.Since(start))
		}

		s.writeResponse(w, r, resp)
	})
}

// dispatch resolves the request path against the document root and routes
// it to the static-file server or the script executor, the nginx-style
// try_files ordering reqparse.Resolve implements.
func (s *Server) dispatch(ctx context.Context, r *http.Request, rc *requestctx.RequestContext) *http.Response {
	resolveStart := time.Now()
	res := reqparse.Resolve(s.opts.ScriptRoot, s.opts.IndexFile, r.URL.Path)
	resolveUs := time.Since(resolveStart).Microseconds()

	switch res.Kind {
	case reqparse.KindStatic:
		return s.serveStatic(r, res.Path)
	case reqparse.KindScript:
		return s.runScript(ctx, r, rc, res.Path, resolveUs)
	default:
		return errorResponse(ferrors.New(ferrors.ErrorNotFound, fmt.Sprintf("no route resolves for %q", r.URL.Path)))
	}
}

// serveStatic answers a resolved static-file request out of the file
// cache, falling back to a direct read on a cache miss, and sets
// conditional-GET and cache-control headers.
func (s *Server) serveStatic(r *http.Request, path string) *http.Response {
	entry, ok := s.lookupStatic(path)
	if !ok {
		return errorResponse(ferrors.New(ferrors.ErrorNotFound, fmt.Sprintf("static file not found: %q", path)))
	}

	headers := http.Header{}
	headers.Set("Content-Type", entry.ContentType)
	headers.Set("Server", "fenrir")
	if s.opts.StaticCacheSeconds > 0 {
		for k, v := range response.StaticCacheHeaders(entry.ETag, s.opts.StaticCacheSeconds) {
			headers[k] = v
		}
	}

	if etag := `"` + entry.ETag + `"`; entry.ETag != "" && r.Header.Get("If-None-Match") == etag {
		return &http.Response{StatusCode: http.StatusNotModified, Header: headers, Body: http.NoBody}
	}

	return &http.Response{StatusCode: http.StatusOK, Header: headers, Body: io.NopCloser(bytes.NewReader(entry.Body))}
}

// lookupStatic answers a static file body/metadata from the file cache,
// populating the cache on a miss so repeat requests amortize the stat()
// and read() calls.
func (s *Server) lookupStatic(path string) (filecache.Entry, bool) {
	if s.opts.FileCache != nil {
		if e, ok := s.opts.FileCache.Get(path); ok {
			return e, true
		}
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return filecache.Entry{}, false
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return filecache.Entry{}, false
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	entry := filecache.Entry{
		Body:        body,
		ContentType: contentType,
		ModTime:     info.ModTime(),
		ETag:        fmt.Sprintf("%x-%x", info.ModTime().Unix(), info.Size()),
	}

	if s.opts.FileCache != nil {
		s.opts.FileCache.Put(path, entry)
	}
	return entry, true
}

// runScript dispatches a resolved script to the worker pool and waits for
// whichever of three events happens first: a script that activates
// streaming mid-flight (headers committed at activation time, body wired
// live instead of waiting for the script to finish), a script that calls
// FinishRequest to end execution early while its cleanup work continues in
// the background, or ordinary completion with a fully buffered response.
// The pool's timeout is extended every time the script calls Heartbeat,
// so a long but still-progressing request is not cut off early.
func (s *Server) runScript(ctx context.Context, r *http.Request, rc *requestctx.RequestContext, scriptPath string, resolveUs int64) *http.Response {
	req, profile := reqparse.ToSAPIRequest(r, rc, scriptPath, s.opts.UploadTempDir)
	if profile != nil {
		profile.PathResolveUs = resolveUs
	}

	var (
		mu   sync.Mutex
		strm *stream.Stream
	)

	activated := make(chan *http.Response, 1)
	finished := make(chan *http.Response, 1)
	beat := make(chan struct{}, 1)

	bridge := sapi.NewBufferedBridge(s.opts.Log, func(p []byte) (int, error) {
		mu.Lock()
		st := strm
		mu.Unlock()
		if st == nil || !st.Send(append([]byte(nil), p...)) {
			return 0, fmt.Errorf("sapi: streaming body unavailable")
		}
		return len(p), nil
	}, nil, func() {
		select {
		case beat <- struct{}{}:
		default:
		}
	})

	bridge.OnActivate(func(status int, headers http.Header) {
		st, _ := stream.New(ctx, 100)
		mu.Lock()
		strm = st
		mu.Unlock()

		headers = headers.Clone()
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "text/event-stream; charset=utf-8")
		}
		headers.Set("Cache-Control", "no-cache")
		headers.Set("Connection", "keep-alive")
		headers.Set("X-Accel-Buffering", "no")
		headers.Set("Server", "fenrir")
		activated <- &http.Response{StatusCode: status, Header: headers, Body: st.Reader()}
	})

	bridge.OnFinish(func(status int, headers http.Header, body []byte) {
		finished <- finalizeResponse(status, headers, body, profile)
	})

	done := make(chan *http.Response, 1)
	go func() {
		v, jobErr := s.opts.Pool.ExecuteWithHeartbeat(ctx, func(jobCtx context.Context) (interface{}, error) {
			resp, execErr := s.opts.Executor.Execute(jobCtx, req, bridge)
			defer reqparse.CleanupUploads(req.Files)

			mu.Lock()
			st := strm
			mu.Unlock()
			if st != nil {
				st.Close()
				_ = bridge.Release()
				return nil, execErr
			}

			if execErr != nil {
				_ = bridge.Release()
				return nil, execErr
			}
			status, headers, body := bridge.Snapshot()
			_ = bridge.Release()
			if resp.Status != 0 {
				status = resp.Status
			}
			return finalizeResponse(status, headers, body, profile), nil
		}, s.opts.RequestTime, beat)

		if jobErr != nil {
			if s.opts.Metrics != nil {
				s.opts.Metrics.IncQueueRejected()
			}
			done <- errorResponse(toFerror(jobErr))
			return
		}
		done <- v.(*http.Response)
	}()

	select {
	case resp := <-activated:
		return resp
	case resp := <-finished:
		return resp
	case resp := <-done:
		return resp
	}
}

// finalizeResponse applies the status-derivation and default-header rules
// common to both normal completion and FinishRequest's early-finish path,
// and attaches the profiling header when profiling was requested.
func finalizeResponse(status int, headers http.Header, body []byte, profile *sapi.ProfileData) *http.Response {
	status = response.DeriveStatus(headers, status)
	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "text/html; charset=utf-8")
	}
	headers.Set("Server", "fenrir")
	if profile != nil {
		headers.Set("X-Profile-Data", formatProfile(profile))
	}
	return &http.Response{StatusCode: status, Header: headers, Body: newBodyReadCloser(body)}
}

// formatProfile renders a ProfileData as a Server-Timing-style header
// value: semicolon-separated name=value pairs, durations in microseconds.
func formatProfile(p *sapi.ProfileData) string {
	return fmt.Sprintf(
		"http_version=%s;tls_handshake_us=%d;tls_protocol=%s;tls_alpn=%s;"+
			"parse_request_us=%d;headers_extract_us=%d;query_parse_us=%d;"+
			"cookies_parse_us=%d;body_read_us=%d;body_parse_us=%d;"+
			"server_vars_us=%d;path_resolve_us=%d;file_check_us=%d",
		p.HTTPVersion, p.TLSHandshakeUs, p.TLSProtocol, p.TLSALPN,
		p.ParseRequestUs, p.HeadersExtractUs, p.QueryParseUs,
		p.CookiesParseUs, p.BodyReadUs, p.BodyParseUs,
		p.ServerVarsUs, p.PathResolveUs, p.FileCheckUs,
	)
}

func errorResponse(e ferrors.Error) *http.Response {
	status := e.HTTPStatus()
	body := response.ErrorPage(status)
	h := http.Header{"Content-Type": {"text/html; charset=utf-8"}}
	return &http.Response{StatusCode: status, Header: h, Body: newBodyReadCloser(body)}
}

func toFerror(err error) ferrors.Error {
	if fe, ok := err.(ferrors.Error); ok {
		return fe
	}
	return ferrors.Wrap(ferrors.ErrorExecution, err)
}

// streamer is implemented by a streaming response body (internal/stream's
// Reader), letting writeResponse recognize it and flush incrementally
// instead of buffering the whole body before the first write.
type streamer interface {
	Streaming() bool
}

func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	if resp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	clean, _ := response.SanitizeHeaders(resp.Header)

	if strm, ok := resp.Body.(streamer); ok && strm.Streaming() {
		writeStreamingResponse(w, resp, clean)
		return
	}

	var body []byte
	if resp.Body != nil {
		defer resp.Body.Close()
		body, _ = io.ReadAll(resp.Body)
	}

	if len(s.opts.ErrorPages) > 0 {
		if page, ok := response.SubstituteErrorPage(s.opts.ErrorPages, resp.StatusCode, body, r.Header.Get("Accept")); ok {
			body = page
			clean.Set("Content-Type", "text/html; charset=utf-8")
		}
	}

	if out, ok := response.ApplyCompression(body, clean, r.Header.Get("Accept-Encoding")); ok {
		body = out
	}

	for k, vs := range clean {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if len(body) > 0 {
		w.Write(body)
	}
}

// writeStreamingResponse commits headers immediately, then copies chunks
// out of resp.Body as they arrive, flushing after each one so a slow
// client's TCP back-pressure propagates all the way back to the script's
// WriteOutput calls.
func writeStreamingResponse(w http.ResponseWriter, resp *http.Response, headers http.Header) {
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	defer resp.Body.Close()
	flusher, canFlush := w.(http.Flusher)

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
