// Package conn handles a single accepted connection end to end: protocol
// auto-detection (TLS ALPN for h2, or a plaintext h2c preface), per-request
// timeouts, and method gating, bridging net.Listener accepts into the
// standard library's http.Server/http2.Server machinery the way the
// teacher's httpserver package wires net/http rather than hand-rolling a
// parser.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/nabbar/fenrir/internal/shutdown"
)

// AllowedMethods is the set of HTTP methods the server will forward to the
// worker pool; anything else is rejected with 405 before a script runs.
var AllowedMethods = map[string]bool{
	http.MethodGet:  true,
	http.MethodPost: true,
	http.MethodHead: true,
}

// MaxConcurrentStreams bounds HTTP/2 multiplexing per connection.
const MaxConcurrentStreams = 250

// Config tunes per-connection behavior.
type Config struct {
	IdlePeek      time.Duration
	HeaderRead    time.Duration
	Handler       http.Handler
	Coordinator   *shutdown.Coordinator
}

// Serve drives a single accepted connection to completion: it detects TLS
// vs. plaintext, negotiates HTTP/2 vs HTTP/1.1, and runs the appropriate
// standard-library server loop with the configured timeouts.
func Serve(ctx context.Context, c net.Conn, cfg Config) {
	if cfg.Coordinator != nil {
		cfg.Coordinator.ConnectionOpened()
		defer cfg.Coordinator.ConnectionClosed()
	}
	defer c.Close()

	if tlsConn, ok := c.(*tls.Conn); ok {
		serveTLS(ctx, tlsConn, cfg)
		return
	}

	serveClearText(ctx, c, cfg)
}

func serveTLS(ctx context.Context, c *tls.Conn, cfg Config) {
	switch c.ConnectionState().NegotiatedProtocol {
	case "h2":
		serveH2(ctx, c, cfg)
	default:
		serveH1(ctx, c, cfg)
	}
}

// idleLivenessTimeout bounds how long serveClearText waits for the peer to
// send its first byte before the connection is dropped as idle. A var,
// not a const, so tests can shrink it instead of waiting out the real
// budget.
var idleLivenessTimeout = 10 * time.Second

// serveClearText first waits for a single byte of liveness from the peer,
// dropping the connection silently if none arrives within
// idleLivenessTimeout; a peer that never sends anything is never handed to
// an HTTP server loop. Once liveness is confirmed, it peeks the first bytes
// looking for the HTTP/2 client preface ("PRI * HTTP/2.0"), falling back to
// HTTP/1.1 (h2c upgrade is not offered) if it is absent or that second peek
// times out.
func serveClearText(ctx context.Context, c net.Conn, cfg Config) {
	br := bufio.NewReader(c)

	_ = c.SetReadDeadline(time.Now().Add(idleLivenessTimeout))
	_, err := br.Peek(1)
	_ = c.SetReadDeadline(time.Time{})
	if err != nil {
		return
	}

	peekTimeout := cfg.IdlePeek
	if peekTimeout <= 0 {
		peekTimeout = 2 * time.Second
	}

	_ = c.SetReadDeadline(time.Now().Add(peekTimeout))
	preface, err := br.Peek(len(http2.ClientPreface))
	_ = c.SetReadDeadline(time.Time{})

	wrapped := &peekedConn{Conn: c, r: br}

	if err == nil && string(preface) == http2.ClientPreface {
		serveH2(ctx, wrapped, cfg)
		return
	}

	serveH1(ctx, wrapped, cfg)
}

func serveH1(ctx context.Context, c net.Conn, cfg Config) {
	headerTimeout := cfg.HeaderRead
	if headerTimeout <= 0 {
		headerTimeout = 5 * time.Second
	}

	l := newSingleConnListener(c)

	srv := &http.Server{
		Handler:           methodGate(cfg.Handler),
		ReadHeaderTimeout: headerTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ConnState: func(_ net.Conn, state http.ConnState) {
			if state == http.StateClosed || state == http.StateHijacked {
				l.Close()
			}
		},
	}

	srv.Serve(l)
}

func serveH2(ctx context.Context, c net.Conn, cfg Config) {
	h2s := &http2.Server{MaxConcurrentStreams: MaxConcurrentStreams}
	h2s.ServeConn(c, &http2.ServeConnOpts{
		Context: ctx,
		Handler: methodGate(cfg.Handler),
	})
}

func methodGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !AllowedMethods[r.Method] {
			w.Header().Set("Allow", "GET, POST, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// peekedConn lets the bytes already consumed by bufio.Reader.Peek be read
// again by the protocol-specific server, so detection does not lose data.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func (p *peekedConn) Read(b []byte) (int, error) { return p.r.Read(b) }

// singleConnListener adapts one already-accepted net.Conn to the
// net.Listener interface http.Server.Serve expects, yielding it exactly
// once; later Accept calls block until Close and then return net.ErrClosed,
// so Serve does not spin accepting it again.
type singleConnListener struct {
	conn   net.Conn
	taken  chan struct{}
	closed chan struct{}
}

func newSingleConnListener(c net.Conn) *singleConnListener {
	return &singleConnListener{conn: c, taken: make(chan struct{}), closed: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	select {
	case <-l.taken:
		<-l.closed
		return nil, net.ErrClosed
	default:
		close(l.taken)
		return l.conn, nil
	}
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }
