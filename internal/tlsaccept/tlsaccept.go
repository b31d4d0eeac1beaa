// Package tlsaccept wraps a raw net.Conn with a bounded-time TLS handshake
// and summarizes the negotiated parameters for requestctx.TLSSummary,
// applying the same 10-second handshake budget a health-check dial would
// use against itself.
package tlsaccept

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/nabbar/fenrir/certificates"
	"github.com/nabbar/fenrir/certificates/tlsversion"
	"github.com/nabbar/fenrir/internal/requestctx"
)

// DefaultHandshakeTimeout bounds how long a TLS handshake may take before
// the connection is abandoned.
const DefaultHandshakeTimeout = 10 * time.Second

// BuildConfig assembles a *tls.Config from a certificate/key pair and a
// minimum TLS version, turning a declarative set of files into a ready
// TLSConfig the way certificates.Config does. serverName, when set, is
// used by the returned config's SNI-aware TlsConfig() builder.
func BuildConfig(certFile, keyFile string, minVersion tlsversion.Version, serverName string) (*tls.Config, error) {
	cfg := &certificates.Config{
		VersionMin: minVersion,
	}

	tc := cfg.New()
	if err := tc.AddCertificatePairFile(keyFile, certFile); err != nil {
		return nil, fmt.Errorf("tlsaccept: loading certificate pair: %w", err)
	}

	out := tc.TlsConfig(serverName)
	// ALPN order: h2 first so a negotiating client prefers HTTP/2, falling
	// back to http/1.1 the way the connection task's protocol auto-detect
	// expects.
	out.NextProtos = []string{"h2", "http/1.1"}
	return out, nil
}

// BuildConfigFromStrings is BuildConfig with the minimum TLS version given
// as a config string ("TLS1.2", "TLS1.3", ...), the form appconfig.TLSConfig
// carries.
func BuildConfigFromStrings(certFile, keyFile, minVersion, serverName string) (*tls.Config, error) {
	return BuildConfig(certFile, keyFile, tlsversion.Parse(minVersion), serverName)
}

// Handshake performs a server-side TLS handshake on conn within timeout (0
// uses DefaultHandshakeTimeout) and returns the established *tls.Conn plus
// a summary of the negotiated parameters.
func Handshake(ctx context.Context, conn net.Conn, cfg *tls.Config, timeout time.Duration) (*tls.Conn, *requestctx.TLSSummary, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}

	tlsConn := tls.Server(conn, cfg)

	deadline := time.Now().Add(timeout)
	if err := tlsConn.SetDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("tlsaccept: set deadline: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- tlsConn.HandshakeContext(hctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			return nil, nil, fmt.Errorf("tlsaccept: handshake: %w", err)
		}
	case <-hctx.Done():
		return nil, nil, fmt.Errorf("tlsaccept: handshake timed out after %s", timeout)
	}

	// Clear the deadline now that the handshake is complete; request-level
	// timeouts are enforced separately by the connection handler.
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		return nil, nil, fmt.Errorf("tlsaccept: clear deadline: %w", err)
	}

	state := tlsConn.ConnectionState()
	summary := &requestctx.TLSSummary{
		Version:     versionName(state.Version),
		CipherSuite: tls.CipherSuiteName(state.CipherSuite),
		ServerName:  state.ServerName,
	}

	return tlsConn, summary, nil
}

// NegotiatedProtocol returns the ALPN protocol the handshake settled on
// ("h2", "http/1.1", or "" if none was negotiated).
func NegotiatedProtocol(conn *tls.Conn) string {
	return conn.ConnectionState().NegotiatedProtocol
}

func versionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS1.0"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}
