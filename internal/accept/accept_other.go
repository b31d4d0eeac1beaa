//go:build !linux

package accept

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Config tunes a listener group.
type Config struct {
	Address   string
	Workers   int
	Backlog   int
	ReusePort bool
}

// Listen opens a single net.Listener on non-Linux platforms, where
// SO_REUSEPORT multi-worker accept is not available; Workers/ReusePort are
// accepted but ignored.
func Listen(ctx context.Context, cfg Config) ([]net.Listener, error) {
	lc := net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("accept: listen %s: %w", cfg.Address, err)
	}
	return []net.Listener{l}, nil
}

// KeepAlivePeriod is the keepalive interval Tune applies on platforms
// without per-parameter (idle/interval/probe-count) keepalive tuning.
const KeepAlivePeriod = 5 * time.Second

// Tune applies TCP_NODELAY and a 5-second keepalive period to an accepted
// connection. Non-TCP connections are left untouched.
func Tune(c net.Conn) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return err
	}
	if err := tc.SetKeepAlive(true); err != nil {
		return err
	}
	return tc.SetKeepAlivePeriod(KeepAlivePeriod)
}
