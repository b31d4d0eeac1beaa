//go:build linux

// Package accept builds multi-worker listeners that share one bind address
// via SO_REUSEPORT, letting the kernel load-balance inbound connections
// across N independent listener goroutines instead of funneling them
// through a single accept loop.
package accept

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Config tunes a listener group.
type Config struct {
	Address   string
	Workers   int
	Backlog   int
	ReusePort bool
}

// Listen opens Workers independent net.Listeners bound to the same address,
// each with SO_REUSEPORT set when Config.ReusePort is true so the kernel
// distributes incoming connections across them. With ReusePort false or
// Workers <= 1, a single listener is returned.
func Listen(ctx context.Context, cfg Config) ([]net.Listener, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	if !cfg.ReusePort || workers == 1 {
		l, err := listenOne(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return []net.Listener{l}, nil
	}

	listeners := make([]net.Listener, 0, workers)
	for i := 0; i < workers; i++ {
		l, err := listenOne(ctx, cfg)
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return nil, fmt.Errorf("accept: worker %d: %w", i, err)
		}
		listeners = append(listeners, l)
	}

	return listeners, nil
}

// KeepAliveIdleSeconds, KeepAliveIntervalSeconds and KeepAliveProbes are the
// TCP keepalive parameters applied to every accepted connection via Tune.
const (
	KeepAliveIdleSeconds     = 5
	KeepAliveIntervalSeconds = 1
	KeepAliveProbes          = 3
)

// Tune applies TCP_NODELAY and a tight keepalive (5s idle, 1s interval, 3
// probes) to an accepted connection, so a dead peer is detected quickly
// instead of lingering as an idle half-open connection. Non-TCP connections
// are left untouched.
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

	raw, err := tc.SyscallConn()
	if err != nil {
		return err
	}

	var ctrlErr error
	ctlErr := raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, KeepAliveIdleSeconds); e != nil {
			ctrlErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, KeepAliveIntervalSeconds); e != nil {
			ctrlErr = e
			return
		}
		ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, KeepAliveProbes)
	})
	if ctlErr != nil {
		return ctlErr
	}
	return ctrlErr
}

func listenOne(ctx context.Context, cfg Config) (net.Listener, error) {
	lc := net.ListenConfig{}

	if cfg.ReusePort {
		lc.Control = func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				if ctrlErr != nil {
					return
				}
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		}
	}

	l, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("accept: listen %s: %w", cfg.Address, err)
	}

	// Go's net package does not expose setting the listen(2) backlog
	// directly; Config.Backlog is advisory and tuned via net.core.somaxconn.
	return l, nil
}
