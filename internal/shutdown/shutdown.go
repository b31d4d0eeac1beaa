// Package shutdown coordinates graceful drain: a watch-channel fan-out that
// notifies every accept loop and connection handler to stop taking new
// work, then polls active connection counts until they reach zero or a
// deadline expires, extending pool Shutdown semantics across the whole
// process rather than one listener.
package shutdown

import (
	"context"
	"sync"
	"time"

	libatm "github.com/nabbar/fenrir/atomic"
)

// Coordinator fans a single shutdown trigger out to any number of
// watchers and tracks active connection count for drain polling.
type Coordinator struct {
	mu        sync.Mutex
	watchers  []chan struct{}
	active    libatm.Value[int64]
	triggered libatm.Value[bool]
}

// New builds an idle Coordinator.
func New() *Coordinator {
	c := &Coordinator{
		active:    libatm.NewValue[int64](),
		triggered: libatm.NewValue[bool](),
	}
	c.active.Store(0)
	c.triggered.Store(false)
	return c
}

// Watch returns a channel closed exactly once, when Trigger is called. Each
// call to Watch registers a new, independent channel.
func (c *Coordinator) Watch() <-chan struct{} {
	ch := make(chan struct{})

	c.mu.Lock()
	if c.triggered.Load() {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.watchers = append(c.watchers, ch)
	c.mu.Unlock()

	return ch
}

// Trigger fires the shutdown signal exactly once; subsequent calls are
// no-ops.
func (c *Coordinator) Trigger() {
	if !c.triggered.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()

	for _, ch := range watchers {
		close(ch)
	}
}

// Triggered reports whether Trigger has already fired.
func (c *Coordinator) Triggered() bool {
	return c.triggered.Load()
}

// ConnectionOpened records a new active connection.
func (c *Coordinator) ConnectionOpened() {
	for {
		old := c.active.Load()
		if c.active.CompareAndSwap(old, old+1) {
			return
		}
	}
}

// ConnectionClosed records a connection finishing.
func (c *Coordinator) ConnectionClosed() {
	for {
		old := c.active.Load()
		if c.active.CompareAndSwap(old, old-1) {
			return
		}
	}
}

// ActiveConnections reports the current active connection count.
func (c *Coordinator) ActiveConnections() int64 {
	return c.active.Load()
}

// Drain triggers shutdown and polls ActiveConnections until it reaches
// zero or ctx is done, whichever comes first. It returns ctx.Err() on
// timeout/cancellation, nil once fully drained.
func (c *Coordinator) Drain(ctx context.Context, pollInterval time.Duration) error {
	c.Trigger()

	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}

	t := time.NewTicker(pollInterval)
	defer t.Stop()

	if c.ActiveConnections() == 0 {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if c.ActiveConnections() <= 0 {
				return nil
			}
		}
	}
}
