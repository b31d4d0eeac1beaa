// Package health implements liveness/readiness/startup probes, the same
// three-probe split a per-listener HealthCheck exposes, generalized to a
// whole-process diagnostic surface.
package health

import (
	"sync/atomic"
	"time"
)

// Status is the outcome of a single probe check.
type Status struct {
	Healthy bool
	Detail  string
	Checked time.Time
}

// Checker answers liveness, readiness and startup probes against
// process-level state: whether the server is accepting connections at
// all (live), whether it is ready to serve traffic (ready, e.g. the
// interpreter finished warming up), and whether initial startup work has
// completed (startup).
type Checker struct {
	live    atomic.Bool
	ready   atomic.Bool
	started atomic.Bool

	shuttingDown atomic.Bool
}

// New builds a Checker that reports live immediately; ready/startup must
// be flipped on explicitly once the server has finished initializing.
func New() *Checker {
	c := &Checker{}
	c.live.Store(true)
	return c
}

// MarkReady flips the readiness probe to healthy.
func (c *Checker) MarkReady() { c.ready.Store(true) }

// MarkNotReady flips the readiness probe back to unhealthy, used while
// draining connections during shutdown.
func (c *Checker) MarkNotReady() { c.ready.Store(false) }

// MarkStarted flips the startup probe to healthy, signaling initial
// warm-up (config load, interpreter init, cache prime) has finished.
func (c *Checker) MarkStarted() { c.started.Store(true) }

// MarkShuttingDown flips liveness to unhealthy so external load balancers
// stop routing new connections during drain.
func (c *Checker) MarkShuttingDown() {
	c.shuttingDown.Store(true)
	c.ready.Store(false)
}

// Live reports the liveness probe.
func (c *Checker) Live() Status {
	healthy := c.live.Load() && !c.shuttingDown.Load()
	detail := "ok"
	if !healthy {
		detail = "shutting down"
	}
	return Status{Healthy: healthy, Detail: detail, Checked: time.Now()}
}

// Ready reports the readiness probe.
func (c *Checker) Ready() Status {
	healthy := c.ready.Load()
	detail := "ok"
	if !healthy {
		detail = "not ready"
	}
	return Status{Healthy: healthy, Detail: detail, Checked: time.Now()}
}

// Startup reports the startup probe.
func (c *Checker) Startup() Status {
	healthy := c.started.Load()
	detail := "ok"
	if !healthy {
		detail = "starting"
	}
	return Status{Healthy: healthy, Detail: detail, Checked: time.Now()}
}
