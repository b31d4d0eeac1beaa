// Package middleware implements a priority-ordered request/response
// pipeline, extending plain handler wiring with an explicit chain:
// ascending priority on the request phase, descending on the response
// phase, and response-phase middleware always running even after a
// request-phase short-circuit.
package middleware

import (
	"context"
	"net/http"
	"sort"
)

// Action tells the chain whether to keep processing a phase or stop.
type Action int

const (
	// Continue lets the next middleware in priority order run.
	Continue Action = iota
	// Stop short-circuits the request phase. The response phase still
	// runs for every registered middleware regardless.
	Stop
)

// Middleware observes and can rewrite the request before it reaches the
// worker pool, and the response before it reaches the client.
type Middleware interface {
	// Name identifies the middleware in logs and diagnostics.
	Name() string
	// Priority orders middleware on the request phase ascending and on
	// the response phase descending. Lower values run first on request,
	// last on response.
	Priority() int
	// ProcessRequest may mutate r and returns Stop to short-circuit the
	// request phase, optionally supplying the response to send instead
	// of invoking the worker pool.
	ProcessRequest(ctx context.Context, r *http.Request) (Action, *http.Response)
	// ProcessResponse may mutate resp before it is written to the
	// client. It always runs, even when the request phase stopped early.
	ProcessResponse(ctx context.Context, r *http.Request, resp *http.Response)
}

// Chain holds an ordered set of Middleware, sorted by priority at Add time.
type Chain struct {
	items []Middleware
}

// NewChain builds an empty Chain.
func NewChain() *Chain {
	return &Chain{}
}

// Add inserts m into the chain, keeping items sorted ascending by Priority.
func (c *Chain) Add(m Middleware) {
	c.items = append(c.items, m)
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].Priority() < c.items[j].Priority()
	})
}

// Len reports how many middleware are registered.
func (c *Chain) Len() int { return len(c.items) }

// ProcessRequest runs every middleware in ascending priority order until one
// returns Stop. It reports whether processing should continue to the
// worker pool and the short-circuit response, if any.
func (c *Chain) ProcessRequest(ctx context.Context, r *http.Request) (bool, *http.Response) {
	for _, m := range c.items {
		action, resp := m.ProcessRequest(ctx, r)
		if action == Stop {
			return false, resp
		}
	}
	return true, nil
}

// ProcessResponse runs every middleware in descending priority order,
// regardless of whether the request phase was short-circuited.
func (c *Chain) ProcessResponse(ctx context.Context, r *http.Request, resp *http.Response) {
	for i := len(c.items) - 1; i >= 0; i-- {
		c.items[i].ProcessResponse(ctx, r, resp)
	}
}

// Process runs both phases in sequence, the way chain.rs's convenience
// Process() method does, and is the entry point the connection handler
// calls per request.
func (c *Chain) Process(ctx context.Context, r *http.Request, call func(*http.Request) *http.Response) *http.Response {
	cont, short := c.ProcessRequest(ctx, r)

	var resp *http.Response
	if !cont {
		resp = short
	} else {
		resp = call(r)
	}

	c.ProcessResponse(ctx, r, resp)
	return resp
}
