package sapi

import (
	"context"
)

// HandlerFunc is the signature a script compiled in-process (via cgo or a
// loaded plugin) exposes to the server.
type HandlerFunc func(ctx context.Context, req Request, bridge Bridge) (Response, error)

// FFIExecutor invokes an in-process handler function directly, with no
// subprocess or RPC overhead. It is the fastest of the three Executor
// variants and the one intended for production use once a script has been
// compiled against the sapi.Bridge contract; StubExecutor and EvalExecutor
// exist for development and for interpreters that are only available as
// external binaries.
type FFIExecutor struct {
	handler HandlerFunc
}

// NewFFI wraps an in-process handler as an Executor.
func NewFFI(handler HandlerFunc) *FFIExecutor {
	return &FFIExecutor{handler: handler}
}

func (f *FFIExecutor) Name() string { return "ffi" }

func (f *FFIExecutor) Execute(ctx context.Context, req Request, bridge Bridge) (Response, error) {
	return f.handler(ctx, req, bridge)
}
