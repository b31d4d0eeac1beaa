package sapi

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
)

// EvalExecutor shells out to an external interpreter binary (e.g. `php`,
// `node`) per request, passing the request metadata as environment
// variables the way a CGI/FastCGI bridge would. It is the out-of-process
// counterpart to FFIExecutor, trading per-request process overhead for
// isolation from the interpreter's runtime.
type EvalExecutor struct {
	Interpreter string
	ScriptRoot  string
}

// NewEval builds an EvalExecutor invoking interpreter with scripts resolved
// under root.
func NewEval(interpreter, root string) *EvalExecutor {
	return &EvalExecutor{Interpreter: interpreter, ScriptRoot: root}
}

func (e *EvalExecutor) Name() string { return "eval" }

func (e *EvalExecutor) Execute(ctx context.Context, req Request, bridge Bridge) (Response, error) {
	script := filepath.Join(e.ScriptRoot, filepath.Clean("/"+req.ScriptPath))

	cmd := exec.CommandContext(ctx, e.Interpreter, script)
	cmd.Env = os.Environ()
	for k, v := range req.Server {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if req.Body != nil {
		cmd.Stdin = req.Body
	}

	out, err := cmd.Output()
	if err != nil {
		bridge.LogMessage("error", fmt.Sprintf("eval executor: %v", err))
		headers := http.Header{"Content-Type": {"text/plain; charset=utf-8"}}
		bridge.SendHeaders(http.StatusInternalServerError, headers)
		msg := []byte("internal server error\n")
		bridge.WriteOutput(msg)
		return Response{Status: http.StatusInternalServerError, Headers: headers, Body: msg}, nil
	}

	headers := http.Header{"Content-Type": {"text/html; charset=utf-8"}}
	bridge.SendHeaders(http.StatusOK, headers)
	bridge.WriteOutput(out)

	return Response{Status: http.StatusOK, Headers: headers, Body: out}, nil
}
