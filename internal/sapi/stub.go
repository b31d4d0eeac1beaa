package sapi

import (
	"context"
	"fmt"
	"net/http"
)

// StubExecutor answers every request with a canned response. It is used in
// development and in the integration tests that exercise the server
// pipeline without a real interpreter wired in.
type StubExecutor struct {
	Status int
	Body   []byte
}

// NewStub builds a StubExecutor returning 200 and a small identifying body
// by default.
func NewStub() *StubExecutor {
	return &StubExecutor{Status: http.StatusOK, Body: []byte("stub executor response\n")}
}

func (s *StubExecutor) Name() string { return "stub" }

func (s *StubExecutor) Execute(ctx context.Context, req Request, bridge Bridge) (Response, error) {
	headers := http.Header{}
	headers.Set("Content-Type", "text/plain; charset=utf-8")
	headers.Set("X-Executor", "stub")

	body := s.Body
	if body == nil {
		body = []byte(fmt.Sprintf("stub: %s %s\n", req.Method, req.URI))
	}

	bridge.SendHeaders(s.Status, headers)
	if _, err := bridge.WriteOutput(body); err != nil {
		return Response{}, err
	}

	return Response{Status: s.Status, Headers: headers, Body: body}, nil
}
