/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package ferrors provides a code-based error type for the request pipeline.
//
// Errors carry a numeric CodeError (similar in spirit to an HTTP status),
// an optional message and a chain of parent errors, so a failure deep in
// the worker pool can be inspected at the HTTP boundary without losing
// the chain that produced it.
package ferrors

import (
	"math"
	"strconv"
)

// CodeError is a numeric error code. 0 means "no specific code".
type CodeError uint16

const (
	UnknownError CodeError = 0

	// Worker pool error taxonomy.
	ErrorQueueFull CodeError = iota + 100
	ErrorTimeout
	ErrorShutdown
	ErrorChannelClosed
	ErrorExecution

	// Request parsing / routing.
	ErrorBadRequest
	ErrorNotFound
	ErrorMethodNotAllowed
	ErrorTooManyRequests

	// Configuration / bootstrap.
	ErrorConfigValidate
	ErrorTLSConfigure
	ErrorBindFailure
)

var idMsgFct = make(map[CodeError]Message)

// Message generates the human-readable text for a CodeError.
type Message func(code CodeError) string

// RegisterMessage installs (or overrides) the message function for a code.
func RegisterMessage(code CodeError, fct Message) {
	idMsgFct[code] = fct
}

func init() {
	RegisterMessage(ErrorQueueFull, func(CodeError) string { return "request queue is full" })
	RegisterMessage(ErrorTimeout, func(CodeError) string { return "request timed out waiting on the worker pool" })
	RegisterMessage(ErrorShutdown, func(CodeError) string { return "worker pool is shutting down" })
	RegisterMessage(ErrorChannelClosed, func(CodeError) string { return "response channel closed unexpectedly" })
	RegisterMessage(ErrorExecution, func(CodeError) string { return "interpreter reported an error" })
	RegisterMessage(ErrorBadRequest, func(CodeError) string { return "malformed request" })
	RegisterMessage(ErrorNotFound, func(CodeError) string { return "resource not found" })
	RegisterMessage(ErrorMethodNotAllowed, func(CodeError) string { return "method not allowed" })
	RegisterMessage(ErrorTooManyRequests, func(CodeError) string { return "rate limit exceeded" })
	RegisterMessage(ErrorConfigValidate, func(CodeError) string { return "configuration is not valid" })
	RegisterMessage(ErrorTLSConfigure, func(CodeError) string { return "cannot build tls configuration" })
	RegisterMessage(ErrorBindFailure, func(CodeError) string { return "cannot bind listener" })
}

// ParseCodeError clamps an arbitrary integer into the CodeError range.
func ParseCodeError(i int64) CodeError {
	if i < 0 {
		return UnknownError
	} else if i >= int64(math.MaxUint16) {
		return math.MaxUint16
	}
	return CodeError(i)
}

func (c CodeError) Uint16() uint16 { return uint16(c) }
func (c CodeError) Int() int       { return int(c) }
func (c CodeError) String() string { return strconv.Itoa(c.Int()) }

// Message returns the registered text for this code, or a generic fallback.
func (c CodeError) Message() string {
	if fct, ok := idMsgFct[c]; ok {
		return fct(c)
	}
	if c == UnknownError {
		return "unknown error"
	}
	return "error " + c.String()
}
