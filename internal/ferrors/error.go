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

package ferrors

import (
	"fmt"
	"net/http"
	"strings"
)

// Error is a code-carrying error with optional parent errors. Parents are
// kept to preserve the chain from the worker pool down to the interpreter
// failure that produced it, without changing the code seen at the HTTP
// boundary.
type Error interface {
	error
	Code() CodeError
	Is(err error) bool
	HasParent() bool
	AddParent(parent ...error) Error
	Parents() []Error
	HTTPStatus() int
}

type ers struct {
	code CodeError
	msg  string
	trap []Error
}

// New builds an Error for code, optionally overriding its registered message.
func New(code CodeError, msg string) Error {
	if msg == "" {
		msg = code.Message()
	}
	return &ers{code: code, msg: msg}
}

// Wrap builds an Error for code with err recorded as its sole parent.
func Wrap(code CodeError, err error) Error {
	e := &ers{code: code, msg: code.Message()}
	if err != nil {
		e.AddParent(err)
	}
	return e
}

func (e *ers) Error() string {
	if e == nil {
		return ""
	}
	if len(e.trap) == 0 {
		return e.msg
	}
	parts := make([]string, 0, len(e.trap)+1)
	parts = append(parts, e.msg)
	for _, p := range e.trap {
		parts = append(parts, p.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ers) Code() CodeError {
	if e == nil {
		return UnknownError
	}
	return e.code
}

func (e *ers) Is(err error) bool {
	if e == nil || err == nil {
		return false
	}
	if o, ok := err.(*ers); ok {
		return o.code == e.code
	}
	return strings.EqualFold(e.Error(), err.Error())
}

func (e *ers) HasParent() bool {
	return e != nil && len(e.trap) > 0
}

func (e *ers) Parents() []Error {
	if e == nil {
		return nil
	}
	return e.trap
}

func (e *ers) AddParent(parent ...error) Error {
	for _, p := range parent {
		if p == nil {
			continue
		}
		if pe, ok := p.(Error); ok {
			e.trap = append(e.trap, pe)
		} else {
			e.trap = append(e.trap, &ers{code: UnknownError, msg: p.Error()})
		}
	}
	return e
}

// HTTPStatus maps the worker-pool / request-pipeline taxonomy to HTTP
// status codes. Codes with no explicit mapping fall back to 500.
func (e *ers) HTTPStatus() int {
	switch e.Code() {
	case ErrorQueueFull:
		return http.StatusServiceUnavailable
	case ErrorTimeout:
		return http.StatusGatewayTimeout
	case ErrorShutdown:
		return http.StatusServiceUnavailable
	case ErrorChannelClosed:
		return http.StatusInternalServerError
	case ErrorExecution:
		return http.StatusInternalServerError
	case ErrorBadRequest:
		return http.StatusBadRequest
	case ErrorNotFound:
		return http.StatusNotFound
	case ErrorMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrorTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// QueueFull builds the error for a saturated worker-pool submission queue.
func QueueFull(capacity, pending int) Error {
	return New(ErrorQueueFull, fmt.Sprintf("queue full: %d/%d pending requests", pending, capacity))
}
