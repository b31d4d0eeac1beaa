package sapi

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/nabbar/fenrir/internal/applog"
	"github.com/nabbar/fenrir/ioutils/bufferReadCloser"
)

// BufferedBridge is the default Bridge implementation: it buffers output
// until headers are sent, then either keeps buffering (non-streaming) or
// forwards writes to a Flusher (streaming), matching the original's
// distinction between a buffered response and an activated SSE/chunked
// stream.
type BufferedBridge struct {
	mu         sync.Mutex
	status     int
	headers    http.Header
	raw        bytes.Buffer
	buf        bufferReadCloser.Buffer
	streaming  bool
	finished   bool
	start      time.Time
	log        applog.Logger
	onStream   func(p []byte) (int, error)
	onFlush    func() error
	heartbeat  func()
	onActivate func(status int, headers http.Header)
	onFinish   func(status int, headers http.Header, body []byte)
}

// NewBufferedBridge builds a BufferedBridge. onStream/onFlush are invoked
// only once streaming has been activated; heartbeat extends the caller's
// execution timeout. onActivate, if set, fires exactly once when
// ActivateStreaming commits the headers captured so far, letting the
// caller wire the client response as a live stream instead of waiting for
// Execute to return.
func NewBufferedBridge(log applog.Logger, onStream func([]byte) (int, error), onFlush func() error, heartbeat func()) *BufferedBridge {
	b := &BufferedBridge{
		headers:   http.Header{},
		start:     time.Now(),
		log:       log,
		onStream:  onStream,
		onFlush:   onFlush,
		heartbeat: heartbeat,
	}
	b.buf = bufferReadCloser.New(&b.raw)
	return b
}

// OnActivate registers the callback ActivateStreaming fires once, with the
// status/headers captured so far. Must be called before ActivateStreaming.
func (b *BufferedBridge) OnActivate(fn func(status int, headers http.Header)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onActivate = fn
}

// OnFinish registers the callback FinishRequest fires once, with the
// status/headers/body captured at that point. Must be called before
// FinishRequest.
func (b *BufferedBridge) OnFinish(fn func(status int, headers http.Header, body []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFinish = fn
}

func (b *BufferedBridge) WriteOutput(p []byte) (int, error) {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return len(p), nil
	}
	streaming := b.streaming
	b.mu.Unlock()

	if streaming && b.onStream != nil {
		return b.onStream(p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *BufferedBridge) Flush() error {
	if b.onFlush != nil {
		return b.onFlush()
	}
	return nil
}

func (b *BufferedBridge) SendHeaders(status int, headers http.Header) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != 0 {
		return
	}
	b.status = status
	for k, v := range headers {
		b.headers[k] = v
	}
}

func (b *BufferedBridge) ActivateStreaming() {
	b.mu.Lock()
	if b.streaming {
		b.mu.Unlock()
		return
	}
	b.streaming = true
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := b.headers.Clone()
	fn := b.onActivate
	b.mu.Unlock()

	if fn != nil {
		fn(status, headers)
	}
}

// FinishRequest marks the response complete and, if OnFinish was
// registered and streaming has not been activated (the callback is not
// called for a streaming response), hands the headers/body captured so far
// to the caller
// immediately so the HTTP layer can start sending a response while the
// script keeps running in the background (e.g. to flush logs or close
// upstream connections) for post-response cleanup. Calling it more than
// once is a no-op; further WriteOutput calls after it are discarded.
func (b *BufferedBridge) FinishRequest() {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return
	}
	b.finished = true
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := b.headers.Clone()
	body := append([]byte(nil), b.raw.Bytes()...)
	streaming := b.streaming
	fn := b.onFinish
	b.mu.Unlock()

	if fn != nil && !streaming {
		fn(status, headers, body)
	}
}

// Release closes the underlying buffer, clearing it. Call once the response
// has been fully read out via Snapshot or streamed; the bridge is not reused
// afterward.
func (b *BufferedBridge) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Close()
}

// Finished reports whether FinishRequest has been called.
func (b *BufferedBridge) Finished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

func (b *BufferedBridge) LogMessage(level string, message string) {
	if b.log == nil {
		return
	}
	switch level {
	case "error":
		b.log.Error(message, nil, nil)
	case "warn", "warning":
		b.log.Warning(message, nil)
	case "debug":
		b.log.Debug(message, nil)
	default:
		b.log.Info(message, nil)
	}
}

func (b *BufferedBridge) Heartbeat() {
	if b.heartbeat != nil {
		b.heartbeat()
	}
}

func (b *BufferedBridge) RequestTime() time.Duration {
	return time.Since(b.start)
}

// Snapshot returns the buffered status/headers/body captured so far. It is
// only meaningful for non-streaming responses.
func (b *BufferedBridge) Snapshot() (int, http.Header, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return status, b.headers.Clone(), append([]byte(nil), b.raw.Bytes()...)
}
