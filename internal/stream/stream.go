// Package stream implements a channel-backed response body for chunked
// transfer and Server-Sent Events, so a script can push output as it is
// produced instead of the server buffering the full body before writing
// anything, with a receiver-drop as the cancellation signal.
package stream

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Chunk is one unit of streamed output. An Err chunk terminates the stream
// after being delivered.
type Chunk struct {
	Data []byte
	Err  error
}

// Stream is a back-pressured, single-reader channel of Chunks. Send blocks
// until the reader drains the previous chunk or the stream is canceled,
// giving a slow client natural back-pressure on a fast producer.
type Stream struct {
	ch     chan Chunk
	done   chan struct{}
	cancel func()
}

// New creates a Stream with the given buffer depth (0 for fully
// synchronous back-pressure).
func New(ctx context.Context, buffer int) (*Stream, context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan Chunk, buffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		<-cctx.Done()
		s.Close()
	}()

	return s, cctx
}

// Send delivers a chunk of body data, blocking for back-pressure. It
// returns false if the stream has been canceled (e.g. the client
// disconnected) and the producer should stop.
func (s *Stream) Send(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.ch <- Chunk{Data: data}:
		return true
	case <-s.done:
		return false
	}
}

// Fail delivers a terminal error and closes the stream.
func (s *Stream) Fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.ch <- Chunk{Err: err}:
	case <-s.done:
	}
	s.Close()
}

// Close signals completion; no further Send/Fail calls are delivered.
func (s *Stream) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
		s.cancel()
	}
}

// Reader adapts the Stream to io.ReadCloser for http.ResponseWriter
// consumers that want to copy chunks out as they arrive; closing it
// cancels the stream.
func (s *Stream) Reader() io.ReadCloser {
	return &reader{s: s}
}

type reader struct {
	s   *Stream
	buf []byte
}

func (r *reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		// Drain anything already buffered before honoring a closed done
		// channel, so a Close() racing with in-flight Sends never drops
		// chunks the producer already committed.
		select {
		case c, ok := <-r.s.ch:
			if !ok {
				return 0, io.EOF
			}
			if c.Err != nil {
				return 0, c.Err
			}
			r.buf = c.Data
			continue
		default:
		}

		select {
		case c, ok := <-r.s.ch:
			if !ok {
				return 0, io.EOF
			}
			if c.Err != nil {
				return 0, c.Err
			}
			r.buf = c.Data
		case <-r.s.done:
			return 0, io.EOF
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close implements io.Closer so a Stream's Reader can be used directly as
// an http.Response body; it cancels the stream, unblocking any in-flight
// Send from the producer.
func (r *reader) Close() error {
	r.s.Close()
	return nil
}

// Streaming reports true, letting HTTP response writers recognize a
// streaming body and flush incrementally instead of buffering it whole.
func (r *reader) Streaming() bool { return true }

// SSEEvent formats data as a single Server-Sent Events message, optionally
// named via event, matching the "event: name\ndata: ...\n\n" wire format.
func SSEEvent(event string, data []byte) []byte {
	var out []byte
	if event != "" {
		out = append(out, []byte(fmt.Sprintf("event: %s\n", event))...)
	}
	out = append(out, []byte("data: "+string(data)+"\n\n")...)
	return out
}

// SSEKeepAlive is an empty comment line used to hold a long-idle SSE
// connection open without delivering a real event.
func SSEKeepAlive() []byte {
	return []byte(": keepalive\n\n")
}

// KeepAliveTicker periodically sends SSEKeepAlive frames through s until
// ctx is canceled or the stream closes, so an idle SSE connection survives
// intermediary read timeouts.
func KeepAliveTicker(ctx context.Context, s *Stream, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-t.C:
			if !s.Send(SSEKeepAlive()) {
				return
			}
		}
	}
}
