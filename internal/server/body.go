package server

import (
	"bytes"
	"io"
)

func newBodyReadCloser(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}
