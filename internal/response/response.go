// Package response finalizes outbound HTTP responses: header validation,
// conditional brotli compression, custom error pages and static-asset
// cache headers, the response-side counterpart to reqparse.
package response

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

// CompressMinSize and CompressMaxSize bound the body sizes worth paying
// brotli's compression overhead for: too small and the framing overhead
// dominates, too large and the CPU cost is not worth it for a synchronous
// request path.
const (
	CompressMinSize = 256
	CompressMaxSize = 3 * 1024 * 1024

	// BrotliQuality and BrotliWindow are the fixed compression parameters
	// used for every response.
	BrotliQuality = 4
	BrotliWindow  = 20
)

var compressibleTypes = map[string]bool{
	"text/html":              true,
	"text/plain":             true,
	"text/css":               true,
	"text/xml":               true,
	"application/javascript": true,
	"application/json":       true,
	"application/xml":        true,
	"image/svg+xml":          true,
	"font/ttf":               true,
	"font/otf":               true,
}

// ShouldCompress reports whether a response body is worth brotli-encoding,
// given its declared content type, size and the request's Accept-Encoding.
func ShouldCompress(contentType string, size int, acceptEncoding string) bool {
	if size < CompressMinSize || size > CompressMaxSize {
		return false
	}
	if !strings.Contains(acceptEncoding, "br") {
		return false
	}

	base := contentType
	if idx := strings.IndexByte(base, ';'); idx >= 0 {
		base = base[:idx]
	}
	base = strings.TrimSpace(strings.ToLower(base))
	return compressibleTypes[base]
}

// Compress brotli-encodes body at the given quality level (0-11).
func Compress(body []byte, quality int) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, quality)
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("brotli write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli close: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressDefault brotli-encodes body at the fixed quality/window used
// for response compression.
func CompressDefault(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{Quality: BrotliQuality, LGWin: BrotliWindow})
	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("brotli write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli close: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyCompression brotli-encodes body when ShouldCompress allows it and
// the result is strictly smaller than the original, setting
// Content-Encoding and Vary on success. It leaves body and headers
// untouched (returning ok=false) whenever compression would not help,
// discarding the compressed form when it is not strictly smaller.
func ApplyCompression(body []byte, headers http.Header, acceptEncoding string) (out []byte, ok bool) {
	if headers.Get("Content-Encoding") != "" {
		return body, false
	}
	if !ShouldCompress(headers.Get("Content-Type"), len(body), acceptEncoding) {
		return body, false
	}

	compressed, err := CompressDefault(body)
	if err != nil || len(compressed) >= len(body) {
		return body, false
	}

	headers.Set("Content-Encoding", "br")
	headers.Set("Vary", "Accept-Encoding")
	return compressed, true
}

// DeriveStatus computes the response status from the headers a script
// produced: an "http/<status>"-named header or a literal "status" header
// with a numeric first token sets the status; an unescalated "location"
// header raises it to 302. Start is the status to return when no header
// overrides it (conventionally 200).
func DeriveStatus(headers http.Header, start int) int {
	status := start
	explicit := false

	for name, values := range headers {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "http/") && len(values) > 0 {
			if n, ok := firstStatusToken(values[0]); ok {
				status = n
				explicit = true
			}
		}
		if lower == "status" && len(values) > 0 {
			if n, ok := firstStatusToken(values[0]); ok {
				status = n
				explicit = true
			}
		}
	}

	if !explicit && headers.Get("Location") != "" {
		status = http.StatusFound
	}

	return status
}

func firstStatusToken(v string) (int, bool) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 100 || n > 599 {
		return 0, false
	}
	return n, true
}

// isValidHeaderValue rejects control characters (other than horizontal
// tab) that would allow header/response splitting if echoed verbatim into
// a header value.
func isValidHeaderValue(v string) bool {
	for _, r := range v {
		if r == '\r' || r == '\n' {
			return false
		}
		if r < 0x20 && r != '\t' {
			return false
		}
	}
	return true
}

// SanitizeHeaders drops any header whose value contains characters that
// are not valid in an HTTP header field, returning the cleaned set and the
// names that were dropped.
func SanitizeHeaders(h http.Header) (http.Header, []string) {
	clean := http.Header{}
	var dropped []string

	for name, values := range h {
		ok := true
		for _, v := range values {
			if !isValidHeaderValue(v) {
				ok = false
				break
			}
		}
		if ok {
			clean[name] = values
		} else {
			dropped = append(dropped, name)
		}
	}

	return clean, dropped
}

// ErrorPage renders a minimal HTML error body for the given status code,
// used when the interpreter itself fails to produce a response (e.g. a
// QueueFull/Timeout/Execution error surfaced by the worker pool).
func ErrorPage(status int) []byte {
	text := http.StatusText(status)
	if text == "" {
		text = "Error"
	}
	return []byte(fmt.Sprintf(
		"<!DOCTYPE html><html><head><title>%d %s</title></head>"+
			"<body><h1>%d %s</h1></body></html>",
		status, text, status, text,
	))
}

// StaticCacheHeaders builds Cache-Control/ETag headers for a static asset
// served out of the file cache, cacheable for maxAgeSeconds.
func StaticCacheHeaders(etag string, maxAgeSeconds int) http.Header {
	h := http.Header{}
	h.Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAgeSeconds))
	if etag != "" {
		h.Set("ETag", `"`+etag+`"`)
	}
	return h
}

// LoadErrorPages reads "<status>.html" files out of dir into a status-code
// keyed map of pre-rendered bodies, returning a nil map (not an error) when
// dir is empty so callers can treat "no custom error pages configured" and
// "configured but empty" the same way.
func LoadErrorPages(dir string) (map[int][]byte, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("response: reading error pages dir %q: %w", dir, err)
	}

	pages := make(map[int][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := filepath.Ext(name)
		if ext != ".html" {
			continue
		}
		status, err := strconv.Atoi(strings.TrimSuffix(name, ext))
		if err != nil {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("response: reading error page %q: %w", name, err)
		}
		pages[status] = body
	}
	return pages, nil
}

// SubstituteErrorPage returns the pre-loaded page for status in place of an
// empty error body, when the client's Accept header admits text/html.
// ok reports whether a substitution was made.
func SubstituteErrorPage(pages map[int][]byte, status int, body []byte, accept string) (out []byte, ok bool) {
	if status < 400 || len(body) != 0 {
		return body, false
	}
	if accept != "" && !strings.Contains(accept, "text/html") && !strings.Contains(accept, "*/*") {
		return body, false
	}
	page, found := pages[status]
	if !found {
		return body, false
	}
	return page, true
}
