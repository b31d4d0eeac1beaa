// Package reqparse turns an inbound *http.Request into the sapi.Request the
// executor expects: resolved script path, query string, cookies, and the
// $_SERVER-equivalent variable set, plus multipart upload handling with a
// bounded per-part size.
package reqparse

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nabbar/fenrir/file/perm"
	"github.com/nabbar/fenrir/internal/requestctx"
	"github.com/nabbar/fenrir/internal/sapi"
	"github.com/nabbar/fenrir/ioutils"
)

// MaxPartSize bounds a single multipart part's size; a part exceeding it is
// rejected rather than exhausting memory or disk, surfaced to the script as
// upload error code 1 (UPLOAD_ERR_INI_SIZE in PHP's convention, which the
// original implementation's upload handling follows).
const MaxPartSize = 10 << 20 // 10 MiB

// UploadErrPartTooLarge mirrors the original's error=1 convention for an
// oversized upload part.
const UploadErrPartTooLarge = 1

// DefaultUploadPerm is the mode applied to stored upload temp files: owner
// read/write only, since the uploaded content is untrusted until the
// executor validates it.
const DefaultUploadPerm = "0600"

// UploadedFile is one successfully stored multipart file upload. It is an
// alias of sapi.UploadedFile so a parsed batch can be stored on a
// sapi.Request without a conversion step.
type UploadedFile = sapi.UploadedFile

// Kind identifies how a resolved request path should be handled.
type Kind int

const (
	KindScript Kind = iota
	KindStatic
	KindNotFound
)

// Resolution is the outcome of resolving a request path against the
// document root.
type Resolution struct {
	Kind Kind
	Path string
}

// Resolve maps a request URI onto a file under root the way nginx's
// try_files directive does: direct requests for the configured index file
// are rejected (so every route goes through normal resolution instead of
// bypassing the front controller); a directory match falls back to its
// index file then index.html; an exact file match executes as a script
// when it shares the index file's extension and serves as a static asset
// otherwise; anything else falls back to the front controller
// (root/indexFile) if one exists.
func Resolve(root, indexFile, requestPath string) Resolution {
	if indexFile == "" {
		indexFile = "index.php"
	}
	scriptExt := filepath.Ext(indexFile)

	clean := path.Clean("/" + requestPath)
	indexRoute := "/" + indexFile
	if clean == indexRoute || strings.HasPrefix(clean, indexRoute+"/") {
		return Resolution{Kind: KindNotFound}
	}

	candidate := filepath.Join(root, filepath.FromSlash(clean))

	if info, err := os.Stat(candidate); err == nil {
		if info.IsDir() {
			idx := filepath.Join(candidate, indexFile)
			if _, err := os.Stat(idx); err == nil {
				return Resolution{Kind: KindScript, Path: idx}
			}
			html := filepath.Join(candidate, "index.html")
			if _, err := os.Stat(html); err == nil {
				return Resolution{Kind: KindStatic, Path: html}
			}
		} else if scriptExt != "" && filepath.Ext(candidate) == scriptExt {
			return Resolution{Kind: KindScript, Path: candidate}
		} else {
			return Resolution{Kind: KindStatic, Path: candidate}
		}
	}

	front := filepath.Join(root, indexFile)
	if _, err := os.Stat(front); err == nil {
		return Resolution{Kind: KindScript, Path: front}
	}

	return Resolution{Kind: KindNotFound}
}

// ResolveScriptPath is Resolve narrowed to the script outcome, kept for
// callers that only ever hand an executor a script path.
func ResolveScriptPath(root, requestPath string) (string, error) {
	res := Resolve(root, "index.php", requestPath)
	if res.Kind != KindScript {
		return "", fmt.Errorf("reqparse: no script resolves for %q under %q", requestPath, root)
	}
	return res.Path, nil
}

// BuildServerVars constructs the $_SERVER-equivalent variable set the SAPI
// bridge exposes to the script, combining request metadata with the
// request-scoped identifiers requestctx.RequestContext carries.
func BuildServerVars(r *http.Request, rc *requestctx.RequestContext, scriptPath string) map[string]string {
	vars := map[string]string{
		"REQUEST_METHOD":  r.Method,
		"REQUEST_URI":     r.RequestURI,
		"QUERY_STRING":    r.URL.RawQuery,
		"SCRIPT_FILENAME": scriptPath,
		"SCRIPT_NAME":     r.URL.Path,
		"SERVER_PROTOCOL": r.Proto,
		"REMOTE_ADDR":     rc.ClientIP,
		"HTTP_HOST":       r.Host,
		"REQUEST_ID":      rc.RequestID,
		"TRACE_ID":        rc.TraceID,
		"SPAN_ID":         rc.SpanID,
	}

	if rc.TLS != nil {
		vars["HTTPS"] = "on"
		vars["SSL_PROTOCOL"] = rc.TLS.Version
		vars["SSL_CIPHER"] = rc.TLS.CipherSuite
	}

	for name := range r.Header {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		vars[key] = r.Header.Get(name)
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		vars["CONTENT_TYPE"] = ct
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		vars["CONTENT_LENGTH"] = cl
	}

	return vars
}

// ParseCookies extracts the request's cookies into a plain map, the shape
// the SAPI bridge's read-cookies callback exposes to the script.
func ParseCookies(r *http.Request) map[string]string {
	out := map[string]string{}
	for _, c := range r.Cookies() {
		out[c.Name] = c.Value
	}
	return out
}

// ParseMultipart streams a multipart/form-data body to temp files, one per
// part, enforcing MaxPartSize per part. A part exceeding the limit is
// recorded with Error set instead of aborting the whole upload.
func ParseMultipart(r *http.Request, tempDir string) ([]UploadedFile, error) {
	return parseMultipart(r, tempDir, DefaultUploadPerm)
}

// parseMultipartWithPerm is ParseMultipart with an explicit temp-file mode,
// parsed via file/perm so the same octal-string convention used for the
// document root's on-disk permissions governs uploads.
func parseMultipart(r *http.Request, tempDir, mode string) ([]UploadedFile, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("reqparse: not a multipart request")
	}

	p, err := perm.Parse(mode)
	if err != nil {
		return nil, fmt.Errorf("reqparse: upload perm %q: %w", mode, err)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	var files []UploadedFile

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		if part.FileName() == "" {
			part.Close()
			continue
		}

		uf := UploadedFile{FieldName: part.FormName(), FileName: part.FileName()}

		tmp, err := os.CreateTemp(tempDir, "fenrir-upload-*")
		if err != nil {
			part.Close()
			return files, fmt.Errorf("reqparse: creating temp file: %w", err)
		}
		if chmodErr := tmp.Chmod(p.FileMode()); chmodErr != nil {
			part.Close()
			tmp.Close()
			return files, fmt.Errorf("reqparse: chmod temp file: %w", chmodErr)
		}

		n, limitErr := copyLimited(tmp, part, MaxPartSize)
		uf.Size = n
		uf.TempPath = tmp.Name()
		if limitErr != nil {
			uf.Error = UploadErrPartTooLarge
		}

		tmp.Close()
		part.Close()
		files = append(files, uf)
	}

	return files, nil
}

func copyLimited(dst *os.File, src *multipart.Part, limit int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64

	for {
		n, err := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > limit {
				return total, fmt.Errorf("reqparse: part exceeds %d bytes", limit)
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
	}
}

// CleanupUploads removes the temp files backing a parsed multipart batch
// once the executor is done with them, surfacing close/remove failures as a
// single combined error via ioutils' typed file-removal errors.
func CleanupUploads(files []UploadedFile) error {
	var firstErr error
	for _, uf := range files {
		if uf.TempPath == "" {
			continue
		}
		f, err := os.Open(uf.TempPath)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if derr := ioutils.DelTempFile(f); derr != nil && firstErr == nil {
			firstErr = derr
		}
	}
	return firstErr
}

// ToSAPIRequest assembles a sapi.Request from an inbound HTTP request,
// its resolved script and request-scoped context. Query and cookie pairs
// are parsed per spec.md §4.4 (percent-decoded, order-preserving) rather
// than taken from net/url's unordered map types. uploadTempDir is where
// multipart file parts are stored for a multipart/form-data body; the
// caller removes them via CleanupUploads once the executor is done with
// the request. When the inbound request carries "X-Profile: 1", the
// second return value is a populated timing breakdown; otherwise nil.
func ToSAPIRequest(r *http.Request, rc *requestctx.RequestContext, scriptPath, uploadTempDir string) (sapi.Request, *sapi.ProfileData) {
	parseStart := time.Now()
	profile := r.Header.Get("X-Profile") == "1"

	headersStart := time.Now()
	headers := r.Header
	var headersUs int64
	if profile {
		headersUs = time.Since(headersStart).Microseconds()
	}

	queryStart := time.Now()
	queryPairs := ParseQueryString(r.URL.RawQuery)
	var queryUs int64
	if profile {
		queryUs = time.Since(queryStart).Microseconds()
	}

	cookiesStart := time.Now()
	cookiePairs := ParseCookieHeader(r.Header.Get("Cookie"))
	cookieMap := ParseCookies(r)
	var cookiesUs int64
	if profile {
		cookiesUs = time.Since(cookiesStart).Microseconds()
	}

	var (
		postPairs  []Pair
		files      []UploadedFile
		bodyReadUs int64
	)

	ct := r.Header.Get("Content-Type")
	bodyStart := time.Now()
	switch {
	case r.Method == http.MethodPost && strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err == nil {
			postPairs = ParseQueryString(string(body))
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
	case r.Method == http.MethodPost && strings.HasPrefix(ct, "multipart/form-data"):
		parsed, err := ParseMultipart(r, uploadTempDir)
		if err == nil {
			files = parsed
		}
	}
	if profile {
		bodyReadUs = time.Since(bodyStart).Microseconds()
	}

	serverVarsStart := time.Now()
	server := BuildServerVars(r, rc, scriptPath)
	var serverVarsUs int64
	if profile {
		serverVarsUs = time.Since(serverVarsStart).Microseconds()
	}

	req := sapi.Request{
		Method:      r.Method,
		URI:         r.URL.Path,
		QueryString: r.URL.RawQuery,
		Headers:     headers,
		Server:      server,
		Cookies:     cookieMap,
		Body:        r.Body,
		ScriptPath:  scriptPath,
		RemoteAddr:  rc.ClientIP,
		QueryPairs:  queryPairs,
		PostPairs:   postPairs,
		CookiePairs: cookiePairs,
		Files:       files,
		Profile:     profile,
	}

	if !profile {
		return req, nil
	}

	pd := &sapi.ProfileData{
		HTTPVersion:      r.Proto,
		HeadersExtractUs: headersUs,
		QueryParseUs:     queryUs,
		CookiesParseUs:   cookiesUs,
		BodyReadUs:       bodyReadUs,
		ServerVarsUs:     serverVarsUs,
		ParseRequestUs:   time.Since(parseStart).Microseconds(),
	}
	if rc.TLS != nil {
		pd.TLSProtocol = rc.TLS.Version
		pd.TLSALPN = rc.TLS.ALPN
		pd.TLSHandshakeUs = rc.TLS.HandshakeUs
	}
	return req, pd
}
