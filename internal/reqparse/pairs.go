package reqparse

import (
	"strings"

	"github.com/nabbar/fenrir/internal/sapi"
)

// Pair is an ordered key/value entry, used wherever the spec requires
// insertion order to survive parsing (query string, cookies, form body)
// instead of collapsing into a map. It is an alias of sapi.Pair so parsed
// results can be stored on a sapi.Request without a conversion step.
type Pair = sapi.Pair

// ParseQueryString splits raw on '&', then each piece on the first '=',
// percent-decoding key and value and preserving insertion order. Keys that
// decode to the empty string are skipped; a piece with no '=' is a
// key with an empty value.
func ParseQueryString(raw string) []Pair {
	if raw == "" {
		return nil
	}

	var out []Pair
	for _, piece := range strings.Split(raw, "&") {
		if piece == "" {
			continue
		}
		k, v, _ := strings.Cut(piece, "=")
		key := percentDecode(k)
		if key == "" {
			continue
		}
		out = append(out, Pair{Key: key, Value: percentDecode(v)})
	}
	return out
}

// ReencodeQueryString is the inverse of ParseQueryString: it percent-encodes
// and joins pairs back into a query string, preserving their order. Round
// tripping ParseQueryString through this function for printable-ASCII
// input reproduces the same ordered pairs.
func ReencodeQueryString(pairs []Pair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, percentEncode(p.Key)+"="+percentEncode(p.Value))
	}
	return strings.Join(parts, "&")
}

// ParseCookieHeader splits a Cookie header on ';', trims whitespace, and
// splits each piece on the first '=', percent-decoding the value only (per
// spec.md's §4.4 cookie rule) and preserving order. Empty names are
// skipped.
func ParseCookieHeader(raw string) []Pair {
	if raw == "" {
		return nil
	}

	var out []Pair
	for _, piece := range strings.Split(raw, ";") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		k, v, _ := strings.Cut(piece, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, Pair{Key: k, Value: percentDecode(strings.TrimSpace(v))})
	}
	return out
}

// percentDecode decodes %XX escapes and '+' as space, tolerating malformed
// sequences by passing them through unchanged rather than failing the whole
// parse (a single bad escape in one field should not drop the rest of the
// request's parameters).
func percentDecode(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '+':
			b.WriteByte(' ')
		case '%':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				b.WriteByte(hexVal(s[i+1])<<4 | hexVal(s[i+2]))
				i += 2
			} else {
				b.WriteByte('%')
			}
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

const upperhex = "0123456789ABCDEF"

// percentEncode escapes everything except unreserved characters (RFC 3986
// "unreserved" set), matching the decode side closely enough that
// parse(reencode(parse(x))) == parse(x) for printable ASCII input.
func percentEncode(s string) string {
	needsEscape := false
	for i := 0; i < len(s); i++ {
		if !isUnreserved(s[i]) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	default:
		return false
	}
}
