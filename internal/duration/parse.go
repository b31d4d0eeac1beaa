/***********************************************************************************************************************
 *
 *   MIT License
 *
 *   Copyright (c) 2022 Nicolas JUHEL
 *
 *   Permission is hereby granted, free of charge, to any person obtaining a copy
 *   of this software and associated documentation files (the "Software"), to deal
 *   in the Software without restriction, including without limitation the rights
 *   to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *   copies of the Software, and to permit persons to whom the Software is
 *   furnished to do so, subject to the following conditions:
 *
 *   The above copyright notice and this permission notice shall be included in all
 *   copies or substantial portions of the Software.
 *
 *   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *   AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *   LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *   OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *   SOFTWARE.
 *
 *
 **********************************************************************************************************************/

package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse accepts "<n>s", "<n>m", "<n>h", "<n>d", "<n>w", "<n>y", a plain
// integer (seconds), "off" (disabled) and "0" (disabled). It is
// case-insensitive and tolerates surrounding quotes.
func Parse(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)

	lower := strings.ToLower(s)
	if lower == "off" {
		return Off, nil
	}
	if lower == "0" {
		return Off, nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Seconds(n), nil
	}

	if len(lower) >= 2 {
		unit := lower[len(lower)-1]
		numPart := lower[:len(lower)-1]
		if n, err := strconv.ParseInt(numPart, 10, 64); err == nil {
			switch unit {
			case 'd':
				return Days(n), nil
			case 'w':
				return Weeks(n), nil
			case 'y':
				return Years(n), nil
			}
		}
	}

	// Fall back to the standard library for "h"/"m"/"s" and combined forms
	// such as "5d23h15m13s" stripped of its day component.
	if days, rest, ok := splitDaySuffix(lower); ok {
		std, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		return Days(days) + FromStd(std), nil
	}

	std, err := time.ParseDuration(lower)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return FromStd(std), nil
}

// splitDaySuffix splits a leading "<n>d" component off a combined duration
// string like "5d23h15m13s", returning the remainder for time.ParseDuration.
func splitDaySuffix(s string) (days int64, rest string, ok bool) {
	idx := strings.IndexByte(s, 'd')
	if idx <= 0 {
		return 0, "", false
	}
	n, err := strconv.ParseInt(s[:idx], 10, 64)
	if err != nil {
		return 0, "", false
	}
	rest = s[idx+1:]
	if rest == "" {
		rest = "0s"
	}
	return n, rest, true
}

// String renders the duration back using the same "NdNhNmNs" shape as the
// teacher's duration.Duration.String, or "off" when disabled.
func (d Duration) String() string {
	if d.IsOff() {
		return "off"
	}

	var (
		s string
		n = d.Days()
		i = d.Time()
	)

	if n > 0 {
		i -= time.Duration(n) * 24 * time.Hour
		s = strconv.FormatInt(n, 10) + "d"
	}

	if n < 1 || i > 0 {
		s += i.String()
	}

	return s
}
