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

// Package duration extends time.Duration parsing with day/week/year
// suffixes and the "off"/"0" sentinels used throughout the server's
// configuration record.
package duration

import (
	"math"
	"time"
)

// Duration wraps time.Duration. The value Off (-1), for which IsOff() is
// true, means the corresponding timeout is disabled.
type Duration time.Duration

// Off is the sentinel value meaning "no timeout" / "disabled".
const Off Duration = -1

// Time returns the time.Duration representation. Off returns 0.
func (d Duration) Time() time.Duration {
	if d == Off {
		return 0
	}
	return time.Duration(d)
}

// IsOff reports whether this duration represents a disabled timeout.
func (d Duration) IsOff() bool {
	return d == Off
}

// Seconds, Minutes, Hours, Days, Weeks, Years build a Duration from an integer
// count of the named unit.
func Seconds(i int64) Duration { return Duration(time.Duration(i) * time.Second) }
func Minutes(i int64) Duration { return Duration(time.Duration(i) * time.Minute) }
func Hours(i int64) Duration   { return Duration(time.Duration(i) * time.Hour) }
func Days(i int64) Duration    { return Duration(time.Duration(i) * 24 * time.Hour) }
func Weeks(i int64) Duration   { return Duration(time.Duration(i) * 7 * 24 * time.Hour) }
func Years(i int64) Duration   { return Duration(time.Duration(i) * 365 * 24 * time.Hour) }

// FromStd wraps a time.Duration as a Duration without modification.
func FromStd(d time.Duration) Duration {
	return Duration(d)
}

// Days returns the integer number of whole days contained in the duration.
func (d Duration) Days() int64 {
	t := math.Floor(d.Time().Hours() / 24)
	if t > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(t)
}
