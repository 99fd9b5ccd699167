// Copyright 2025 Fleetbridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date expressions embed a rendered date into command parameters, written
// as {date:<format>:<offset>}. The format uses the common Y/m/d letters
// (e.g. "Y-m-d", "Ymd") and the offset is one of "today", "yesterday",
// "tomorrow", or a signed relative amount like "-3days", "+2weeks",
// "-1months".

var dateExprPattern = regexp.MustCompile(`\{date:([^:{}]+):([^:{}]+)\}`)

var offsetPattern = regexp.MustCompile(`^([+-]\d+)(day|days|week|weeks|month|months)$`)

// formatRunes maps date format letters to their reference-time fragments.
var formatRunes = map[rune]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'n': "1",
	'd': "02",
	'j': "2",
	'H': "15",
	'i': "04",
	's': "05",
}

// DateExpr is one parsed {date:...:...} occurrence.
type DateExpr struct {
	Format string
	Offset string
}

// ParseDateExpr parses a single expression like "{date:Y-m-d:-3days}".
func ParseDateExpr(s string) (DateExpr, error) {
	m := dateExprPattern.FindStringSubmatch(s)
	if m == nil || m[0] != s {
		return DateExpr{}, fmt.Errorf("invalid date expression %q", s)
	}
	expr := DateExpr{Format: m[1], Offset: m[2]}
	if _, err := applyOffset(time.Now(), expr.Offset); err != nil {
		return DateExpr{}, err
	}
	return expr, nil
}

// Render evaluates the expression against a reference time.
func (e DateExpr) Render(now time.Time) (string, error) {
	at, err := applyOffset(now, e.Offset)
	if err != nil {
		return "", err
	}
	return at.Format(goLayout(e.Format)), nil
}

// ResolveDateExprs replaces every date expression inside a parameter string.
// A malformed expression fails the whole string so a broken command is never
// dispatched with a literal "{date:...}" in it.
func ResolveDateExprs(s string, now time.Time) (string, error) {
	var firstErr error
	out := dateExprPattern.ReplaceAllStringFunc(s, func(match string) string {
		expr, err := ParseDateExpr(match)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		rendered, err := expr.Render(now)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return rendered
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func applyOffset(now time.Time, offset string) (time.Time, error) {
	switch strings.ToLower(offset) {
	case "today", "now":
		return now, nil
	case "yesterday":
		return now.AddDate(0, 0, -1), nil
	case "tomorrow":
		return now.AddDate(0, 0, 1), nil
	}

	m := offsetPattern.FindStringSubmatch(strings.ToLower(offset))
	if m == nil {
		return time.Time{}, fmt.Errorf("unsupported date offset %q", offset)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("unsupported date offset %q", offset)
	}

	switch strings.TrimSuffix(m[2], "s") {
	case "day":
		return now.AddDate(0, 0, n), nil
	case "week":
		return now.AddDate(0, 0, 7*n), nil
	case "month":
		return now.AddDate(0, n, 0), nil
	}
	return time.Time{}, fmt.Errorf("unsupported date offset %q", offset)
}

func goLayout(format string) string {
	var b strings.Builder
	for _, r := range format {
		if frag, ok := formatRunes[r]; ok {
			b.WriteString(frag)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
