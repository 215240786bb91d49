// Package dates turns the loosely formatted dates found in imaging reports and
// annotation fields into a canonical YYYY-MM-DD form.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical output format.
const Layout = "2006-01-02"

var (
	compactPattern   = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	delimitedPattern = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})$`)
)

// Normalize parses s as either a compact YYYYMMDD date or a delimited date
// using '-', '/' or '.' separators with one or two digit month and day.
//
// On a valid calendar date it returns the YYYY-MM-DD form and true. When the
// input has a date shape but is not a real date (month 13, February 30), or
// has no date shape at all, the trimmed input is returned with false. Empty
// input returns "" and false. Callers must not use a false result for date
// matching.
func Normalize(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	for _, p := range []*regexp.Regexp{compactPattern, delimitedPattern} {
		m := p.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		t, ok := calendarDate(m[1], m[2], m[3])
		if !ok {
			return s, false
		}
		return t.Format(Layout), true
	}

	return s, false
}

// Equal reports whether a and b normalize to the same valid date.
func Equal(a, b string) bool {
	na, okA := Normalize(a)
	nb, okB := Normalize(b)
	return okA && okB && na == nb
}

func calendarDate(ys, ms, ds string) (time.Time, bool) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)
	if y < 1 || m < 1 || m > 12 || d < 1 {
		return time.Time{}, false
	}

	// time.Date normalizes overflow (Feb 30 -> Mar 2), so reject anything
	// that did not survive unchanged.
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
