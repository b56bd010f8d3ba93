// Package timeparse turns human- and machine-entered time strings into
// canonical minute-precision local timestamps.
//
// Parse accepts the loose shapes users type into chat commands and resolves
// partial dates to the nearest future occurrence. ParseCanonical accepts only
// fully-qualified timestamps and is meant for machine-generated input.
package timeparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical timestamp form: minute precision, local time zone.
const Layout = "2006-01-02 15:04"

// InvalidFormatError reports an unparseable time string. The message
// enumerates every accepted shape so it can be shown to the user verbatim.
type InvalidFormatError struct {
	Raw    string
	Reason string
}

func (e *InvalidFormatError) Error() string {
	msg := fmt.Sprintf("unrecognized time %q", e.Raw)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg + "; supported formats: HH:MM (8:05), HHMM (0805), YYYYMMDDHHII (202509170600), YYYY-MM-DD-HH:MM (2025-09-17-06:00), MM-DD-HH:MM (09-17-06:00), MMDDHHII (09170600)"
}

func invalid(raw, reason string) error { return &InvalidFormatError{Raw: raw, Reason: reason} }

// Format renders t in the canonical layout.
func Format(t time.Time) string { return t.Format(Layout) }

// Parse converts a user-entered time string into a canonical timestamp.
//
// Shapes are tried in priority order, first match wins:
//
//  1. YYYY-MM-DD-HH:MM or MM-DD-HH:MM (hyphen date, colon time)
//  2. 12-digit YYYYMMDDHHII
//  3. 8-digit MMDDHHII
//  4. HH:MM (full-width colon accepted)
//  5. 4-digit HHMM
//
// A result that already passed (compared at minute granularity) is advanced
// to the next future occurrence: one day for time-only shapes, one year for
// month/day shapes. An explicit year older than the current year is first
// rolled forward to the current year, then re-checked. A timestamp equal to
// "now" truncated to the minute is accepted as-is.
func Parse(raw string, now time.Time) (time.Time, error) {
	s := normalize(raw)
	if s == "" {
		return time.Time{}, invalid(raw, "empty input")
	}

	switch {
	case strings.Contains(s, "-") && strings.Contains(s, ":"):
		return parseHyphenated(raw, s, now)
	case len(s) == 12 && isDigits(s):
		return parseYearDigits(raw, s, now)
	case len(s) == 8 && isDigits(s):
		month, _ := strconv.Atoi(s[0:2])
		day, _ := strconv.Atoi(s[2:4])
		hour, _ := strconv.Atoi(s[4:6])
		minute, _ := strconv.Atoi(s[6:8])
		return resolveMonthDay(raw, month, day, hour, minute, now)
	case strings.Contains(s, ":"):
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return time.Time{}, invalid(raw, "expected HH:MM")
		}
		hour, err1 := strconv.Atoi(parts[0])
		minute, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return time.Time{}, invalid(raw, "expected HH:MM")
		}
		return resolveTimeOfDay(raw, hour, minute, now)
	case len(s) == 4 && isDigits(s):
		hour, _ := strconv.Atoi(s[0:2])
		minute, _ := strconv.Atoi(s[2:4])
		return resolveTimeOfDay(raw, hour, minute, now)
	}
	return time.Time{}, invalid(raw, "")
}

// canonicalLayouts are the separator-equivalent forms accepted by
// ParseCanonical. Seconds, when present, are dropped.
var canonicalLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02 15:04:05",
}

// ParseCanonical accepts only fully-qualified timestamps. It applies the
// same past-rollover policy as Parse for explicit-year shapes but never
// attempts the ambiguous short forms.
func ParseCanonical(raw string, now time.Time) (time.Time, error) {
	s := normalize(raw)
	for _, layout := range canonicalLayouts {
		t, err := time.ParseInLocation(layout, s, now.Location())
		if err != nil {
			continue
		}
		return resolveExplicitYear(raw, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), now)
	}
	return time.Time{}, &InvalidFormatError{Raw: raw, Reason: "expected YYYY-MM-DD HH:MM"}
}

func normalize(raw string) string {
	s := strings.TrimSpace(raw)
	// Full-width colon from CJK input methods.
	return strings.ReplaceAll(s, "：", ":")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func parseHyphenated(raw, s string, now time.Time) (time.Time, error) {
	parts := strings.Split(s, "-")
	var datePart []string
	timePart := parts[len(parts)-1]
	if !strings.Contains(timePart, ":") {
		return time.Time{}, invalid(raw, "time part must be HH:MM")
	}
	datePart = parts[:len(parts)-1]

	hm := strings.Split(timePart, ":")
	if len(hm) != 2 {
		return time.Time{}, invalid(raw, "time part must be HH:MM")
	}
	hour, err1 := strconv.Atoi(hm[0])
	minute, err2 := strconv.Atoi(hm[1])
	if err1 != nil || err2 != nil {
		return time.Time{}, invalid(raw, "time part must be HH:MM")
	}

	nums := make([]int, 0, len(datePart))
	for _, p := range datePart {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, invalid(raw, "date part must be numeric")
		}
		nums = append(nums, n)
	}

	switch len(nums) {
	case 3: // YYYY-MM-DD-HH:MM
		return resolveExplicitYear(raw, nums[0], nums[1], nums[2], hour, minute, now)
	case 2: // MM-DD-HH:MM
		return resolveMonthDay(raw, nums[0], nums[1], hour, minute, now)
	default:
		return time.Time{}, invalid(raw, "expected YYYY-MM-DD-HH:MM or MM-DD-HH:MM")
	}
}

func parseYearDigits(raw, s string, now time.Time) (time.Time, error) {
	year, _ := strconv.Atoi(s[0:4])
	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	hour, _ := strconv.Atoi(s[8:10])
	minute, _ := strconv.Atoi(s[10:12])
	return resolveExplicitYear(raw, year, month, day, hour, minute, now)
}

// resolveExplicitYear applies the rollover policy for shapes carrying a year:
// a year older than the current one is first rolled forward to the current
// year, then the result is re-checked and rolled one more year if still past.
func resolveExplicitYear(raw string, year, month, day, hour, minute int, now time.Time) (time.Time, error) {
	if year < now.Year() {
		year = now.Year()
	}
	t, err := makeDate(raw, year, month, day, hour, minute, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	if isPast(t, now) {
		t, err = makeDate(raw, year+1, month, day, hour, minute, now.Location())
		if err != nil {
			return time.Time{}, err
		}
	}
	return t, nil
}

// resolveMonthDay fills in the current year and rolls forward exactly one
// year when the result already passed.
func resolveMonthDay(raw string, month, day, hour, minute int, now time.Time) (time.Time, error) {
	t, err := makeDate(raw, now.Year(), month, day, hour, minute, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	if isPast(t, now) {
		t, err = makeDate(raw, now.Year()+1, month, day, hour, minute, now.Location())
		if err != nil {
			return time.Time{}, err
		}
	}
	return t, nil
}

// resolveTimeOfDay places the time on today's date and moves it to tomorrow
// when it already passed.
func resolveTimeOfDay(raw string, hour, minute int, now time.Time) (time.Time, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, invalid(raw, "hour must be 0-23 and minute 0-59")
	}
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if isPast(t, now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// makeDate builds a timestamp and rejects components that do not form a real
// calendar date (time.Date would silently normalize Feb 30 to Mar 2).
func makeDate(raw string, year, month, day, hour, minute int, loc *time.Location) (time.Time, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, invalid(raw, "hour must be 0-23 and minute 0-59")
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, invalid(raw, "no such calendar date")
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, invalid(raw, "no such calendar date")
	}
	return t, nil
}

// isPast compares at minute granularity. A timestamp equal to "now"
// truncated to the minute is not past, which keeps fire-immediately
// semantics working.
func isPast(t, now time.Time) bool {
	nowMin := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), 0, 0, now.Location())
	return t.Before(nowMin)
}
