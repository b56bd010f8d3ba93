// Package recurrence models repeat rules for scheduled items: a repeat kind
// (daily, weekly, monthly, yearly) optionally composed with a calendar
// filter (workday, holiday). The stored wire form is "kind" or
// "kind_filter", e.g. "daily_workday".
package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the structural repeat cycle.
type Kind string

const (
	None    Kind = "none"
	Daily   Kind = "daily"
	Weekly  Kind = "weekly"
	Monthly Kind = "monthly"
	Yearly  Kind = "yearly"
)

// Filter gates a structurally-matching day against the holiday calendar.
type Filter string

const (
	NoFilter    Filter = ""
	WorkdayOnly Filter = "workday"
	HolidayOnly Filter = "holiday"
)

// Calendar is the subset of the holiday calendar the resolver needs.
type Calendar interface {
	IsWorkday(t time.Time) bool
	IsHoliday(t time.Time) bool
}

// InvalidParameterError reports a token that fits none of the accepted
// enumerations, naming the accepted values for the slot.
type InvalidParameterError struct {
	Field    string
	Value    string
	Accepted string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid %s %q; accepted: %s", e.Field, e.Value, e.Accepted)
}

const (
	acceptedWeekdays = "mon, tue, wed, thu, fri, sat, sun (full names also accepted)"
	acceptedKinds    = "daily, weekly, monthly, yearly"
	acceptedFilters  = "workday, holiday"
)

// Parse splits a stored repeat string into kind and filter.
// Empty and "none" both mean a one-shot item. A filter composes only with
// a repeating kind.
func Parse(repeat string) (Kind, Filter, error) {
	s := strings.ToLower(strings.TrimSpace(repeat))
	if s == "" || s == string(None) {
		return None, NoFilter, nil
	}
	kindPart, filterPart, _ := strings.Cut(s, "_")
	k := Kind(kindPart)
	switch k {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return None, NoFilter, &InvalidParameterError{Field: "repeat", Value: repeat, Accepted: acceptedKinds}
	}
	f := Filter(filterPart)
	switch f {
	case NoFilter, WorkdayOnly, HolidayOnly:
	default:
		return None, NoFilter, &InvalidParameterError{Field: "holiday filter", Value: filterPart, Accepted: acceptedFilters}
	}
	return k, f, nil
}

// Combine renders the stored wire form.
func Combine(k Kind, f Filter) string {
	if k == None || k == "" {
		return string(None)
	}
	if f == NoFilter {
		return string(k)
	}
	return string(k) + "_" + string(f)
}

// ShouldFireToday decides whether a repeating item whose base occurrence is
// base fires on today's date. The structural cycle must match AND the
// filter must pass against the calendar.
//
// Monthly items anchored to day 29, 30 or 31 skip months without that day;
// the day is never clamped to month end.
func ShouldFireToday(base time.Time, k Kind, f Filter, today time.Time, cal Calendar) bool {
	structural := false
	switch k {
	case None:
		structural = true
	case Daily:
		structural = true
	case Weekly:
		structural = today.Weekday() == base.Weekday()
	case Monthly:
		structural = today.Day() == base.Day()
	case Yearly:
		structural = today.Month() == base.Month() && today.Day() == base.Day()
	}
	if !structural {
		return false
	}
	switch f {
	case WorkdayOnly:
		return cal != nil && cal.IsWorkday(today)
	case HolidayOnly:
		return cal != nil && cal.IsHoliday(today)
	default:
		return true
	}
}

var descriptions = map[Kind]map[Filter]string{
	Daily: {
		NoFilter:    "every day",
		WorkdayOnly: "every workday",
		HolidayOnly: "every holiday",
	},
	Weekly: {
		NoFilter:    "every week",
		WorkdayOnly: "every week on workdays",
		HolidayOnly: "every week on holidays",
	},
	Monthly: {
		NoFilter:    "every month",
		WorkdayOnly: "every month on workdays",
		HolidayOnly: "every month on holidays",
	},
	Yearly: {
		NoFilter:    "every year",
		WorkdayOnly: "every year on workdays",
		HolidayOnly: "every year on holidays",
	},
}

// Describe renders a repeat rule for confirmation and list output.
func Describe(k Kind, f Filter) string {
	if k == None || k == "" {
		return "one-time"
	}
	if m, ok := descriptions[k]; ok {
		if s, ok := m[f]; ok {
			return s
		}
	}
	return string(k)
}

var weekdayTokens = map[string]time.Weekday{
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
}

// Weekday resolves a weekday token ("mon" or "monday" style).
func Weekday(token string) (time.Weekday, bool) {
	w, ok := weekdayTokens[strings.ToLower(strings.TrimSpace(token))]
	return w, ok
}

// NextWeekday moves t forward to the requested weekday, keeping the time of
// day. A t already on that weekday is returned unchanged; the caller is
// expected to have resolved t to a future timestamp first.
func NextWeekday(t time.Time, w time.Weekday) time.Time {
	days := (int(w) - int(t.Weekday()) + 7) % 7
	if days == 0 {
		return t
	}
	return t.AddDate(0, 0, days)
}

func isKindToken(s string) bool {
	switch Kind(s) {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

func isFilterToken(s string) bool {
	switch Filter(s) {
	case WorkdayOnly, HolidayOnly:
		return true
	}
	return false
}

// RepairParams fixes the common slot mix-ups in (weekday, repeat, holiday
// filter) parameter triples coming from loosely structured input:
//
//   - a "weekday" token that is actually a repeat kind or a filter moves to
//     the empty matching slot;
//   - a two-token repeat such as "daily workday" (or "daily_workday")
//     splits into repeat and filter.
//
// Whatever remains invalid after repair is an *InvalidParameterError.
func RepairParams(week, repeat, holidayType string) (string, string, string, error) {
	week = strings.ToLower(strings.TrimSpace(week))
	repeat = strings.ToLower(strings.TrimSpace(repeat))
	holidayType = strings.ToLower(strings.TrimSpace(holidayType))

	if week != "" {
		if _, ok := Weekday(week); !ok {
			switch {
			case isKindToken(week) && repeat == "":
				repeat, week = week, ""
			case isFilterToken(week) && holidayType == "":
				holidayType, week = week, ""
			}
		}
	}

	if repeat != "" {
		tokens := strings.FieldsFunc(repeat, func(r rune) bool { return r == ' ' || r == '_' })
		if len(tokens) == 2 && isKindToken(tokens[0]) && isFilterToken(tokens[1]) && holidayType == "" {
			repeat, holidayType = tokens[0], tokens[1]
		}
	}

	if week != "" {
		if _, ok := Weekday(week); !ok {
			return "", "", "", &InvalidParameterError{Field: "weekday", Value: week, Accepted: acceptedWeekdays}
		}
	}
	if repeat != "" && repeat != string(None) && !isKindToken(repeat) {
		return "", "", "", &InvalidParameterError{Field: "repeat", Value: repeat, Accepted: acceptedKinds}
	}
	if holidayType != "" && !isFilterToken(holidayType) {
		return "", "", "", &InvalidParameterError{Field: "holiday filter", Value: holidayType, Accepted: acceptedFilters}
	}
	return week, repeat, holidayType, nil
}
