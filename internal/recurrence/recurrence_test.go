package recurrence

import (
	"errors"
	"testing"
	"time"
)

// fakeCalendar marks listed dates ("2006-01-02") as holidays and everything
// else as workdays, ignoring weekends entirely so tests control the outcome.
type fakeCalendar struct {
	holidays map[string]bool
}

func (f fakeCalendar) IsHoliday(t time.Time) bool { return f.holidays[t.Format("2006-01-02")] }
func (f fakeCalendar) IsWorkday(t time.Time) bool { return !f.holidays[t.Format("2006-01-02")] }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 8, 0, 0, 0, time.Local)
}

func TestParseAndCombine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		kind Kind
		filt Filter
	}{
		{"", None, NoFilter},
		{"none", None, NoFilter},
		{"daily", Daily, NoFilter},
		{"weekly", Weekly, NoFilter},
		{"monthly_workday", Monthly, WorkdayOnly},
		{"yearly_holiday", Yearly, HolidayOnly},
		{"Daily_Workday", Daily, WorkdayOnly},
	}
	for _, tc := range cases {
		k, f, err := Parse(tc.in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tc.in, err)
		}
		if k != tc.kind || f != tc.filt {
			t.Fatalf("Parse(%q) = (%v, %v), want (%v, %v)", tc.in, k, f, tc.kind, tc.filt)
		}
	}

	if got := Combine(Daily, WorkdayOnly); got != "daily_workday" {
		t.Fatalf("Combine = %q", got)
	}
	if got := Combine(None, NoFilter); got != "none" {
		t.Fatalf("Combine(none) = %q", got)
	}

	for _, bad := range []string{"hourly", "daily_never", "weekly_daily"} {
		if _, _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q): expected error", bad)
		}
	}
}

func TestShouldFireTodayStructural(t *testing.T) {
	t.Parallel()
	cal := fakeCalendar{}
	base := date(2025, time.September, 17) // Wednesday

	if !ShouldFireToday(base, Daily, NoFilter, date(2025, time.September, 18), cal) {
		t.Fatal("daily must fire every day")
	}
	if !ShouldFireToday(base, Weekly, NoFilter, date(2025, time.September, 24), cal) {
		t.Fatal("weekly must fire on the same weekday")
	}
	if ShouldFireToday(base, Weekly, NoFilter, date(2025, time.September, 23), cal) {
		t.Fatal("weekly must not fire on another weekday")
	}
	if !ShouldFireToday(base, Yearly, NoFilter, date(2026, time.September, 17), cal) {
		t.Fatal("yearly must fire on the same month and day")
	}
	if ShouldFireToday(base, Yearly, NoFilter, date(2026, time.October, 17), cal) {
		t.Fatal("yearly must not fire in another month")
	}
}

func TestMonthlyShortMonthSkips(t *testing.T) {
	t.Parallel()
	cal := fakeCalendar{}
	base := date(2025, time.January, 31)

	// February has no 31st: no structural match on any February day.
	for d := 1; d <= 28; d++ {
		if ShouldFireToday(base, Monthly, NoFilter, date(2025, time.February, d), cal) {
			t.Fatalf("monthly day-31 item fired on Feb %d", d)
		}
	}
	// March 31 matches again.
	if !ShouldFireToday(base, Monthly, NoFilter, date(2025, time.March, 31), cal) {
		t.Fatal("monthly day-31 item must fire on Mar 31")
	}
}

func TestFilterGatesStructuralMatch(t *testing.T) {
	t.Parallel()
	// 2025-09-22 is a Monday; mark it a holiday.
	cal := fakeCalendar{holidays: map[string]bool{"2025-09-22": true}}
	base := date(2025, time.September, 15) // Monday

	if ShouldFireToday(base, Weekly, WorkdayOnly, date(2025, time.September, 22), cal) {
		t.Fatal("workday-filtered weekly item fired on a holiday Monday")
	}
	if !ShouldFireToday(base, Weekly, HolidayOnly, date(2025, time.September, 22), cal) {
		t.Fatal("holiday-filtered weekly item must fire on a holiday Monday")
	}
	if !ShouldFireToday(base, Weekly, WorkdayOnly, date(2025, time.September, 29), cal) {
		t.Fatal("workday-filtered weekly item must fire on a working Monday")
	}
}

func TestDescribe(t *testing.T) {
	t.Parallel()
	if got := Describe(None, NoFilter); got != "one-time" {
		t.Fatalf("Describe(none) = %q", got)
	}
	seen := map[string]bool{}
	for _, k := range []Kind{Daily, Weekly, Monthly, Yearly} {
		for _, f := range []Filter{NoFilter, WorkdayOnly, HolidayOnly} {
			s := Describe(k, f)
			if s == "" || seen[s] {
				t.Fatalf("Describe(%v, %v) = %q (empty or duplicate)", k, f, s)
			}
			seen[s] = true
		}
	}
	if len(seen) != 12 {
		t.Fatalf("expected 12 distinct descriptions, got %d", len(seen))
	}
}

func TestRepairParams(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name              string
		week, repeat, hol string
		wWeek, wRep, wHol string
	}{
		{"already valid", "mon", "weekly", "workday", "mon", "weekly", "workday"},
		{"repeat kind in weekday slot", "daily", "", "", "", "daily", ""},
		{"filter in weekday slot", "workday", "daily", "", "", "daily", "workday"},
		{"two-token repeat", "", "daily workday", "", "", "daily", "workday"},
		{"underscored repeat", "", "daily_workday", "", "", "daily", "workday"},
		{"case folding", "MON", "Weekly", "", "mon", "weekly", ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			w, r, h, err := RepairParams(tc.week, tc.repeat, tc.hol)
			if err != nil {
				t.Fatalf("RepairParams error: %v", err)
			}
			if w != tc.wWeek || r != tc.wRep || h != tc.wHol {
				t.Fatalf("got (%q, %q, %q), want (%q, %q, %q)", w, r, h, tc.wWeek, tc.wRep, tc.wHol)
			}
		})
	}
}

func TestRepairParamsRejectsResidualGarbage(t *testing.T) {
	t.Parallel()
	for _, in := range [][3]string{
		{"noday", "", ""},
		{"", "hourly", ""},
		{"", "daily", "never"},
		{"daily", "weekly", ""}, // repeat slot occupied, nowhere to shift
	} {
		_, _, _, err := RepairParams(in[0], in[1], in[2])
		if err == nil {
			t.Fatalf("RepairParams(%q, %q, %q): expected error", in[0], in[1], in[2])
		}
		var ipe *InvalidParameterError
		if !errors.As(err, &ipe) {
			t.Fatalf("error type %T, want *InvalidParameterError", err)
		}
	}
}

func TestNextWeekday(t *testing.T) {
	t.Parallel()
	wed := date(2025, time.September, 17)

	if got := NextWeekday(wed, time.Wednesday); !got.Equal(wed) {
		t.Fatalf("same weekday must be unchanged, got %v", got)
	}
	if got := NextWeekday(wed, time.Friday); got.Day() != 19 {
		t.Fatalf("Wed->Fri: got day %d, want 19", got.Day())
	}
	got := NextWeekday(wed, time.Monday)
	if got.Day() != 22 || got.Weekday() != time.Monday {
		t.Fatalf("Wed->Mon: got %v", got)
	}
	if got.Hour() != wed.Hour() || got.Minute() != wed.Minute() {
		t.Fatal("time of day must be preserved")
	}
}
