// Package calendar decides which calendar dates are NYSE trading days.
//
// No NYSE-calendar library appears anywhere in the example corpus (the
// teacher and its siblings are trading/portfolio tools but never needed to
// classify arbitrary historical dates), so this package is implemented
// against the standard library's time package, using the fixed NYSE holiday
// rules. This is documented in DESIGN.md as a stdlib-only component with no
// suitable ecosystem substitute found in the pack.
package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/sigmasight/batch-core/internal/batcherrors"
)

// NYSE is the trading calendar used throughout the batch core. Dates are
// calendar dates in US/Eastern for trading-day classification (spec.md §4.A)
// but the zero-value Location is acceptable here because holiday rules are
// computed on the Y/M/D components directly, not on wall-clock instants.
type NYSE struct{}

// New returns the NYSE trading calendar.
func New() *NYSE {
	return &NYSE{}
}

// IsTradingDay reports whether d (truncated to its date components) is an
// NYSE trading day: not a weekend, and not an observed NYSE holiday.
func (c *NYSE) IsTradingDay(d time.Time) bool {
	d = truncateToDate(d)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.isHoliday(d)
}

// RequireTradingDay validates a caller-supplied date (as opposed to one this
// package itself enumerated), returning batcherrors.ErrNoTradingDay if d
// falls on a weekend or observed holiday.
func (c *NYSE) RequireTradingDay(d time.Time) error {
	if !c.IsTradingDay(d) {
		return fmt.Errorf("%s: %w", truncateToDate(d).Format("2006-01-02"), batcherrors.ErrNoTradingDay)
	}
	return nil
}

// EnumerateTradingDays returns every trading day in [start, end], inclusive,
// in ascending order.
func (c *NYSE) EnumerateTradingDays(start, end time.Time) []time.Time {
	start = truncateToDate(start)
	end = truncateToDate(end)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if c.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// isHoliday reports whether d is an observed NYSE holiday: New Year's Day,
// Martin Luther King Jr. Day, Washington's Birthday, Good Friday, Memorial
// Day, Juneteenth, Independence Day, Labor Day, Thanksgiving, and Christmas,
// each shifted to the nearest weekday when it falls on a weekend per NYSE
// convention (Saturday holidays observed the preceding Friday; Sunday
// holidays observed the following Monday).
func (c *NYSE) isHoliday(d time.Time) bool {
	for _, h := range c.holidaysForYear(d.Year()) {
		if h.Equal(d) {
			return true
		}
	}
	return false
}

func (c *NYSE) holidaysForYear(year int) []time.Time {
	var holidays []time.Time

	add := func(month time.Month, day int) {
		holidays = append(holidays, observed(time.Date(year, month, day, 0, 0, 0, 0, time.UTC)))
	}

	add(time.January, 1)
	holidays = append(holidays, nthWeekdayOfMonth(year, time.January, time.Monday, 3))  // MLK Day
	holidays = append(holidays, nthWeekdayOfMonth(year, time.February, time.Monday, 3)) // Washington's Birthday
	holidays = append(holidays, goodFriday(year))
	holidays = append(holidays, lastWeekdayOfMonth(year, time.May, time.Monday)) // Memorial Day
	add(time.June, 19)                                                          // Juneteenth
	add(time.July, 4)
	holidays = append(holidays, nthWeekdayOfMonth(year, time.September, time.Monday, 1)) // Labor Day
	holidays = append(holidays, nthWeekdayOfMonth(year, time.November, time.Thursday, 4)) // Thanksgiving
	add(time.December, 25)

	return holidays
}

// observed shifts a fixed-date holiday that falls on a weekend to the
// nearest NYSE-observed weekday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	default:
		return d
	}
}

func nthWeekdayOfMonth(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	count := 0
	for {
		if d.Weekday() == weekday {
			count++
			if count == n {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}

func lastWeekdayOfMonth(year int, month time.Month, weekday time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for d.Weekday() != weekday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday computes Good Friday (two days before Easter Sunday) using the
// anonymous Gregorian algorithm (Meeus/Jones/Butcher).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	cc := year % 100
	dd := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - dd - g + 15) % 30
	i := cc / 4
	k := cc % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := ((h + l - 7*m + 114) % 31) + 1

	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return easter.AddDate(0, 0, -2)
}
