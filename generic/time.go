/*
Package generic provides the domain-agnostic building blocks of the engine.

PURPOSE:
  Dates, clocks, holiday calendars, the business-day deadline calculator,
  error types and the persistence interfaces shared by the lifecycle,
  escalation and notification packages. Nothing here knows what an
  internship is.

KEY CONCEPTS IN THIS FILE (time.go):
  - TimePoint: a calendar date at midnight UTC (deadlines are whole days)
  - Clock: injectable "now" so tests can pin the date
  - HolidayCalendar: the set of non-working dates for a year

SEE ALSO:
  - deadline.go: completion date projection
  - calendar.go: cached, fail-open holiday calendar
  - store.go: outbox, audit and notification log interfaces
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// TIME POINT - Day-granular calendar date (deadlines are whole days)
// =============================================================================

// TimePoint is a calendar date normalized to midnight UTC.
type TimePoint struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date (in t's own location).
func DateOf(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

// ParseDate parses an ISO YYYY-MM-DD date.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return TimePoint{}, err
	}
	return DateOf(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint { return TimePoint{Time: tp.normalize().AddDate(0, 0, n)} }

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsWeekend() bool {
	wd := tp.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
func (tp TimePoint) IsWorkday() bool { return !tp.IsWeekend() }
func (tp TimePoint) IsZero() bool    { return tp.Time.IsZero() }

func (tp TimePoint) String() string { return tp.Time.Format(dateLayout) }

// DaysBetween returns the number of calendar days from `from` to `to`
// (negative when to is earlier).
func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// =============================================================================
// CLOCK - Injectable "now" so deadline guards are testable
// =============================================================================

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Used in tests and demo scenarios.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// Today returns the clock's current date.
func Today(c Clock) TimePoint {
	if c == nil {
		c = SystemClock{}
	}
	return DateOf(c.Now())
}

// =============================================================================
// HOLIDAY CALENDAR - Non-working dates
// =============================================================================

// Holiday is a single non-working date, as kept in the local holiday table.
type Holiday struct {
	ID   string
	Date TimePoint
	Name string
}

// HolidayCalendar provides holiday lookup functionality.
type HolidayCalendar interface {
	// Holidays returns the non-working dates of year.
	// Implementations must never block indefinitely and never fail:
	// an unavailable source yields stale or empty data.
	Holidays(ctx context.Context, year int) HolidaySet
}

// NoHolidays is a calendar without holidays (weekends only).
type NoHolidays struct{}

func (NoHolidays) Holidays(_ context.Context, year int) HolidaySet {
	return NewHolidaySet(year, nil, time.Time{})
}

// IsWorkdayWithHolidays checks if a date is a working day, considering holidays.
func (tp TimePoint) IsWorkdayWithHolidays(ctx context.Context, calendar HolidayCalendar) bool {
	if !tp.IsWorkday() {
		return false
	}
	if calendar != nil && calendar.Holidays(ctx, tp.Year()).Contains(tp) {
		return false
	}
	return true
}
