/*
deadline.go - Business-day completion date calculation

PURPOSE:
  Projects the date on which a required number of work-hours is completed,
  counting only working days (no weekends, no holidays).

ALGORITHM:
  days = ceil(requiredHours / HoursPerDay)
  Walk forward from the start date (inclusive). A day counts if it is not
  Saturday/Sunday and not in the holiday calendar for its year. Return the
  date of the days-th counted day.

SAFETY BOUND:
  A misbehaving holiday source could mark every day as a holiday. The walk
  gives up after days + MaxExtraDays iterations with ErrDeadlineUncomputable.

EXAMPLE:
  calc := generic.NewDeadlineCalculator(calendar)
  end, err := calc.CompletionDate(ctx, generic.NewTimePoint(2025, 3, 3), 40)
  // end == 2025-03-07 (Mon..Fri) when the week has no holidays

SEE ALSO:
  - calendar.go: CachedCalendar, the production HolidayCalendar
*/
package generic

import "context"

const (
	// HoursPerWorkday is the number of work-hours credited per working day.
	HoursPerWorkday = 8

	// MaxExtraDays bounds the walk beyond the required day count (~2 years).
	MaxExtraDays = 730
)

// DeadlineCalculator computes completion dates over working days.
type DeadlineCalculator struct {
	Calendar     HolidayCalendar
	HoursPerDay  int
	MaxExtraDays int
}

// NewDeadlineCalculator creates a calculator with the standard 8h day.
func NewDeadlineCalculator(calendar HolidayCalendar) *DeadlineCalculator {
	if calendar == nil {
		calendar = NoHolidays{}
	}
	return &DeadlineCalculator{
		Calendar:     calendar,
		HoursPerDay:  HoursPerWorkday,
		MaxExtraDays: MaxExtraDays,
	}
}

// WorkdaysFor returns ceil(requiredHours / hoursPerDay).
func (dc *DeadlineCalculator) WorkdaysFor(requiredHours int) int {
	perDay := dc.hoursPerDay()
	return (requiredHours + perDay - 1) / perDay
}

// CompletionDate returns the date on which requiredHours of work are done
// when starting on start.
func (dc *DeadlineCalculator) CompletionDate(ctx context.Context, start TimePoint, requiredHours int) (TimePoint, error) {
	if requiredHours <= 0 {
		return TimePoint{}, &DeadlineError{Start: start, RequiredHours: requiredHours, cause: ErrInvalidConfiguration}
	}

	days := dc.WorkdaysFor(requiredHours)
	bound := days + dc.maxExtraDays()
	years := newYearCache(dc.Calendar)

	counted := 0
	day := start.AddDays(0)
	for i := 0; i < bound; i++ {
		if err := ctx.Err(); err != nil {
			return TimePoint{}, err
		}
		if years.isWorkday(ctx, day) {
			counted++
			if counted == days {
				return day, nil
			}
		}
		day = day.AddDays(1)
	}

	return TimePoint{}, &DeadlineError{
		Start:         start,
		RequiredHours: requiredHours,
		Iterations:    bound,
		cause:         ErrDeadlineUncomputable,
	}
}

// QualifyingDays counts working days in [from, to] inclusive.
func (dc *DeadlineCalculator) QualifyingDays(ctx context.Context, from, to TimePoint) int {
	years := newYearCache(dc.Calendar)
	n := 0
	for day := from.AddDays(0); day.BeforeOrEqual(to); day = day.AddDays(1) {
		if years.isWorkday(ctx, day) {
			n++
		}
	}
	return n
}

func (dc *DeadlineCalculator) hoursPerDay() int {
	if dc.HoursPerDay <= 0 {
		return HoursPerWorkday
	}
	return dc.HoursPerDay
}

func (dc *DeadlineCalculator) maxExtraDays() int {
	if dc.MaxExtraDays <= 0 {
		return MaxExtraDays
	}
	return dc.MaxExtraDays
}

// yearCache memoizes one HolidaySet per year for the duration of a walk,
// so the calendar is consulted once per year rather than once per day.
type yearCache struct {
	calendar HolidayCalendar
	sets     map[int]HolidaySet
}

func newYearCache(calendar HolidayCalendar) *yearCache {
	if calendar == nil {
		calendar = NoHolidays{}
	}
	return &yearCache{calendar: calendar, sets: make(map[int]HolidaySet)}
}

// Holidays implements HolidayCalendar over the memoized sets.
func (yc *yearCache) Holidays(ctx context.Context, year int) HolidaySet {
	set, ok := yc.sets[year]
	if !ok {
		set = yc.calendar.Holidays(ctx, year)
		yc.sets[year] = set
	}
	return set
}

func (yc *yearCache) isWorkday(ctx context.Context, day TimePoint) bool {
	return day.IsWorkdayWithHolidays(ctx, yc)
}
