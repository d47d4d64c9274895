package generic

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// HOLIDAY PROVIDER - External source of non-working dates
// =============================================================================

// HolidayProvider fetches the holidays of one year from an external source.
type HolidayProvider interface {
	FetchHolidays(ctx context.Context, year int) ([]TimePoint, error)
}

// HolidayProviderFunc adapts a function to HolidayProvider.
type HolidayProviderFunc func(ctx context.Context, year int) ([]TimePoint, error)

func (f HolidayProviderFunc) FetchHolidays(ctx context.Context, year int) ([]TimePoint, error) {
	return f(ctx, year)
}

// =============================================================================
// CACHED CALENDAR - Per-year cache in front of the provider, fail-open
// =============================================================================

const (
	DefaultHolidayTTL   = 6 * time.Hour
	DefaultFetchTimeout = 5 * time.Second
	DefaultRetryBackoff = time.Minute
)

// CachedCalendar serves holiday sets from a HolidayCache and refreshes stale
// years from a HolidayProvider. Provider failures never surface: the previous
// entry (or an empty set) is returned instead, and the provider is not asked
// again for that year until RetryBackoff has passed.
type CachedCalendar struct {
	Provider     HolidayProvider
	Cache        HolidayCache
	Clock        Clock
	FetchTimeout time.Duration
	RetryBackoff time.Duration

	group singleflight.Group

	mu       sync.Mutex
	failedAt map[int]time.Time
}

// NewCachedCalendar creates a calendar with default timeouts.
func NewCachedCalendar(provider HolidayProvider, cache HolidayCache) *CachedCalendar {
	return &CachedCalendar{
		Provider:     provider,
		Cache:        cache,
		Clock:        SystemClock{},
		FetchTimeout: DefaultFetchTimeout,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// Holidays implements HolidayCalendar.
func (c *CachedCalendar) Holidays(ctx context.Context, year int) HolidaySet {
	set, fresh, ok := c.Cache.Get(ctx, year)
	if ok && fresh {
		return set
	}
	if c.backingOff(year) {
		if ok {
			return set
		}
		return NewHolidaySet(year, nil, time.Time{})
	}

	// Concurrent misses for the same year share one provider call, which
	// outlives the cancellation of whichever caller started it.
	shared := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(strconv.Itoa(year), func() (any, error) {
		return c.refresh(shared, year), nil
	})
	return v.(HolidaySet)
}

func (c *CachedCalendar) refresh(ctx context.Context, year int) HolidaySet {
	prev, fresh, ok := c.Cache.Get(ctx, year)
	if ok && fresh {
		return prev
	}

	timeout := c.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dates, err := c.Provider.FetchHolidays(fetchCtx, year)
	if err != nil {
		c.markFailed(year)
		if ok {
			log.Printf("[Calendar] Fetch for %d failed, serving entry from %s: %v",
				year, prev.FetchedAt.Format(time.RFC3339), err)
			return prev
		}
		log.Printf("[Calendar] Fetch for %d failed, no cached entry, assuming no holidays: %v", year, err)
		return NewHolidaySet(year, nil, time.Time{})
	}

	c.clearFailed(year)
	set := NewHolidaySet(year, dates, c.now())
	if err := c.Cache.Put(ctx, year, set); err != nil {
		log.Printf("[Calendar] Failed to cache holidays for %d: %v", year, err)
	}
	return set
}

// backingOff reports whether the last fetch for year failed less than
// RetryBackoff ago.
func (c *CachedCalendar) backingOff(year int) bool {
	if c.RetryBackoff <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.failedAt[year]
	return ok && c.now().Sub(at) < c.RetryBackoff
}

func (c *CachedCalendar) markFailed(year int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failedAt == nil {
		c.failedAt = make(map[int]time.Time)
	}
	c.failedAt[year] = c.now()
}

func (c *CachedCalendar) clearFailed(year int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failedAt, year)
}

func (c *CachedCalendar) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// =============================================================================
// STATIC CALENDAR - Fixed dates, for tests and local overrides
// =============================================================================

// StaticCalendar is a calendar backed by a fixed list of dates.
type StaticCalendar struct {
	Dates []TimePoint
}

func (s StaticCalendar) Holidays(_ context.Context, year int) HolidaySet {
	return NewHolidaySet(year, s.Dates, time.Time{})
}
