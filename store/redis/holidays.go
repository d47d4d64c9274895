// Package redis provides a Redis-backed holiday cache shared between replicas.
//
// Entries are stored as JSON under "practicas:holidays:{year}" with the fetch
// timestamp inside, so freshness is decided by the configured TTL and not by
// the key expiry. Keys outlive the TTL (KeepFor) so a stale entry is still
// around to serve when the provider is down.
//
// Redis failures degrade to cache misses: the calendar then fetches from the
// provider (or fails open) exactly as it would without a cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/warp/practicas-engine/generic"
)

const (
	keyPrefix      = "practicas:holidays:"
	defaultKeepFor = 30 * 24 * time.Hour
	opTimeout      = 250 * time.Millisecond
)

// HolidayCache implements generic.HolidayCache on Redis.
type HolidayCache struct {
	client *goredis.Client

	TTL     time.Duration
	KeepFor time.Duration
	Clock   generic.Clock
}

// NewHolidayCache returns nil when client is nil.
func NewHolidayCache(client *goredis.Client, ttl time.Duration) *HolidayCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = generic.DefaultHolidayTTL
	}
	return &HolidayCache{
		client:  client,
		TTL:     ttl,
		KeepFor: defaultKeepFor,
		Clock:   generic.SystemClock{},
	}
}

// Connect parses url and pings the server. A nil client with an error means
// the caller should fall back to the in-memory cache.
func Connect(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

type entry struct {
	Year      int       `json:"year"`
	Dates     []string  `json:"dates"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Get implements generic.HolidayCache.
func (c *HolidayCache) Get(ctx context.Context, year int) (generic.HolidaySet, bool, bool) {
	if c == nil || c.client == nil {
		return generic.HolidaySet{}, false, false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, key(year)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return generic.HolidaySet{}, false, false
	}
	if err != nil {
		log.Printf("[Calendar] Redis get for %d failed, treating as miss: %v", year, err)
		return generic.HolidaySet{}, false, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Printf("[Calendar] Corrupt cache entry for %d, ignoring: %v", year, err)
		return generic.HolidaySet{}, false, false
	}

	dates := make([]generic.TimePoint, 0, len(e.Dates))
	for _, s := range e.Dates {
		if d, err := generic.ParseDate(s); err == nil {
			dates = append(dates, d)
		}
	}
	set := generic.NewHolidaySet(year, dates, e.FetchedAt)
	fresh := c.now().Sub(e.FetchedAt) < c.TTL
	return set, fresh, true
}

// Put implements generic.HolidayCache.
func (c *HolidayCache) Put(ctx context.Context, year int, set generic.HolidaySet) error {
	if c == nil || c.client == nil {
		return nil
	}
	e := entry{Year: year, FetchedAt: set.FetchedAt, Dates: make([]string, 0, set.Len())}
	for d := range set.Dates {
		e.Dates = append(e.Dates, d)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.Set(ctx, key(year), raw, c.KeepFor).Err()
}

func (c *HolidayCache) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

func key(year int) string {
	return keyPrefix + strconv.Itoa(year)
}

var _ generic.HolidayCache = (*HolidayCache)(nil)
