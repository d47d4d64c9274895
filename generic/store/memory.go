// Package store provides in-memory implementations of the generic store interfaces.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/practicas-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.HolidayCache, generic.AuditLog, generic.Outbox
// and generic.NotificationLog.
type Memory struct {
	TTL   time.Duration
	Clock generic.Clock

	mu       sync.RWMutex
	holidays map[int]generic.HolidaySet
	audit    []generic.AuditEntry
	events   []generic.Event
	marks    map[markKey]generic.NotificationMark
}

type markKey struct {
	InternshipID string
	RecipientID  string
}

func NewMemory() *Memory {
	return &Memory{
		TTL:      generic.DefaultHolidayTTL,
		Clock:    generic.SystemClock{},
		holidays: make(map[int]generic.HolidaySet),
		marks:    make(map[markKey]generic.NotificationMark),
	}
}

// -----------------------------------------------------------------------------
// HolidayCache
// -----------------------------------------------------------------------------

func (m *Memory) Get(_ context.Context, year int) (generic.HolidaySet, bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, ok := m.holidays[year]
	if !ok {
		return generic.HolidaySet{}, false, false
	}
	fresh := m.Clock.Now().Sub(set.FetchedAt) < m.TTL
	return set, fresh, true
}

func (m *Memory) Put(_ context.Context, year int, set generic.HolidaySet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[year] = set
	return nil
}

// -----------------------------------------------------------------------------
// AuditLog
// -----------------------------------------------------------------------------

func (m *Memory) Append(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) Query(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []generic.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Outbox
// -----------------------------------------------------------------------------

func (m *Memory) Enqueue(_ context.Context, events ...generic.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) Pending(_ context.Context, limit int) ([]generic.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []generic.Event
	for _, e := range m.events {
		if e.DeliveredAt == nil {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Attempts++
			m.events[i].DeliveredAt = &at
			m.events[i].LastError = ""
			return nil
		}
	}
	return generic.ErrEntityNotFound
}

func (m *Memory) MarkFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			m.events[i].Attempts++
			m.events[i].LastError = reason
			return nil
		}
	}
	return generic.ErrEntityNotFound
}

// Events returns every event ever enqueued (delivered or not).
func (m *Memory) Events() []generic.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]generic.Event(nil), m.events...)
}

// -----------------------------------------------------------------------------
// NotificationLog
// -----------------------------------------------------------------------------

func (m *Memory) LastNotified(_ context.Context, internshipID, recipientID string) (generic.NotificationMark, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mark, ok := m.marks[markKey{InternshipID: internshipID, RecipientID: recipientID}]
	return mark, ok, nil
}

func (m *Memory) MarkNotified(_ context.Context, marks []generic.NotificationMark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mk := range marks {
		m.marks[markKey{InternshipID: mk.InternshipID, RecipientID: mk.RecipientID}] = mk
	}
	return nil
}

// Compile-time interface checks
var (
	_ generic.HolidayCache    = (*Memory)(nil)
	_ generic.AuditLog        = (*Memory)(nil)
	_ generic.Outbox          = (*Memory)(nil)
	_ generic.NotificationLog = (*Memory)(nil)
)
