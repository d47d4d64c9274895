/*
store.go - Persistence interfaces shared by the lifecycle and escalation engines

PURPOSE:
  Defines the interface between the domain logic and storage for everything
  that is not an internship record itself: the audit trail, the outbox of
  domain events, the holiday cache and the escalation notification log.
  Different implementations can use SQLite, Redis, or in-memory storage.

KEY INTERFACES:
  AuditLog:        Append-only trail of who did what to whom
  Outbox:          Domain events awaiting delivery
  HolidayCache:    Per-year holiday sets with freshness
  NotificationLog: Last escalation notice per (internship, recipient)

APPEND-ONLY CONTRACT:
  AuditLog has no Update() or Delete(). Outbox events are only ever marked
  delivered (or their attempt count bumped); they are never removed.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: AuditLog, Outbox, NotificationLog
  - store/redis/holidays.go: HolidayCache shared across replicas
  - generic/store/memory.go: In-memory versions of all four, for tests

SEE ALSO:
  - calendar.go: consumes HolidayCache
  - practica/store.go: internship persistence
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Separate from the records, tracks who did what when
// =============================================================================

// AuditEntry records who did what when.
type AuditEntry struct {
	ID          string
	Timestamp   time.Time
	SenderID    string // who performed the action (user id or "system")
	RecipientID string // who it was addressed to, if anyone
	Action      AuditAction
	SubjectType string // e.g. "internship", "escalation_run"
	SubjectID   string
	Outcome     AuditOutcome
	Payload     map[string]any // action-specific data
}

type AuditAction string

const (
	AuditEscalationSent     AuditAction = "escalation_notice_sent"
	AuditEscalationFailed   AuditAction = "escalation_notice_failed"
	AuditNotificationSent   AuditAction = "notification_sent"
	AuditNotificationFailed AuditAction = "notification_failed"
	AuditTransition         AuditAction = "transition"
)

type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	SenderID    *string
	RecipientID *string
	SubjectID   *string
	Actions     []AuditAction
	From        *time.Time
	To          *time.Time
}

// Matches reports whether e passes the filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.SenderID != nil && e.SenderID != *f.SenderID {
		return false
	}
	if f.RecipientID != nil && e.RecipientID != *f.RecipientID {
		return false
	}
	if f.SubjectID != nil && e.SubjectID != *f.SubjectID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// OUTBOX - Domain events emitted by transitions, delivered later
// =============================================================================

// EventKind names a domain event.
type EventKind string

// Event is a domain event recorded atomically with the state change that
// produced it. Recipients are either explicit user ids or, with SiteID set,
// the active coordinators of that site (resolved at delivery time).
type Event struct {
	ID           string
	Kind         EventKind
	SubjectID    string
	ActorID      string
	RecipientIDs []string
	SiteID       string
	Payload      map[string]any
	OccurredAt   time.Time

	// Delivery bookkeeping
	Attempts    int
	DeliveredAt *time.Time
	LastError   string
}

// Outbox holds undelivered events.
type Outbox interface {
	// Enqueue records events outside a record write (e.g. system events).
	Enqueue(ctx context.Context, events ...Event) error

	// Pending returns up to limit undelivered events, oldest first.
	Pending(ctx context.Context, limit int) ([]Event, error)

	// MarkDelivered flags an event as delivered.
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// MarkFailed bumps the attempt counter and records the error.
	MarkFailed(ctx context.Context, id string, reason string) error
}

// =============================================================================
// HOLIDAY CACHE - Injectable per-year cache (replaces module-level state)
// =============================================================================

// HolidaySet is the set of non-working ISO dates for one calendar year.
type HolidaySet struct {
	Year      int
	Dates     map[string]struct{}
	FetchedAt time.Time
}

// NewHolidaySet builds a set from dates; dates outside year are dropped.
func NewHolidaySet(year int, dates []TimePoint, fetchedAt time.Time) HolidaySet {
	set := HolidaySet{Year: year, Dates: make(map[string]struct{}, len(dates)), FetchedAt: fetchedAt}
	for _, d := range dates {
		if d.Year() == year {
			set.Dates[d.String()] = struct{}{}
		}
	}
	return set
}

// Contains reports whether date is in the set.
func (s HolidaySet) Contains(date TimePoint) bool {
	_, ok := s.Dates[date.String()]
	return ok
}

func (s HolidaySet) Len() int { return len(s.Dates) }

// HolidayCache stores one HolidaySet per year.
type HolidayCache interface {
	// Get returns the cached set for year. ok is false on a miss; fresh is
	// false when the entry is older than the cache's TTL.
	Get(ctx context.Context, year int) (set HolidaySet, fresh bool, ok bool)

	// Put replaces the entry for year.
	Put(ctx context.Context, year int, set HolidaySet) error
}

// =============================================================================
// NOTIFICATION LOG - Last escalation notice per (internship, recipient)
// =============================================================================

// NotificationMark is what we remember about the last notice a recipient
// received for one internship.
type NotificationMark struct {
	InternshipID string
	RecipientID  string
	Severity     string
	NotifiedAt   time.Time
}

type NotificationLog interface {
	LastNotified(ctx context.Context, internshipID, recipientID string) (NotificationMark, bool, error)
	MarkNotified(ctx context.Context, marks []NotificationMark) error
}
