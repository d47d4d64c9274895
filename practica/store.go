package practica

import (
	"context"

	"github.com/warp/practicas-engine/generic"
)

// =============================================================================
// STORE - Internship persistence with compare-and-swap writes
// =============================================================================

// Store persists internships. Internships are never deleted.
type Store interface {
	// CreateInternship inserts a new record (Version 1) with its events.
	CreateInternship(ctx context.Context, in Internship, events []generic.Event) error

	// GetInternship returns generic.ErrInternshipNotFound for unknown ids.
	GetInternship(ctx context.Context, id string) (Internship, error)

	// UpdateInternship writes in only if the stored version still equals
	// expectedVersion, bumping it by one, and enqueues events in the same
	// transaction. A stale version fails with generic.ErrConcurrentModification.
	UpdateInternship(ctx context.Context, in Internship, expectedVersion int, events []generic.Event) error

	ListInternships(ctx context.Context, filter Filter) ([]Internship, error)
}

// Filter narrows ListInternships. Zero values mean "any".
type Filter struct {
	States    []State
	ProgramID string
	SiteID    string
	StudentID string
	TutorID   string

	// CompletionBefore keeps records whose completion date is strictly earlier.
	CompletionBefore *generic.TimePoint
}

// Matches reports whether in passes the filter.
func (f Filter) Matches(in Internship) bool {
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if in.State() == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ProgramID != "" && in.ProgramID != f.ProgramID {
		return false
	}
	if f.SiteID != "" && in.SiteID != f.SiteID {
		return false
	}
	if f.StudentID != "" && in.StudentID != f.StudentID {
		return false
	}
	if f.TutorID != "" && in.TutorID != f.TutorID {
		return false
	}
	if f.CompletionBefore != nil && !in.CompletionDate.Before(*f.CompletionBefore) {
		return false
	}
	return true
}

// Directory is the organizational data the lifecycle and escalation read.
type Directory interface {
	GetProgram(ctx context.Context, id string) (Program, error)
	ListPrograms(ctx context.Context) ([]Program, error)
	ListStaff(ctx context.Context) ([]Staff, error)
}
