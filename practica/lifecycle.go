/*
lifecycle.go - Internship lifecycle orchestration

PURPOSE:
  Handles the full lifecycle of an internship:
  1. Creation: program lookup, completion date from the deadline calculator
  2. Transitions: load, apply the state machine, write with compare-and-swap
  3. Queries: get, list, which actions an actor may take now

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  HTTP handler ──▶ Lifecycle.Perform ──▶ Apply (pure) ──▶ Store   │
  │                        │                    │         (CAS write │
  │                        │                    │        + outbox)   │
  │                        ▼                    ▼                    │
  │                  load record          guard failed?              │
  │                  + program            → error, nothing written   │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

CONCURRENCY:
  No locks are held across a transition. Each write carries the version that
  was read; if another write landed in between (a tutor accepting while a
  coordinator voids), the loser gets generic.ErrConcurrentModification and
  may retry against the fresh record.

SIDE EFFECTS:
  Transitions never send anything themselves. They emit events that the
  store enqueues in the same transaction; notify.Dispatcher delivers them.

EXAMPLE:
  lc := practica.NewLifecycle(store, store, calc)

  in, err := lc.Create(ctx, coordinator, practica.NewInternship{...})
  in, err = lc.SubmitAgreement(ctx, in.ID, student, agreement)
  in, err = lc.Accept(ctx, in.ID, tutor)

SEE ALSO:
  - transitions.go: the state machine itself
  - generic/deadline.go: completion date computation
*/
package practica

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/practicas-engine/generic"
)

// Lifecycle is the entry point for every internship mutation.
type Lifecycle struct {
	Store     Store
	Directory Directory
	Deadlines *generic.DeadlineCalculator
	Clock     generic.Clock
	NewID     func() string
}

// NewLifecycle wires a lifecycle with the system clock and uuid ids.
func NewLifecycle(store Store, directory Directory, deadlines *generic.DeadlineCalculator) *Lifecycle {
	return &Lifecycle{
		Store:     store,
		Directory: directory,
		Deadlines: deadlines,
		Clock:     generic.SystemClock{},
		NewID:     uuid.NewString,
	}
}

// NewInternship is the coordinator's input when registering an internship.
type NewInternship struct {
	StudentID string
	TutorID   string
	ProgramID string
	Kind      Kind
	StartDate generic.TimePoint
}

// Create registers an internship in PENDING with its projected completion date.
func (lc *Lifecycle) Create(ctx context.Context, actor Actor, req NewInternship) (Internship, error) {
	if !actor.IsStaff() {
		return Internship{}, fmt.Errorf("%w: only a coordinator or program director may register internships", generic.ErrWrongActor)
	}
	if strings.TrimSpace(req.StudentID) == "" || req.StartDate.IsZero() {
		return Internship{}, fmt.Errorf("%w: student and start date are required", generic.ErrValidation)
	}
	if !req.Kind.Valid() {
		return Internship{}, fmt.Errorf("%w: unknown internship kind %q", generic.ErrValidation, req.Kind)
	}

	program, err := lc.Directory.GetProgram(ctx, req.ProgramID)
	if err != nil {
		return Internship{}, err
	}
	hours, err := program.RequiredHoursFor(req.Kind)
	if err != nil {
		return Internship{}, err
	}

	completion, err := lc.Deadlines.CompletionDate(ctx, req.StartDate, hours)
	if err != nil {
		return Internship{}, fmt.Errorf("failed to compute completion date: %w", err)
	}
	if completion.Before(req.StartDate) {
		return Internship{}, fmt.Errorf("%w: completion %s before start %s",
			generic.ErrDeadlineUncomputable, completion, req.StartDate)
	}

	now := lc.now()
	in := Internship{
		ID:             lc.newID(),
		StudentID:      req.StudentID,
		TutorID:        strings.TrimSpace(req.TutorID),
		ProgramID:      program.ID,
		SiteID:         program.SiteID,
		Kind:           req.Kind,
		RequiredHours:  hours,
		StartDate:      req.StartDate,
		CompletionDate: completion,
		Status:         Pending{CreatedAt: now},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	env := Env{Now: now, Program: program, NewID: lc.newID}
	events := []generic.Event{
		newEvent(env, EventInternshipCreated, in, actor, []string{in.StudentID}, "",
			map[string]any{"submission_deadline": in.SubmissionDeadline().String()}),
	}
	if in.TutorID != "" {
		events = append(events, newEvent(env, EventTutorAssigned, in, actor, []string{in.TutorID}, "", nil))
	}

	if err := lc.Store.CreateInternship(ctx, in, events); err != nil {
		return Internship{}, fmt.Errorf("failed to create internship: %w", err)
	}
	return in, nil
}

// Perform applies cmd to the internship id on behalf of actor.
func (lc *Lifecycle) Perform(ctx context.Context, id string, actor Actor, cmd Command) (Internship, error) {
	current, err := lc.Store.GetInternship(ctx, id)
	if err != nil {
		return Internship{}, err
	}
	program, err := lc.Directory.GetProgram(ctx, current.ProgramID)
	if err != nil {
		return Internship{}, err
	}

	env := Env{Now: lc.now(), Program: program, NewID: lc.newID}
	next, events, err := Apply(current, actor, cmd, env)
	if err != nil {
		return current, err
	}

	if err := lc.Store.UpdateInternship(ctx, next, current.Version, events); err != nil {
		return current, err
	}
	next.Version = current.Version + 1
	return next, nil
}

// Convenience wrappers, one per operation.

func (lc *Lifecycle) SubmitAgreement(ctx context.Context, id string, actor Actor, a Agreement) (Internship, error) {
	return lc.Perform(ctx, id, actor, SubmitAgreement{Agreement: a})
}

func (lc *Lifecycle) Accept(ctx context.Context, id string, actor Actor) (Internship, error) {
	return lc.Perform(ctx, id, actor, Accept{})
}

func (lc *Lifecycle) Reject(ctx context.Context, id string, actor Actor, reason string) (Internship, error) {
	return lc.Perform(ctx, id, actor, Reject{Reason: reason})
}

func (lc *Lifecycle) UploadReport(ctx context.Context, id string, actor Actor, reportRef string) (Internship, error) {
	return lc.Perform(ctx, id, actor, UploadReport{ReportRef: reportRef})
}

func (lc *Lifecycle) RecordTutorEvaluation(ctx context.Context, id string, actor Actor, score decimal.Decimal, comments string) (Internship, error) {
	return lc.Perform(ctx, id, actor, RecordTutorEvaluation{Score: score, Comments: comments})
}

func (lc *Lifecycle) RecordEmployerEvaluation(ctx context.Context, id string, actor Actor, score decimal.Decimal, comments string) (Internship, error) {
	return lc.Perform(ctx, id, actor, RecordEmployerEvaluation{Score: score, Comments: comments})
}

func (lc *Lifecycle) Close(ctx context.Context, id string, actor Actor) (Internship, error) {
	return lc.Perform(ctx, id, actor, Close{})
}

func (lc *Lifecycle) Void(ctx context.Context, id string, actor Actor, reason string) (Internship, error) {
	return lc.Perform(ctx, id, actor, Void{Reason: reason})
}

func (lc *Lifecycle) AssignTutor(ctx context.Context, id string, actor Actor, tutorID string) (Internship, error) {
	return lc.Perform(ctx, id, actor, AssignTutor{TutorID: tutorID})
}

// Get returns one internship.
func (lc *Lifecycle) Get(ctx context.Context, id string) (Internship, error) {
	return lc.Store.GetInternship(ctx, id)
}

// List returns internships matching filter.
func (lc *Lifecycle) List(ctx context.Context, filter Filter) ([]Internship, error) {
	return lc.Store.ListInternships(ctx, filter)
}

// AvailableActions returns what actor may attempt on in right now.
func (lc *Lifecycle) AvailableActions(in Internship, actor Actor) []Action {
	var out []Action
	for _, a := range AllowedActions(in.State()) {
		if Authorized(in, actor, a) {
			out = append(out, a)
		}
	}
	return out
}

func (lc *Lifecycle) now() time.Time {
	if lc.Clock == nil {
		return generic.SystemClock{}.Now()
	}
	return lc.Clock.Now()
}

func (lc *Lifecycle) newID() string {
	if lc.NewID == nil {
		return uuid.NewString()
	}
	return lc.NewID()
}
