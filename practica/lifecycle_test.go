package practica_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practicas-engine/factory"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
	"github.com/warp/practicas-engine/store/sqlite"
)

func newTestLifecycle(t *testing.T) (*practica.Lifecycle, *sqlite.Store, *generic.FixedClock) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveSite(ctx, practica.Site{ID: "campus-central", Name: "Campus Central"}))
	program, err := factory.NewProgramFactory().ParseProgram(
		factory.StandardProgramJSON("ing-informatica", "Ingeniería en Informática", "campus-central"))
	require.NoError(t, err)
	require.NoError(t, store.SaveProgram(ctx, program))

	clock := &generic.FixedClock{At: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)}
	lc := practica.NewLifecycle(store, store, generic.NewDeadlineCalculator(generic.NoHolidays{}))
	lc.Clock = clock
	return lc, store, clock
}

func createInternship(t *testing.T, lc *practica.Lifecycle) practica.Internship {
	t.Helper()
	in, err := lc.Create(context.Background(), coordinator, practica.NewInternship{
		StudentID: "student-1",
		TutorID:   "tutor-1",
		ProgramID: "ing-informatica",
		Kind:      practica.KindInitial,
		StartDate: startDate,
	})
	require.NoError(t, err)
	return in
}

func TestCreate_ProjectsCompletionDate(t *testing.T) {
	lc, store, _ := newTestLifecycle(t)
	ctx := context.Background()

	// WHEN: 160 hours starting on a Monday
	in := createInternship(t, lc)

	// THEN: 20 workdays later, a Friday
	assert.Equal(t, practica.StatePending, in.State())
	assert.Equal(t, "2025-03-28", in.CompletionDate.String())
	assert.Equal(t, 160, in.RequiredHours)
	assert.Equal(t, "campus-central", in.SiteID)
	assert.Equal(t, 1, in.Version)

	stored, err := lc.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, in.CompletionDate.String(), stored.CompletionDate.String())

	events, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	kinds := make([]generic.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	assert.ElementsMatch(t, []generic.EventKind{practica.EventInternshipCreated, practica.EventTutorAssigned}, kinds)
}

func TestCreate_Refusals(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	ctx := context.Background()
	base := practica.NewInternship{StudentID: "student-1", ProgramID: "ing-informatica", Kind: practica.KindInitial, StartDate: startDate}

	_, err := lc.Create(ctx, student, base)
	assert.ErrorIs(t, err, generic.ErrWrongActor)

	missingProgram := base
	missingProgram.ProgramID = "does-not-exist"
	_, err = lc.Create(ctx, coordinator, missingProgram)
	assert.ErrorIs(t, err, generic.ErrProgramNotFound)

	badKind := base
	badKind.Kind = "summer"
	_, err = lc.Create(ctx, coordinator, badKind)
	assert.ErrorIs(t, err, generic.ErrValidation)

	noStart := base
	noStart.StartDate = generic.TimePoint{}
	_, err = lc.Create(ctx, coordinator, noStart)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestCreate_ProgramWithoutHoursForKind(t *testing.T) {
	lc, store, _ := newTestLifecycle(t)
	ctx := context.Background()

	// GIVEN: a program that only defines initial internships
	program, err := factory.NewProgramFactory().ParseProgram(
		`{"id": "enfermeria", "name": "Enfermería", "site_id": "campus-central", "required_hours": {"initial": 160}}`)
	require.NoError(t, err)
	require.NoError(t, store.SaveProgram(ctx, program))

	// WHEN
	_, err = lc.Create(ctx, coordinator, practica.NewInternship{
		StudentID: "student-1", ProgramID: "enfermeria", Kind: practica.KindProfessional, StartDate: startDate,
	})

	// THEN
	assert.ErrorIs(t, err, generic.ErrInvalidConfiguration)
}

func TestLifecycle_FullPath(t *testing.T) {
	lc, store, clock := newTestLifecycle(t)
	ctx := context.Background()
	in := createInternship(t, lc)

	// Agreement on day 2
	clock.At = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	in, err := lc.SubmitAgreement(ctx, in.ID, student, validAgreement())
	require.NoError(t, err)
	assert.Equal(t, practica.StatePendingTutorAcceptance, in.State())
	assert.Equal(t, 2, in.Version)

	in, err = lc.Accept(ctx, in.ID, tutor)
	require.NoError(t, err)
	assert.Equal(t, practica.StateInProgress, in.State())

	// Report on the completion date
	clock.At = time.Date(2025, 3, 28, 17, 0, 0, 0, time.UTC)
	in, err = lc.UploadReport(ctx, in.ID, student, "reports/student-1.pdf")
	require.NoError(t, err)
	assert.Equal(t, practica.StateFinishedPendingEval, in.State())

	clock.At = time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC)
	in, err = lc.RecordTutorEvaluation(ctx, in.ID, tutor, decimal.NewFromInt(6), "solid work")
	require.NoError(t, err)
	in, err = lc.RecordEmployerEvaluation(ctx, in.ID, employer, decimal.RequireFromString("5.5"), "")
	require.NoError(t, err)
	assert.Equal(t, practica.StateEvaluationComplete, in.State())

	in, err = lc.Close(ctx, in.ID, coordinator)
	require.NoError(t, err)

	// THEN: the stored record carries the closing data
	stored, err := lc.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, practica.StateClosed, stored.State())
	assert.Equal(t, 7, stored.Version)
	record, ok := stored.Closing()
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("5.8").Equal(record.FinalScore))
	assert.Equal(t, "reports/student-1.pdf", stored.ReportRef)
	require.NotNil(t, stored.Agreement)
	assert.Equal(t, "supervisor@host.example", stored.Agreement.SupervisorEmail)

	// AND: nothing more is allowed
	assert.Empty(t, lc.AvailableActions(stored, coordinator))
	_, err = lc.Void(ctx, in.ID, coordinator, "too late")
	assert.ErrorIs(t, err, generic.ErrIllegalTransition)

	events, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 8)
}

func TestLifecycle_LateAgreementLeavesRecordPending(t *testing.T) {
	lc, store, clock := newTestLifecycle(t)
	ctx := context.Background()
	in := createInternship(t, lc)
	before, err := store.Pending(ctx, 0)
	require.NoError(t, err)

	// GIVEN: day 6 after the start date
	clock.At = time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	// WHEN
	_, err = lc.SubmitAgreement(ctx, in.ID, student, validAgreement())

	// THEN
	assert.ErrorIs(t, err, generic.ErrDeadlineExpired)
	stored, err := lc.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, practica.StatePending, stored.State())
	assert.Equal(t, 1, stored.Version)
	assert.Nil(t, stored.Agreement)

	after, err := store.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "a refused transition emits nothing")
}

func TestLifecycle_RejectWithoutReason(t *testing.T) {
	lc, _, clock := newTestLifecycle(t)
	ctx := context.Background()
	in := createInternship(t, lc)
	clock.At = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	_, err := lc.SubmitAgreement(ctx, in.ID, student, validAgreement())
	require.NoError(t, err)

	// WHEN
	_, err = lc.Reject(ctx, in.ID, tutor, "")

	// THEN
	assert.ErrorIs(t, err, generic.ErrValidation)
	stored, err := lc.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, practica.StatePendingTutorAcceptance, stored.State())
	_, rejected := stored.RejectionReason()
	assert.False(t, rejected)
}

func TestLifecycle_StaleWriteIsRejected(t *testing.T) {
	lc, store, clock := newTestLifecycle(t)
	ctx := context.Background()
	in := createInternship(t, lc)
	clock.At = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	_, err := lc.SubmitAgreement(ctx, in.ID, student, validAgreement())
	require.NoError(t, err)

	// GIVEN: two writers read the same version
	snapshot, err := store.GetInternship(ctx, in.ID)
	require.NoError(t, err)
	_, err = lc.Void(ctx, in.ID, coordinator, "duplicate")
	require.NoError(t, err)

	// WHEN: the second writer tries to apply an accept on its stale copy
	next, events, err := practica.Apply(snapshot, tutor, practica.Accept{}, practica.Env{Now: clock.At, Program: testProgram(t)})
	require.NoError(t, err)
	err = store.UpdateInternship(ctx, next, snapshot.Version, events)

	// THEN
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))
	stored, err := lc.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, practica.StateVoided, stored.State())
}

func TestLifecycle_UnknownInternship(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)

	_, err := lc.Accept(context.Background(), "missing", tutor)

	assert.ErrorIs(t, err, generic.ErrInternshipNotFound)
	assert.True(t, generic.IsNotFound(err))
}

func TestLifecycle_AvailableActions(t *testing.T) {
	lc, _, _ := newTestLifecycle(t)
	in := createInternship(t, lc)

	assert.ElementsMatch(t, []practica.Action{practica.ActionSubmitAgreement}, lc.AvailableActions(in, student))
	assert.ElementsMatch(t, []practica.Action{practica.ActionAssignTutor, practica.ActionVoid}, lc.AvailableActions(in, coordinator))
	assert.Empty(t, lc.AvailableActions(in, tutor))
	assert.Empty(t, lc.AvailableActions(in, practica.Actor{ID: "student-2", Role: practica.RoleStudent}))
}

func TestLifecycle_ListFilters(t *testing.T) {
	lc, _, clock := newTestLifecycle(t)
	ctx := context.Background()
	first := createInternship(t, lc)
	second, err := lc.Create(ctx, coordinator, practica.NewInternship{
		StudentID: "student-2", ProgramID: "ing-informatica", Kind: practica.KindProfessional, StartDate: startDate,
	})
	require.NoError(t, err)
	clock.At = time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	_, err = lc.Void(ctx, second.ID, coordinator, "")
	require.NoError(t, err)

	pending, err := lc.List(ctx, practica.Filter{States: []practica.State{practica.StatePending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	byStudent, err := lc.List(ctx, practica.Filter{StudentID: "student-2"})
	require.NoError(t, err)
	require.Len(t, byStudent, 1)
	assert.Equal(t, practica.StateVoided, byStudent[0].State())

	cutoff := generic.NewTimePoint(2025, time.April, 1)
	early, err := lc.List(ctx, practica.Filter{CompletionBefore: &cutoff})
	require.NoError(t, err)
	require.Len(t, early, 1)
	assert.Equal(t, first.ID, early[0].ID)
}
