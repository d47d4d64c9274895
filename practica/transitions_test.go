package practica_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practicas-engine/factory"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
)

var (
	student     = practica.Actor{ID: "student-1", Role: practica.RoleStudent}
	tutor       = practica.Actor{ID: "tutor-1", Role: practica.RoleTutor}
	employer    = practica.Actor{ID: "supervisor@host.example", Role: practica.RoleEmployer}
	coordinator = practica.Actor{ID: "coord-1", Role: practica.RoleCoordinator}
	director    = practica.Actor{ID: "dir-1", Role: practica.RoleDirector}

	startDate      = generic.NewTimePoint(2025, time.March, 3)
	completionDate = generic.NewTimePoint(2025, time.March, 28)
)

func testProgram(t *testing.T) practica.Program {
	t.Helper()
	p, err := factory.NewProgramFactory().ParseProgram(
		factory.StandardProgramJSON("ing-informatica", "Ingeniería en Informática", "campus-central"))
	require.NoError(t, err)
	return p
}

func validAgreement() practica.Agreement {
	return practica.Agreement{
		HostOrganization: "Host SpA",
		HostAddress:      "Av. Siempre Viva 742",
		SupervisorName:   "Ana Pérez",
		SupervisorEmail:  "supervisor@host.example",
		Tasks:            "Backend development",
	}
}

// internshipIn builds a record already sitting in state, with the data a
// record in that state would carry.
func internshipIn(state practica.State) practica.Internship {
	at := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	agreement := validAgreement()
	in := practica.Internship{
		ID:             "int-1",
		StudentID:      "student-1",
		TutorID:        "tutor-1",
		ProgramID:      "ing-informatica",
		SiteID:         "campus-central",
		Kind:           practica.KindInitial,
		RequiredHours:  160,
		StartDate:      startDate,
		CompletionDate: completionDate,
		Version:        3,
	}
	if state != practica.StatePending {
		in.Agreement = &agreement
	}
	tutorEval := &practica.Evaluation{EvaluatorID: "tutor-1", Score: decimal.NewFromInt(6), RecordedAt: at}
	employerEval := &practica.Evaluation{EvaluatorID: "supervisor@host.example", Score: decimal.RequireFromString("5.5"), RecordedAt: at}

	switch state {
	case practica.StatePending:
		in.Status = practica.Pending{CreatedAt: at}
	case practica.StatePendingTutorAcceptance:
		in.Status = practica.AwaitingTutor{SubmittedAt: at}
	case practica.StateRejectedByTutor:
		in.Status = practica.RejectedByTutor{Reason: "scope too narrow", TutorID: "tutor-1", At: at}
	case practica.StateInProgress:
		in.Status = practica.InProgress{AcceptedAt: at}
	case practica.StateFinishedPendingEval:
		in.ReportRef = "reports/int-1.pdf"
		in.Status = practica.FinishedPendingEval{ReportSubmittedAt: at}
	case practica.StateEvaluationComplete:
		in.ReportRef = "reports/int-1.pdf"
		in.TutorEvaluation = tutorEval
		in.EmployerEvaluation = employerEval
		in.Status = practica.EvaluationComplete{CompletedAt: at}
	case practica.StateClosed:
		in.ReportRef = "reports/int-1.pdf"
		in.TutorEvaluation = tutorEval
		in.EmployerEvaluation = employerEval
		in.Status = practica.Closed{Record: practica.ClosingRecord{FinalScore: decimal.RequireFromString("5.8"), ClosedBy: "coord-1", ClosedAt: at}}
	case practica.StateVoided:
		in.Status = practica.Voided{Reason: "duplicate", From: practica.StateInProgress, By: "coord-1", At: at}
	}
	return in
}

// validAttempt returns the right actor, a well-formed command and a clock
// reading that satisfies the date guards for action.
func validAttempt(action practica.Action) (practica.Actor, practica.Command, time.Time) {
	afterCompletion := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
	switch action {
	case practica.ActionSubmitAgreement:
		return student, practica.SubmitAgreement{Agreement: validAgreement()}, time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
	case practica.ActionAccept:
		return tutor, practica.Accept{}, afterCompletion
	case practica.ActionReject:
		return tutor, practica.Reject{Reason: "no supervision plan"}, afterCompletion
	case practica.ActionUploadReport:
		return student, practica.UploadReport{ReportRef: "reports/final.pdf"}, afterCompletion
	case practica.ActionTutorEvaluation:
		return tutor, practica.RecordTutorEvaluation{Score: decimal.NewFromInt(6)}, afterCompletion
	case practica.ActionEmployerEvaluation:
		return employer, practica.RecordEmployerEvaluation{Score: decimal.NewFromInt(5)}, afterCompletion
	case practica.ActionClose:
		return coordinator, practica.Close{}, afterCompletion
	case practica.ActionVoid:
		return coordinator, practica.Void{Reason: "student withdrew"}, afterCompletion
	case practica.ActionAssignTutor:
		return coordinator, practica.AssignTutor{TutorID: "tutor-2"}, afterCompletion
	}
	panic("unknown action " + string(action))
}

func TestTransitionTable(t *testing.T) {
	expected := map[practica.State][]practica.Action{
		practica.StatePending:                {practica.ActionSubmitAgreement, practica.ActionAssignTutor, practica.ActionVoid},
		practica.StatePendingTutorAcceptance: {practica.ActionAccept, practica.ActionReject, practica.ActionAssignTutor, practica.ActionVoid},
		practica.StateRejectedByTutor:        {practica.ActionVoid},
		practica.StateInProgress:             {practica.ActionUploadReport, practica.ActionVoid},
		practica.StateFinishedPendingEval:    {practica.ActionTutorEvaluation, practica.ActionEmployerEvaluation, practica.ActionVoid},
		practica.StateEvaluationComplete:     {practica.ActionClose, practica.ActionVoid},
		practica.StateClosed:                 nil,
		practica.StateVoided:                 nil,
	}

	for _, state := range practica.AllStates {
		assert.ElementsMatch(t, expected[state], practica.AllowedActions(state), "state %s", state)
	}
}

// Every (state, action) pair not in the table is refused, and the record
// comes back untouched.
func TestApply_NegativeSpace(t *testing.T) {
	program := testProgram(t)

	for _, state := range practica.AllStates {
		for _, action := range practica.AllActions {
			if practica.Allowed(state, action) {
				continue
			}
			t.Run(string(state)+"/"+string(action), func(t *testing.T) {
				// GIVEN
				in := internshipIn(state)
				original := in.Clone()
				actor, cmd, now := validAttempt(action)

				// WHEN
				out, events, err := practica.Apply(in, actor, cmd, practica.Env{Now: now, Program: program})

				// THEN
				require.Error(t, err)
				assert.ErrorIs(t, err, generic.ErrIllegalTransition)
				assert.Nil(t, events)
				assert.Equal(t, original, out)
				assert.Equal(t, original, in)

				var te *practica.TransitionError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, state, te.From)
				assert.Equal(t, action, te.Action)
			})
		}
	}
}

func TestApply_PositiveSpace(t *testing.T) {
	program := testProgram(t)

	for _, state := range practica.AllStates {
		for _, action := range practica.AllowedActions(state) {
			t.Run(string(state)+"/"+string(action), func(t *testing.T) {
				in := internshipIn(state)
				actor, cmd, now := validAttempt(action)

				out, events, err := practica.Apply(in, actor, cmd, practica.Env{Now: now, Program: program})

				require.NoError(t, err)
				assert.Equal(t, now, out.UpdatedAt)
				if action == practica.ActionTutorEvaluation || action == practica.ActionEmployerEvaluation {
					// The first evaluation alone emits nothing.
					assert.Empty(t, events)
				} else {
					assert.NotEmpty(t, events)
				}
				assert.Equal(t, state, in.State(), "input must not change")
			})
		}
	}
}

func TestApply_WrongActorIsRefused(t *testing.T) {
	program := testProgram(t)
	stranger := practica.Actor{ID: "student-2", Role: practica.RoleStudent}
	otherTutor := practica.Actor{ID: "tutor-9", Role: practica.RoleTutor}
	impostor := practica.Actor{ID: "someone@else.example", Role: practica.RoleEmployer}

	cases := []struct {
		state practica.State
		actor practica.Actor
		cmd   practica.Command
	}{
		{practica.StatePending, stranger, practica.SubmitAgreement{Agreement: validAgreement()}},
		{practica.StatePending, coordinator, practica.SubmitAgreement{Agreement: validAgreement()}},
		{practica.StatePendingTutorAcceptance, otherTutor, practica.Accept{}},
		{practica.StatePendingTutorAcceptance, student, practica.Reject{Reason: "x"}},
		{practica.StateInProgress, tutor, practica.UploadReport{ReportRef: "r"}},
		{practica.StateFinishedPendingEval, student, practica.RecordTutorEvaluation{Score: decimal.NewFromInt(6)}},
		{practica.StateFinishedPendingEval, impostor, practica.RecordEmployerEvaluation{Score: decimal.NewFromInt(6)}},
		{practica.StateFinishedPendingEval, tutor, practica.RecordEmployerEvaluation{Score: decimal.NewFromInt(6)}},
		{practica.StateEvaluationComplete, student, practica.Close{}},
		{practica.StateInProgress, tutor, practica.Void{}},
		{practica.StatePending, student, practica.AssignTutor{TutorID: "tutor-2"}},
	}

	for _, tc := range cases {
		in := internshipIn(tc.state)
		now := time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)
		if tc.cmd.Action() == practica.ActionSubmitAgreement {
			now = time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)
		}

		out, _, err := practica.Apply(in, tc.actor, tc.cmd, practica.Env{Now: now, Program: program})

		assert.ErrorIs(t, err, generic.ErrWrongActor, "%s by %s", tc.cmd.Action(), tc.actor)
		assert.Equal(t, in, out)
	}
}

func TestSubmitAgreement_DeadlineBoundary(t *testing.T) {
	program := testProgram(t)
	in := internshipIn(practica.StatePending)

	// Day 5 after start is the last valid day.
	lastDay := time.Date(2025, 3, 8, 23, 0, 0, 0, time.UTC)
	out, _, err := practica.Apply(in, student, practica.SubmitAgreement{Agreement: validAgreement()}, practica.Env{Now: lastDay, Program: program})
	require.NoError(t, err)
	assert.Equal(t, practica.StatePendingTutorAcceptance, out.State())

	// Day 6 is too late.
	tooLate := time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC)
	out, _, err = practica.Apply(in, student, practica.SubmitAgreement{Agreement: validAgreement()}, practica.Env{Now: tooLate, Program: program})
	assert.ErrorIs(t, err, generic.ErrDeadlineExpired)
	assert.Equal(t, practica.StatePending, out.State())
}

func TestSubmitAgreement_MissingFields(t *testing.T) {
	program := testProgram(t)
	now := time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

	// GIVEN: no address, which is only optional for remote work
	a := validAgreement()
	a.HostAddress = ""

	_, _, err := practica.Apply(internshipIn(practica.StatePending), student, practica.SubmitAgreement{Agreement: a}, practica.Env{Now: now, Program: program})
	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.Contains(t, err.Error(), "host_address")

	a.Remote = true
	_, _, err = practica.Apply(internshipIn(practica.StatePending), student, practica.SubmitAgreement{Agreement: a}, practica.Env{Now: now, Program: program})
	assert.NoError(t, err)
}

func TestSubmitAgreement_RequiresTutor(t *testing.T) {
	program := testProgram(t)
	in := internshipIn(practica.StatePending)
	in.TutorID = ""

	_, _, err := practica.Apply(in, student, practica.SubmitAgreement{Agreement: validAgreement()},
		practica.Env{Now: time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC), Program: program})

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestReject_EmptyReason(t *testing.T) {
	program := testProgram(t)
	in := internshipIn(practica.StatePendingTutorAcceptance)

	for _, reason := range []string{"", "   "} {
		out, events, err := practica.Apply(in, tutor, practica.Reject{Reason: reason}, practica.Env{Now: time.Now(), Program: program})

		assert.ErrorIs(t, err, generic.ErrValidation)
		assert.Nil(t, events)
		assert.Equal(t, practica.StatePendingTutorAcceptance, out.State())
	}
}

func TestReject_CarriesReasonInVariant(t *testing.T) {
	program := testProgram(t)

	out, events, err := practica.Apply(internshipIn(practica.StatePendingTutorAcceptance), tutor,
		practica.Reject{Reason: "  no supervision plan "}, practica.Env{Now: time.Now(), Program: program})

	require.NoError(t, err)
	reason, ok := out.RejectionReason()
	assert.True(t, ok)
	assert.Equal(t, "no supervision plan", reason)
	require.Len(t, events, 1)
	assert.Equal(t, practica.EventTutorRejected, events[0].Kind)
	assert.Equal(t, "campus-central", events[0].SiteID)
}

func TestAccept_ClearsPreviousDetail(t *testing.T) {
	program := testProgram(t)

	out, _, err := practica.Apply(internshipIn(practica.StatePendingTutorAcceptance), tutor, practica.Accept{},
		practica.Env{Now: time.Now(), Program: program})

	require.NoError(t, err)
	_, rejected := out.RejectionReason()
	assert.False(t, rejected)
	assert.Equal(t, practica.StateInProgress, out.State())
}

func TestUploadReport_BeforeCompletion(t *testing.T) {
	program := testProgram(t)
	in := internshipIn(practica.StateInProgress)

	early := time.Date(2025, 3, 27, 18, 0, 0, 0, time.UTC)
	out, _, err := practica.Apply(in, student, practica.UploadReport{ReportRef: "r.pdf"}, practica.Env{Now: early, Program: program})
	assert.ErrorIs(t, err, generic.ErrEarlySubmission)
	assert.Equal(t, practica.StateInProgress, out.State())

	onTheDay := time.Date(2025, 3, 28, 9, 0, 0, 0, time.UTC)
	out, events, err := practica.Apply(in, student, practica.UploadReport{ReportRef: "r.pdf"}, practica.Env{Now: onTheDay, Program: program})
	require.NoError(t, err)
	assert.Equal(t, practica.StateFinishedPendingEval, out.State())
	require.Len(t, events, 2)
	assert.Equal(t, practica.EventEmployerEvaluationRequested, events[1].Kind)
	assert.Equal(t, []string{"supervisor@host.example"}, events[1].RecipientIDs)
}

func TestEvaluations_BothCompleteTheStage(t *testing.T) {
	program := testProgram(t)
	env := practica.Env{Now: time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC), Program: program}
	in := internshipIn(practica.StateFinishedPendingEval)

	// WHEN: the employer evaluates first (email match is case-insensitive)
	upper := practica.Actor{ID: "Supervisor@Host.Example", Role: practica.RoleEmployer}
	in, _, err := practica.Apply(in, upper, practica.RecordEmployerEvaluation{Score: decimal.RequireFromString("5.5")}, env)
	require.NoError(t, err)
	assert.Equal(t, practica.StateFinishedPendingEval, in.State())

	// AND: a second employer evaluation is refused
	_, _, err = practica.Apply(in, employer, practica.RecordEmployerEvaluation{Score: decimal.NewFromInt(7)}, env)
	assert.ErrorIs(t, err, generic.ErrIllegalTransition)

	// AND: the tutor evaluates
	in, events, err := practica.Apply(in, tutor, practica.RecordTutorEvaluation{Score: decimal.NewFromInt(6)}, env)
	require.NoError(t, err)

	// THEN
	assert.Equal(t, practica.StateEvaluationComplete, in.State())
	require.Len(t, events, 1)
	assert.Equal(t, practica.EventEvaluationCompleted, events[0].Kind)
}

func TestEvaluations_ScoreOutsideScale(t *testing.T) {
	program := testProgram(t)
	env := practica.Env{Now: time.Now(), Program: program}

	for _, score := range []string{"0.9", "7.01", "-1"} {
		_, _, err := practica.Apply(internshipIn(practica.StateFinishedPendingEval), tutor,
			practica.RecordTutorEvaluation{Score: decimal.RequireFromString(score)}, env)
		assert.ErrorIs(t, err, generic.ErrValidation, score)
	}
}

func TestClose_WeightedScore(t *testing.T) {
	// GIVEN: 0.6 * 6 + 0.4 * 5.5 = 5.8
	program := testProgram(t)
	in := internshipIn(practica.StateEvaluationComplete)

	// WHEN: the tutor may close too
	out, _, err := practica.Apply(in, tutor, practica.Close{}, practica.Env{Now: time.Now(), Program: program})

	// THEN
	require.NoError(t, err)
	record, ok := out.Closing()
	require.True(t, ok)
	assert.True(t, decimal.RequireFromString("5.8").Equal(record.FinalScore), record.FinalScore.String())
	assert.Equal(t, "tutor-1", record.ClosedBy)
	assert.True(t, out.State().IsTerminal())
}

func TestFinalScore_RoundsToTwoDecimals(t *testing.T) {
	p := practica.Program{
		TutorWeight:    decimal.RequireFromString("0.333"),
		EmployerWeight: decimal.RequireFromString("0.667"),
	}

	got := p.FinalScore(decimal.RequireFromString("6.5"), decimal.RequireFromString("5.3"))

	// 2.1645 + 3.5351 = 5.6996
	assert.Equal(t, "5.7", got.String())
}

func TestVoid_RecordsOrigin(t *testing.T) {
	program := testProgram(t)

	out, events, err := practica.Apply(internshipIn(practica.StateInProgress), director, practica.Void{Reason: "withdrew"},
		practica.Env{Now: time.Now(), Program: program})

	require.NoError(t, err)
	voided, ok := out.Status.(practica.Voided)
	require.True(t, ok)
	assert.Equal(t, practica.StateInProgress, voided.From)
	assert.Equal(t, "dir-1", voided.By)
	require.Len(t, events, 1)
	assert.ElementsMatch(t, []string{"student-1", "tutor-1"}, events[0].RecipientIDs)
}

func TestAssignTutor_KeepsState(t *testing.T) {
	program := testProgram(t)

	out, events, err := practica.Apply(internshipIn(practica.StatePendingTutorAcceptance), coordinator,
		practica.AssignTutor{TutorID: "tutor-2"}, practica.Env{Now: time.Now(), Program: program})

	require.NoError(t, err)
	assert.Equal(t, practica.StatePendingTutorAcceptance, out.State())
	assert.Equal(t, "tutor-2", out.TutorID)
	require.Len(t, events, 1)
	assert.Equal(t, practica.EventTutorReviewRequested, events[0].Kind)

	// The previous tutor can no longer accept.
	_, _, err = practica.Apply(out, tutor, practica.Accept{}, practica.Env{Now: time.Now(), Program: program})
	assert.True(t, errors.Is(err, generic.ErrWrongActor))
}

func TestStateDetail_RoundTripsThroughStorageEncoding(t *testing.T) {
	for _, state := range practica.AllStates {
		detail := internshipIn(state).Status

		encoded, data, err := practica.EncodeDetail(detail)
		require.NoError(t, err)
		decoded, err := practica.DecodeDetail(encoded, data)
		require.NoError(t, err)

		assert.Equal(t, state, decoded.State())
	}
}
