/*
transitions.go - Internship state machine

PURPOSE:
  The authoritative table of which operation is legal in which state, who may
  perform it, and what it changes. Everything here is pure: Apply works on a
  copy and either returns the next record plus the domain events it emits,
  or an error and no changes at all.

STATE MACHINE:

  PENDING ──submit_agreement──▶ PENDING_TUTOR_ACCEPTANCE ──accept──▶ IN_PROGRESS
                                        │                               │
                                      reject                      upload_report
                                        ▼                               ▼
                               REJECTED_BY_TUTOR              FINISHED_PENDING_EVAL
                                                                        │
                                                       tutor_evaluation + employer_evaluation
                                                                        ▼
                                                              EVALUATION_COMPLETE ──close──▶ CLOSED

  Any non-terminal state ──void──▶ VOIDED (coordinator or director)

ACTORS:
  submit_agreement, upload_report: the owning student
  accept, reject, tutor_evaluation: the assigned tutor
  employer_evaluation:              employer whose id is the supervisor email
  close:                            assigned tutor, coordinator or director
  void, assign_tutor:               coordinator or director

SEE ALSO:
  - lifecycle.go: loads, applies and persists with compare-and-swap
  - events.go: domain events emitted here
*/
package practica

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/practicas-engine/generic"
)

// SubmissionGraceDays is how long after the start date the student may
// still submit the agreement.
const SubmissionGraceDays = 5

// =============================================================================
// ACTIONS AND THE TRANSITION TABLE
// =============================================================================

type Action string

const (
	ActionSubmitAgreement    Action = "submit_agreement"
	ActionAccept             Action = "accept"
	ActionReject             Action = "reject"
	ActionUploadReport       Action = "upload_report"
	ActionTutorEvaluation    Action = "tutor_evaluation"
	ActionEmployerEvaluation Action = "employer_evaluation"
	ActionClose              Action = "close"
	ActionVoid               Action = "void"
	ActionAssignTutor        Action = "assign_tutor"
)

// AllActions lists every operation the machine knows.
var AllActions = []Action{
	ActionSubmitAgreement,
	ActionAccept,
	ActionReject,
	ActionUploadReport,
	ActionTutorEvaluation,
	ActionEmployerEvaluation,
	ActionClose,
	ActionVoid,
	ActionAssignTutor,
}

var allowed = map[State][]Action{
	StatePending:                {ActionSubmitAgreement, ActionAssignTutor, ActionVoid},
	StatePendingTutorAcceptance: {ActionAccept, ActionReject, ActionAssignTutor, ActionVoid},
	StateRejectedByTutor:        {ActionVoid},
	StateInProgress:             {ActionUploadReport, ActionVoid},
	StateFinishedPendingEval:    {ActionTutorEvaluation, ActionEmployerEvaluation, ActionVoid},
	StateEvaluationComplete:     {ActionClose, ActionVoid},
	StateClosed:                 {},
	StateVoided:                 {},
}

// Allowed reports whether state lists action.
func Allowed(state State, action Action) bool {
	for _, a := range allowed[state] {
		if a == action {
			return true
		}
	}
	return false
}

// AllowedActions returns the operations state lists, regardless of actor.
func AllowedActions(state State) []Action {
	return append([]Action(nil), allowed[state]...)
}

// =============================================================================
// TRANSITION ERROR
// =============================================================================

// TransitionError explains why an operation was refused.
type TransitionError struct {
	ID     string
	From   State
	Action Action
	Actor  Actor
	Reason string
	cause  error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%v: cannot %s internship %s in state %s", e.cause, e.Action, e.ID, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.cause }

func refuse(in Internship, action Action, actor Actor, cause error, format string, args ...any) error {
	return &TransitionError{
		ID:     in.ID,
		From:   in.State(),
		Action: action,
		Actor:  actor,
		Reason: fmt.Sprintf(format, args...),
		cause:  cause,
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// Env is what a command may read besides the record itself.
type Env struct {
	Now     time.Time
	Program Program
	NewID   func() string
}

func (e Env) today() generic.TimePoint { return generic.DateOf(e.Now) }

// Command is one operation on an internship.
type Command interface {
	Action() Action
	authorize(in Internship, actor Actor) error
	apply(in *Internship, actor Actor, env Env) ([]generic.Event, error)
}

// Apply runs cmd against in. On success it returns the updated copy and the
// emitted events; on failure in is returned untouched.
func Apply(in Internship, actor Actor, cmd Command, env Env) (Internship, []generic.Event, error) {
	action := cmd.Action()
	if !Allowed(in.State(), action) {
		return in, nil, refuse(in, action, actor, generic.ErrIllegalTransition,
			"%s is not allowed from %s", action, in.State())
	}
	if err := cmd.authorize(in, actor); err != nil {
		return in, nil, err
	}

	next := in.Clone()
	events, err := cmd.apply(&next, actor, env)
	if err != nil {
		return in, nil, err
	}
	next.UpdatedAt = env.Now
	return next, events, nil
}

// Authorized reports whether actor may perform action on in right now
// (state and actor checks only; input guards are not evaluated).
func Authorized(in Internship, actor Actor, action Action) bool {
	if !Allowed(in.State(), action) {
		return false
	}
	cmd := commandFor(action)
	return cmd != nil && cmd.authorize(in, actor) == nil
}

func commandFor(action Action) Command {
	switch action {
	case ActionSubmitAgreement:
		return SubmitAgreement{}
	case ActionAccept:
		return Accept{}
	case ActionReject:
		return Reject{}
	case ActionUploadReport:
		return UploadReport{}
	case ActionTutorEvaluation:
		return RecordTutorEvaluation{}
	case ActionEmployerEvaluation:
		return RecordEmployerEvaluation{}
	case ActionClose:
		return Close{}
	case ActionVoid:
		return Void{}
	case ActionAssignTutor:
		return AssignTutor{}
	}
	return nil
}

// --- actor checks ---

func requireStudent(in Internship, actor Actor, action Action) error {
	if actor.Role != RoleStudent || actor.ID != in.StudentID {
		return refuse(in, action, actor, generic.ErrWrongActor, "only the owning student may do this")
	}
	return nil
}

func requireTutor(in Internship, actor Actor, action Action) error {
	if actor.Role != RoleTutor || in.TutorID == "" || actor.ID != in.TutorID {
		return refuse(in, action, actor, generic.ErrWrongActor, "only the assigned tutor may do this")
	}
	return nil
}

func requireStaff(in Internship, actor Actor, action Action) error {
	if !actor.IsStaff() {
		return refuse(in, action, actor, generic.ErrWrongActor, "only a coordinator or program director may do this")
	}
	return nil
}

// SubmitAgreement moves PENDING → PENDING_TUTOR_ACCEPTANCE.
type SubmitAgreement struct {
	Agreement Agreement
}

func (SubmitAgreement) Action() Action { return ActionSubmitAgreement }

func (c SubmitAgreement) authorize(in Internship, actor Actor) error {
	return requireStudent(in, actor, c.Action())
}

func (c SubmitAgreement) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	deadline := in.SubmissionDeadline()
	if env.today().After(deadline) {
		return nil, refuse(*in, c.Action(), actor, generic.ErrDeadlineExpired,
			"agreement was due by %s", deadline)
	}
	if missing := c.Agreement.missingFields(); len(missing) > 0 {
		return nil, refuse(*in, c.Action(), actor, generic.ErrValidation,
			"missing fields: %s", strings.Join(missing, ", "))
	}
	if in.TutorID == "" {
		return nil, refuse(*in, c.Action(), actor, generic.ErrValidation, "no tutor assigned yet")
	}

	agreement := c.Agreement
	agreement.SubmittedAt = env.Now
	in.Agreement = &agreement
	in.Status = AwaitingTutor{SubmittedAt: env.Now}

	return []generic.Event{
		newEvent(env, EventTutorReviewRequested, *in, actor, []string{in.TutorID}, "", nil),
	}, nil
}

// Accept moves PENDING_TUTOR_ACCEPTANCE → IN_PROGRESS. The variant model
// leaves no stale rejection reason behind.
type Accept struct{}

func (Accept) Action() Action { return ActionAccept }

func (c Accept) authorize(in Internship, actor Actor) error {
	return requireTutor(in, actor, c.Action())
}

func (c Accept) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	in.Status = InProgress{AcceptedAt: env.Now}
	return []generic.Event{
		newEvent(env, EventTutorAccepted, *in, actor, []string{in.StudentID}, "", nil),
	}, nil
}

// Reject moves PENDING_TUTOR_ACCEPTANCE → REJECTED_BY_TUTOR.
type Reject struct {
	Reason string
}

func (Reject) Action() Action { return ActionReject }

func (c Reject) authorize(in Internship, actor Actor) error {
	return requireTutor(in, actor, c.Action())
}

func (c Reject) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	reason := strings.TrimSpace(c.Reason)
	if reason == "" {
		return nil, refuse(*in, c.Action(), actor, generic.ErrValidation, "a rejection reason is required")
	}
	in.Status = RejectedByTutor{Reason: reason, TutorID: actor.ID, At: env.Now}
	return []generic.Event{
		newEvent(env, EventTutorRejected, *in, actor, nil, in.SiteID, map[string]any{"reason": reason}),
	}, nil
}

// UploadReport moves IN_PROGRESS → FINISHED_PENDING_EVAL.
type UploadReport struct {
	ReportRef string
}

func (UploadReport) Action() Action { return ActionUploadReport }

func (c UploadReport) authorize(in Internship, actor Actor) error {
	return requireStudent(in, actor, c.Action())
}

func (c UploadReport) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	if env.today().Before(in.CompletionDate) {
		return nil, refuse(*in, c.Action(), actor, generic.ErrEarlySubmission,
			"reports are accepted from %s", in.CompletionDate)
	}
	if strings.TrimSpace(c.ReportRef) == "" {
		return nil, refuse(*in, c.Action(), actor, generic.ErrValidation, "a report reference is required")
	}
	in.ReportRef = c.ReportRef
	in.Status = FinishedPendingEval{ReportSubmittedAt: env.Now}

	events := []generic.Event{
		newEvent(env, EventReportSubmitted, *in, actor, []string{in.TutorID}, "", map[string]any{"report_ref": c.ReportRef}),
	}
	if in.Agreement != nil && in.Agreement.SupervisorEmail != "" {
		events = append(events, newEvent(env, EventEmployerEvaluationRequested, *in, actor,
			[]string{in.Agreement.SupervisorEmail}, "", nil))
	}
	return events, nil
}

// RecordTutorEvaluation stores the tutor's score.
type RecordTutorEvaluation struct {
	Score    decimal.Decimal
	Comments string
}

func (RecordTutorEvaluation) Action() Action { return ActionTutorEvaluation }

func (c RecordTutorEvaluation) authorize(in Internship, actor Actor) error {
	return requireTutor(in, actor, c.Action())
}

func (c RecordTutorEvaluation) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	if in.TutorEvaluation != nil {
		return nil, refuse(*in, c.Action(), actor, generic.ErrIllegalTransition, "tutor evaluation already recorded")
	}
	if !env.Program.ValidScore(c.Score) {
		return nil, refuse(*in, c.Action(), actor, generic.ErrValidation,
			"score %s outside %s..%s", c.Score, env.Program.ScoreMin, env.Program.ScoreMax)
	}
	in.TutorEvaluation = &Evaluation{EvaluatorID: actor.ID, Score: c.Score, Comments: c.Comments, RecordedAt: env.Now}
	return completeEvaluations(in, actor, env), nil
}

// RecordEmployerEvaluation stores the employer's score.
type RecordEmployerEvaluation struct {
	Score    decimal.Decimal
	Comments string
}

func (RecordEmployerEvaluation) Action() Action { return ActionEmployerEvaluation }

func (c RecordEmployerEvaluation) authorize(in Internship, actor Actor) error {
	if actor.Role != RoleEmployer || in.Agreement == nil ||
		!strings.EqualFold(actor.ID, in.Agreement.SupervisorEmail) {
		return refuse(in, c.Action(), actor, generic.ErrWrongActor, "only the named supervisor may evaluate")
	}
	return nil
}

func (c RecordEmployerEvaluation) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	if in.EmployerEvaluation != nil {
		return nil, refuse(*in, c.Action(), actor, generic.ErrIllegalTransition, "employer evaluation already recorded")
	}
	if !env.Program.ValidScore(c.Score) {
		return nil, refuse(*in, c.Action(), actor, generic.ErrValidation,
			"score %s outside %s..%s", c.Score, env.Program.ScoreMin, env.Program.ScoreMax)
	}
	in.EmployerEvaluation = &Evaluation{EvaluatorID: actor.ID, Score: c.Score, Comments: c.Comments, RecordedAt: env.Now}
	return completeEvaluations(in, actor, env), nil
}

// completeEvaluations is the derived FINISHED_PENDING_EVAL → EVALUATION_COMPLETE
// transition, checked wherever an evaluation is written.
func completeEvaluations(in *Internship, actor Actor, env Env) []generic.Event {
	if in.TutorEvaluation == nil || in.EmployerEvaluation == nil {
		return nil
	}
	in.Status = EvaluationComplete{CompletedAt: env.Now}
	return []generic.Event{
		newEvent(env, EventEvaluationCompleted, *in, actor, []string{in.TutorID}, "", nil),
	}
}

// Close moves EVALUATION_COMPLETE → CLOSED and fixes the final score.
type Close struct{}

func (Close) Action() Action { return ActionClose }

func (c Close) authorize(in Internship, actor Actor) error {
	if actor.IsStaff() {
		return nil
	}
	return requireTutor(in, actor, c.Action())
}

func (c Close) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	if in.TutorEvaluation == nil || in.EmployerEvaluation == nil {
		return nil, refuse(*in, c.Action(), actor, generic.ErrIllegalTransition, "both evaluations are required")
	}
	p := env.Program
	record := ClosingRecord{
		FinalScore:     p.FinalScore(in.TutorEvaluation.Score, in.EmployerEvaluation.Score),
		TutorScore:     in.TutorEvaluation.Score,
		EmployerScore:  in.EmployerEvaluation.Score,
		TutorWeight:    p.TutorWeight,
		EmployerWeight: p.EmployerWeight,
		ClosedBy:       actor.ID,
		ClosedAt:       env.Now,
	}
	in.Status = Closed{Record: record}
	return []generic.Event{
		newEvent(env, EventInternshipClosed, *in, actor, []string{in.StudentID}, "",
			map[string]any{"final_score": record.FinalScore.String()}),
	}, nil
}

// Void moves any non-terminal state → VOIDED.
type Void struct {
	Reason string
}

func (Void) Action() Action { return ActionVoid }

func (c Void) authorize(in Internship, actor Actor) error {
	return requireStaff(in, actor, c.Action())
}

func (c Void) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	from := in.State()
	in.Status = Voided{Reason: strings.TrimSpace(c.Reason), From: from, By: actor.ID, At: env.Now}

	recipients := []string{in.StudentID}
	if in.TutorID != "" {
		recipients = append(recipients, in.TutorID)
	}
	return []generic.Event{
		newEvent(env, EventInternshipVoided, *in, actor, recipients, "",
			map[string]any{"reason": c.Reason, "from": string(from)}),
	}, nil
}

// AssignTutor sets or replaces the tutor before the tutor has accepted.
// It does not change state.
type AssignTutor struct {
	TutorID string
}

func (AssignTutor) Action() Action { return ActionAssignTutor }

func (c AssignTutor) authorize(in Internship, actor Actor) error {
	return requireStaff(in, actor, c.Action())
}

func (c AssignTutor) apply(in *Internship, actor Actor, env Env) ([]generic.Event, error) {
	tutorID := strings.TrimSpace(c.TutorID)
	if tutorID == "" {
		return nil, refuse(*in, c.Action(), actor, generic.ErrValidation, "a tutor id is required")
	}
	in.TutorID = tutorID

	kind := EventTutorAssigned
	if in.State() == StatePendingTutorAcceptance {
		kind = EventTutorReviewRequested
	}
	return []generic.Event{newEvent(env, kind, *in, actor, []string{tutorID}, "", nil)}, nil
}
