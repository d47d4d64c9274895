package practica

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// STATES
// =============================================================================

type State string

const (
	StatePending                State = "PENDING"
	StatePendingTutorAcceptance State = "PENDING_TUTOR_ACCEPTANCE"
	StateRejectedByTutor        State = "REJECTED_BY_TUTOR"
	StateInProgress             State = "IN_PROGRESS"
	StateFinishedPendingEval    State = "FINISHED_PENDING_EVAL"
	StateEvaluationComplete     State = "EVALUATION_COMPLETE"
	StateClosed                 State = "CLOSED"
	StateVoided                 State = "VOIDED"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StatePending,
	StatePendingTutorAcceptance,
	StateRejectedByTutor,
	StateInProgress,
	StateFinishedPendingEval,
	StateEvaluationComplete,
	StateClosed,
	StateVoided,
}

// NonTerminalStates are the states the overdue scan looks at.
var NonTerminalStates = []State{
	StatePending,
	StatePendingTutorAcceptance,
	StateRejectedByTutor,
	StateInProgress,
	StateFinishedPendingEval,
	StateEvaluationComplete,
}

func (s State) IsTerminal() bool { return s == StateClosed || s == StateVoided }

func (s State) Valid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

// =============================================================================
// STATE DETAIL - One variant per state, carrying only what that state owns
// =============================================================================

// StateDetail is the tagged variant describing the current state. A rejection
// reason only exists inside RejectedByTutor, a closing record only inside
// Closed; no nullable field is meaningful in just one state.
type StateDetail interface {
	State() State
	isStateDetail()
}

type Pending struct {
	CreatedAt time.Time `json:"created_at"`
}

type AwaitingTutor struct {
	SubmittedAt time.Time `json:"submitted_at"`
}

type RejectedByTutor struct {
	Reason  string    `json:"reason"`
	TutorID string    `json:"tutor_id"`
	At      time.Time `json:"at"`
}

type InProgress struct {
	AcceptedAt time.Time `json:"accepted_at"`
}

type FinishedPendingEval struct {
	ReportSubmittedAt time.Time `json:"report_submitted_at"`
}

type EvaluationComplete struct {
	CompletedAt time.Time `json:"completed_at"`
}

type Closed struct {
	Record ClosingRecord `json:"record"`
}

type Voided struct {
	Reason string    `json:"reason,omitempty"`
	From   State     `json:"from"`
	By     string    `json:"by"`
	At     time.Time `json:"at"`
}

func (Pending) State() State             { return StatePending }
func (AwaitingTutor) State() State       { return StatePendingTutorAcceptance }
func (RejectedByTutor) State() State     { return StateRejectedByTutor }
func (InProgress) State() State          { return StateInProgress }
func (FinishedPendingEval) State() State { return StateFinishedPendingEval }
func (EvaluationComplete) State() State  { return StateEvaluationComplete }
func (Closed) State() State              { return StateClosed }
func (Voided) State() State              { return StateVoided }

func (Pending) isStateDetail()             {}
func (AwaitingTutor) isStateDetail()       {}
func (RejectedByTutor) isStateDetail()     {}
func (InProgress) isStateDetail()          {}
func (FinishedPendingEval) isStateDetail() {}
func (EvaluationComplete) isStateDetail()  {}
func (Closed) isStateDetail()              {}
func (Voided) isStateDetail()              {}

// EncodeDetail serializes a detail for storage next to its state column.
func EncodeDetail(d StateDetail) (State, []byte, error) {
	if d == nil {
		return "", nil, fmt.Errorf("nil state detail")
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode %s detail: %w", d.State(), err)
	}
	return d.State(), b, nil
}

// DecodeDetail rebuilds the variant for state from its stored JSON.
func DecodeDetail(state State, data []byte) (StateDetail, error) {
	var (
		d   StateDetail
		err error
	)
	unmarshal := func(v any) {
		if len(data) == 0 {
			return
		}
		err = json.Unmarshal(data, v)
	}

	switch state {
	case StatePending:
		var v Pending
		unmarshal(&v)
		d = v
	case StatePendingTutorAcceptance:
		var v AwaitingTutor
		unmarshal(&v)
		d = v
	case StateRejectedByTutor:
		var v RejectedByTutor
		unmarshal(&v)
		d = v
	case StateInProgress:
		var v InProgress
		unmarshal(&v)
		d = v
	case StateFinishedPendingEval:
		var v FinishedPendingEval
		unmarshal(&v)
		d = v
	case StateEvaluationComplete:
		var v EvaluationComplete
		unmarshal(&v)
		d = v
	case StateClosed:
		var v Closed
		unmarshal(&v)
		d = v
	case StateVoided:
		var v Voided
		unmarshal(&v)
		d = v
	default:
		return nil, fmt.Errorf("unknown state %q", state)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s detail: %w", state, err)
	}
	return d, nil
}
