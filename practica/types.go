// Package practica implements the internship ("practica") lifecycle.
// It uses the generic engine for dates, deadlines, errors and the outbox.
package practica

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/practicas-engine/generic"
)

// =============================================================================
// KIND - The two internship categories
// =============================================================================

type Kind string

const (
	KindInitial      Kind = "initial"
	KindProfessional Kind = "professional"
)

// Default required hours per kind, used when a program does not override them.
const (
	DefaultInitialHours      = 160
	DefaultProfessionalHours = 320
)

func (k Kind) Valid() bool { return k == KindInitial || k == KindProfessional }

// =============================================================================
// ACTORS
// =============================================================================

type Role string

const (
	RoleStudent     Role = "student"
	RoleTutor       Role = "tutor"
	RoleEmployer    Role = "employer"
	RoleCoordinator Role = "coordinator"
	RoleDirector    Role = "director"
	RoleSystem      Role = "system"
)

// Actor is an authenticated caller. Authentication happens upstream; the
// engine only checks role and ownership.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsStaff() bool { return a.Role == RoleCoordinator || a.Role == RoleDirector }

func (a Actor) String() string { return fmt.Sprintf("%s:%s", a.Role, a.ID) }

// =============================================================================
// ORGANIZATION - Sites, programs and escalation staff
// =============================================================================

type Site struct {
	ID   string
	Name string
}

// Program is an academic program hosted at a site. It fixes the hours each
// internship kind requires and how the final score is weighted.
type Program struct {
	ID             string
	Name           string
	SiteID         string
	RequiredHours  map[Kind]int
	TutorWeight    decimal.Decimal
	EmployerWeight decimal.Decimal
	ScoreMin       decimal.Decimal
	ScoreMax       decimal.Decimal
}

// RequiredHoursFor returns the configured hours for kind.
func (p Program) RequiredHoursFor(kind Kind) (int, error) {
	hours, ok := p.RequiredHours[kind]
	if !ok {
		return 0, fmt.Errorf("%w: program %s has no hours for %s internships",
			generic.ErrInvalidConfiguration, p.ID, kind)
	}
	if hours <= 0 {
		return 0, fmt.Errorf("%w: program %s requires %d hours for %s internships",
			generic.ErrInvalidConfiguration, p.ID, hours, kind)
	}
	return hours, nil
}

// Validate checks the weights and score scale.
func (p Program) Validate() error {
	if p.ID == "" || p.SiteID == "" {
		return fmt.Errorf("%w: program needs an id and a site", generic.ErrInvalidConfiguration)
	}
	if p.TutorWeight.IsNegative() || p.EmployerWeight.IsNegative() ||
		!p.TutorWeight.Add(p.EmployerWeight).Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: program %s weights must be non-negative and sum to 1 (got %s + %s)",
			generic.ErrInvalidConfiguration, p.ID, p.TutorWeight, p.EmployerWeight)
	}
	if !p.ScoreMin.LessThan(p.ScoreMax) {
		return fmt.Errorf("%w: program %s score scale %s..%s is empty",
			generic.ErrInvalidConfiguration, p.ID, p.ScoreMin, p.ScoreMax)
	}
	return nil
}

// ValidScore reports whether score lies on the program's scale.
func (p Program) ValidScore(score decimal.Decimal) bool {
	return score.GreaterThanOrEqual(p.ScoreMin) && score.LessThanOrEqual(p.ScoreMax)
}

// FinalScore is the weighted closing score, rounded to two decimals.
func (p Program) FinalScore(tutor, employer decimal.Decimal) decimal.Decimal {
	return tutor.Mul(p.TutorWeight).Add(employer.Mul(p.EmployerWeight)).Round(2)
}

// StaffRole distinguishes escalation recipients.
type StaffRole string

const (
	StaffCoordinator StaffRole = "coordinator"
	StaffDirector    StaffRole = "director"
)

// Staff is a coordinator or program director with a responsibility scope.
type Staff struct {
	ID         string
	Name       string
	Email      string
	Role       StaffRole
	Active     bool
	SiteIDs    []string
	ProgramIDs []string
}

// CoversSite reports whether the staff member's site scope includes siteID.
func (s Staff) CoversSite(siteID string) bool {
	for _, id := range s.SiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// CoversProgram reports whether the staff member directs programID.
func (s Staff) CoversProgram(programID string) bool {
	for _, id := range s.ProgramIDs {
		if id == programID {
			return true
		}
	}
	return false
}

// =============================================================================
// INTERNSHIP
// =============================================================================

// Agreement holds the fields the student fills before tutor review.
type Agreement struct {
	HostOrganization string
	HostAddress      string
	SupervisorName   string
	SupervisorEmail  string
	SupervisorPhone  string
	Tasks            string
	Remote           bool
	SubmittedAt      time.Time
}

func (a Agreement) missingFields() []string {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("host_organization", a.HostOrganization)
	if !a.Remote {
		check("host_address", a.HostAddress)
	}
	check("supervisor_name", a.SupervisorName)
	check("supervisor_email", a.SupervisorEmail)
	check("tasks", a.Tasks)
	return missing
}

// Evaluation is a score given by the tutor or the employer.
type Evaluation struct {
	EvaluatorID string
	Score       decimal.Decimal
	Comments    string
	RecordedAt  time.Time
}

// ClosingRecord is written once, when the internship is closed.
type ClosingRecord struct {
	FinalScore     decimal.Decimal
	TutorScore     decimal.Decimal
	EmployerScore  decimal.Decimal
	TutorWeight    decimal.Decimal
	EmployerWeight decimal.Decimal
	ClosedBy       string
	ClosedAt       time.Time
}

// Internship is the tracked engagement between a student and a host
// organization. State-specific data lives in Status.
type Internship struct {
	ID             string
	StudentID      string
	TutorID        string
	ProgramID      string
	SiteID         string
	Kind           Kind
	RequiredHours  int
	StartDate      generic.TimePoint
	CompletionDate generic.TimePoint

	Status StateDetail

	Agreement          *Agreement
	ReportRef          string
	TutorEvaluation    *Evaluation
	EmployerEvaluation *Evaluation

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State returns the current lifecycle state.
func (in Internship) State() State {
	if in.Status == nil {
		return StatePending
	}
	return in.Status.State()
}

// Clone returns a deep copy, so a failed transition never touches the original.
func (in Internship) Clone() Internship {
	out := in
	if in.Agreement != nil {
		a := *in.Agreement
		out.Agreement = &a
	}
	if in.TutorEvaluation != nil {
		e := *in.TutorEvaluation
		out.TutorEvaluation = &e
	}
	if in.EmployerEvaluation != nil {
		e := *in.EmployerEvaluation
		out.EmployerEvaluation = &e
	}
	return out
}

// SubmissionDeadline is the last day the student may submit the agreement.
func (in Internship) SubmissionDeadline() generic.TimePoint {
	return in.StartDate.AddDays(SubmissionGraceDays)
}

// RejectionReason returns the tutor's reason when the state is REJECTED_BY_TUTOR.
func (in Internship) RejectionReason() (string, bool) {
	if r, ok := in.Status.(RejectedByTutor); ok {
		return r.Reason, true
	}
	return "", false
}

// Closing returns the closing record when the state is CLOSED.
func (in Internship) Closing() (ClosingRecord, bool) {
	if c, ok := in.Status.(Closed); ok {
		return c.Record, true
	}
	return ClosingRecord{}, false
}
