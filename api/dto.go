/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Internship:
    InternshipDTO, CreateInternshipRequest, AgreementRequest,
    ReasonRequest, ReportRequest, EvaluationRequest, AssignTutorRequest

  Directory:
    SiteDTO, StaffDTO, ProgramDTO (wraps factory.ProgramJSON)

  Escalation:
    EscalationRunDTO

VALIDATION:
  Request types carry go-playground/validator tags, checked by
  Handler.decode before any domain call. Domain guards (non-blank reason,
  agreement completeness) are still enforced by the state machine so the
  API is never the only line of defence.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/program.go: ProgramJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/practicas-engine/escalation"
	"github.com/warp/practicas-engine/factory"
	"github.com/warp/practicas-engine/practica"
)

// =============================================================================
// INTERNSHIPS
// =============================================================================

// CreateInternshipRequest registers a new internship.
type CreateInternshipRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	TutorID   string `json:"tutor_id"`
	ProgramID string `json:"program_id" validate:"required"`
	Kind      string `json:"kind" validate:"required,oneof=initial professional"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
}

// AgreementRequest is the student's agreement submission.
type AgreementRequest struct {
	HostOrganization string `json:"host_organization" validate:"required"`
	HostAddress      string `json:"host_address" validate:"required_unless=Remote true"`
	SupervisorName   string `json:"supervisor_name" validate:"required"`
	SupervisorEmail  string `json:"supervisor_email" validate:"required,email"`
	SupervisorPhone  string `json:"supervisor_phone"`
	Tasks            string `json:"tasks" validate:"required"`
	Remote           bool   `json:"remote"`
}

// ReasonRequest carries a rejection or void reason. Reject additionally
// requires it to be non-blank; that guard lives in the state machine.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// ReportRequest attaches an uploaded report by reference.
type ReportRequest struct {
	ReportRef string `json:"report_ref" validate:"required"`
}

// EvaluationRequest records a tutor or employer evaluation.
type EvaluationRequest struct {
	Score    decimal.Decimal `json:"score"`
	Comments string          `json:"comments" validate:"max=4000"`
}

// AssignTutorRequest sets or replaces the tutor.
type AssignTutorRequest struct {
	TutorID string `json:"tutor_id" validate:"required"`
}

// AgreementDTO is the agreement as returned to clients.
type AgreementDTO struct {
	HostOrganization string `json:"host_organization"`
	HostAddress      string `json:"host_address,omitempty"`
	SupervisorName   string `json:"supervisor_name"`
	SupervisorEmail  string `json:"supervisor_email"`
	SupervisorPhone  string `json:"supervisor_phone,omitempty"`
	Tasks            string `json:"tasks"`
	Remote           bool   `json:"remote"`
	SubmittedAt      string `json:"submitted_at"`
}

// EvaluationDTO is one evaluation.
type EvaluationDTO struct {
	EvaluatorID string          `json:"evaluator_id"`
	Score       decimal.Decimal `json:"score"`
	Comments    string          `json:"comments,omitempty"`
	RecordedAt  string          `json:"recorded_at"`
}

// ClosingDTO is the closing record.
type ClosingDTO struct {
	FinalScore     decimal.Decimal `json:"final_score"`
	TutorScore     decimal.Decimal `json:"tutor_score"`
	EmployerScore  decimal.Decimal `json:"employer_score"`
	TutorWeight    decimal.Decimal `json:"tutor_weight"`
	EmployerWeight decimal.Decimal `json:"employer_weight"`
	ClosedBy       string          `json:"closed_by"`
	ClosedAt       string          `json:"closed_at"`
}

// InternshipDTO represents an internship in API responses.
type InternshipDTO struct {
	ID                 string         `json:"id"`
	StudentID          string         `json:"student_id"`
	TutorID            string         `json:"tutor_id,omitempty"`
	ProgramID          string         `json:"program_id"`
	SiteID             string         `json:"site_id"`
	Kind               string         `json:"kind"`
	RequiredHours      int            `json:"required_hours"`
	StartDate          string         `json:"start_date"`
	CompletionDate     string         `json:"completion_date"`
	SubmissionDeadline string         `json:"submission_deadline"`
	State              string         `json:"state"`
	RejectionReason    string         `json:"rejection_reason,omitempty"`
	VoidReason         string         `json:"void_reason,omitempty"`
	Agreement          *AgreementDTO  `json:"agreement,omitempty"`
	ReportRef          string         `json:"report_ref,omitempty"`
	TutorEvaluation    *EvaluationDTO `json:"tutor_evaluation,omitempty"`
	EmployerEvaluation *EvaluationDTO `json:"employer_evaluation,omitempty"`
	Closing            *ClosingDTO    `json:"closing,omitempty"`
	Version            int            `json:"version"`
	CreatedAt          string         `json:"created_at"`
	UpdatedAt          string         `json:"updated_at"`
}

func toInternshipDTO(in practica.Internship) InternshipDTO {
	dto := InternshipDTO{
		ID:                 in.ID,
		StudentID:          in.StudentID,
		TutorID:            in.TutorID,
		ProgramID:          in.ProgramID,
		SiteID:             in.SiteID,
		Kind:               string(in.Kind),
		RequiredHours:      in.RequiredHours,
		StartDate:          in.StartDate.String(),
		CompletionDate:     in.CompletionDate.String(),
		SubmissionDeadline: in.SubmissionDeadline().String(),
		State:              string(in.State()),
		ReportRef:          in.ReportRef,
		Version:            in.Version,
		CreatedAt:          in.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          in.UpdatedAt.Format(time.RFC3339),
	}
	if reason, ok := in.RejectionReason(); ok {
		dto.RejectionReason = reason
	}
	if v, ok := in.Status.(practica.Voided); ok {
		dto.VoidReason = v.Reason
	}
	if a := in.Agreement; a != nil {
		dto.Agreement = &AgreementDTO{
			HostOrganization: a.HostOrganization,
			HostAddress:      a.HostAddress,
			SupervisorName:   a.SupervisorName,
			SupervisorEmail:  a.SupervisorEmail,
			SupervisorPhone:  a.SupervisorPhone,
			Tasks:            a.Tasks,
			Remote:           a.Remote,
			SubmittedAt:      a.SubmittedAt.Format(time.RFC3339),
		}
	}
	dto.TutorEvaluation = toEvaluationDTO(in.TutorEvaluation)
	dto.EmployerEvaluation = toEvaluationDTO(in.EmployerEvaluation)
	if c, ok := in.Closing(); ok {
		dto.Closing = &ClosingDTO{
			FinalScore:     c.FinalScore,
			TutorScore:     c.TutorScore,
			EmployerScore:  c.EmployerScore,
			TutorWeight:    c.TutorWeight,
			EmployerWeight: c.EmployerWeight,
			ClosedBy:       c.ClosedBy,
			ClosedAt:       c.ClosedAt.Format(time.RFC3339),
		}
	}
	return dto
}

func toEvaluationDTO(e *practica.Evaluation) *EvaluationDTO {
	if e == nil {
		return nil
	}
	return &EvaluationDTO{
		EvaluatorID: e.EvaluatorID,
		Score:       e.Score,
		Comments:    e.Comments,
		RecordedAt:  e.RecordedAt.Format(time.RFC3339),
	}
}

// ActionsDTO lists what the caller may do now.
type ActionsDTO struct {
	InternshipID string   `json:"internship_id"`
	State        string   `json:"state"`
	Actions      []string `json:"actions"`
}

// =============================================================================
// DIRECTORY
// =============================================================================

// SiteDTO represents a site.
type SiteDTO struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
}

// StaffDTO represents a coordinator or director.
type StaffDTO struct {
	ID         string   `json:"id" validate:"required"`
	Name       string   `json:"name" validate:"required"`
	Email      string   `json:"email" validate:"required,email"`
	Role       string   `json:"role" validate:"required,oneof=coordinator director"`
	Active     bool     `json:"active"`
	SiteIDs    []string `json:"site_ids"`
	ProgramIDs []string `json:"program_ids"`
}

func toStaffDTO(s practica.Staff) StaffDTO {
	return StaffDTO{
		ID:         s.ID,
		Name:       s.Name,
		Email:      s.Email,
		Role:       string(s.Role),
		Active:     s.Active,
		SiteIDs:    nonNil(s.SiteIDs),
		ProgramIDs: nonNil(s.ProgramIDs),
	}
}

func (d StaffDTO) toStaff() practica.Staff {
	return practica.Staff{
		ID:         d.ID,
		Name:       d.Name,
		Email:      d.Email,
		Role:       practica.StaffRole(d.Role),
		Active:     d.Active,
		SiteIDs:    d.SiteIDs,
		ProgramIDs: d.ProgramIDs,
	}
}

// ProgramDTO represents a program in API responses.
type ProgramDTO struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	SiteID string              `json:"site_id"`
	Config factory.ProgramJSON `json:"config"`
}

// HolidayRequest creates a local holiday.
type HolidayRequest struct {
	Date string `json:"date" validate:"required,datetime=2006-01-02"`
	Name string `json:"name" validate:"required"`
}

// HolidayDTO is one local holiday.
type HolidayDTO struct {
	ID   string `json:"id"`
	Date string `json:"date"`
	Name string `json:"name"`
}

// DeadlinePreviewDTO answers "when would an internship starting on X end".
type DeadlinePreviewDTO struct {
	Start          string `json:"start"`
	RequiredHours  int    `json:"required_hours"`
	Workdays       int    `json:"workdays"`
	CompletionDate string `json:"completion_date"`
	CalendarDays   int    `json:"calendar_days"`
}

// =============================================================================
// ESCALATION
// =============================================================================

// EscalationRunDTO is one entry of the run history.
type EscalationRunDTO struct {
	ID          string   `json:"id"`
	Trigger     string   `json:"trigger"`
	Status      string   `json:"status"`
	Flagged     int      `json:"flagged"`
	Sent        int      `json:"sent"`
	Failed      int      `json:"failed"`
	Errors      []string `json:"errors,omitempty"`
	Error       string   `json:"error,omitempty"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

func toRunDTO(run escalation.Run) EscalationRunDTO {
	dto := EscalationRunDTO{
		ID:        run.ID,
		Trigger:   run.Trigger,
		Status:    run.Status,
		Flagged:   run.Flagged,
		Sent:      run.Sent,
		Failed:    run.Failed,
		Errors:    run.Errors,
		Error:     run.Error,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// AuditEntryDTO is one audit record.
type AuditEntryDTO struct {
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Action      string         `json:"action"`
	SubjectType string         `json:"subject_type,omitempty"`
	SubjectID   string         `json:"subject_id,omitempty"`
	Outcome     string         `json:"outcome"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
