/*
handlers.go - HTTP API handlers for the internship lifecycle engine

PURPOSE:
  Exposes the lifecycle, deadline and escalation engines via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Internships:
    GET    /api/internships                         List (state, program_id, site_id, student_id, tutor_id)
    POST   /api/internships                         Register (coordinator/director)
    GET    /api/internships/{id}                    Get one
    GET    /api/internships/{id}/actions            Operations the caller may perform now
    POST   /api/internships/{id}/agreement          Student submits agreement
    POST   /api/internships/{id}/accept             Tutor accepts
    POST   /api/internships/{id}/reject             Tutor rejects (reason required)
    POST   /api/internships/{id}/report             Student uploads final report
    POST   /api/internships/{id}/evaluations/tutor     Tutor evaluation
    POST   /api/internships/{id}/evaluations/employer  Employer evaluation
    POST   /api/internships/{id}/close              Close with final score
    POST   /api/internships/{id}/void               Void (coordinator/director)
    POST   /api/internships/{id}/tutor              Assign tutor

  Directory:
    GET/POST /api/sites, /api/staff, /api/programs; GET /api/programs/{id}

  Calendar:
    GET    /api/holidays?year=     Local holidays
    POST   /api/holidays           Add local holiday
    DELETE /api/holidays/{id}      Remove local holiday
    GET    /api/deadlines/preview  Completion date for start + hours

  Escalation:
    POST   /api/escalations/run    Run detection + notices (X-Cron-Secret)
    GET    /api/escalations/stats  Overdue counts, nothing sent
    GET    /api/escalations/runs   Run history
    POST   /api/outbox/dispatch    Deliver pending domain events
    GET    /api/audit              Audit trail (subject_id, recipient_id)

ACTOR:
  Authentication happens upstream. The gateway forwards the verified caller
  as X-Actor-ID and X-Actor-Role; requests without them get 401 on any
  endpoint that mutates an internship.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body or query
  - 401: Missing actor headers or trigger secret
  - 403: Wrong actor for the operation
  - 404: Internship, program or entity not found
  - 409: Illegal transition; concurrent modification (retryable: true)
  - 422: Validation, expired deadline, early submission, bad configuration
  - 500: Internal errors, uncomputable deadline

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/warp/practicas-engine/escalation"
	"github.com/warp/practicas-engine/factory"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/notify"
	"github.com/warp/practicas-engine/practica"
	"github.com/warp/practicas-engine/store/sqlite"
)

// Actor headers set by the authenticating gateway.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorRole  = "X-Actor-Role"
	HeaderCronSecret = "X-Cron-Secret"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Lifecycle   *practica.Lifecycle
	Deadlines   *generic.DeadlineCalculator
	Detector    *escalation.Detector
	Escalations *escalation.Job
	Dispatcher  *notify.Dispatcher
	Programs    *factory.ProgramFactory

	// EscalationSecret, when set, must match X-Cron-Secret on the trigger.
	EscalationSecret string

	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(store *sqlite.Store, lifecycle *practica.Lifecycle, job *escalation.Job, dispatcher *notify.Dispatcher) *Handler {
	return &Handler{
		Store:       store,
		Lifecycle:   lifecycle,
		Deadlines:   lifecycle.Deadlines,
		Detector:    job.Detector,
		Escalations: job,
		Dispatcher:  dispatcher,
		Programs:    factory.NewProgramFactory(),
		validate:    validator.New(),
	}
}

// =============================================================================
// INTERNSHIP HANDLERS
// =============================================================================

// ListInternships returns internships matching the query filters.
// GET /api/internships
func (h *Handler) ListInternships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := practica.Filter{
		ProgramID: q.Get("program_id"),
		SiteID:    q.Get("site_id"),
		StudentID: q.Get("student_id"),
		TutorID:   q.Get("tutor_id"),
	}
	for _, s := range q["state"] {
		state := practica.State(strings.ToUpper(s))
		if !state.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown state %q", s), nil)
			return
		}
		filter.States = append(filter.States, state)
	}

	list, err := h.Lifecycle.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list internships", err)
		return
	}

	dtos := make([]InternshipDTO, len(list))
	for i, in := range list {
		dtos[i] = toInternshipDTO(in)
	}
	writeJSON(w, http.StatusOK, map[string]any{"internships": dtos})
}

// CreateInternship registers an internship.
// POST /api/internships
func (h *Handler) CreateInternship(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req CreateInternshipRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := generic.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date format (use YYYY-MM-DD)", err)
		return
	}

	in, err := h.Lifecycle.Create(r.Context(), actor, practica.NewInternship{
		StudentID: req.StudentID,
		TutorID:   req.TutorID,
		ProgramID: req.ProgramID,
		Kind:      practica.Kind(req.Kind),
		StartDate: start,
	})
	if err != nil {
		writeDomainError(w, "Failed to create internship", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInternshipDTO(in))
}

// GetInternship returns one internship.
// GET /api/internships/{id}
func (h *Handler) GetInternship(w http.ResponseWriter, r *http.Request) {
	in, err := h.Lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get internship", err)
		return
	}
	writeJSON(w, http.StatusOK, toInternshipDTO(in))
}

// GetActions lists the operations the caller may perform right now.
// GET /api/internships/{id}/actions
func (h *Handler) GetActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	in, err := h.Lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get internship", err)
		return
	}

	actions := h.Lifecycle.AvailableActions(in, actor)
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	writeJSON(w, http.StatusOK, ActionsDTO{InternshipID: in.ID, State: string(in.State()), Actions: names})
}

// SubmitAgreement moves PENDING to PENDING_TUTOR_ACCEPTANCE.
// POST /api/internships/{id}/agreement
func (h *Handler) SubmitAgreement(w http.ResponseWriter, r *http.Request) {
	var req AgreementRequest
	h.transition(w, r, &req, func(actor practica.Actor) practica.Command {
		return practica.SubmitAgreement{Agreement: practica.Agreement{
			HostOrganization: req.HostOrganization,
			HostAddress:      req.HostAddress,
			SupervisorName:   req.SupervisorName,
			SupervisorEmail:  req.SupervisorEmail,
			SupervisorPhone:  req.SupervisorPhone,
			Tasks:            req.Tasks,
			Remote:           req.Remote,
		}}
	})
}

// AcceptInternship is the tutor's acceptance.
// POST /api/internships/{id}/accept
func (h *Handler) AcceptInternship(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(practica.Actor) practica.Command { return practica.Accept{} })
}

// RejectInternship is the tutor's rejection.
// POST /api/internships/{id}/reject
func (h *Handler) RejectInternship(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	h.transition(w, r, &req, func(practica.Actor) practica.Command {
		return practica.Reject{Reason: req.Reason}
	})
}

// UploadReport attaches the final report.
// POST /api/internships/{id}/report
func (h *Handler) UploadReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	h.transition(w, r, &req, func(practica.Actor) practica.Command {
		return practica.UploadReport{ReportRef: req.ReportRef}
	})
}

// RecordTutorEvaluation stores the tutor's score.
// POST /api/internships/{id}/evaluations/tutor
func (h *Handler) RecordTutorEvaluation(w http.ResponseWriter, r *http.Request) {
	var req EvaluationRequest
	h.transition(w, r, &req, func(practica.Actor) practica.Command {
		return practica.RecordTutorEvaluation{Score: req.Score, Comments: req.Comments}
	})
}

// RecordEmployerEvaluation stores the employer's score.
// POST /api/internships/{id}/evaluations/employer
func (h *Handler) RecordEmployerEvaluation(w http.ResponseWriter, r *http.Request) {
	var req EvaluationRequest
	h.transition(w, r, &req, func(practica.Actor) practica.Command {
		return practica.RecordEmployerEvaluation{Score: req.Score, Comments: req.Comments}
	})
}

// CloseInternship computes and stores the final score.
// POST /api/internships/{id}/close
func (h *Handler) CloseInternship(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(practica.Actor) practica.Command { return practica.Close{} })
}

// VoidInternship is the administrative cancel.
// POST /api/internships/{id}/void
func (h *Handler) VoidInternship(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	h.transition(w, r, &req, func(practica.Actor) practica.Command {
		return practica.Void{Reason: req.Reason}
	})
}

// AssignTutor sets the tutor.
// POST /api/internships/{id}/tutor
func (h *Handler) AssignTutor(w http.ResponseWriter, r *http.Request) {
	var req AssignTutorRequest
	h.transition(w, r, &req, func(practica.Actor) practica.Command {
		return practica.AssignTutor{TutorID: req.TutorID}
	})
}

// transition is the shared shape of every mutation: actor, optional body,
// command, Perform, DTO.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, body any, build func(practica.Actor) practica.Command) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if body != nil && !h.decode(w, r, body) {
		return
	}

	cmd := build(actor)
	in, err := h.Lifecycle.Perform(r.Context(), chi.URLParam(r, "id"), actor, cmd)
	if err != nil {
		writeDomainError(w, fmt.Sprintf("Cannot %s", strings.ReplaceAll(string(cmd.Action()), "_", " ")), err)
		return
	}
	writeJSON(w, http.StatusOK, toInternshipDTO(in))
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListSites returns all sites.
// GET /api/sites
func (h *Handler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.Store.ListSites(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sites", err)
		return
	}
	dtos := make([]SiteDTO, len(sites))
	for i, s := range sites {
		dtos[i] = SiteDTO{ID: s.ID, Name: s.Name}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": dtos})
}

// CreateSite creates or renames a site.
// POST /api/sites
func (h *Handler) CreateSite(w http.ResponseWriter, r *http.Request) {
	var req SiteDTO
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Store.SaveSite(r.Context(), practica.Site{ID: req.ID, Name: req.Name}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save site", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListStaff returns coordinators and directors.
// GET /api/staff
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Store.ListStaff(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list staff", err)
		return
	}
	dtos := make([]StaffDTO, len(staff))
	for i, s := range staff {
		dtos[i] = toStaffDTO(s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"staff": dtos})
}

// CreateStaff creates or updates a staff member.
// POST /api/staff
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req StaffDTO
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Store.SaveStaff(r.Context(), req.toStaff()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListPrograms returns all programs.
// GET /api/programs
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	programs, err := h.Store.ListPrograms(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list programs", err)
		return
	}
	dtos := make([]ProgramDTO, len(programs))
	for i, p := range programs {
		dtos[i] = ProgramDTO{ID: p.ID, Name: p.Name, SiteID: p.SiteID, Config: factory.ToJSON(p)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": dtos})
}

// GetProgram returns one program.
// GET /api/programs/{id}
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProgram(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if generic.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Program not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get program", err)
		return
	}
	writeJSON(w, http.StatusOK, ProgramDTO{ID: p.ID, Name: p.Name, SiteID: p.SiteID, Config: factory.ToJSON(p)})
}

// CreateProgram creates a program from its JSON definition.
// POST /api/programs
func (h *Handler) CreateProgram(w http.ResponseWriter, r *http.Request) {
	var req factory.ProgramJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	p, err := h.Programs.Build(req)
	if err != nil {
		writeDomainError(w, "Invalid program", err)
		return
	}
	if err := h.Store.SaveProgram(r.Context(), p); err != nil {
		writeDomainError(w, "Failed to save program", err)
		return
	}
	writeJSON(w, http.StatusCreated, ProgramDTO{ID: p.ID, Name: p.Name, SiteID: p.SiteID, Config: factory.ToJSON(p)})
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

// ListHolidays returns local holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = y
	}

	holidays, err := h.Store.GetHolidays(r.Context(), year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get holidays", err)
		return
	}
	dtos := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		dtos = append(dtos, HolidayDTO{ID: hol.ID, Date: hol.Date.String(), Name: hol.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"holidays": dtos})
}

// CreateHoliday adds a local holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := generic.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}

	holiday := generic.Holiday{ID: "holiday-" + uuid.NewString(), Date: date, Name: req.Name}
	if err := h.Store.SaveHoliday(r.Context(), holiday); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create holiday", err)
		return
	}
	writeJSON(w, http.StatusCreated, HolidayDTO{ID: holiday.ID, Date: req.Date, Name: req.Name})
}

// DeleteHoliday removes a local holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete holiday", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// PreviewDeadline computes a completion date without creating anything.
// GET /api/deadlines/preview?start=2025-03-03&hours=320
func (h *Handler) PreviewDeadline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := generic.ParseDate(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start (use YYYY-MM-DD)", err)
		return
	}
	hours, err := strconv.Atoi(q.Get("hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hours", err)
		return
	}

	completion, err := h.Deadlines.CompletionDate(r.Context(), start, hours)
	if err != nil {
		writeDomainError(w, "Cannot compute completion date", err)
		return
	}
	writeJSON(w, http.StatusOK, DeadlinePreviewDTO{
		Start:          start.String(),
		RequiredHours:  hours,
		Workdays:       h.Deadlines.WorkdaysFor(hours),
		CompletionDate: completion.String(),
		CalendarDays:   generic.DaysBetween(start, completion) + 1,
	})
}

// =============================================================================
// ESCALATION HANDLERS
// =============================================================================

// RunEscalations runs one detection + notification pass.
// POST /api/escalations/run
func (h *Handler) RunEscalations(w http.ResponseWriter, r *http.Request) {
	if h.EscalationSecret != "" {
		got := r.Header.Get(HeaderCronSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.EscalationSecret)) != 1 {
			writeError(w, http.StatusUnauthorized, "Invalid or missing cron secret", nil)
			return
		}
	}

	result, err := h.Escalations.Run(r.Context(), "manual")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Escalation run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetEscalationStats reports overdue counts without sending anything.
// GET /api/escalations/stats
func (h *Handler) GetEscalationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Detector.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListEscalationRuns returns run history, newest first.
// GET /api/escalations/runs
func (h *Handler) ListEscalationRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.Store.ListEscalationRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get escalation runs", err)
		return
	}
	dtos := make([]EscalationRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// DispatchOutbox delivers pending domain events now.
// POST /api/outbox/dispatch
func (h *Handler) DispatchOutbox(w http.ResponseWriter, r *http.Request) {
	result, err := h.Dispatcher.DispatchPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Outbox dispatch failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAudit returns audit entries.
// GET /api/audit?subject_id=&recipient_id=&sender_id=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter generic.AuditFilter
	if v := q.Get("subject_id"); v != "" {
		filter.SubjectID = &v
	}
	if v := q.Get("recipient_id"); v != "" {
		filter.RecipientID = &v
	}
	if v := q.Get("sender_id"); v != "" {
		filter.SenderID = &v
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}

	entries, err := h.Store.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = AuditEntryDTO{
			ID:          e.ID,
			Timestamp:   e.Timestamp.Format(time.RFC3339),
			SenderID:    e.SenderID,
			RecipientID: e.RecipientID,
			Action:      string(e.Action),
			SubjectType: e.SubjectType,
			SubjectID:   e.SubjectID,
			Outcome:     string(e.Outcome),
			Payload:     e.Payload,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": dtos})
}

// ResetDatabase clears all data (dev only).
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

// actor reads the caller from the gateway headers.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (practica.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(HeaderActorID))
	role := practica.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole))))
	if id == "" || role == "" {
		writeError(w, http.StatusUnauthorized, "Missing actor headers", nil)
		return practica.Actor{}, false
	}
	switch role {
	case practica.RoleStudent, practica.RoleTutor, practica.RoleEmployer,
		practica.RoleCoordinator, practica.RoleDirector:
	default:
		writeError(w, http.StatusUnauthorized, fmt.Sprintf("Unknown actor role %q", role), nil)
		return practica.Actor{}, false
	}
	return practica.Actor{ID: id, Role: role}, true
}

// decode parses the JSON body into dst and runs struct validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:   "Validation failed",
				Code:    "validation",
				Details: fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeDomainError maps engine errors to HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, generic.ErrWrongActor):
		status, code = http.StatusForbidden, "wrong_actor"
	case errors.Is(err, generic.ErrConcurrentModification):
		status, code = http.StatusConflict, "concurrent_modification"
	case errors.Is(err, generic.ErrIllegalTransition):
		status, code = http.StatusConflict, "illegal_transition"
	case errors.Is(err, generic.ErrDeadlineExpired):
		status, code = http.StatusUnprocessableEntity, "deadline_expired"
	case errors.Is(err, generic.ErrEarlySubmission):
		status, code = http.StatusUnprocessableEntity, "early_submission"
	case errors.Is(err, generic.ErrValidation):
		status, code = http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, generic.ErrInvalidConfiguration):
		status, code = http.StatusUnprocessableEntity, "invalid_configuration"
	case errors.Is(err, generic.ErrProgramNotFound):
		status, code = http.StatusUnprocessableEntity, "program_not_found"
	case generic.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrDeadlineUncomputable):
		status, code = http.StatusInternalServerError, "deadline_uncomputable"
	}
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s: %v", message, err)
	}

	writeJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		Details:   err.Error(),
		Retryable: generic.IsRetryable(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
