/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates sites, programs,
	staff and internships that demonstrate specific features.

AVAILABLE SCENARIOS:

	new-cohort:          Freshly registered internships awaiting agreements
	full-lifecycle:      One internship in every state, one closed with a score
	overdue-escalation:  Overdue internships across sites in all severity tiers

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create sites, programs (via factory JSON) and staff
 3. Register internships through the lifecycle, as a coordinator would
 4. Walk them forward with a clock pinned to the right day for each step

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "overdue-escalation"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - factory/program.go: Program JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/practicas-engine/factory"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-cohort",
		Name:        "New Cohort",
		Description: "Internships registered today, waiting for student agreements",
		Category:    "lifecycle",
	},
	{
		ID:          "full-lifecycle",
		Name:        "Full Lifecycle",
		Description: "One internship in each state, including a closed one with its final score",
		Category:    "lifecycle",
	},
	{
		ID:          "overdue-escalation",
		Name:        "Overdue Escalation",
		Description: "Overdue internships in two sites covering NORMAL, LOW and CRITICAL severities",
		Category:    "escalation",
	},
}

var (
	scenarioCoordinator = practica.Actor{ID: "coord-central", Role: practica.RoleCoordinator}
	scenarioTutor       = practica.Actor{ID: "tutor-rojas", Role: practica.RoleTutor}
)

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	ctx := r.Context()

	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "new-cohort":
		err = h.loadNewCohortScenario(ctx)
	case "full-lifecycle":
		err = h.loadFullLifecycleScenario(ctx)
	case "overdue-escalation":
		err = h.loadOverdueScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadNewCohortScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	today := generic.Today(h.Lifecycle.Clock)
	students := []struct {
		id, tutor, program string
		kind               practica.Kind
	}{
		{"stu-001", "tutor-rojas", "ing-informatica", practica.KindInitial},
		{"stu-002", "tutor-rojas", "ing-informatica", practica.KindProfessional},
		{"stu-003", "", "enfermeria", practica.KindInitial},
	}
	for _, s := range students {
		_, err := h.Lifecycle.Create(ctx, scenarioCoordinator, practica.NewInternship{
			StudentID: s.id,
			TutorID:   s.tutor,
			ProgramID: s.program,
			Kind:      s.kind,
			StartDate: today,
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", s.id, err)
		}
	}
	return nil
}

func (h *Handler) loadFullLifecycleScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	// Starts far enough back that every step up to closing is legal today.
	now := time.Now().UTC()
	start := generic.DateOf(now.AddDate(0, 0, -60))

	steps := []practica.State{
		practica.StatePending,
		practica.StatePendingTutorAcceptance,
		practica.StateRejectedByTutor,
		practica.StateInProgress,
		practica.StateFinishedPendingEval,
		practica.StateEvaluationComplete,
		practica.StateClosed,
		practica.StateVoided,
	}
	for i, target := range steps {
		student := fmt.Sprintf("stu-%03d", 100+i)
		if err := h.walkTo(ctx, student, "ing-informatica", start, target); err != nil {
			return fmt.Errorf("%s to %s: %w", student, target, err)
		}
	}
	return nil
}

func (h *Handler) loadOverdueScenario(ctx context.Context) error {
	if err := h.seedDirectory(ctx); err != nil {
		return err
	}

	today := generic.Today(h.Lifecycle.Clock)
	records := []struct {
		student, program string
		daysAgo          int
		state            practica.State
	}{
		{"stu-201", "ing-informatica", 3, practica.StateInProgress},
		{"stu-202", "ing-informatica", 9, practica.StateInProgress},
		{"stu-203", "ing-informatica", 20, practica.StateInProgress},
		{"stu-204", "enfermeria", 6, practica.StatePendingTutorAcceptance},
		{"stu-205", "enfermeria", 30, practica.StateFinishedPendingEval},
		{"stu-206", "ing-informatica", 40, practica.StateClosed},
	}
	for _, rec := range records {
		start, err := h.startFor(ctx, today.AddDays(-rec.daysAgo), practica.DefaultInitialHours)
		if err != nil {
			return err
		}
		if err := h.walkTo(ctx, rec.student, rec.program, start, rec.state); err != nil {
			return fmt.Errorf("%s: %w", rec.student, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedDirectory(ctx context.Context) error {
	sites := []practica.Site{
		{ID: "campus-central", Name: "Campus Central"},
		{ID: "campus-norte", Name: "Campus Norte"},
	}
	for _, s := range sites {
		if err := h.Store.SaveSite(ctx, s); err != nil {
			return err
		}
	}

	programs := []string{
		factory.StandardProgramJSON("ing-informatica", "Ingeniería en Informática", "campus-central"),
		`{
			"id": "enfermeria",
			"name": "Enfermería",
			"site_id": "campus-norte",
			"required_hours": {"initial": 160, "professional": 400},
			"weights": {"tutor": 0.5, "employer": 0.5}
		}`,
	}
	for _, js := range programs {
		p, err := h.Programs.ParseProgram(js)
		if err != nil {
			return err
		}
		if err := h.Store.SaveProgram(ctx, p); err != nil {
			return err
		}
	}

	staff := []practica.Staff{
		{ID: "coord-central", Name: "Carolina Fuentes", Email: "cfuentes@example.edu", Role: practica.StaffCoordinator, Active: true, SiteIDs: []string{"campus-central"}},
		{ID: "coord-norte", Name: "Matías Herrera", Email: "mherrera@example.edu", Role: practica.StaffCoordinator, Active: true, SiteIDs: []string{"campus-norte"}},
		{ID: "coord-retired", Name: "Jorge Pino", Email: "jpino@example.edu", Role: practica.StaffCoordinator, Active: false, SiteIDs: []string{"campus-central"}},
		{ID: "dir-informatica", Name: "Paula Soto", Email: "psoto@example.edu", Role: practica.StaffDirector, Active: true, ProgramIDs: []string{"ing-informatica"}},
		{ID: "dir-salud", Name: "Andrés Vidal", Email: "avidal@example.edu", Role: practica.StaffDirector, Active: true, SiteIDs: []string{"campus-norte"}},
	}
	for _, s := range staff {
		if err := h.Store.SaveStaff(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// startFor returns the latest start date whose completion for hours falls
// on or before target. Completion dates are workdays, so a target on a
// weekend resolves to the Friday before.
func (h *Handler) startFor(ctx context.Context, target generic.TimePoint, hours int) (generic.TimePoint, error) {
	best := generic.TimePoint{}
	for s := target.AddDays(-3 * h.Deadlines.WorkdaysFor(hours)); !s.After(target); s = s.AddDays(1) {
		c, err := h.Deadlines.CompletionDate(ctx, s, hours)
		if err != nil {
			return generic.TimePoint{}, err
		}
		if c.After(target) {
			break
		}
		best = s
	}
	if best.IsZero() {
		return generic.TimePoint{}, fmt.Errorf("no start date completes by %s", target)
	}
	return best, nil
}

// walkTo registers an internship starting on start and drives it to target,
// pinning the clock to a day on which each step is allowed.
func (h *Handler) walkTo(ctx context.Context, student, programID string, start generic.TimePoint, target practica.State) error {
	lc := *h.Lifecycle
	at := func(d generic.TimePoint) { lc.Clock = generic.FixedClock{At: d.Time.Add(10 * time.Hour)} }

	at(start.AddDays(-7))
	in, err := lc.Create(ctx, scenarioCoordinator, practica.NewInternship{
		StudentID: student,
		TutorID:   scenarioTutor.ID,
		ProgramID: programID,
		Kind:      practica.KindInitial,
		StartDate: start,
	})
	if err != nil || target == practica.StatePending {
		return err
	}

	studentActor := practica.Actor{ID: student, Role: practica.RoleStudent}
	employer := practica.Actor{ID: "supervisor@host.example", Role: practica.RoleEmployer}

	if target == practica.StateVoided {
		_, err := lc.Void(ctx, in.ID, scenarioCoordinator, "Student withdrew")
		return err
	}

	at(start)
	in, err = lc.SubmitAgreement(ctx, in.ID, studentActor, practica.Agreement{
		HostOrganization: "Innovatech SpA",
		HostAddress:      "Av. Providencia 1234, Santiago",
		SupervisorName:   "Daniela Muñoz",
		SupervisorEmail:  employer.ID,
		SupervisorPhone:  "+56 9 1234 5678",
		Tasks:            "Backend development and testing",
	})
	if err != nil || target == practica.StatePendingTutorAcceptance {
		return err
	}

	if target == practica.StateRejectedByTutor {
		_, err := lc.Reject(ctx, in.ID, scenarioTutor, "Host tasks do not match the program profile")
		return err
	}
	if in, err = lc.Accept(ctx, in.ID, scenarioTutor); err != nil || target == practica.StateInProgress {
		return err
	}

	at(in.CompletionDate)
	if in, err = lc.UploadReport(ctx, in.ID, studentActor, "reports/"+student+".pdf"); err != nil || target == practica.StateFinishedPendingEval {
		return err
	}

	if _, err = lc.RecordTutorEvaluation(ctx, in.ID, scenarioTutor, decimal.RequireFromString("6.5"), "Solid work"); err != nil {
		return err
	}
	if in, err = lc.RecordEmployerEvaluation(ctx, in.ID, employer, decimal.RequireFromString("6.0"), "Reliable"); err != nil || target == practica.StateEvaluationComplete {
		return err
	}

	_, err = lc.Close(ctx, in.ID, scenarioTutor)
	return err
}
