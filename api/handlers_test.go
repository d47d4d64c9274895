package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practicas-engine/api"
	"github.com/warp/practicas-engine/escalation"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/notify"
	"github.com/warp/practicas-engine/practica"
	"github.com/warp/practicas-engine/store/sqlite"
)

const cronSecret = "s3cret"

type testServer struct {
	*httptest.Server
	store *sqlite.Store
	clock *generic.FixedClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Tuesday
	clock := &generic.FixedClock{At: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)}

	lifecycle := practica.NewLifecycle(db, db, generic.NewDeadlineCalculator(generic.NoHolidays{}))
	lifecycle.Clock = clock
	dispatcher := notify.NewDispatcher(db, db, notify.LogNotifier{}, db)
	dispatcher.Clock = clock
	detector := escalation.NewDetector(db)
	detector.Clock = clock
	router := escalation.NewRouter(db, notify.LogNotifier{}, db, db)
	router.Clock = clock
	job := escalation.NewJob(detector, router, db)
	job.Clock = clock

	h := api.NewHandler(db, lifecycle, job, dispatcher)
	h.EscalationSecret = cronSecret

	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: db, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, actor *practica.Actor, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(api.HeaderActorID, actor.ID)
		req.Header.Set(api.HeaderActorRole, string(actor.Role))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

var (
	coordinator = &practica.Actor{ID: "coord-central", Role: practica.RoleCoordinator}
	student     = &practica.Actor{ID: "stu-001", Role: practica.RoleStudent}
	tutor       = &practica.Actor{ID: "tutor-rojas", Role: practica.RoleTutor}
)

func validAgreement() api.AgreementRequest {
	return api.AgreementRequest{
		HostOrganization: "Innovatech SpA",
		HostAddress:      "Av. Providencia 1234, Santiago",
		SupervisorName:   "Daniela Muñoz",
		SupervisorEmail:  "supervisor@host.example",
		Tasks:            "Backend development",
	}
}

// createInternship loads the directory through the new-cohort scenario and
// registers one more internship for student.
func createInternship(t *testing.T, s *testServer) api.InternshipDTO {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/scenarios/load", nil, api.LoadScenarioRequest{ScenarioID: "new-cohort"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/internships", coordinator, api.CreateInternshipRequest{
		StudentID: student.ID,
		TutorID:   tutor.ID,
		ProgramID: "ing-informatica",
		Kind:      "initial",
		StartDate: "2025-03-03",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody[api.InternshipDTO](t, resp)
}

// =============================================================================
// INTERNSHIPS
// =============================================================================

func TestCreateInternship(t *testing.T) {
	s := newTestServer(t)

	in := createInternship(t, s)

	assert.NotEmpty(t, in.ID)
	assert.Equal(t, "PENDING", in.State)
	assert.Equal(t, "campus-central", in.SiteID)
	assert.Equal(t, 160, in.RequiredHours)
	assert.Equal(t, "2025-03-28", in.CompletionDate)
	assert.Equal(t, "2025-03-08", in.SubmissionDeadline)
	assert.Equal(t, 1, in.Version)
}

func TestCreateInternship_Errors(t *testing.T) {
	s := newTestServer(t)
	createInternship(t, s)

	valid := api.CreateInternshipRequest{StudentID: "stu-900", ProgramID: "ing-informatica", Kind: "initial", StartDate: "2025-03-10"}

	t.Run("student may not register", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/internships", student, valid)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("unknown program", func(t *testing.T) {
		req := valid
		req.ProgramID = "astronomia"
		resp := s.do(t, http.MethodPost, "/api/internships", coordinator, req)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "program_not_found", decodeBody[api.ErrorResponse](t, resp).Code)
	})

	t.Run("bad date and kind fail validation", func(t *testing.T) {
		req := valid
		req.StartDate = "10/03/2025"
		req.Kind = "summer"
		resp := s.do(t, http.MethodPost, "/api/internships", coordinator, req)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		body := decodeBody[map[string]any](t, resp)
		assert.Equal(t, "validation", body["code"])
		assert.Equal(t, map[string]any{"StartDate": "datetime", "Kind": "oneof"}, body["details"])
	})

	t.Run("malformed json", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/internships", coordinator, `{"student_id":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestTransitions_RequireActorHeaders(t *testing.T) {
	s := newTestServer(t)
	in := createInternship(t, s)
	path := "/api/internships/" + in.ID + "/agreement"

	// WHEN: no headers
	resp := s.do(t, http.MethodPost, path, nil, validAgreement())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// WHEN: a role the engine does not know
	resp = s.do(t, http.MethodPost, path, &practica.Actor{ID: "x", Role: "janitor"}, validAgreement())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// WHEN: the system role is not accepted from the outside
	resp = s.do(t, http.MethodPost, path, &practica.Actor{ID: "x", Role: practica.RoleSystem}, validAgreement())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTransitions_OverHTTP(t *testing.T) {
	// GIVEN
	s := newTestServer(t)
	in := createInternship(t, s)
	base := "/api/internships/" + in.ID

	// Only the student may submit the agreement.
	resp := s.do(t, http.MethodPost, base+"/agreement", tutor, validAgreement())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "wrong_actor", decodeBody[api.ErrorResponse](t, resp).Code)

	// An invalid email never reaches the state machine.
	bad := validAgreement()
	bad.SupervisorEmail = "not-an-email"
	resp = s.do(t, http.MethodPost, base+"/agreement", student, bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// WHEN: the student submits a complete agreement
	resp = s.do(t, http.MethodPost, base+"/agreement", student, validAgreement())

	// THEN
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[api.InternshipDTO](t, resp)
	assert.Equal(t, "PENDING_TUTOR_ACCEPTANCE", got.State)
	assert.Equal(t, 2, got.Version)
	require.NotNil(t, got.Agreement)
	assert.Equal(t, "Innovatech SpA", got.Agreement.HostOrganization)

	// A second submission is an illegal transition.
	resp = s.do(t, http.MethodPost, base+"/agreement", student, validAgreement())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "illegal_transition", decodeBody[api.ErrorResponse](t, resp).Code)

	// A blank rejection reason is refused by the state machine.
	resp = s.do(t, http.MethodPost, base+"/reject", tutor, api.ReasonRequest{Reason: "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// The tutor accepts.
	resp = s.do(t, http.MethodPost, base+"/accept", tutor, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "IN_PROGRESS", decodeBody[api.InternshipDTO](t, resp).State)

	// The report is early until the completion date.
	resp = s.do(t, http.MethodPost, base+"/report", student, api.ReportRequest{ReportRef: "reports/stu-001.pdf"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "early_submission", decodeBody[api.ErrorResponse](t, resp).Code)

	s.clock.At = time.Date(2025, 3, 28, 12, 0, 0, 0, time.UTC)
	resp = s.do(t, http.MethodPost, base+"/report", student, api.ReportRequest{ReportRef: "reports/stu-001.pdf"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FINISHED_PENDING_EVAL", decodeBody[api.InternshipDTO](t, resp).State)
}

func TestSubmitAgreement_AfterDeadline(t *testing.T) {
	s := newTestServer(t)
	in := createInternship(t, s)

	// start + 6 days
	s.clock.At = time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC)
	resp := s.do(t, http.MethodPost, "/api/internships/"+in.ID+"/agreement", student, validAgreement())

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "deadline_expired", decodeBody[api.ErrorResponse](t, resp).Code)
}

func TestGetActions(t *testing.T) {
	s := newTestServer(t)
	in := createInternship(t, s)

	resp := s.do(t, http.MethodGet, "/api/internships/"+in.ID+"/actions", student, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	actions := decodeBody[api.ActionsDTO](t, resp)
	assert.Equal(t, "PENDING", actions.State)
	assert.Contains(t, actions.Actions, "submit_agreement")
	assert.NotContains(t, actions.Actions, "void")
}

func TestGetInternship_NotFound(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/internships/missing", nil, nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListInternships_Filters(t *testing.T) {
	s := newTestServer(t)
	createInternship(t, s)

	resp := s.do(t, http.MethodGet, "/api/internships?program_id=enfermeria", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string][]api.InternshipDTO](t, resp)
	require.Len(t, body["internships"], 1)
	assert.Equal(t, "stu-003", body["internships"][0].StudentID)

	resp = s.do(t, http.MethodGet, "/api/internships?state=archived", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// DEADLINES
// =============================================================================

func TestPreviewDeadline(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/deadlines/preview?start=2025-03-03&hours=40", nil, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[api.DeadlinePreviewDTO](t, resp)
	assert.Equal(t, "2025-03-07", got.CompletionDate)
	assert.Equal(t, 5, got.Workdays)
	assert.Equal(t, 5, got.CalendarDays)
}

func TestPreviewDeadline_BadInput(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/deadlines/preview?start=2025-03-03&hours=many", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/deadlines/preview?start=03-03-2025&hours=40", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/deadlines/preview?start=2025-03-03&hours=0", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_configuration", decodeBody[api.ErrorResponse](t, resp).Code)
}

// =============================================================================
// ESCALATIONS
// =============================================================================

func TestRunEscalations_RequiresSecret(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]string{"missing": "", "wrong": "guess"}
	for name, secret := range cases {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, s.URL+"/api/escalations/run", nil)
			require.NoError(t, err)
			if secret != "" {
				req.Header.Set(api.HeaderCronSecret, secret)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestRunEscalations_OverdueScenario(t *testing.T) {
	// GIVEN: six records, four of them past the grace window
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/scenarios/load", nil, api.LoadScenarioRequest{ScenarioID: "overdue-escalation"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// WHEN
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/escalations/run", nil)
	require.NoError(t, err)
	req.Header.Set(api.HeaderCronSecret, cronSecret)
	runResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer runResp.Body.Close()

	// THEN
	require.Equal(t, http.StatusOK, runResp.StatusCode)
	result := decodeBody[map[string]any](t, runResp)
	assert.EqualValues(t, 4, result["flagged"])
	assert.NotEmpty(t, result["run_id"])

	resp = s.do(t, http.MethodGet, "/api/escalations/runs", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenarios_LoadAndReset(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/scenarios", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]api.ScenarioDTO](t, resp), 3)

	resp = s.do(t, http.MethodPost, "/api/scenarios/load", nil, api.LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/scenarios/load", nil, api.LoadScenarioRequest{ScenarioID: "full-lifecycle"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/scenarios/current", nil, nil)
	assert.Equal(t, "full-lifecycle", decodeBody[api.ScenarioDTO](t, resp).ID)

	resp = s.do(t, http.MethodGet, "/api/internships?state=closed", nil, nil)
	body := decodeBody[map[string][]api.InternshipDTO](t, resp)
	require.Len(t, body["internships"], 1)
	require.NotNil(t, body["internships"][0].Closing)
	assert.Equal(t, "6.3", body["internships"][0].Closing.FinalScore.String())

	// WHEN
	resp = s.do(t, http.MethodPost, "/api/scenarios/reset", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// THEN
	resp = s.do(t, http.MethodGet, "/api/internships", nil, nil)
	assert.Empty(t, decodeBody[map[string][]api.InternshipDTO](t, resp)["internships"])
}
