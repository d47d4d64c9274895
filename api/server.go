/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/internships/*    Lifecycle operations
  /api/sites, /api/programs, /api/staff   Directory
  /api/holidays/*       Local holiday table
  /api/deadlines/*      Deadline preview
  /api/escalations/*    Overdue detection and notices
  /api/outbox/*         Domain event delivery
  /api/audit            Audit trail
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  Authentication is done by the gateway in front of this service, which
  forwards the caller as X-Actor-ID / X-Actor-Role. The escalation trigger
  is additionally protected by X-Cron-Secret when configured.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins ...string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole, HeaderCronSecret},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Internship routes
		r.Route("/internships", func(r chi.Router) {
			r.Get("/", h.ListInternships)
			r.Post("/", h.CreateInternship)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetInternship)
				r.Get("/actions", h.GetActions)
				r.Post("/agreement", h.SubmitAgreement)
				r.Post("/accept", h.AcceptInternship)
				r.Post("/reject", h.RejectInternship)
				r.Post("/report", h.UploadReport)
				r.Post("/evaluations/tutor", h.RecordTutorEvaluation)
				r.Post("/evaluations/employer", h.RecordEmployerEvaluation)
				r.Post("/close", h.CloseInternship)
				r.Post("/void", h.VoidInternship)
				r.Post("/tutor", h.AssignTutor)
			})
		})

		// Directory routes
		r.Route("/sites", func(r chi.Router) {
			r.Get("/", h.ListSites)
			r.Post("/", h.CreateSite)
		})
		r.Route("/programs", func(r chi.Router) {
			r.Get("/", h.ListPrograms)
			r.Post("/", h.CreateProgram)
			r.Get("/{id}", h.GetProgram)
		})
		r.Route("/staff", func(r chi.Router) {
			r.Get("/", h.ListStaff)
			r.Post("/", h.CreateStaff)
		})

		// Calendar routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
			r.Delete("/{id}", h.DeleteHoliday)
		})
		r.Get("/deadlines/preview", h.PreviewDeadline)

		// Escalation routes
		r.Route("/escalations", func(r chi.Router) {
			r.Post("/run", h.RunEscalations)
			r.Get("/stats", h.GetEscalationStats)
			r.Get("/runs", h.ListEscalationRuns)
		})
		r.Post("/outbox/dispatch", h.DispatchOutbox)
		r.Get("/audit", h.ListAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
