/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the internship lifecycle engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store
  3. Build the holiday calendar (provider + cache)
  4. Wire lifecycle, escalation job, outbox dispatcher
  5. Start cron schedules
  6. Start HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: practicas.db)
             Use ":memory:" for in-memory database
  -holidays  Holiday provider URL template, must contain {year}
  -redis     Redis URL for the shared holiday cache
  -grace     Overdue grace window in days (default: 5)
  -resend    Escalation resend policy: always | interval

  Every flag has an environment equivalent; see config/config.go.

HOLIDAY SOURCES:
  HOLIDAY_PROVIDER_URL set   -> external HTTP provider
  otherwise                  -> local holidays table (POST /api/holidays)
  REDIS_URL set and reachable -> cache shared between replicas
  otherwise                  -> in-process cache

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop cron schedules (running passes finish)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/practicas.db"

  # Run with in-memory database and the public holiday API
  ./server -db=":memory:" -holidays="https://api.boostr.cl/holidays/{year}.json"

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/practicas-engine/api"
	"github.com/warp/practicas-engine/config"
	"github.com/warp/practicas-engine/escalation"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/generic/store"
	"github.com/warp/practicas-engine/holidays"
	"github.com/warp/practicas-engine/notify"
	"github.com/warp/practicas-engine/practica"
	"github.com/warp/practicas-engine/store/redis"
	"github.com/warp/practicas-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	db, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Holiday calendar
	calendar := generic.NewCachedCalendar(holidayProvider(cfg, db), holidayCache(cfg))
	deadlines := generic.NewDeadlineCalculator(calendar)

	// Lifecycle
	lifecycle := practica.NewLifecycle(db, db, deadlines)

	// Notifications
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}
	dispatcher := notify.NewDispatcher(db, db, notifier, db)
	dispatcher.SenderID = cfg.SenderID

	// Escalation
	mode, err := escalation.ParseResendMode(cfg.ResendPolicy)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	detector := escalation.NewDetector(db)
	detector.GraceDays = cfg.GraceDays
	router := escalation.NewRouter(db, notifier, db, db)
	router.SenderID = cfg.SenderID
	router.Policy = escalation.ResendPolicy{Mode: mode, Interval: cfg.ResendInterval}
	job := escalation.NewJob(detector, router, db)

	// Initialize handler
	handler := api.NewHandler(db, lifecycle, job, dispatcher)
	handler.EscalationSecret = cfg.EscalationSecret
	if cfg.EscalationSecret == "" {
		log.Println("Warning: ESCALATION_SECRET not set, trigger endpoint is unprotected")
	}

	// Schedules
	scheduler := api.NewScheduler(job, dispatcher)
	scheduler.EscalationSpec = cfg.EscalationCron
	scheduler.OutboxSpec = cfg.OutboxCron
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, cfg.CORSOrigins...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", cfg.Port)
		log.Printf("📊 API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func holidayProvider(cfg config.Config, db *sqlite.Store) generic.HolidayProvider {
	if cfg.HolidayProviderURL == "" {
		log.Println("[Calendar] No provider URL, using local holidays table")
		return db
	}
	log.Printf("[Calendar] Fetching holidays from %s", cfg.HolidayProviderURL)
	return holidays.NewHTTPProvider(cfg.HolidayProviderURL)
}

func holidayCache(cfg config.Config) generic.HolidayCache {
	if cfg.RedisURL != "" {
		client, err := redis.Connect(context.Background(), cfg.RedisURL)
		if err == nil {
			log.Println("[Calendar] Using Redis holiday cache")
			return redis.NewHolidayCache(client, cfg.HolidayCacheTTL)
		}
		log.Printf("[Calendar] Redis unavailable, falling back to in-process cache: %v", err)
	}
	mem := store.NewMemory()
	mem.TTL = cfg.HolidayCacheTTL
	return mem
}
