/*
scheduler.go - Cron schedules for the batch jobs

PURPOSE:
  Runs the two background passes on cron expressions:
  - Escalation: overdue detection + one notice per responsible staff member
  - Outbox: delivery of domain events written by transitions

DESIGN:
  - robfig/cron with SkipIfStillRunning: a slow pass is never overlapped by
    the next tick of the same schedule
  - Each pass gets its own timeout context
  - An empty expression disables that schedule
  - The manual endpoints (POST /api/escalations/run, /api/outbox/dispatch)
    call the same jobs, so both paths behave identically

CONFIGURATION:
  - EscalationSpec: default "0 8 * * 1-5" (weekdays at 08:00)
  - OutboxSpec:     default "@every 1m"

USAGE:
  scheduler := NewScheduler(job, dispatcher)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - escalation/job.go: the escalation pass
  - notify/dispatcher.go: the outbox pass
*/
package api

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/practicas-engine/escalation"
	"github.com/warp/practicas-engine/notify"
)

// Scheduler owns the cron runner for the batch jobs.
type Scheduler struct {
	Escalations *escalation.Job
	Dispatcher  *notify.Dispatcher

	EscalationSpec    string
	OutboxSpec        string
	EscalationTimeout time.Duration
	OutboxTimeout     time.Duration

	cron *cron.Cron
	mu   sync.Mutex
}

// NewScheduler creates a scheduler with the default expressions.
func NewScheduler(job *escalation.Job, dispatcher *notify.Dispatcher) *Scheduler {
	return &Scheduler{
		Escalations:       job,
		Dispatcher:        dispatcher,
		EscalationSpec:    "0 8 * * 1-5",
		OutboxSpec:        "@every 1m",
		EscalationTimeout: 10 * time.Minute,
		OutboxTimeout:     time.Minute,
	}
}

// Start registers the schedules and starts the runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	if s.EscalationSpec != "" && s.Escalations != nil {
		if _, err := c.AddFunc(s.EscalationSpec, s.runEscalations); err != nil {
			return fmt.Errorf("invalid escalation schedule %q: %w", s.EscalationSpec, err)
		}
	}
	if s.OutboxSpec != "" && s.Dispatcher != nil {
		if _, err := c.AddFunc(s.OutboxSpec, s.dispatchOutbox); err != nil {
			return fmt.Errorf("invalid outbox schedule %q: %w", s.OutboxSpec, err)
		}
	}

	if len(c.Entries()) == 0 {
		log.Println("[Scheduler] No schedules configured, not starting")
		return nil
	}

	s.cron = c
	c.Start()
	log.Printf("[Scheduler] Started: escalation=%q outbox=%q", s.EscalationSpec, s.OutboxSpec)
	return nil
}

// Stop stops the runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) runEscalations() {
	ctx, cancel := context.WithTimeout(context.Background(), s.EscalationTimeout)
	defer cancel()

	log.Printf("[Scheduler] Running escalation pass at %v", time.Now().Format(time.RFC3339))
	if _, err := s.Escalations.Run(ctx, "cron"); err != nil {
		log.Printf("[Scheduler] Escalation pass failed: %v", err)
	}
}

func (s *Scheduler) dispatchOutbox() {
	ctx, cancel := context.WithTimeout(context.Background(), s.OutboxTimeout)
	defer cancel()

	if _, err := s.Dispatcher.DispatchPending(ctx); err != nil {
		log.Printf("[Scheduler] Outbox dispatch failed: %v", err)
	}
}
