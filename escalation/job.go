package escalation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/practicas-engine/generic"
)

// =============================================================================
// JOB - One complete detection + delivery pass
// =============================================================================

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is the persisted record of one pass.
type Run struct {
	ID          string
	Trigger     string // "cron" or "manual"
	Status      string
	Flagged     int
	Sent        int
	Failed      int
	Errors      []string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore persists run records.
type RunStore interface {
	SaveEscalationRun(ctx context.Context, run Run) error
	ListEscalationRuns(ctx context.Context, limit int) ([]Run, error)
}

// RunResult is what the trigger endpoint returns.
type RunResult struct {
	RunID      string           `json:"run_id"`
	Flagged    int              `json:"flagged"`
	Sent       int              `json:"sent"`
	Skipped    int              `json:"skipped"`
	Errors     []RecipientError `json:"errors"`
	Counts     map[Severity]int `json:"counts"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Job wires detector, router and run history together.
type Job struct {
	Detector *Detector
	Router   *Router
	Runs     RunStore
	Clock    generic.Clock
}

// NewJob creates a job.
func NewJob(detector *Detector, router *Router, runs RunStore) *Job {
	return &Job{Detector: detector, Router: router, Runs: runs, Clock: generic.SystemClock{}}
}

// Run detects overdue internships and notifies responsible staff. Per
// recipient delivery failures are reported in the result, not as an error;
// an error means detection itself (or loading staff) failed.
func (j *Job) Run(ctx context.Context, trigger string) (RunResult, error) {
	run := Run{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    RunRunning,
		StartedAt: j.now(),
	}
	j.save(ctx, run)

	result := RunResult{RunID: run.ID, StartedAt: run.StartedAt, Errors: []RecipientError{}}

	flagged, err := j.Detector.Detect(ctx)
	if err != nil {
		return result, j.fail(ctx, run, fmt.Errorf("detection failed: %w", err))
	}
	result.Flagged = len(flagged)
	result.Counts = CountBySeverity(flagged)

	dispatched, err := j.Router.Dispatch(ctx, run.ID, flagged)
	if err != nil {
		return result, j.fail(ctx, run, err)
	}
	result.Sent = dispatched.Sent
	result.Skipped = dispatched.Skipped
	if dispatched.Errors != nil {
		result.Errors = dispatched.Errors
	}
	result.FinishedAt = j.now()

	run.Status = RunCompleted
	run.Flagged = result.Flagged
	run.Sent = result.Sent
	run.Failed = len(result.Errors)
	for _, e := range result.Errors {
		run.Errors = append(run.Errors, e.RecipientID+": "+e.Error)
	}
	run.CompletedAt = &result.FinishedAt
	j.save(ctx, run)

	log.Printf("[Escalation] Run %s (%s): %d flagged, %d notices sent, %d skipped, %d failed",
		run.ID, trigger, result.Flagged, result.Sent, result.Skipped, run.Failed)
	return result, nil
}

func (j *Job) fail(ctx context.Context, run Run, err error) error {
	now := j.now()
	run.Status = RunFailed
	run.Error = err.Error()
	run.CompletedAt = &now
	j.save(ctx, run)
	log.Printf("[Escalation] Run %s failed: %v", run.ID, err)
	return err
}

func (j *Job) save(ctx context.Context, run Run) {
	if j.Runs == nil {
		return
	}
	if err := j.Runs.SaveEscalationRun(ctx, run); err != nil {
		log.Printf("[Escalation] Failed to save run %s: %v", run.ID, err)
	}
}

func (j *Job) now() time.Time {
	if j.Clock == nil {
		return time.Now()
	}
	return j.Clock.Now()
}
