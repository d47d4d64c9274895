/*
Package escalation finds overdue internships and tells the right staff.

PURPOSE:
  A periodic batch pass, independent of any request:
  1. Detector selects non-terminal internships past completion + grace
  2. Router groups them per responsible coordinator/director
  3. One notice per recipient goes out through notify.Notifier
  4. Every attempt is audited; the run itself is recorded

SEVERITY:
  daysOverdue = today - completion date, in calendar days.

    daysOverdue >= 15      CRITICAL
    7 <= daysOverdue < 15  LOW
    otherwise              NORMAL

  Only records with completion < today - grace are flagged at all, so with
  the default grace of 5 the smallest flagged value is 6 (NORMAL).

IDEMPOTENCY:
  Detection only reads. Running the job twice re-sends notices unless the
  router's resend policy is "interval" (see router.go).

SEE ALSO:
  - router.go: recipient resolution, grouping, delivery, audit
  - job.go: one complete run
*/
package escalation

import (
	"context"
	"fmt"

	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
)

// =============================================================================
// SEVERITY
// =============================================================================

type Severity string

const (
	SeverityNormal   Severity = "NORMAL"
	SeverityLow      Severity = "LOW"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists tiers from least to most urgent.
var Severities = []Severity{SeverityNormal, SeverityLow, SeverityCritical}

const (
	DefaultGraceDays  = 5
	LowThreshold      = 7
	CriticalThreshold = 15
)

// Classify maps days overdue to exactly one tier. Non-decreasing in days.
func Classify(daysOverdue int) Severity {
	switch {
	case daysOverdue >= CriticalThreshold:
		return SeverityCritical
	case daysOverdue >= LowThreshold:
		return SeverityLow
	default:
		return SeverityNormal
	}
}

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return -1
}

// =============================================================================
// DETECTOR
// =============================================================================

// Flagged is one overdue internship.
type Flagged struct {
	Internship  practica.Internship
	DaysOverdue int
	Severity    Severity
}

// Detector selects overdue internships.
type Detector struct {
	Store     practica.Store
	Clock     generic.Clock
	GraceDays int
}

// NewDetector creates a detector with the default grace window.
func NewDetector(store practica.Store) *Detector {
	return &Detector{Store: store, Clock: generic.SystemClock{}, GraceDays: DefaultGraceDays}
}

// Detect returns every non-terminal internship whose completion date is
// earlier than today minus the grace window, most overdue first.
func (d *Detector) Detect(ctx context.Context) ([]Flagged, error) {
	today := generic.Today(d.Clock)
	cutoff := today.AddDays(-d.grace())

	records, err := d.Store.ListInternships(ctx, practica.Filter{
		States:           practica.NonTerminalStates,
		CompletionBefore: &cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list internships: %w", err)
	}

	flagged := make([]Flagged, 0, len(records))
	for _, in := range records {
		// The store filter is trusted but not relied upon.
		if in.State().IsTerminal() || !in.CompletionDate.Before(cutoff) {
			continue
		}
		days := generic.DaysBetween(in.CompletionDate, today)
		flagged = append(flagged, Flagged{
			Internship:  in,
			DaysOverdue: days,
			Severity:    Classify(days),
		})
	}
	return flagged, nil
}

func (d *Detector) grace() int {
	if d.GraceDays < 0 {
		return DefaultGraceDays
	}
	return d.GraceDays
}

// =============================================================================
// STATS - Read-only overview, nothing is sent
// =============================================================================

// Stats summarizes a detection pass.
type Stats struct {
	Today      string           `json:"today"`
	GraceDays  int              `json:"grace_days"`
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	BySite     map[string]int   `json:"by_site"`
	ByProgram  map[string]int   `json:"by_program"`
	ByState    map[string]int   `json:"by_state"`
}

// Stats runs detection and aggregates the result.
func (d *Detector) Stats(ctx context.Context) (Stats, error) {
	flagged, err := d.Detect(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Summarize(flagged)
	s.Today = generic.Today(d.Clock).String()
	s.GraceDays = d.grace()
	return s, nil
}

// Summarize counts flagged records per severity, site, program and state.
func Summarize(flagged []Flagged) Stats {
	s := Stats{
		Total:      len(flagged),
		BySeverity: CountBySeverity(flagged),
		BySite:     make(map[string]int),
		ByProgram:  make(map[string]int),
		ByState:    make(map[string]int),
	}
	for _, f := range flagged {
		s.BySite[f.Internship.SiteID]++
		s.ByProgram[f.Internship.ProgramID]++
		s.ByState[string(f.Internship.State())]++
	}
	return s
}

// CountBySeverity always reports all tiers, zero included.
func CountBySeverity(flagged []Flagged) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, sev := range Severities {
		counts[sev] = 0
	}
	for _, f := range flagged {
		counts[f.Severity]++
	}
	return counts
}
