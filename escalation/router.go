package escalation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/notify"
	"github.com/warp/practicas-engine/practica"
)

// =============================================================================
// ROUTING - Who is responsible for which flagged record
// =============================================================================
//
// For the site of each flagged record:
//   - active coordinators whose site scope includes it
//   - independently, active directors whose program scope includes the
//     record's program or whose site scope includes the site
//
// A staff member matching on both counts is still one recipient. Records
// are grouped per recipient so everyone gets exactly one notice per run.

// Notice is the consolidated summary for one recipient.
type Notice struct {
	Recipient practica.Staff
	Programs  []string
	Records   []Flagged
	Counts    map[Severity]int
}

// Route groups flagged records by responsible staff. Notices come back
// ordered by recipient ID; records keep their input order.
func Route(flagged []Flagged, staff []practica.Staff) []Notice {
	byRecipient := make(map[string]*Notice)

	for _, f := range flagged {
		for _, s := range staff {
			if !responsible(s, f.Internship) {
				continue
			}
			n, ok := byRecipient[s.ID]
			if !ok {
				n = &Notice{Recipient: s}
				byRecipient[s.ID] = n
			}
			n.Records = append(n.Records, f)
		}
	}

	notices := make([]Notice, 0, len(byRecipient))
	for _, n := range byRecipient {
		n.Programs = programsOf(n.Records)
		n.Counts = CountBySeverity(n.Records)
		notices = append(notices, *n)
	}
	sort.Slice(notices, func(i, j int) bool {
		return notices[i].Recipient.ID < notices[j].Recipient.ID
	})
	return notices
}

func responsible(s practica.Staff, in practica.Internship) bool {
	if !s.Active {
		return false
	}
	switch s.Role {
	case practica.StaffCoordinator:
		return s.CoversSite(in.SiteID)
	case practica.StaffDirector:
		return s.CoversProgram(in.ProgramID) || s.CoversSite(in.SiteID)
	}
	return false
}

func programsOf(records []Flagged) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range records {
		if !seen[f.Internship.ProgramID] {
			seen[f.Internship.ProgramID] = true
			out = append(out, f.Internship.ProgramID)
		}
	}
	sort.Strings(out)
	return out
}

// Message renders the notice for the notifier.
func (n Notice) Message() notify.Message {
	records := make([]map[string]any, len(n.Records))
	for i, f := range n.Records {
		records[i] = map[string]any{
			"internship_id":   f.Internship.ID,
			"student_id":      f.Internship.StudentID,
			"tutor_id":        f.Internship.TutorID,
			"program_id":      f.Internship.ProgramID,
			"site_id":         f.Internship.SiteID,
			"state":           string(f.Internship.State()),
			"completion_date": f.Internship.CompletionDate.String(),
			"days_overdue":    f.DaysOverdue,
			"severity":        string(f.Severity),
		}
	}
	counts := make(map[string]int, len(n.Counts))
	for sev, c := range n.Counts {
		counts[string(sev)] = c
	}

	return notify.Message{
		RecipientID: n.Recipient.ID,
		Address:     n.Recipient.Email,
		Kind:        "escalation_notice",
		Subject:     fmt.Sprintf("%d overdue internships in your scope (%d critical)", len(n.Records), n.Counts[SeverityCritical]),
		Payload: map[string]any{
			"recipient": map[string]any{
				"id":    n.Recipient.ID,
				"name":  n.Recipient.Name,
				"role":  string(n.Recipient.Role),
				"sites": n.Recipient.SiteIDs,
			},
			"programs": n.Programs,
			"counts":   counts,
			"records":  records,
		},
	}
}

// =============================================================================
// RESEND POLICY
// =============================================================================

type ResendMode string

const (
	// ResendAlways notifies about every flagged record on every run.
	ResendAlways ResendMode = "always"

	// ResendInterval skips a record for a recipient until Interval has
	// passed since the last notice, unless its severity went up.
	ResendInterval ResendMode = "interval"
)

// DefaultResendInterval is one day.
const DefaultResendInterval = 24 * time.Hour

// ResendPolicy decides whether a record goes into a recipient's notice.
type ResendPolicy struct {
	Mode     ResendMode
	Interval time.Duration
}

// ParseResendMode accepts "always" and "interval"; empty means always.
func ParseResendMode(s string) (ResendMode, error) {
	switch ResendMode(s) {
	case "", ResendAlways:
		return ResendAlways, nil
	case ResendInterval:
		return ResendInterval, nil
	}
	return "", fmt.Errorf("%w: unknown resend policy %q", generic.ErrInvalidConfiguration, s)
}

// ShouldSend reports whether f is due for the recipient given the last mark.
func (p ResendPolicy) ShouldSend(last generic.NotificationMark, seen bool, f Flagged, now time.Time) bool {
	if p.Mode != ResendInterval || !seen {
		return true
	}
	if f.Severity.Rank() > Severity(last.Severity).Rank() {
		return true
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultResendInterval
	}
	return now.Sub(last.NotifiedAt) >= interval
}

// =============================================================================
// DELIVERY
// =============================================================================

// RecipientError is one failed delivery.
type RecipientError struct {
	RecipientID string `json:"recipient_id"`
	Error       string `json:"error"`
}

// DispatchResult summarizes delivery for one run.
type DispatchResult struct {
	Sent    int
	Skipped int
	Errors  []RecipientError
}

// Router delivers one notice per recipient.
type Router struct {
	Directory practica.Directory
	Notifier  notify.Notifier
	Audit     generic.AuditLog
	Marks     generic.NotificationLog
	Policy    ResendPolicy
	Clock     generic.Clock
	SenderID  string
}

// NewRouter creates a router that resends on every run.
func NewRouter(directory practica.Directory, notifier notify.Notifier, audit generic.AuditLog, marks generic.NotificationLog) *Router {
	return &Router{
		Directory: directory,
		Notifier:  notifier,
		Audit:     audit,
		Marks:     marks,
		Policy:    ResendPolicy{Mode: ResendAlways},
		Clock:     generic.SystemClock{},
		SenderID:  "system",
	}
}

// Dispatch routes flagged records and sends the notices. A failed delivery
// never stops the remaining recipients; it is collected in the result. Only
// failing to load the staff directory aborts the pass.
func (r *Router) Dispatch(ctx context.Context, runID string, flagged []Flagged) (DispatchResult, error) {
	var result DispatchResult
	if len(flagged) == 0 {
		return result, nil
	}

	staff, err := r.Directory.ListStaff(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load staff: %w", err)
	}

	for _, notice := range Route(flagged, staff) {
		notice = r.applyPolicy(ctx, notice)
		if len(notice.Records) == 0 {
			result.Skipped++
			continue
		}

		receipt, err := r.Notifier.Send(ctx, notice.Message())
		r.audit(ctx, runID, notice, receipt, err)
		if err != nil {
			log.Printf("[Escalation] Notice to %s failed: %v", notice.Recipient.ID, err)
			result.Errors = append(result.Errors, RecipientError{RecipientID: notice.Recipient.ID, Error: err.Error()})
			continue
		}
		result.Sent++
		r.mark(ctx, notice)
	}
	return result, nil
}

func (r *Router) applyPolicy(ctx context.Context, n Notice) Notice {
	if r.Policy.Mode != ResendInterval || r.Marks == nil {
		return n
	}
	now := r.now()
	kept := n.Records[:0:0]
	for _, f := range n.Records {
		last, seen, err := r.Marks.LastNotified(ctx, f.Internship.ID, n.Recipient.ID)
		if err != nil {
			log.Printf("[Escalation] Notification log lookup failed, sending anyway: %v", err)
			seen = false
		}
		if r.Policy.ShouldSend(last, seen, f, now) {
			kept = append(kept, f)
		}
	}
	n.Records = kept
	n.Programs = programsOf(kept)
	n.Counts = CountBySeverity(kept)
	return n
}

func (r *Router) mark(ctx context.Context, n Notice) {
	if r.Marks == nil {
		return
	}
	now := r.now()
	marks := make([]generic.NotificationMark, len(n.Records))
	for i, f := range n.Records {
		marks[i] = generic.NotificationMark{
			InternshipID: f.Internship.ID,
			RecipientID:  n.Recipient.ID,
			Severity:     string(f.Severity),
			NotifiedAt:   now,
		}
	}
	if err := r.Marks.MarkNotified(ctx, marks); err != nil {
		log.Printf("[Escalation] Failed to record notices for %s: %v", n.Recipient.ID, err)
	}
}

func (r *Router) audit(ctx context.Context, runID string, n Notice, receipt notify.Receipt, sendErr error) {
	if r.Audit == nil {
		return
	}
	ids := make([]string, len(n.Records))
	for i, f := range n.Records {
		ids[i] = f.Internship.ID
	}
	counts := make(map[string]any, len(n.Counts))
	for sev, c := range n.Counts {
		counts[string(sev)] = c
	}

	entry := generic.AuditEntry{
		ID:          uuid.NewString(),
		Timestamp:   r.now(),
		SenderID:    r.SenderID,
		RecipientID: n.Recipient.ID,
		Action:      generic.AuditEscalationSent,
		SubjectType: "escalation_run",
		SubjectID:   runID,
		Outcome:     generic.OutcomeSuccess,
		Payload: map[string]any{
			"internship_ids": ids,
			"programs":       n.Programs,
			"counts":         counts,
			"delivery_id":    receipt.DeliveryID,
		},
	}
	if sendErr != nil {
		entry.Action = generic.AuditEscalationFailed
		entry.Outcome = generic.OutcomeFailure
		entry.Payload["error"] = sendErr.Error()
	}
	if err := r.Audit.Append(ctx, entry); err != nil {
		log.Printf("[Escalation] Failed to audit notice to %s: %v", n.Recipient.ID, err)
	}
}

func (r *Router) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock.Now()
}
