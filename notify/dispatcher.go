package notify

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
)

// =============================================================================
// OUTBOX DISPATCHER - Delivers domain events written by transitions
// =============================================================================

// DefaultBatchSize bounds one dispatch pass.
const DefaultBatchSize = 100

// Dispatcher drains the outbox. Each pending event is sent to its explicit
// recipients plus, when the event names a site, every active coordinator of
// that site. An event is marked delivered only when every recipient got it;
// otherwise the failure is recorded and the event is retried next pass.
type Dispatcher struct {
	Outbox    generic.Outbox
	Directory practica.Directory
	Notifier  Notifier
	Audit     generic.AuditLog
	Clock     generic.Clock
	SenderID  string
	BatchSize int
}

// DispatchResult summarizes one pass.
type DispatchResult struct {
	Processed int      `json:"processed"`
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// NewDispatcher creates a dispatcher with default batch size.
func NewDispatcher(outbox generic.Outbox, directory practica.Directory, notifier Notifier, audit generic.AuditLog) *Dispatcher {
	return &Dispatcher{
		Outbox:    outbox,
		Directory: directory,
		Notifier:  notifier,
		Audit:     audit,
		Clock:     generic.SystemClock{},
		SenderID:  "system",
		BatchSize: DefaultBatchSize,
	}
}

// DispatchPending delivers up to BatchSize pending events.
func (d *Dispatcher) DispatchPending(ctx context.Context) (DispatchResult, error) {
	limit := d.BatchSize
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	events, err := d.Outbox.Pending(ctx, limit)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to load pending events: %w", err)
	}

	var result DispatchResult
	if len(events) == 0 {
		return result, nil
	}

	var staff []practica.Staff
	for _, e := range events {
		if e.SiteID != "" {
			if staff, err = d.Directory.ListStaff(ctx); err != nil {
				return result, fmt.Errorf("failed to load staff: %w", err)
			}
			break
		}
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		failures := d.deliver(ctx, e, recipientsFor(e, staff))
		if len(failures) == 0 {
			if err := d.Outbox.MarkDelivered(ctx, e.ID, d.now()); err != nil {
				log.Printf("[Outbox] Failed to mark %s delivered: %v", e.ID, err)
			}
			result.Delivered++
			continue
		}

		reason := strings.Join(failures, "; ")
		if err := d.Outbox.MarkFailed(ctx, e.ID, reason); err != nil {
			log.Printf("[Outbox] Failed to record failure for %s: %v", e.ID, err)
		}
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", e.ID, reason))
	}

	log.Printf("[Outbox] Dispatched %d events: %d delivered, %d failed",
		result.Processed, result.Delivered, result.Failed)
	return result, nil
}

type recipient struct {
	ID      string
	Address string
}

// recipientsFor resolves explicit ids plus the site's active coordinators,
// without duplicates.
func recipientsFor(e generic.Event, staff []practica.Staff) []recipient {
	seen := make(map[string]bool)
	var out []recipient
	for _, id := range e.RecipientIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, recipient{ID: id, Address: id})
	}
	if e.SiteID == "" {
		return out
	}
	for _, s := range staff {
		if !s.Active || s.Role != practica.StaffCoordinator || !s.CoversSite(e.SiteID) || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, recipient{ID: s.ID, Address: s.Email})
	}
	return out
}

func (d *Dispatcher) deliver(ctx context.Context, e generic.Event, recipients []recipient) []string {
	var failures []string
	for _, r := range recipients {
		msg := Message{
			RecipientID: r.ID,
			Address:     r.Address,
			Kind:        string(e.Kind),
			Subject:     SubjectFor(e.Kind),
			Payload:     eventPayload(e),
		}
		receipt, err := d.Notifier.Send(ctx, msg)

		entry := generic.AuditEntry{
			ID:          uuid.NewString(),
			Timestamp:   d.now(),
			SenderID:    d.SenderID,
			RecipientID: r.ID,
			Action:      generic.AuditNotificationSent,
			SubjectType: "internship",
			SubjectID:   e.SubjectID,
			Outcome:     generic.OutcomeSuccess,
			Payload:     map[string]any{"event_id": e.ID, "kind": string(e.Kind), "delivery_id": receipt.DeliveryID},
		}
		if err != nil {
			entry.Action = generic.AuditNotificationFailed
			entry.Outcome = generic.OutcomeFailure
			entry.Payload["error"] = err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", r.ID, err))
		}
		if d.Audit != nil {
			if aerr := d.Audit.Append(ctx, entry); aerr != nil {
				log.Printf("[Outbox] Failed to audit delivery of %s to %s: %v", e.ID, r.ID, aerr)
			}
		}
	}
	return failures
}

func eventPayload(e generic.Event) map[string]any {
	payload := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload["internship_id"] = e.SubjectID
	payload["actor_id"] = e.ActorID
	payload["occurred_at"] = e.OccurredAt.Format(time.RFC3339)
	return payload
}

var subjects = map[generic.EventKind]string{
	practica.EventInternshipCreated:           "Internship registered",
	practica.EventTutorAssigned:               "You have been assigned as tutor",
	practica.EventTutorReviewRequested:        "Agreement awaiting your review",
	practica.EventTutorAccepted:               "Your internship was accepted",
	practica.EventTutorRejected:               "Internship rejected by tutor",
	practica.EventReportSubmitted:             "Final report submitted",
	practica.EventEmployerEvaluationRequested: "Please evaluate your intern",
	practica.EventEvaluationCompleted:         "Evaluations complete",
	practica.EventInternshipClosed:            "Internship closed",
	practica.EventInternshipVoided:            "Internship voided",
}

// SubjectFor returns the human subject line for an event kind.
func SubjectFor(kind generic.EventKind) string {
	if s, ok := subjects[kind]; ok {
		return s
	}
	return string(kind)
}

func (d *Dispatcher) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock.Now()
}
