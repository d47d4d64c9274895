package practica

import (
	"github.com/google/uuid"
	"github.com/warp/practicas-engine/generic"
)

// Domain events emitted by transitions. They land in the outbox together with
// the record write and are delivered later by notify.Dispatcher.
const (
	EventInternshipCreated           generic.EventKind = "internship_created"
	EventTutorAssigned               generic.EventKind = "tutor_assigned"
	EventTutorReviewRequested        generic.EventKind = "tutor_review_requested"
	EventTutorAccepted               generic.EventKind = "tutor_accepted"
	EventTutorRejected               generic.EventKind = "tutor_rejected"
	EventReportSubmitted             generic.EventKind = "report_submitted"
	EventEmployerEvaluationRequested generic.EventKind = "employer_evaluation_requested"
	EventEvaluationCompleted         generic.EventKind = "evaluation_completed"
	EventInternshipClosed            generic.EventKind = "internship_closed"
	EventInternshipVoided            generic.EventKind = "internship_voided"
)

func newEvent(env Env, kind generic.EventKind, in Internship, actor Actor, recipients []string, siteID string, payload map[string]any) generic.Event {
	id := ""
	if env.NewID != nil {
		id = env.NewID()
	} else {
		id = uuid.NewString()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["state"] = string(in.State())
	payload["program_id"] = in.ProgramID

	return generic.Event{
		ID:           id,
		Kind:         kind,
		SubjectID:    in.ID,
		ActorID:      actor.ID,
		RecipientIDs: recipients,
		SiteID:       siteID,
		Payload:      payload,
		OccurredAt:   env.Now,
	}
}
