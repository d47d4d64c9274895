package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/generic/store"
	"github.com/warp/practicas-engine/notify"
	"github.com/warp/practicas-engine/practica"
)

type staffOnly struct {
	staff []practica.Staff
	calls int
}

func (d *staffOnly) GetProgram(context.Context, string) (practica.Program, error) {
	return practica.Program{}, generic.ErrProgramNotFound
}

func (d *staffOnly) ListPrograms(context.Context) ([]practica.Program, error) { return nil, nil }

func (d *staffOnly) ListStaff(context.Context) ([]practica.Staff, error) {
	d.calls++
	return d.staff, nil
}

func newTestDispatcher(t *testing.T, sender notify.Notifier) (*notify.Dispatcher, *store.Memory, *staffOnly) {
	t.Helper()
	mem := store.NewMemory()
	dir := &staffOnly{staff: []practica.Staff{
		{ID: "coord-central", Email: "central@uni.example", Role: practica.StaffCoordinator, Active: true, SiteIDs: []string{"campus-central"}},
		{ID: "coord-retired", Email: "old@uni.example", Role: practica.StaffCoordinator, Active: false, SiteIDs: []string{"campus-central"}},
		{ID: "dir-informatica", Email: "dir@uni.example", Role: practica.StaffDirector, Active: true, SiteIDs: []string{"campus-central"}},
	}}
	d := notify.NewDispatcher(mem, dir, sender, mem)
	d.Clock = generic.FixedClock{At: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)}
	return d, mem, dir
}

func event(id string, kind generic.EventKind, siteID string, recipients ...string) generic.Event {
	return generic.Event{
		ID:           id,
		Kind:         kind,
		SubjectID:    "int-1",
		ActorID:      "tutor-1",
		RecipientIDs: recipients,
		SiteID:       siteID,
		Payload:      map[string]any{"state": "PENDING_TUTOR_ACCEPTANCE"},
		OccurredAt:   time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC),
	}
}

func TestDispatchPending_DeliversAndMarks(t *testing.T) {
	// GIVEN
	var sent []notify.Message
	sender := notify.NotifierFunc(func(_ context.Context, msg notify.Message) (notify.Receipt, error) {
		sent = append(sent, msg)
		return notify.Receipt{DeliveryID: "d-1"}, nil
	})
	d, mem, dir := newTestDispatcher(t, sender)
	ctx := context.Background()
	require.NoError(t, mem.Enqueue(ctx, event("e-1", practica.EventTutorAccepted, "", "student-1")))

	// WHEN
	result, err := d.DispatchPending(ctx)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, notify.DispatchResult{Processed: 1, Delivered: 1}, result)
	require.Len(t, sent, 1)
	assert.Equal(t, "student-1", sent[0].RecipientID)
	assert.Equal(t, "tutor_accepted", sent[0].Kind)
	assert.Equal(t, "Your internship was accepted", sent[0].Subject)
	assert.Equal(t, "int-1", sent[0].Payload["internship_id"])
	assert.Equal(t, 0, dir.calls, "no site, no staff lookup")

	pending, err := mem.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries, err := mem.Query(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditNotificationSent}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "internship", entries[0].SubjectType)
}

func TestDispatchPending_SiteEventsReachActiveCoordinators(t *testing.T) {
	var recipients []string
	sender := notify.NotifierFunc(func(_ context.Context, msg notify.Message) (notify.Receipt, error) {
		recipients = append(recipients, msg.RecipientID+"|"+msg.Address)
		return notify.Receipt{}, nil
	})
	d, mem, _ := newTestDispatcher(t, sender)
	ctx := context.Background()
	require.NoError(t, mem.Enqueue(ctx, event("e-1", practica.EventTutorRejected, "campus-central", "coord-central")))

	_, err := d.DispatchPending(ctx)

	// Explicit and site-derived recipients are merged without duplicates;
	// inactive coordinators and directors are left out.
	require.NoError(t, err)
	assert.Equal(t, []string{"coord-central|coord-central"}, recipients)
}

func TestDispatchPending_FailureKeepsEventPending(t *testing.T) {
	// GIVEN: one of two recipients fails
	sender := notify.NotifierFunc(func(_ context.Context, msg notify.Message) (notify.Receipt, error) {
		if msg.RecipientID == "tutor-1" {
			return notify.Receipt{}, errors.New("connection reset")
		}
		return notify.Receipt{}, nil
	})
	d, mem, _ := newTestDispatcher(t, sender)
	ctx := context.Background()
	require.NoError(t, mem.Enqueue(ctx,
		event("e-1", practica.EventInternshipVoided, "", "student-1", "tutor-1"),
		event("e-2", practica.EventInternshipCreated, "", "student-2"),
	))

	// WHEN
	result, err := d.DispatchPending(ctx)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connection reset")

	pending, err := mem.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e-1", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "tutor-1")

	failed, err := mem.Query(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditNotificationFailed}})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestDispatchPending_Empty(t *testing.T) {
	d, _, _ := newTestDispatcher(t, notify.LogNotifier{})

	result, err := d.DispatchPending(context.Background())

	require.NoError(t, err)
	assert.Zero(t, result.Processed)
}

func TestSubjectFor_UnknownKind(t *testing.T) {
	assert.NotEmpty(t, notify.SubjectFor("something_new"))
	assert.Equal(t, "Internship closed", notify.SubjectFor(practica.EventInternshipClosed))
}

func TestWebhookNotifier(t *testing.T) {
	// GIVEN
	var got notify.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.RecipientID == "bounce" {
			http.Error(w, "unknown recipient", http.StatusUnprocessableEntity)
			return
		}
		w.Write([]byte(`{"id": "msg-42"}`))
	}))
	defer srv.Close()
	n := notify.NewWebhookNotifier(srv.URL)

	// WHEN
	receipt, err := n.Send(context.Background(), notify.Message{RecipientID: "coord-central", Kind: "escalation_notice", Subject: "3 overdue"})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "msg-42", receipt.DeliveryID)
	assert.Equal(t, "escalation_notice", got.Kind)

	_, err = n.Send(context.Background(), notify.Message{RecipientID: "bounce"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}
