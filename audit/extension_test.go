package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/propagentic/dispatch/audit"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

func newTestJob(t *testing.T) *job.Job {
	t.Helper()
	j, err := job.New(id.NewLandlordID(), "Leaking kitchen tap",
		job.WithCategory("plumbing"),
		job.WithPriority(job.PriorityUrgent),
	)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return j
}

func acceptChange(actor id.ContractorID) job.StatusChange {
	return job.StatusChange{
		From:    job.StatusPendingAcceptance,
		To:      job.StatusAccepted,
		Kind:    job.KindAccept,
		ActorID: actor,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtensionName(t *testing.T) {
	t.Parallel()

	e := audit.New(&mockRecorder{})
	if e.Name() != "audit" {
		t.Errorf("Name() = %q, want audit", e.Name())
	}
}

func TestJobCreatedEvent(t *testing.T) {
	t.Parallel()

	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob(t)

	if err := e.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionJobCreated {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("resource ID = %q, want %q", evt.ResourceID, j.ID)
	}
	if evt.ActorID != j.LandlordID.String() {
		t.Errorf("actor = %q, want landlord", evt.ActorID)
	}
	if evt.Metadata["category"] != "plumbing" {
		t.Errorf("metadata = %+v", evt.Metadata)
	}
}

func TestTransitionEventsCarryChangeMetadata(t *testing.T) {
	t.Parallel()

	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob(t)
	contractor := id.NewContractorID()

	if err := e.OnJobAccepted(context.Background(), j, acceptChange(contractor)); err != nil {
		t.Fatalf("OnJobAccepted: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionJobAccepted {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.ActorID != contractor.String() {
		t.Errorf("actor = %q, want contractor", evt.ActorID)
	}
	if evt.Metadata["from"] != "pending_acceptance" || evt.Metadata["to"] != "accepted" {
		t.Errorf("metadata = %+v", evt.Metadata)
	}
}

func TestWithActionsFilters(t *testing.T) {
	t.Parallel()

	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionJobAccepted))
	j := newTestJob(t)

	if err := e.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("filtered action was recorded")
	}

	if err := e.OnJobAccepted(context.Background(), j, acceptChange(id.NewContractorID())); err != nil {
		t.Fatalf("OnJobAccepted: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("enabled action was not recorded")
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	t.Parallel()

	rec := &mockRecorder{err: errors.New("backend down")}
	e := audit.New(rec, audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	// Hook errors must never block the lifecycle pipeline.
	if err := e.OnJobCreated(context.Background(), newTestJob(t)); err != nil {
		t.Fatalf("OnJobCreated returned %v, want nil", err)
	}
}

func TestProgressAppendedEvent(t *testing.T) {
	t.Parallel()

	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob(t)
	entry := job.ProgressEntry{
		ID:              id.NewProgressID(),
		AuthorID:        id.NewContractorID(),
		Message:         "Replaced the washer",
		PercentComplete: 60,
	}

	if err := e.OnProgressAppended(context.Background(), j, entry); err != nil {
		t.Fatalf("OnProgressAppended: %v", err)
	}

	evt := rec.last()
	if evt.Action != audit.ActionProgressAppended {
		t.Errorf("action = %q", evt.Action)
	}
	if evt.Metadata["percent_complete"] != 60 {
		t.Errorf("metadata = %+v", evt.Metadata)
	}
}
