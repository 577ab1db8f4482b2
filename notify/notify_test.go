package notify

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"golang.org/x/time/rate"

	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

type capture struct {
	mu   sync.Mutex
	sent []Notification
}

func (c *capture) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return nil
}

func (c *capture) all() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.sent...)
}

func makeJob(t *testing.T, opts ...job.CreateOption) *job.Job {
	t.Helper()

	j, err := job.New(id.NewLandlordID(), "service boiler", opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return j
}

func apply(t *testing.T, j *job.Job, req job.Request) job.StatusChange {
	t.Helper()

	eff, err := job.Apply(j, req)
	if err != nil {
		t.Fatalf("%s: %v", req.Kind, err)
	}
	return eff.Change
}

func TestBuildRouting(t *testing.T) {
	t.Parallel()

	tenant := id.NewTenantID()
	ctr := id.NewContractorID()

	tests := []struct {
		name  string
		setup func(t *testing.T) (*job.Job, job.StatusChange)
		want  map[Role]bool
	}{
		{
			name: "accept notifies landlord",
			setup: func(t *testing.T) (*job.Job, job.StatusChange) {
				j := makeJob(t, job.WithTenant(tenant))
				return j, apply(t, j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})
			},
			want: map[Role]bool{RoleLandlord: true},
		},
		{
			name: "decline notifies landlord",
			setup: func(t *testing.T) (*job.Job, job.StatusChange) {
				j := makeJob(t)
				return j, apply(t, j, job.Request{Kind: job.KindDecline, ActorID: ctr, Expected: job.StatusPendingAcceptance, Reason: "busy"})
			},
			want: map[Role]bool{RoleLandlord: true},
		},
		{
			name: "cancel notifies targeted contractor and tenant",
			setup: func(t *testing.T) (*job.Job, job.StatusChange) {
				j := makeJob(t, job.WithTenant(tenant), job.WithContractor(ctr))
				return j, apply(t, j, job.Request{Kind: job.KindCancel, ActorID: j.LandlordID, Expected: job.StatusPendingAcceptance, Reason: "resolved"})
			},
			want: map[Role]bool{RoleContractor: true, RoleTenant: true},
		},
		{
			name: "cancel of open pool job notifies tenant only",
			setup: func(t *testing.T) (*job.Job, job.StatusChange) {
				j := makeJob(t, job.WithTenant(tenant))
				return j, apply(t, j, job.Request{Kind: job.KindCancel, ActorID: j.LandlordID, Expected: job.StatusPendingAcceptance, Reason: "resolved"})
			},
			want: map[Role]bool{RoleTenant: true},
		},
		{
			name: "start notifies landlord and tenant",
			setup: func(t *testing.T) (*job.Job, job.StatusChange) {
				j := makeJob(t, job.WithTenant(tenant))
				apply(t, j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})
				return j, apply(t, j, job.Request{Kind: job.KindStart, ActorID: ctr, Expected: job.StatusAccepted})
			},
			want: map[Role]bool{RoleLandlord: true, RoleTenant: true},
		},
		{
			name: "complete notifies landlord and tenant",
			setup: func(t *testing.T) (*job.Job, job.StatusChange) {
				j := makeJob(t, job.WithTenant(tenant))
				apply(t, j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})
				apply(t, j, job.Request{Kind: job.KindStart, ActorID: ctr, Expected: job.StatusAccepted})
				return j, apply(t, j, job.Request{Kind: job.KindComplete, ActorID: ctr, Expected: job.StatusInProgress})
			},
			want: map[Role]bool{RoleLandlord: true, RoleTenant: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			j, change := tt.setup(t)
			batch := Build(j, change)

			got := make(map[Role]bool, len(batch))
			for _, n := range batch {
				got[n.Role] = true
				if n.Body == "" {
					t.Fatalf("empty body for %s/%s", n.Event, n.Role)
				}
			}
			if len(got) != len(tt.want) {
				t.Fatalf("roles = %v, want %v", got, tt.want)
			}
			for role := range tt.want {
				if !got[role] {
					t.Fatalf("missing role %s in %v", role, got)
				}
			}
		})
	}
}

func TestBuildSkipsActor(t *testing.T) {
	t.Parallel()

	// A landlord cancelling their own job is not notified about it.
	j := makeJob(t)
	change := apply(t, j, job.Request{Kind: job.KindCancel, ActorID: j.LandlordID, Expected: job.StatusPendingAcceptance, Reason: "resolved"})

	for _, n := range Build(j, change) {
		if n.Recipient.String() == j.LandlordID.String() {
			t.Fatal("actor notified of their own action")
		}
	}
}

func TestBuildProgress(t *testing.T) {
	t.Parallel()

	ctr := id.NewContractorID()
	j := makeJob(t)
	apply(t, j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})

	entry := job.ProgressEntry{ID: id.NewProgressID(), AuthorID: ctr, Message: "primer down", PercentComplete: 30}
	batch := BuildProgress(j, entry)
	if len(batch) != 1 || batch[0].Role != RoleLandlord {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestFanoutDelivers(t *testing.T) {
	t.Parallel()

	sink := &capture{}
	f := NewFanout(sink, slog.Default())
	ctx := context.Background()

	ctr := id.NewContractorID()
	j := makeJob(t)
	change := apply(t, j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})

	if err := f.OnJobAccepted(ctx, j, change); err != nil {
		t.Fatalf("OnJobAccepted: %v", err)
	}

	sent := sink.all()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].Recipient.String() != j.LandlordID.String() || sent[0].Event != job.KindAccept {
		t.Fatalf("notification = %+v", sent[0])
	}
}

func TestFanoutRateLimitsPerRecipient(t *testing.T) {
	t.Parallel()

	sink := &capture{}
	// Two tokens, effectively no refill within the test.
	f := NewFanout(sink, slog.Default(), WithRateLimit(rate.Limit(0.001), 2))
	ctx := context.Background()

	ctr := id.NewContractorID()
	j := makeJob(t)
	apply(t, j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})
	apply(t, j, job.Request{Kind: job.KindStart, ActorID: ctr, Expected: job.StatusAccepted})

	for i := 0; i < 5; i++ {
		entry := job.ProgressEntry{ID: id.NewProgressID(), AuthorID: ctr, Message: "update", PercentComplete: 10 + i}
		if err := f.OnProgressAppended(ctx, j, entry); err != nil {
			t.Fatalf("OnProgressAppended: %v", err)
		}
	}

	if got := len(sink.all()); got != 2 {
		t.Fatalf("delivered = %d, want 2 (burst limited)", got)
	}

	// A different recipient has an untouched bucket.
	j2 := makeJob(t)
	change := apply(t, j2, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})
	if err := f.OnJobAccepted(ctx, j2, change); err != nil {
		t.Fatalf("OnJobAccepted: %v", err)
	}
	if got := len(sink.all()); got != 3 {
		t.Fatalf("delivered = %d, want 3", got)
	}
}
