package hook

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// recorder implements every hook and counts calls.
type recorder struct {
	created   int
	accepted  int
	declined  int
	cancelled int
	started   int
	blocked   int
	resumed   int
	completed int
	progress  int
	shutdowns int
	fail      bool
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) maybeErr() error {
	if r.fail {
		return errors.New("hook failure")
	}
	return nil
}

func (r *recorder) OnJobCreated(context.Context, *job.Job) error {
	r.created++
	return r.maybeErr()
}

func (r *recorder) OnJobAccepted(context.Context, *job.Job, job.StatusChange) error {
	r.accepted++
	return r.maybeErr()
}

func (r *recorder) OnJobDeclined(context.Context, *job.Job, job.StatusChange) error {
	r.declined++
	return r.maybeErr()
}

func (r *recorder) OnJobCancelled(context.Context, *job.Job, job.StatusChange) error {
	r.cancelled++
	return r.maybeErr()
}

func (r *recorder) OnJobStarted(context.Context, *job.Job, job.StatusChange) error {
	r.started++
	return r.maybeErr()
}

func (r *recorder) OnJobBlocked(context.Context, *job.Job, job.StatusChange) error {
	r.blocked++
	return r.maybeErr()
}

func (r *recorder) OnJobResumed(context.Context, *job.Job, job.StatusChange) error {
	r.resumed++
	return r.maybeErr()
}

func (r *recorder) OnJobCompleted(context.Context, *job.Job, job.StatusChange) error {
	r.completed++
	return r.maybeErr()
}

func (r *recorder) OnProgressAppended(context.Context, *job.Job, job.ProgressEntry) error {
	r.progress++
	return r.maybeErr()
}

func (r *recorder) OnShutdown(context.Context) error {
	r.shutdowns++
	return r.maybeErr()
}

// acceptOnly implements a single hook.
type acceptOnly struct{ accepted int }

func (a *acceptOnly) Name() string { return "accept-only" }

func (a *acceptOnly) OnJobAccepted(context.Context, *job.Job, job.StatusChange) error {
	a.accepted++
	return nil
}

func testJob(t *testing.T) *job.Job {
	t.Helper()

	j, err := job.New(id.NewLandlordID(), "boiler service")
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return j
}

func TestRegistryEmitsToImplementors(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(slog.Default())
	all := &recorder{}
	one := &acceptOnly{}
	reg.Register(all)
	reg.Register(one)

	ctx := context.Background()
	j := testJob(t)

	reg.EmitJobCreated(ctx, j)
	reg.EmitJobAccepted(ctx, j, job.StatusChange{Kind: job.KindAccept})
	reg.EmitProgressAppended(ctx, j, job.ProgressEntry{})
	reg.EmitShutdown(ctx)

	if all.created != 1 || all.accepted != 1 || all.progress != 1 || all.shutdowns != 1 {
		t.Fatalf("recorder counts = %+v", all)
	}
	if one.accepted != 1 {
		t.Fatalf("accept-only accepted = %d, want 1", one.accepted)
	}
	if got := len(reg.Extensions()); got != 2 {
		t.Fatalf("Extensions() = %d, want 2", got)
	}
}

func TestRegistryHookErrorsDoNotPropagate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(slog.Default())
	failing := &recorder{fail: true}
	after := &recorder{}
	reg.Register(failing)
	reg.Register(after)

	reg.EmitJobCreated(context.Background(), testJob(t))

	if failing.created != 1 || after.created != 1 {
		t.Fatalf("failing hook stopped the chain: failing=%d after=%d", failing.created, after.created)
	}
}

func TestEmitChangeRouting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind job.Kind
		want func(*recorder) int
	}{
		{job.KindAccept, func(r *recorder) int { return r.accepted }},
		{job.KindDecline, func(r *recorder) int { return r.declined }},
		{job.KindRelease, func(r *recorder) int { return r.declined }},
		{job.KindCancel, func(r *recorder) int { return r.cancelled }},
		{job.KindStart, func(r *recorder) int { return r.started }},
		{job.KindBlock, func(r *recorder) int { return r.blocked }},
		{job.KindResume, func(r *recorder) int { return r.resumed }},
		{job.KindComplete, func(r *recorder) int { return r.completed }},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()

			reg := NewRegistry(slog.Default())
			rec := &recorder{}
			reg.Register(rec)

			reg.EmitChange(context.Background(), testJob(t), job.StatusChange{Kind: tt.kind})
			if got := tt.want(rec); got != 1 {
				t.Fatalf("emit %s routed %d times, want 1", tt.kind, got)
			}
		})
	}
}
