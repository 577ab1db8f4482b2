package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
	"github.com/propagentic/dispatch/media"
)

func mustCreate(t *testing.T, s *Store, opts ...job.CreateOption) *job.Job {
	t.Helper()

	j, err := job.New(id.NewLandlordID(), "fix the thing", opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	j := mustCreate(t, s)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID.String() != j.ID.String() || got.Status != job.StatusPendingAcceptance {
		t.Fatalf("got %+v", got)
	}

	// Snapshots are isolated from the stored record.
	got.Title = "mutated"
	again, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob again: %v", err)
	}
	if again.Title != "fix the thing" {
		t.Fatal("snapshot mutation leaked into the store")
	}

	if err := s.CreateJob(ctx, j); !errors.Is(err, dispatch.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrJobAlreadyExists", err)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, dispatch.ErrJobNotFound) {
		t.Fatalf("missing get: got %v, want ErrJobNotFound", err)
	}
}

func TestCommitJobVersionGate(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	j := mustCreate(t, s)

	bump := func(jb *job.Job) error {
		jb.Details = "updated"
		return nil
	}

	committed, err := s.CommitJob(ctx, j.ID, j.Version, bump)
	if err != nil {
		t.Fatalf("CommitJob: %v", err)
	}
	if committed.Version != j.Version+1 {
		t.Fatalf("version = %d, want %d", committed.Version, j.Version+1)
	}
	if !committed.UpdatedAt.After(j.UpdatedAt) && !committed.UpdatedAt.Equal(j.UpdatedAt) {
		t.Fatalf("UpdatedAt not advanced: %v", committed.UpdatedAt)
	}

	// The original version is now stale.
	if _, err := s.CommitJob(ctx, j.ID, j.Version, bump); !errors.Is(err, dispatch.ErrStaleState) {
		t.Fatalf("stale commit: got %v, want ErrStaleState", err)
	}

	// VersionAny skips the gate.
	if _, err := s.CommitJob(ctx, j.ID, job.VersionAny, bump); err != nil {
		t.Fatalf("VersionAny commit: %v", err)
	}
}

func TestCommitJobMutateErrorLeavesRecord(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	j := mustCreate(t, s)

	boom := errors.New("precondition failed")
	_, err := s.CommitJob(ctx, j.ID, job.VersionAny, func(jb *job.Job) error {
		jb.Details = "should not persist"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want mutate error", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Details != "" || got.Version != j.Version {
		t.Fatalf("failed commit persisted: %+v", got)
	}
}

func TestCommitJobConcurrentAccept(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	j := mustCreate(t, s)

	const racers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctr := id.NewContractorID()
			_, err := s.CommitJob(ctx, j.ID, job.VersionAny, func(jb *job.Job) error {
				_, aerr := job.Apply(jb, job.Request{
					Kind:     job.KindAccept,
					ActorID:  ctr,
					Expected: job.StatusPendingAcceptance,
				})
				return aerr
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, dispatch.ErrAlreadyAssigned) {
				t.Errorf("loser got %v, want ErrAlreadyAssigned", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusAccepted || !got.Held() {
		t.Fatalf("final state: %+v", got)
	}
}

func TestQueryJobsFilterAndOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	landlord := id.NewLandlordID()
	ctr := id.NewContractorID()

	jobs := make([]*job.Job, 0, 5)
	for i := 0; i < 5; i++ {
		j, err := job.New(landlord, "job")
		if err != nil {
			t.Fatalf("job.New: %v", err)
		}
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		jobs = append(jobs, j)
		// Commits space out UpdatedAt so the ordering is observable.
		time.Sleep(2 * time.Millisecond)
		if _, err := s.CommitJob(ctx, j.ID, job.VersionAny, func(jb *job.Job) error { return nil }); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}

	// Accept the middle job so it leaves the open pool.
	if _, err := s.CommitJob(ctx, jobs[2].ID, job.VersionAny, func(jb *job.Job) error {
		_, err := job.Apply(jb, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance})
		return err
	}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	got, _, err := s.QueryJobs(ctx, job.Filter{OpenPool: true}, job.Cursor{}, 0)
	if err != nil {
		t.Fatalf("QueryJobs: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("open pool size = %d, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].UpdatedAt.After(got[i-1].UpdatedAt) {
			t.Fatal("results not ordered by UpdatedAt descending")
		}
	}

	held, _, err := s.QueryJobs(ctx, job.Filter{ContractorID: ctr}, job.Cursor{}, 0)
	if err != nil {
		t.Fatalf("QueryJobs held: %v", err)
	}
	if len(held) != 1 || held[0].ID.String() != jobs[2].ID.String() {
		t.Fatalf("held = %v", held)
	}
}

func TestQueryJobsPagination(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	landlord := id.NewLandlordID()

	const total = 7
	for i := 0; i < total; i++ {
		j, err := job.New(landlord, "job")
		if err != nil {
			t.Fatalf("job.New: %v", err)
		}
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	seen := make(map[string]bool)
	var cursor job.Cursor
	pages := 0
	for {
		page, next, err := s.QueryJobs(ctx, job.Filter{LandlordID: landlord}, cursor, 3)
		if err != nil {
			t.Fatalf("QueryJobs: %v", err)
		}
		for _, j := range page {
			if seen[j.ID.String()] {
				t.Fatalf("job %s appeared on two pages", j.ID)
			}
			seen[j.ID.String()] = true
		}
		pages++
		if next.IsZero() {
			break
		}
		cursor = next
	}

	if len(seen) != total {
		t.Fatalf("paginated %d jobs, want %d", len(seen), total)
	}
	if pages != 3 {
		t.Fatalf("pages = %d, want 3", pages)
	}
}

func TestQueryJobsHidesDeclined(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ctr := id.NewContractorID()

	j := mustCreate(t, s)
	mustCreate(t, s)

	if _, err := s.CommitJob(ctx, j.ID, job.VersionAny, func(jb *job.Job) error {
		_, err := job.Apply(jb, job.Request{
			Kind: job.KindDecline, ActorID: ctr,
			Expected: job.StatusPendingAcceptance, Reason: "wrong trade",
		})
		return err
	}); err != nil {
		t.Fatalf("decline: %v", err)
	}

	got, _, err := s.QueryJobs(ctx, job.Filter{OpenPool: true, NotDeclinedBy: ctr}, job.Cursor{}, 0)
	if err != nil {
		t.Fatalf("QueryJobs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("visible pool = %d, want 1", len(got))
	}
	if got[0].ID.String() == j.ID.String() {
		t.Fatal("declined job still visible to the decliner")
	}

	// Other contractors still see it.
	all, _, err := s.QueryJobs(ctx, job.Filter{OpenPool: true}, job.Cursor{}, 0)
	if err != nil {
		t.Fatalf("QueryJobs all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("pool = %d, want 2", len(all))
	}
}

func TestMediaRegistry(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	mid := id.NewMediaID()
	if err := s.Register(ctx, media.Attachment{ID: mid, OwnerID: id.NewContractorID()}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Exists(ctx, []id.MediaID{mid}); err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if err := s.Exists(ctx, []id.MediaID{mid, id.NewMediaID()}); !errors.Is(err, dispatch.ErrMediaNotFound) {
		t.Fatalf("missing ref: got %v, want ErrMediaNotFound", err)
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()

	s := New()
	j := mustCreate(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx := context.Background()
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, dispatch.ErrStoreClosed) {
		t.Fatalf("GetJob after close: got %v, want ErrStoreClosed", err)
	}
	if _, err := s.CommitJob(ctx, j.ID, job.VersionAny, func(*job.Job) error { return nil }); !errors.Is(err, dispatch.ErrStoreClosed) {
		t.Fatalf("CommitJob after close: got %v, want ErrStoreClosed", err)
	}
}
