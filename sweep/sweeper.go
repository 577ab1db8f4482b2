// Package sweep reclaims jobs that stalled in the accepted state. A
// contractor who accepts and then goes quiet would otherwise hold the job
// forever; the sweeper returns such jobs to the open pool once the
// acceptance deadline passes, through the same conditional-commit release
// any contractor-initiated return uses.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/job"
)

// cronParser supports standard 5-field cron and descriptors like "@every 5m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// ReleaseReason is recorded on jobs the sweeper returns to the pool.
const ReleaseReason = "acceptance window expired"

// errFresh aborts a release commit when the job moved between the query
// and the commit.
var errFresh = errors.New("sweep: job no longer stale")

// Sweeper periodically releases accepted jobs whose holder never started
// work within the deadline.
type Sweeper struct {
	store    job.Store
	hooks    *hook.Registry
	logger   *slog.Logger
	schedule cronlib.Schedule
	deadline time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a sweeper. scheduleExpr is a cron expression or descriptor;
// deadline is how long an accepted job may sit untouched before release.
func New(store job.Store, hooks *hook.Registry, logger *slog.Logger, scheduleExpr string, deadline time.Duration) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := ParseSchedule(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("sweep: parse schedule %q: %w", scheduleExpr, err)
	}
	return &Sweeper{
		store:    store,
		hooks:    hooks,
		logger:   logger,
		schedule: sched,
		deadline: deadline,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the sweep loop.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("sweeper started", slog.Duration("deadline", s.deadline))
	return nil
}

// Stop signals the loop to exit and waits for it.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep releases every stale accepted job and returns how many were
// reclaimed. Exposed for tests and manual runs.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.deadline)
	released := 0

	var cursor job.Cursor
	for {
		page, next, err := s.store.QueryJobs(ctx, job.Filter{
			Statuses: []job.Status{job.StatusAccepted},
		}, cursor, 100)
		if err != nil {
			s.logger.Error("sweep query failed", slog.String("error", err.Error()))
			return released
		}

		for _, j := range page {
			if j.UpdatedAt.After(cutoff) {
				continue
			}
			if s.release(ctx, j) {
				released++
			}
		}

		if next.IsZero() {
			break
		}
		cursor = next
	}

	if released > 0 {
		s.logger.Info("sweep released stale jobs", slog.Int("count", released))
	}
	return released
}

// release returns one stale job to the pool. The holding contractor is
// recorded as the actor so the job stops surfacing in their pool view.
func (s *Sweeper) release(ctx context.Context, j *job.Job) bool {
	holder := j.ContractorID
	var eff job.Effects

	committed, err := s.store.CommitJob(ctx, j.ID, j.Version, func(jb *job.Job) error {
		// Re-check under the commit: the holder may have just started.
		if jb.Status != job.StatusAccepted || jb.UpdatedAt.After(time.Now().UTC().Add(-s.deadline)) {
			return errFresh
		}
		var aerr error
		eff, aerr = job.Apply(jb, job.Request{
			Kind:     job.KindRelease,
			ActorID:  holder,
			Expected: job.StatusAccepted,
			Reason:   ReleaseReason,
		})
		return aerr
	})
	if err != nil {
		// Lost the race to the contractor; nothing to reclaim.
		return false
	}

	s.logger.Info("stale acceptance released",
		slog.String("job_id", j.ID.String()),
		slog.String("contractor_id", holder.String()),
	)
	if s.hooks != nil {
		s.hooks.EmitJobDeclined(ctx, committed, eff.Change)
	}
	return true
}
