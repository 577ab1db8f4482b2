// Package progress manages the append-only progress log of an active job.
//
// Appends are validated and committed in one atomic store operation:
// message bounds, percent monotonicity, and media references are all
// checked against the live record inside the commit, so two racing
// appends can never interleave into a percent regression. An entry at
// 100% completes the job in the same commit.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
	"github.com/propagentic/dispatch/media"
)

// Log appends progress entries to jobs.
type Log struct {
	store  job.Store
	files  media.Registry
	hooks  *hook.Registry
	logger *slog.Logger
}

// New builds a progress log service. files may be nil to skip media
// verification (tests, backends without a registry); hooks may be nil.
func New(store job.Store, files media.Registry, hooks *hook.Registry, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, files: files, hooks: hooks, logger: logger}
}

// Append validates and commits a progress entry authored by the holding
// contractor. PercentComplete must not regress below the highest value
// already recorded; equal values are allowed (a 40% entry after a 40%
// entry is a valid narrative update). An entry at 100 completes the job
// in the same commit.
//
// Appends are rejected while the job is blocked and on any terminal
// status.
func (l *Log) Append(ctx context.Context, jobID id.JobID, authorID id.ContractorID, message string, percent int, mediaRefs []id.MediaID) (*job.Job, job.ProgressEntry, error) {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return nil, job.ProgressEntry{}, fmt.Errorf("%w: empty message", dispatch.ErrInvalidProgress)
	}
	if len(msg) > job.MaxMessageLen {
		return nil, job.ProgressEntry{}, fmt.Errorf("%w: message exceeds %d characters", dispatch.ErrInvalidProgress, job.MaxMessageLen)
	}
	if percent < 0 || percent > 100 {
		return nil, job.ProgressEntry{}, fmt.Errorf("%w: percent %d out of range", dispatch.ErrInvalidProgress, percent)
	}

	// Media references resolve before the commit; attachments are
	// immutable once registered, so the check cannot go stale.
	if len(mediaRefs) > 0 && l.files != nil {
		if err := l.files.Exists(ctx, mediaRefs); err != nil {
			return nil, job.ProgressEntry{}, fmt.Errorf("%w: %w", dispatch.ErrInvalidProgress, err)
		}
	}

	entry := job.ProgressEntry{
		ID:              id.NewProgressID(),
		AuthorID:        authorID,
		Message:         msg,
		PercentComplete: percent,
		MediaRefs:       mediaRefs,
		Timestamp:       time.Now().UTC(),
	}

	var completed bool
	committed, err := l.store.CommitJob(ctx, jobID, job.VersionAny, func(j *job.Job) error {
		if j.ContractorID.String() != authorID.String() {
			return dispatch.ErrNotHolder
		}
		switch j.Status {
		case job.StatusInProgress:
			// Appendable.
		case job.StatusBlocked:
			return fmt.Errorf("%w: job is blocked", dispatch.ErrInvalidProgress)
		default:
			return fmt.Errorf("%w: job is %s", dispatch.ErrInvalidProgress, j.Status)
		}
		if percent < j.MaxPercent() {
			return fmt.Errorf("%w: percent %d below recorded %d",
				dispatch.ErrInvalidProgress, percent, j.MaxPercent())
		}

		if percent == 100 {
			completed = true
			_, aerr := job.Apply(j, job.Request{
				Kind:     job.KindComplete,
				ActorID:  authorID,
				Expected: job.StatusInProgress,
				Entry:    &entry,
			})
			return aerr
		}

		j.ProgressLog = append(j.ProgressLog, entry)
		return nil
	})
	if err != nil {
		return nil, job.ProgressEntry{}, err
	}

	l.logger.Info("progress appended",
		slog.String("job_id", jobID.String()),
		slog.String("author_id", authorID.String()),
		slog.Int("percent", percent),
		slog.Bool("completed", completed),
	)

	if l.hooks != nil {
		if completed {
			last := committed.StatusHistory[len(committed.StatusHistory)-1]
			l.hooks.EmitJobCompleted(ctx, committed, last)
		} else {
			l.hooks.EmitProgressAppended(ctx, committed, entry)
		}
	}
	return committed, entry, nil
}

// Entries returns the job's progress log in append order. Anyone linked
// to the job may read it; visibility filtering happens at the transport.
func (l *Log) Entries(ctx context.Context, jobID id.JobID) ([]job.ProgressEntry, error) {
	j, err := l.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return j.ProgressLog, nil
}
