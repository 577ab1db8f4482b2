// Package hook defines the extension system for dispatch.
// Extensions are notified of lifecycle events (job created, accepted,
// completed, progress appended, etc.) and can react to them — feeds,
// notifications, metrics, audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"

	"github.com/propagentic/dispatch/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobCreated is called after a landlord posts a new job.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobAccepted is called after a contractor wins the job.
type JobAccepted interface {
	OnJobAccepted(ctx context.Context, j *job.Job, change job.StatusChange) error
}

// JobDeclined is called after a contractor records a decline, including a
// release back to the pool after accepting. The change's Kind
// distinguishes the two.
type JobDeclined interface {
	OnJobDeclined(ctx context.Context, j *job.Job, change job.StatusChange) error
}

// JobCancelled is called after a landlord withdraws a pending job.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job, change job.StatusChange) error
}

// JobStarted is called when the contractor begins work.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job, change job.StatusChange) error
}

// JobBlocked is called when work pauses on an obstacle.
type JobBlocked interface {
	OnJobBlocked(ctx context.Context, j *job.Job, change job.StatusChange) error
}

// JobResumed is called when blocked work resumes.
type JobResumed interface {
	OnJobResumed(ctx context.Context, j *job.Job, change job.StatusChange) error
}

// JobCompleted is called after the work finishes.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, change job.StatusChange) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ProgressAppended is called after a progress entry commits. It does not
// fire for the terminal 100% entry of a completion; JobCompleted covers
// that commit.
type ProgressAppended interface {
	OnProgressAppended(ctx context.Context, j *job.Job, entry job.ProgressEntry) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
