package hook

import (
	"context"
	"log/slog"

	"github.com/propagentic/dispatch/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobCreatedEntry struct {
	name string
	hook JobCreated
}

type jobAcceptedEntry struct {
	name string
	hook JobAccepted
}

type jobDeclinedEntry struct {
	name string
	hook JobDeclined
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobBlockedEntry struct {
	name string
	hook JobBlocked
}

type jobResumedEntry struct {
	name string
	hook JobResumed
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type progressAppendedEntry struct {
	name string
	hook ProgressAppended
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobCreated       []jobCreatedEntry
	jobAccepted      []jobAcceptedEntry
	jobDeclined      []jobDeclinedEntry
	jobCancelled     []jobCancelledEntry
	jobStarted       []jobStartedEntry
	jobBlocked       []jobBlockedEntry
	jobResumed       []jobResumedEntry
	jobCompleted     []jobCompletedEntry
	progressAppended []progressAppendedEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobCreated); ok {
		r.jobCreated = append(r.jobCreated, jobCreatedEntry{name, h})
	}
	if h, ok := e.(JobAccepted); ok {
		r.jobAccepted = append(r.jobAccepted, jobAcceptedEntry{name, h})
	}
	if h, ok := e.(JobDeclined); ok {
		r.jobDeclined = append(r.jobDeclined, jobDeclinedEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobBlocked); ok {
		r.jobBlocked = append(r.jobBlocked, jobBlockedEntry{name, h})
	}
	if h, ok := e.(JobResumed); ok {
		r.jobResumed = append(r.jobResumed, jobResumedEntry{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, h})
	}
	if h, ok := e.(ProgressAppended); ok {
		r.progressAppended = append(r.progressAppended, progressAppendedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobCreated notifies all extensions that implement JobCreated.
func (r *Registry) EmitJobCreated(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCreated {
		if err := e.hook.OnJobCreated(ctx, j); err != nil {
			r.logHookError("OnJobCreated", e.name, err)
		}
	}
}

// EmitJobAccepted notifies all extensions that implement JobAccepted.
func (r *Registry) EmitJobAccepted(ctx context.Context, j *job.Job, change job.StatusChange) {
	for _, e := range r.jobAccepted {
		if err := e.hook.OnJobAccepted(ctx, j, change); err != nil {
			r.logHookError("OnJobAccepted", e.name, err)
		}
	}
}

// EmitJobDeclined notifies all extensions that implement JobDeclined.
func (r *Registry) EmitJobDeclined(ctx context.Context, j *job.Job, change job.StatusChange) {
	for _, e := range r.jobDeclined {
		if err := e.hook.OnJobDeclined(ctx, j, change); err != nil {
			r.logHookError("OnJobDeclined", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job, change job.StatusChange) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j, change); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job, change job.StatusChange) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j, change); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobBlocked notifies all extensions that implement JobBlocked.
func (r *Registry) EmitJobBlocked(ctx context.Context, j *job.Job, change job.StatusChange) {
	for _, e := range r.jobBlocked {
		if err := e.hook.OnJobBlocked(ctx, j, change); err != nil {
			r.logHookError("OnJobBlocked", e.name, err)
		}
	}
}

// EmitJobResumed notifies all extensions that implement JobResumed.
func (r *Registry) EmitJobResumed(ctx context.Context, j *job.Job, change job.StatusChange) {
	for _, e := range r.jobResumed {
		if err := e.hook.OnJobResumed(ctx, j, change); err != nil {
			r.logHookError("OnJobResumed", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, change job.StatusChange) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, change); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitProgressAppended notifies all extensions that implement ProgressAppended.
func (r *Registry) EmitProgressAppended(ctx context.Context, j *job.Job, entry job.ProgressEntry) {
	for _, e := range r.progressAppended {
		if err := e.hook.OnProgressAppended(ctx, j, entry); err != nil {
			r.logHookError("OnProgressAppended", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// EmitChange routes a status change to the matching emitter. Commits that
// already know the transition kind use this instead of switching at every
// call site.
func (r *Registry) EmitChange(ctx context.Context, j *job.Job, change job.StatusChange) {
	switch change.Kind {
	case job.KindAccept:
		r.EmitJobAccepted(ctx, j, change)
	case job.KindDecline, job.KindRelease:
		r.EmitJobDeclined(ctx, j, change)
	case job.KindCancel:
		r.EmitJobCancelled(ctx, j, change)
	case job.KindStart:
		r.EmitJobStarted(ctx, j, change)
	case job.KindBlock:
		r.EmitJobBlocked(ctx, j, change)
	case job.KindResume:
		r.EmitJobResumed(ctx, j, change)
	case job.KindComplete:
		r.EmitJobCompleted(ctx, j, change)
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
