package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension        = (*Extension)(nil)
	_ hook.JobCreated       = (*Extension)(nil)
	_ hook.JobAccepted      = (*Extension)(nil)
	_ hook.JobDeclined      = (*Extension)(nil)
	_ hook.JobCancelled     = (*Extension)(nil)
	_ hook.JobStarted       = (*Extension)(nil)
	_ hook.JobBlocked       = (*Extension)(nil)
	_ hook.JobResumed       = (*Extension)(nil)
	_ hook.JobCompleted     = (*Extension)(nil)
	_ hook.ProgressAppended = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// Event is one entry in the audit trail: who did what to which job,
// with the transition details flattened into metadata.
type Event struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Severity   string         `json:"severity"`
	At         time.Time      `json:"at"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Extension records every job lifecycle event through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements hook.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements hook.JobCreated.
func (e *Extension) OnJobCreated(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCreated, SeverityInfo, j, j.LandlordID.String(),
		"title", j.Title,
		"category", j.Category,
		"priority", string(j.Priority),
	)
}

// OnJobAccepted implements hook.JobAccepted.
func (e *Extension) OnJobAccepted(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return e.record(ctx, ActionJobAccepted, SeverityInfo, j, change.ActorID.String(),
		changePairs(change)...)
}

// OnJobDeclined implements hook.JobDeclined. Covers both pending
// declines and post-accept releases; the change kind disambiguates.
func (e *Extension) OnJobDeclined(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return e.record(ctx, ActionJobDeclined, SeverityWarning, j, change.ActorID.String(),
		changePairs(change)...)
}

// OnJobCancelled implements hook.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return e.record(ctx, ActionJobCancelled, SeverityWarning, j, change.ActorID.String(),
		changePairs(change)...)
}

// OnJobStarted implements hook.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, j, change.ActorID.String(),
		changePairs(change)...)
}

// OnJobBlocked implements hook.JobBlocked.
func (e *Extension) OnJobBlocked(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return e.record(ctx, ActionJobBlocked, SeverityWarning, j, change.ActorID.String(),
		changePairs(change)...)
}

// OnJobResumed implements hook.JobResumed.
func (e *Extension) OnJobResumed(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return e.record(ctx, ActionJobResumed, SeverityInfo, j, change.ActorID.String(),
		changePairs(change)...)
}

// OnJobCompleted implements hook.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, j, change.ActorID.String(),
		changePairs(change)...)
}

// OnProgressAppended implements hook.ProgressAppended.
func (e *Extension) OnProgressAppended(ctx context.Context, j *job.Job, entry job.ProgressEntry) error {
	return e.record(ctx, ActionProgressAppended, SeverityInfo, j, entry.AuthorID.String(),
		"percent_complete", entry.PercentComplete,
		"media_refs", len(entry.MediaRefs),
	)
}

// ── Internal helpers ────────────────────────────────

// changePairs flattens a status change into metadata key-value pairs.
func changePairs(change job.StatusChange) []any {
	pairs := []any{
		"from", string(change.From),
		"to", string(change.To),
		"kind", string(change.Kind),
	}
	if change.Reason != "" {
		pairs = append(pairs, "reason", change.Reason)
	}
	return pairs
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(ctx context.Context, action, severity string, j *job.Job, actorID string, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	meta["version"] = j.Version

	evt := &Event{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		ActorID:    actorID,
		Metadata:   meta,
		Severity:   severity,
		At:         time.Now().UTC(),
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record event",
			"action", action,
			"resource_id", evt.ResourceID,
			"error", recErr,
		)
	}
	return nil
}
