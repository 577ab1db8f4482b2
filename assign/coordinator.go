// Package assign coordinates the contested transitions of the job
// lifecycle: contractors racing to accept, declining, releasing, and
// moving work through start, block, resume, and complete.
//
// Every operation is one conditional commit. The transition precondition
// runs inside the store's atomic section, so under any interleaving of
// concurrent callers exactly one accept wins and every loser gets
// dispatch.ErrAlreadyAssigned rather than a silent overwrite. The
// coordinator never retries; callers refresh and decide.
package assign

import (
	"context"
	"log/slog"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// Coordinator applies lifecycle transitions through conditional commits
// and emits hooks for the ones that land.
type Coordinator struct {
	store  job.Store
	hooks  *hook.Registry
	logger *slog.Logger
}

// New builds a coordinator. hooks may be nil when no extensions are
// registered.
func New(store job.Store, hooks *hook.Registry, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{store: store, hooks: hooks, logger: logger}
}

// Accept claims a pending job for the contractor. Open-pool jobs go to
// the first committed acceptor; pre-targeted jobs only to their assignee.
// Losers get dispatch.ErrAlreadyAssigned and must not retry.
func (c *Coordinator) Accept(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return c.commit(ctx, jobID, job.Request{
		Kind:     job.KindAccept,
		ActorID:  contractorID,
		Expected: job.StatusPendingAcceptance,
	})
}

// Decline records the contractor's refusal of a pending job. The job
// stays in the pool (or returns to it, when pre-targeted) and stops
// appearing in the decliner's listings.
func (c *Coordinator) Decline(ctx context.Context, jobID id.JobID, contractorID id.ContractorID, reason string) (*job.Job, error) {
	return c.commit(ctx, jobID, job.Request{
		Kind:     job.KindDecline,
		ActorID:  contractorID,
		Expected: job.StatusPendingAcceptance,
		Reason:   reason,
	})
}

// Release returns an accepted job to the open pool, recording the
// holder's reason. Only the holding contractor may release.
func (c *Coordinator) Release(ctx context.Context, jobID id.JobID, contractorID id.ContractorID, reason string) (*job.Job, error) {
	return c.commit(ctx, jobID, job.Request{
		Kind:     job.KindRelease,
		ActorID:  contractorID,
		Expected: job.StatusAccepted,
		Reason:   reason,
	}, requireHolder(contractorID))
}

// Cancel withdraws a pending job. Only the posting landlord may cancel.
func (c *Coordinator) Cancel(ctx context.Context, jobID id.JobID, landlordID id.LandlordID, reason string) (*job.Job, error) {
	return c.commit(ctx, jobID, job.Request{
		Kind:     job.KindCancel,
		ActorID:  landlordID,
		Expected: job.StatusPendingAcceptance,
		Reason:   reason,
	}, requireLandlord(landlordID))
}

// Start moves the contractor's accepted job into active work.
func (c *Coordinator) Start(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return c.commit(ctx, jobID, job.Request{
		Kind:     job.KindStart,
		ActorID:  contractorID,
		Expected: job.StatusAccepted,
	}, requireHolder(contractorID))
}

// Block pauses active work on an obstacle.
func (c *Coordinator) Block(ctx context.Context, jobID id.JobID, contractorID id.ContractorID, reason string) (*job.Job, error) {
	return c.commit(ctx, jobID, job.Request{
		Kind:     job.KindBlock,
		ActorID:  contractorID,
		Expected: job.StatusInProgress,
		Reason:   reason,
	}, requireHolder(contractorID))
}

// Resume unblocks a paused job.
func (c *Coordinator) Resume(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return c.commit(ctx, jobID, job.Request{
		Kind:     job.KindResume,
		ActorID:  contractorID,
		Expected: job.StatusBlocked,
	}, requireHolder(contractorID))
}

// Complete finishes the work without a closing progress entry. Completing
// an already completed job is a no-op returning the current record, so
// retried completions stay safe.
func (c *Coordinator) Complete(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return c.CompleteWithEntry(ctx, jobID, contractorID, nil)
}

// CompleteWithEntry finishes the work, folding the closing progress entry
// (the 100% update) into the same commit.
func (c *Coordinator) CompleteWithEntry(ctx context.Context, jobID id.JobID, contractorID id.ContractorID, entry *job.ProgressEntry) (*job.Job, error) {
	committed, err := c.commit(ctx, jobID, job.Request{
		Kind:     job.KindComplete,
		ActorID:  contractorID,
		Expected: job.StatusInProgress,
		Entry:    entry,
	}, requireHolder(contractorID))
	if err == nil {
		return committed, nil
	}

	// Idempotent completion: a repeat from the same contractor observes
	// the already completed record instead of an error.
	current, gerr := c.store.GetJob(ctx, jobID)
	if gerr == nil && current.Status == job.StatusCompleted &&
		current.ContractorID.String() == contractorID.String() {
		return current, nil
	}
	return nil, err
}

// ── internals ──

// guard is an extra precondition evaluated inside the commit, before the
// state machine runs.
type guard func(*job.Job) error

func requireHolder(contractorID id.ContractorID) guard {
	return func(j *job.Job) error {
		if j.ContractorID.String() != contractorID.String() {
			return dispatch.ErrNotHolder
		}
		return nil
	}
}

func requireLandlord(landlordID id.LandlordID) guard {
	return func(j *job.Job) error {
		if j.LandlordID.String() != landlordID.String() {
			return dispatch.ErrNotOwner
		}
		return nil
	}
}

func (c *Coordinator) commit(ctx context.Context, jobID id.JobID, req job.Request, guards ...guard) (*job.Job, error) {
	var eff job.Effects

	committed, err := c.store.CommitJob(ctx, jobID, job.VersionAny, func(j *job.Job) error {
		for _, g := range guards {
			if gerr := g(j); gerr != nil {
				return gerr
			}
		}
		var aerr error
		eff, aerr = job.Apply(j, req)
		return aerr
	})
	if err != nil {
		c.logger.Debug("transition rejected",
			slog.String("job_id", jobID.String()),
			slog.String("kind", string(req.Kind)),
			slog.String("actor_id", req.ActorID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	c.logger.Info("job transition",
		slog.String("job_id", jobID.String()),
		slog.String("kind", string(req.Kind)),
		slog.String("from", string(eff.Change.From)),
		slog.String("to", string(eff.Change.To)),
		slog.String("actor_id", req.ActorID.String()),
	)

	if c.hooks != nil {
		c.hooks.EmitChange(ctx, committed, eff.Change)
	}
	return committed, nil
}
