package job

import (
	"strings"
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
)

// Kind names a lifecycle transition.
type Kind string

const (
	// KindCreate is the synthetic first entry in every job's audit trail.
	// It is not a transition and never passes through Apply.
	KindCreate Kind = "create"
	// KindAccept claims a pending job: open-pool (ContractorID nil) or
	// pre-targeted (ContractorID equals the actor).
	KindAccept Kind = "accept"
	// KindDecline records a contractor's refusal of a pending job. The
	// status does not change; a pre-targeted job returns to the open pool.
	KindDecline Kind = "decline"
	// KindRelease returns an accepted job to the open pool, recording the
	// holder's decline reason.
	KindRelease Kind = "release"
	// KindCancel is the landlord withdrawing a pending job. Terminal.
	KindCancel Kind = "cancel"
	// KindStart moves an accepted job into active work.
	KindStart Kind = "start"
	// KindBlock pauses active work on an obstacle.
	KindBlock Kind = "block"
	// KindResume unblocks a paused job.
	KindResume Kind = "resume"
	// KindComplete finishes the work, via a 100% progress append or an
	// explicit completion.
	KindComplete Kind = "complete"
)

// rule is one edge of the state machine.
type rule struct {
	from Status
	to   Status
}

// rules is the complete transition table. A kind absent from this table
// does not exist; a kind whose from-status doesn't match the record is an
// invalid transition.
var rules = map[Kind]rule{
	KindAccept:   {from: StatusPendingAcceptance, to: StatusAccepted},
	KindDecline:  {from: StatusPendingAcceptance, to: StatusPendingAcceptance},
	KindRelease:  {from: StatusAccepted, to: StatusPendingAcceptance},
	KindCancel:   {from: StatusPendingAcceptance, to: StatusDeclined},
	KindStart:    {from: StatusAccepted, to: StatusInProgress},
	KindBlock:    {from: StatusInProgress, to: StatusBlocked},
	KindResume:   {from: StatusBlocked, to: StatusInProgress},
	KindComplete: {from: StatusInProgress, to: StatusCompleted},
}

// Target returns the destination status of a transition kind.
// Returns false for unknown kinds.
func Target(k Kind) (Status, bool) {
	r, ok := rules[k]
	return r.to, ok
}

// Request describes a proposed transition. Callers always read-then-propose:
// Expected carries the status observed at read time, and the commit fails
// with ErrStaleState when the record has moved since.
type Request struct {
	Kind    Kind
	ActorID id.ID
	// Expected is the status the caller last observed. Required.
	Expected Status
	// Reason is required for decline, release, and cancel.
	Reason string
	// Entry is an optional progress append folded into the same commit
	// (the 100% entry that drives completion).
	Entry *ProgressEntry
	// At stamps the audit entry; zero means now.
	At time.Time
}

// Effects reports what a successful transition produced. The state machine
// performs no I/O: hook emission and notification fan-out happen in the
// layers above, keyed off these values.
type Effects struct {
	Change   StatusChange
	Appended *ProgressEntry
}

// Apply validates req against j and, on success, mutates j in place:
// status, contractor assignment, decline ledger, progress log, and the
// audit trail. It is a pure in-memory operation intended to run inside a
// store conditional commit, so the validation and the write are atomic.
//
// Error contract:
//   - dispatch.ErrStaleState when j.Status differs from req.Expected;
//   - dispatch.ErrAlreadyAssigned when an open-pool accept finds the job
//     already held;
//   - dispatch.ErrInvalidTransition when the kind is unknown, illegal from
//     the current status, or its payload requirements are unmet.
func Apply(j *Job, req Request) (Effects, error) {
	r, ok := rules[req.Kind]
	if !ok {
		return Effects{}, dispatch.ErrInvalidTransition
	}

	if j.Status != req.Expected {
		// The record moved between the caller's read and this commit.
		if req.Kind == KindAccept && j.Held() {
			return Effects{}, dispatch.ErrAlreadyAssigned
		}
		return Effects{}, dispatch.ErrStaleState
	}
	if j.Status != r.from {
		return Effects{}, dispatch.ErrInvalidTransition
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch req.Kind {
	case KindAccept:
		if j.Held() {
			if j.ContractorID.String() != req.ActorID.String() {
				return Effects{}, dispatch.ErrAlreadyAssigned
			}
			// Pre-targeted accept: the assignee confirms.
		} else {
			j.ContractorID = req.ActorID
		}

	case KindDecline:
		if strings.TrimSpace(req.Reason) == "" {
			return Effects{}, dispatch.ErrInvalidTransition
		}
		recordDecline(j, req.ActorID, req.Reason)
		// A pre-targeted job whose assignee declines returns to the pool.
		if j.Held() && j.ContractorID.String() == req.ActorID.String() {
			j.ContractorID = id.Nil
		}

	case KindRelease:
		if strings.TrimSpace(req.Reason) == "" {
			return Effects{}, dispatch.ErrInvalidTransition
		}
		recordDecline(j, req.ActorID, req.Reason)
		j.ContractorID = id.Nil

	case KindCancel:
		if strings.TrimSpace(req.Reason) == "" {
			return Effects{}, dispatch.ErrInvalidTransition
		}

	case KindComplete:
		if req.Entry != nil {
			j.ProgressLog = append(j.ProgressLog, *req.Entry)
		}

	case KindStart, KindBlock, KindResume:
		// Status change only.
	}

	change := StatusChange{
		From:    r.from,
		To:      r.to,
		Kind:    req.Kind,
		ActorID: req.ActorID,
		Reason:  req.Reason,
		At:      at,
	}
	j.Status = r.to
	j.StatusHistory = append(j.StatusHistory, change)

	eff := Effects{Change: change}
	if req.Kind == KindComplete && req.Entry != nil {
		eff.Appended = &j.ProgressLog[len(j.ProgressLog)-1]
	}
	return eff, nil
}

// recordDecline appends to the decline ledger, keeping earlier reasons
// from the same contractor (audit requires the full history; the latest
// reason wins the map slot, prior ones stay in StatusHistory).
func recordDecline(j *Job, actorID id.ID, reason string) {
	if j.DeclineReasons == nil {
		j.DeclineReasons = make(map[string]string, 1)
	}
	j.DeclineReasons[actorID.String()] = reason
}
