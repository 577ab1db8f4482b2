package job

import (
	"time"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
)

// Status represents the lifecycle state of a maintenance job.
type Status string

const (
	// StatusPendingAcceptance means the job is waiting for a contractor to
	// claim it. ContractorID is nil for open-pool jobs, or set when the
	// landlord pre-targeted a specific contractor.
	StatusPendingAcceptance Status = "pending_acceptance"
	// StatusAccepted means a contractor holds the job but has not started
	// work yet.
	StatusAccepted Status = "accepted"
	// StatusInProgress means the contractor is actively working the job.
	StatusInProgress Status = "in_progress"
	// StatusBlocked means work is paused on an obstacle (parts on order,
	// no access, etc.). Progress cannot be recorded while blocked.
	StatusBlocked Status = "blocked"
	// StatusCompleted means the work finished. Terminal.
	StatusCompleted Status = "completed"
	// StatusDeclined means the landlord withdrew the job. Terminal.
	StatusDeclined Status = "declined"
)

// Terminal reports whether no further transitions are legal from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusDeclined
}

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingAcceptance, StatusAccepted, StatusInProgress,
		StatusBlocked, StatusCompleted, StatusDeclined:
		return true
	}
	return false
}

// Priority orders jobs in listings. It never affects which transitions are
// legal.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns the sort weight of the priority. Higher sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// MaxMessageLen bounds the length of a progress entry message.
const MaxMessageLen = 2000

// ProgressEntry is one append-only status update on a job. Entries are
// owned exclusively by their job and are never reordered or deleted.
type ProgressEntry struct {
	ID              id.ProgressID `json:"id"`
	AuthorID        id.ID         `json:"author_id"`
	Message         string        `json:"message"`
	PercentComplete int           `json:"percent_complete"`
	MediaRefs       []id.MediaID  `json:"media_refs,omitempty"`
	Timestamp       time.Time     `json:"ts"`
}

// StatusChange is one entry in a job's audit trail: who moved the job,
// through which transition, and when. The trail reconstructs the full
// lifecycle without trusting UpdatedAt alone.
type StatusChange struct {
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Kind    Kind      `json:"kind"`
	ActorID id.ID     `json:"actor_id"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// Job is a maintenance work item moving through the lifecycle.
type Job struct {
	dispatch.Entity

	ID         id.JobID      `json:"id"`
	LandlordID id.LandlordID `json:"landlord_id"`
	TenantID   id.TenantID   `json:"tenant_id,omitempty"`

	// ContractorID is the contractor currently holding the job. Set only
	// by a successful accept commit (or at creation for pre-targeted
	// jobs); cleared only by an explicit decline-and-release transition.
	ContractorID id.ContractorID `json:"contractor_id,omitempty"`

	Title    string   `json:"title"`
	Details  string   `json:"details,omitempty"`
	Category string   `json:"category,omitempty"`
	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	// DeclineReasons maps contractor ID string → reason text. Entries are
	// retained for audit even after the job is reassigned or completed.
	DeclineReasons map[string]string `json:"decline_reasons,omitempty"`

	// ProgressLog is append-only and ordered by append time.
	ProgressLog []ProgressEntry `json:"progress_log,omitempty"`

	// StatusHistory is append-only and ordered by transition time.
	StatusHistory []StatusChange `json:"status_history,omitempty"`
}

// Clone returns a deep copy of the job. Stores hand out clones so callers
// can mutate snapshots without racing the stored record.
func (j *Job) Clone() *Job {
	cp := *j
	if j.DeclineReasons != nil {
		cp.DeclineReasons = make(map[string]string, len(j.DeclineReasons))
		for k, v := range j.DeclineReasons {
			cp.DeclineReasons[k] = v
		}
	}
	if j.ProgressLog != nil {
		cp.ProgressLog = make([]ProgressEntry, len(j.ProgressLog))
		copy(cp.ProgressLog, j.ProgressLog)
		for i, e := range j.ProgressLog {
			if e.MediaRefs != nil {
				cp.ProgressLog[i].MediaRefs = append([]id.MediaID(nil), e.MediaRefs...)
			}
		}
	}
	if j.StatusHistory != nil {
		cp.StatusHistory = make([]StatusChange, len(j.StatusHistory))
		copy(cp.StatusHistory, j.StatusHistory)
	}
	return &cp
}

// MaxPercent returns the highest PercentComplete recorded so far, or zero
// for an empty log. Entries are monotonic, so this is the last entry's
// value; scanning the log keeps the invariant independent of append order
// bugs in older data.
func (j *Job) MaxPercent() int {
	maxPct := 0
	for _, e := range j.ProgressLog {
		if e.PercentComplete > maxPct {
			maxPct = e.PercentComplete
		}
	}
	return maxPct
}

// DeclinedBy reports whether the given contractor has recorded a decline
// reason on this job.
func (j *Job) DeclinedBy(contractorID id.ContractorID) bool {
	_, ok := j.DeclineReasons[contractorID.String()]
	return ok
}

// Held reports whether the job currently has an assigned contractor.
func (j *Job) Held() bool { return !j.ContractorID.IsNil() }
