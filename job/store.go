package job

import (
	"context"

	"github.com/propagentic/dispatch/id"
)

// MutateFunc inspects and mutates a job inside a store's atomic commit
// section. Returning an error aborts the commit and surfaces the error
// unchanged; the store persists nothing.
type MutateFunc func(*Job) error

// Store is the persistence contract for jobs. Implementations must make
// CommitJob atomic with respect to concurrent commits on the same job:
// read, version check, mutate, and write happen as one unit.
type Store interface {
	// CreateJob persists a new job. Returns dispatch.ErrJobAlreadyExists
	// when the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob returns a snapshot of the job, or dispatch.ErrJobNotFound.
	// Callers own the returned value and may mutate it freely.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// QueryJobs returns at most limit jobs matching the filter, ordered by
	// UpdatedAt descending with ID as tiebreak, starting after the cursor.
	// The returned cursor resumes the listing; a zero cursor means the
	// listing is exhausted.
	QueryJobs(ctx context.Context, f Filter, after Cursor, limit int) ([]*Job, Cursor, error)

	// CommitJob atomically applies mutate to the stored job.
	//
	// When expectedVersion >= 0 the commit fails with
	// dispatch.ErrStaleState if the stored version differs, before mutate
	// runs. Pass VersionAny to skip the version gate and let mutate carry
	// the precondition (transition preconditions evaluated against the
	// live record produce more specific errors than a bare version
	// mismatch).
	//
	// On success the store bumps Version, stamps UpdatedAt, persists, and
	// returns a snapshot of the committed record.
	CommitJob(ctx context.Context, jobID id.JobID, expectedVersion int64, mutate MutateFunc) (*Job, error)
}

// VersionAny disables CommitJob's version gate.
const VersionAny int64 = -1

// Filter selects jobs in QueryJobs. Zero fields match everything.
type Filter struct {
	// Statuses restricts to jobs in any of the listed statuses.
	Statuses []Status

	// ContractorID restricts to jobs held by the contractor.
	ContractorID id.ContractorID

	// LandlordID restricts to jobs posted by the landlord.
	LandlordID id.LandlordID

	// TenantID restricts to jobs on the tenant's property.
	TenantID id.TenantID

	// OpenPool restricts to unassigned pending jobs, excluding those the
	// contractor in NotDeclinedBy has already declined.
	OpenPool bool

	// NotDeclinedBy hides jobs carrying a decline reason from this
	// contractor. Applies independently of OpenPool.
	NotDeclinedBy id.ContractorID
}

// Match reports whether j satisfies the filter. Memory and Redis backends
// evaluate this directly; the Postgres backend compiles the same predicate
// to SQL.
func (f Filter) Match(j *Job) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if j.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.ContractorID.IsNil() && j.ContractorID.String() != f.ContractorID.String() {
		return false
	}
	if !f.LandlordID.IsNil() && j.LandlordID.String() != f.LandlordID.String() {
		return false
	}
	if !f.TenantID.IsNil() && j.TenantID.String() != f.TenantID.String() {
		return false
	}
	if f.OpenPool {
		if j.Status != StatusPendingAcceptance || j.Held() {
			return false
		}
	}
	if !f.NotDeclinedBy.IsNil() && j.DeclinedBy(f.NotDeclinedBy) {
		return false
	}
	return true
}
