// Package bucket partitions jobs into the three headline views of every
// dashboard: pending, ongoing, and finished. The partition is a pure
// function of job status, so the three buckets are always disjoint and
// together cover every job a viewer is linked to.
//
// Two consumers live here. Categorizer serves store-backed paginated
// listings and keeps a last-known-good copy per viewer so a flapping
// backend degrades to slightly stale buckets instead of empty ones. View
// maintains a live in-memory partition from feed events, using a
// feed.Gate so out-of-order deliveries never move a job backwards.
package bucket

import (
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// Bucket is one of the three dashboard partitions.
type Bucket string

const (
	// BucketPending holds jobs awaiting or holding acceptance: work has
	// not begun.
	BucketPending Bucket = "pending"
	// BucketOngoing holds jobs where work is underway, including blocked.
	BucketOngoing Bucket = "ongoing"
	// BucketFinished holds terminal jobs.
	BucketFinished Bucket = "finished"
)

// Buckets lists the partitions in display order.
var Buckets = []Bucket{BucketPending, BucketOngoing, BucketFinished}

// For returns the bucket a status belongs to. Every valid status maps to
// exactly one bucket.
func For(s job.Status) Bucket {
	switch s {
	case job.StatusPendingAcceptance, job.StatusAccepted:
		return BucketPending
	case job.StatusInProgress, job.StatusBlocked:
		return BucketOngoing
	default:
		return BucketFinished
	}
}

// Statuses returns the statuses a bucket contains.
func (b Bucket) Statuses() []job.Status {
	switch b {
	case BucketPending:
		return []job.Status{job.StatusPendingAcceptance, job.StatusAccepted}
	case BucketOngoing:
		return []job.Status{job.StatusInProgress, job.StatusBlocked}
	default:
		return []job.Status{job.StatusCompleted, job.StatusDeclined}
	}
}

// Valid reports whether b names a known bucket.
func (b Bucket) Valid() bool {
	switch b {
	case BucketPending, BucketOngoing, BucketFinished:
		return true
	}
	return false
}

// Role identifies how a viewer is linked to jobs.
type Role string

const (
	RoleContractor Role = "contractor"
	RoleLandlord   Role = "landlord"
	RoleTenant     Role = "tenant"
)

// Viewer is the identity a listing is computed for.
type Viewer struct {
	Role Role
	ID   id.ID
}

// Visible reports whether the viewer sees the job in any bucket. A
// contractor who declined a job never sees it again, regardless of the
// job's later travels.
func (v Viewer) Visible(j *job.Job) bool {
	switch v.Role {
	case RoleContractor:
		if j.DeclinedBy(v.ID) {
			return false
		}
		return j.ContractorID.String() == v.ID.String()
	case RoleLandlord:
		return j.LandlordID.String() == v.ID.String()
	case RoleTenant:
		return j.TenantID.String() == v.ID.String()
	}
	return false
}

// filter compiles the viewer + bucket pair into a store query.
func (v Viewer) filter(b Bucket) job.Filter {
	f := job.Filter{Statuses: b.Statuses()}
	switch v.Role {
	case RoleContractor:
		f.ContractorID = v.ID
		f.NotDeclinedBy = v.ID
	case RoleLandlord:
		f.LandlordID = v.ID
	case RoleTenant:
		f.TenantID = v.ID
	}
	return f
}
