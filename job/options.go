package job

import (
	"fmt"
	"strings"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/id"
)

// CreateOption configures a job at creation time.
type CreateOption func(*Job)

// WithDetails sets the free-form job description.
func WithDetails(details string) CreateOption {
	return func(j *Job) { j.Details = details }
}

// WithCategory sets the trade category (plumbing, electrical, ...).
// Categories outside the known set are kept as-is; the categorizer treats
// them as "other".
func WithCategory(category string) CreateOption {
	return func(j *Job) { j.Category = category }
}

// WithPriority overrides the default medium priority.
func WithPriority(p Priority) CreateOption {
	return func(j *Job) { j.Priority = p }
}

// WithTenant links the job to the tenant who reported the issue.
func WithTenant(tenantID id.TenantID) CreateOption {
	return func(j *Job) { j.TenantID = tenantID }
}

// WithContractor pre-targets the job at a specific contractor instead of
// the open pool. The job still starts pending acceptance; the contractor
// must accept before work begins.
func WithContractor(contractorID id.ContractorID) CreateOption {
	return func(j *Job) { j.ContractorID = contractorID }
}

// New builds a job pending acceptance. The returned job is not persisted;
// pass it to Store.CreateJob.
func New(landlordID id.LandlordID, title string, opts ...CreateOption) (*Job, error) {
	if landlordID.IsNil() {
		return nil, fmt.Errorf("%w: landlord ID required", dispatch.ErrInvalidTransition)
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title required", dispatch.ErrInvalidTransition)
	}

	j := &Job{
		Entity:     dispatch.NewEntity(),
		ID:         id.NewJobID(),
		LandlordID: landlordID,
		Title:      title,
		Priority:   PriorityMedium,
		Status:     StatusPendingAcceptance,
	}

	for _, opt := range opts {
		opt(j)
	}

	j.StatusHistory = append(j.StatusHistory, StatusChange{
		From:    "",
		To:      StatusPendingAcceptance,
		Kind:    KindCreate,
		ActorID: landlordID,
		At:      j.CreatedAt,
	})

	return j, nil
}
