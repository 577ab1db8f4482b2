package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/propagentic/dispatch/job"
	"github.com/propagentic/dispatch/rt"
)

// CreateJob posts a new maintenance job on behalf of a landlord.
func (c *Client) CreateJob(ctx context.Context, landlordID, title string, opts ...CreateOption) (*job.Job, error) {
	req := rt.JobCreateRequest{
		LandlordID: landlordID,
		Title:      title,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return c.jobRequest(ctx, rt.MethodJobCreate, req)
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return c.jobRequest(ctx, rt.MethodJobGet, rt.JobGetRequest{JobID: jobID})
}

// Accept claims an open job for a contractor.
func (c *Client) Accept(ctx context.Context, jobID, contractorID string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobAccept, jobID, contractorID, "")
}

// Decline marks a job as declined by a contractor, hiding it from
// their open pool.
func (c *Client) Decline(ctx context.Context, jobID, contractorID, reason string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobDecline, jobID, contractorID, reason)
}

// Release returns an accepted job to the open pool.
func (c *Client) Release(ctx context.Context, jobID, contractorID, reason string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobRelease, jobID, contractorID, reason)
}

// Cancel withdraws a job. Only the posting landlord may cancel.
func (c *Client) Cancel(ctx context.Context, jobID, landlordID, reason string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobCancel, jobID, landlordID, reason)
}

// StartWork moves an accepted job into in_progress.
func (c *Client) StartWork(ctx context.Context, jobID, contractorID string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobStart, jobID, contractorID, "")
}

// Block pauses an in-progress job.
func (c *Client) Block(ctx context.Context, jobID, contractorID, reason string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobBlock, jobID, contractorID, reason)
}

// Resume unblocks a blocked job.
func (c *Client) Resume(ctx context.Context, jobID, contractorID string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobResume, jobID, contractorID, "")
}

// Complete finishes an in-progress job.
func (c *Client) Complete(ctx context.Context, jobID, contractorID string) (*job.Job, error) {
	return c.action(ctx, rt.MethodJobComplete, jobID, contractorID, "")
}

// ProgressResult is the outcome of an AppendProgress call.
type ProgressResult struct {
	Job   *job.Job          `json:"job"`
	Entry job.ProgressEntry `json:"entry"`
}

// AppendProgress records a progress update on an in-progress job.
// Reaching 100 percent completes the job.
func (c *Client) AppendProgress(ctx context.Context, jobID, authorID, message string, percent int, mediaRefs ...string) (*ProgressResult, error) {
	resp, err := c.request(ctx, rt.MethodProgressAppend, rt.ProgressAppendRequest{
		JobID:     jobID,
		AuthorID:  authorID,
		Message:   message,
		Percent:   percent,
		MediaRefs: mediaRefs,
	})
	if err != nil {
		return nil, err
	}
	var result ProgressResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// ProgressEntries retrieves a job's progress log.
func (c *Client) ProgressEntries(ctx context.Context, jobID string) ([]job.ProgressEntry, error) {
	resp, err := c.request(ctx, rt.MethodProgressList, rt.ProgressListRequest{JobID: jobID})
	if err != nil {
		return nil, err
	}
	var entries []job.ProgressEntry
	if err := json.Unmarshal(resp.Data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return entries, nil
}

// ListPage is one page of a listing.
type ListPage struct {
	Jobs  []*job.Job
	Next  string
	Stale bool
}

// ListBucket pages through one dashboard bucket for a viewer.
// Role is contractor, landlord, or tenant; bucket is pending, ongoing,
// or finished.
func (c *Client) ListBucket(ctx context.Context, role, viewerID, bucket, cursor string, limit int) (*ListPage, error) {
	resp, err := c.request(ctx, rt.MethodBucketList, rt.BucketListRequest{
		Role:     role,
		ViewerID: viewerID,
		Bucket:   bucket,
		Cursor:   cursor,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeListPage(resp.Data)
}

// ListAvailable pages through the open pool as seen by a contractor.
func (c *Client) ListAvailable(ctx context.Context, contractorID, cursor string, limit int) (*ListPage, error) {
	resp, err := c.request(ctx, rt.MethodPoolList, rt.PoolListRequest{
		ContractorID: contractorID,
		Cursor:       cursor,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeListPage(resp.Data)
}

func decodeListPage(data json.RawMessage) (*ListPage, error) {
	var raw rt.ListResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	page := &ListPage{Next: raw.Next, Stale: raw.Stale}
	if len(raw.Jobs) > 0 {
		if err := json.Unmarshal(raw.Jobs, &page.Jobs); err != nil {
			return nil, fmt.Errorf("unmarshal jobs: %w", err)
		}
	}
	return page, nil
}

// action runs a lifecycle transition and returns the committed job.
func (c *Client) action(ctx context.Context, method, jobID, actorID, reason string) (*job.Job, error) {
	return c.jobRequest(ctx, method, rt.JobActionRequest{
		JobID:   jobID,
		ActorID: actorID,
		Reason:  reason,
	})
}

// jobRequest sends a request whose response is a single job record.
func (c *Client) jobRequest(ctx context.Context, method string, data any) (*job.Job, error) {
	resp, err := c.request(ctx, method, data)
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal(resp.Data, &j); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &j, nil
}

// CreateOption configures a job create request.
type CreateOption func(*rt.JobCreateRequest)

// WithDetails sets the free-text problem description.
func WithDetails(details string) CreateOption {
	return func(r *rt.JobCreateRequest) { r.Details = details }
}

// WithCategory sets the trade category (plumbing, electrical, ...).
func WithCategory(category string) CreateOption {
	return func(r *rt.JobCreateRequest) { r.Category = category }
}

// WithPriority sets the job priority.
func WithPriority(priority string) CreateOption {
	return func(r *rt.JobCreateRequest) { r.Priority = priority }
}

// WithTenant attributes the job to a reporting tenant.
func WithTenant(tenantID string) CreateOption {
	return func(r *rt.JobCreateRequest) { r.TenantID = tenantID }
}

// WithContractor pre-targets the job at a specific contractor.
func WithContractor(contractorID string) CreateOption {
	return func(r *rt.JobCreateRequest) { r.ContractorID = contractorID }
}
