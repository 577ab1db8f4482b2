package rt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/bucket"
	"github.com/propagentic/dispatch/engine"
	"github.com/propagentic/dispatch/feed"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

// Handler dispatches protocol frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// NewHandler creates a new method handler.
func NewHandler(eng *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{eng: eng, logger: logger}
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodJobCreate:
		return h.handleJobCreate(ctx, frame)
	case MethodJobGet:
		return h.handleJobGet(ctx, frame)
	case MethodJobAccept, MethodJobDecline, MethodJobRelease, MethodJobCancel,
		MethodJobStart, MethodJobBlock, MethodJobResume, MethodJobComplete:
		return h.handleJobAction(ctx, frame)
	case MethodProgressAppend:
		return h.handleProgressAppend(ctx, frame)
	case MethodProgressList:
		return h.handleProgressList(ctx, frame)
	case MethodBucketList:
		return h.handleBucketList(ctx, frame)
	case MethodPoolList:
		return h.handlePoolList(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodStats:
		return h.handleStats(frame, conn)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on
// marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// errorFrameFor maps engine errors onto wire error codes.
func errorFrameFor(frameID string, err error) *Frame {
	code := ErrCodeInternal
	switch {
	case errors.Is(err, dispatch.ErrJobNotFound), errors.Is(err, dispatch.ErrMediaNotFound):
		code = ErrCodeNotFound
	case errors.Is(err, dispatch.ErrNotHolder), errors.Is(err, dispatch.ErrNotOwner):
		code = ErrCodeForbidden
	case errors.Is(err, dispatch.ErrAlreadyAssigned),
		errors.Is(err, dispatch.ErrStaleState),
		errors.Is(err, dispatch.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrJobAlreadyExists):
		code = ErrCodeConflict
	case errors.Is(err, dispatch.ErrInvalidProgress), errors.Is(err, dispatch.ErrInvalidBucket):
		code = ErrCodeBadRequest
	case errors.Is(err, dispatch.ErrUnavailable):
		code = ErrCodeUnavailable
	}
	return NewErrorFrame(frameID, code, err.Error())
}

func (h *Handler) handleJobCreate(ctx context.Context, frame *Frame) *Frame {
	var req JobCreateRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	landlordID, err := id.ParseLandlordID(req.LandlordID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid landlord ID: "+err.Error())
	}

	opts := make([]job.CreateOption, 0, 4)
	if req.Details != "" {
		opts = append(opts, job.WithDetails(req.Details))
	}
	if req.Category != "" {
		opts = append(opts, job.WithCategory(req.Category))
	}
	if req.Priority != "" {
		opts = append(opts, job.WithPriority(job.Priority(req.Priority)))
	}
	if req.TenantID != "" {
		tenantID, terr := id.ParseTenantID(req.TenantID)
		if terr != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid tenant ID: "+terr.Error())
		}
		opts = append(opts, job.WithTenant(tenantID))
	}
	if req.ContractorID != "" {
		ctrID, cerr := id.ParseContractorID(req.ContractorID)
		if cerr != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid contractor ID: "+cerr.Error())
		}
		opts = append(opts, job.WithContractor(ctrID))
	}

	j, err := h.eng.CreateJob(ctx, landlordID, req.Title, opts...)
	if err != nil {
		return errorFrameFor(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobGet(ctx context.Context, frame *Frame) *Frame {
	var req JobGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	j, err := h.eng.GetJob(ctx, jobID)
	if err != nil {
		return errorFrameFor(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobAction(ctx context.Context, frame *Frame) *Frame {
	var req JobActionRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}
	actorID, err := id.Parse(req.ActorID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid actor ID: "+err.Error())
	}

	var j *job.Job
	switch frame.Method {
	case MethodJobAccept:
		j, err = h.eng.Accept(ctx, jobID, actorID)
	case MethodJobDecline:
		j, err = h.eng.Decline(ctx, jobID, actorID, req.Reason)
	case MethodJobRelease:
		j, err = h.eng.Release(ctx, jobID, actorID, req.Reason)
	case MethodJobCancel:
		j, err = h.eng.Cancel(ctx, jobID, actorID, req.Reason)
	case MethodJobStart:
		j, err = h.eng.StartWork(ctx, jobID, actorID)
	case MethodJobBlock:
		j, err = h.eng.Block(ctx, jobID, actorID, req.Reason)
	case MethodJobResume:
		j, err = h.eng.Resume(ctx, jobID, actorID)
	case MethodJobComplete:
		j, err = h.eng.Complete(ctx, jobID, actorID)
	}
	if err != nil {
		return errorFrameFor(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleProgressAppend(ctx context.Context, frame *Frame) *Frame {
	var req ProgressAppendRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}
	authorID, err := id.ParseContractorID(req.AuthorID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid author ID: "+err.Error())
	}
	refs := make([]id.MediaID, 0, len(req.MediaRefs))
	for _, raw := range req.MediaRefs {
		mid, merr := id.ParseMediaID(raw)
		if merr != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid media ref: "+merr.Error())
		}
		refs = append(refs, mid)
	}

	j, entry, err := h.eng.AppendProgress(ctx, jobID, authorID, req.Message, req.Percent, refs)
	if err != nil {
		return errorFrameFor(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, struct {
		Job   *job.Job          `json:"job"`
		Entry job.ProgressEntry `json:"entry"`
	}{Job: j, Entry: entry})
}

func (h *Handler) handleProgressList(ctx context.Context, frame *Frame) *Frame {
	var req ProgressListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	entries, err := h.eng.ProgressEntries(ctx, jobID)
	if err != nil {
		return errorFrameFor(frame.ID, err)
	}
	return mustResponseFrame(frame.ID, entries)
}

func (h *Handler) handleBucketList(ctx context.Context, frame *Frame) *Frame {
	var req BucketListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	viewerID, err := id.Parse(req.ViewerID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid viewer ID: "+err.Error())
	}

	v := bucket.Viewer{Role: bucket.Role(req.Role), ID: viewerID}
	page, err := h.eng.ListBucket(ctx, v, bucket.Bucket(req.Bucket), req.Cursor, req.Limit)
	if err != nil {
		return errorFrameFor(frame.ID, err)
	}
	return listResponse(frame.ID, page.Jobs, page.Next, page.Stale)
}

func (h *Handler) handlePoolList(ctx context.Context, frame *Frame) *Frame {
	var req PoolListRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	ctrID, err := id.ParseContractorID(req.ContractorID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid contractor ID: "+err.Error())
	}

	page, err := h.eng.ListAvailable(ctx, ctrID, req.Cursor, req.Limit)
	if err != nil {
		return errorFrameFor(frame.ID, err)
	}
	return listResponse(frame.ID, page.Jobs, page.Next, page.Stale)
}

func listResponse(frameID string, jobs []*job.Job, next string, stale bool) *Frame {
	raw, err := json.Marshal(jobs)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal jobs: "+err.Error())
	}
	return mustResponseFrame(frameID, ListResponse{Jobs: raw, Next: next, Stale: stale})
}

func (h *Handler) handleSubscribe(frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := feed.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// Actual subscription is done in the server loop after the response
	// is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after the
	// response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}

func (h *Handler) handleStats(frame *Frame, conn *Connection) *Frame {
	stats := map[string]any{
		"broker": h.eng.Broker().Stats(),
	}
	if conn != nil {
		stats["subscriptions"] = conn.Subscriptions()
	}
	return mustResponseFrame(frame.ID, stats)
}
