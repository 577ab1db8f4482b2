// Package rt implements the real-time wire protocol: a message-based
// frame exchange over WebSocket that carries job operations, listings,
// and change-feed subscriptions for dashboards and contractor apps.
package rt

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the wire envelope. Every message exchanged over the protocol
// is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "job.accept").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the subscription channel for event frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// Auth methods.
	MethodAuth = "auth"

	// Job methods.
	MethodJobCreate   = "job.create"
	MethodJobGet      = "job.get"
	MethodJobAccept   = "job.accept"
	MethodJobDecline  = "job.decline"
	MethodJobRelease  = "job.release"
	MethodJobCancel   = "job.cancel"
	MethodJobStart    = "job.start"
	MethodJobBlock    = "job.block"
	MethodJobResume   = "job.resume"
	MethodJobComplete = "job.complete"

	// Progress methods.
	MethodProgressAppend = "progress.append"
	MethodProgressList   = "progress.list"

	// Listing methods.
	MethodBucketList = "bucket.list"
	MethodPoolList   = "pool.list"

	// Subscription methods.
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	// Admin methods.
	MethodStats = "stats"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeInternal       = 500
	ErrCodeUnavailable    = 503
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// JobCreateRequest posts a new maintenance job.
type JobCreateRequest struct {
	LandlordID   string `json:"landlord_id"`
	Title        string `json:"title"`
	Details      string `json:"details,omitempty"`
	Category     string `json:"category,omitempty"`
	Priority     string `json:"priority,omitempty"`
	TenantID     string `json:"tenant_id,omitempty"`
	ContractorID string `json:"contractor_id,omitempty"` // pre-target
}

// JobGetRequest retrieves a job by ID.
type JobGetRequest struct {
	JobID string `json:"job_id"`
}

// JobActionRequest drives a lifecycle transition: accept, decline,
// release, cancel, start, block, resume, complete. ActorID is the
// contractor for all of them except cancel, where it is the landlord.
type JobActionRequest struct {
	JobID   string `json:"job_id"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
}

// ProgressAppendRequest records a progress update.
type ProgressAppendRequest struct {
	JobID     string   `json:"job_id"`
	AuthorID  string   `json:"author_id"`
	Message   string   `json:"message"`
	Percent   int      `json:"percent"`
	MediaRefs []string `json:"media_refs,omitempty"`
}

// ProgressListRequest retrieves a job's progress log.
type ProgressListRequest struct {
	JobID string `json:"job_id"`
}

// BucketListRequest pages through one dashboard bucket.
type BucketListRequest struct {
	Role     string `json:"role"` // contractor, landlord, tenant
	ViewerID string `json:"viewer_id"`
	Bucket   string `json:"bucket"` // pending, ongoing, finished
	Cursor   string `json:"cursor,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// PoolListRequest pages through the open pool for a contractor.
type PoolListRequest struct {
	ContractorID string `json:"contractor_id"`
	Cursor       string `json:"cursor,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// ListResponse is one page of a listing.
type ListResponse struct {
	Jobs  json.RawMessage `json:"jobs"`
	Next  string          `json:"next,omitempty"`
	Stale bool            `json:"stale,omitempty"`
}

// SubscribeRequest subscribes to a feed topic.
type SubscribeRequest struct {
	Channel string `json:"channel"`
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(id, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id,
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       GenerateFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

var frameSeq atomic.Uint64

// GenerateFrameID returns a new unique frame ID.
func GenerateFrameID() string {
	return fmt.Sprintf("%s-%d",
		time.Now().UTC().Format("20060102150405.000000"),
		frameSeq.Add(1),
	)
}
