// Package feed provides the real-time change feed for job lifecycle
// events. It bridges the hook.Extension system to connected clients via
// topic-based pub/sub with credit-based flow control.
//
// Deliveries carry the job's committed version. Consumers apply them
// through a Gate, which discards duplicates and out-of-order arrivals so
// a rendered job view never moves backwards.
package feed

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobCreated   EventType = "job.created"
	EventJobAccepted  EventType = "job.accepted"
	EventJobDeclined  EventType = "job.declined"
	EventJobCancelled EventType = "job.cancelled"
	EventJobStarted   EventType = "job.started"
	EventJobBlocked   EventType = "job.blocked"
	EventJobResumed   EventType = "job.resumed"
	EventJobCompleted EventType = "job.completed"

	// Progress events.
	EventProgressAppended EventType = "progress.appended"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// JobID and Version identify the committed record state this event
	// describes. Version orders deliveries per job; the Gate discards
	// anything at or below the version already applied.
	JobID   string `json:"job_id"`
	Version int64  `json:"version"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID        string `json:"job_id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Priority     string `json:"priority"`
	Category     string `json:"category,omitempty"`
	LandlordID   string `json:"landlord_id"`
	TenantID     string `json:"tenant_id,omitempty"`
	ContractorID string `json:"contractor_id,omitempty"`
	ActorID      string `json:"actor_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ProgressEventData is the payload for progress events.
type ProgressEventData struct {
	JobID           string   `json:"job_id"`
	EntryID         string   `json:"entry_id"`
	AuthorID        string   `json:"author_id"`
	Message         string   `json:"message"`
	PercentComplete int      `json:"percent_complete"`
	MediaRefs       []string `json:"media_refs,omitempty"`
}
