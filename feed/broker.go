package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension        = (*Broker)(nil)
	_ hook.JobCreated       = (*Broker)(nil)
	_ hook.JobAccepted      = (*Broker)(nil)
	_ hook.JobDeclined      = (*Broker)(nil)
	_ hook.JobCancelled     = (*Broker)(nil)
	_ hook.JobStarted       = (*Broker)(nil)
	_ hook.JobBlocked       = (*Broker)(nil)
	_ hook.JobResumed       = (*Broker)(nil)
	_ hook.JobCompleted     = (*Broker)(nil)
	_ hook.ProgressAppended = (*Broker)(nil)
	_ hook.Shutdown         = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time change feed broker. It implements the
// hook.Extension interface to receive lifecycle events and fans them out
// to subscribers via topic-based pub/sub.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	// Subscriber management.
	subscribers sync.Map // subscriberID → *Subscriber

	// Metrics.
	totalPublished atomic.Int64

	// Config.
	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new change feed broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Extension.
func (b *Broker) Name() string { return "change-feed" }

// Topics returns the topic registry for external use (e.g., rt server).
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return
	}
	sub := val.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	val, ok := b.subscribers.Load(subscriberID)
	if !ok {
		return nil, false
	}
	return val.(*Subscriber), true //nolint:errcheck // sync.Map always stores *Subscriber
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

// publishJob builds the envelope for a job event and broadcasts it to
// every topic that should observe the job: the job itself, the landlord,
// the tenant and contractor when linked, the pool when availability
// changed, and the firehose.
func (b *Broker) publishJob(evtType EventType, j *job.Job, actorID, reason string) {
	topics := []string{TopicFirehose, JobTopic(j.ID.String()), LandlordTopic(j.LandlordID.String())}
	if !j.TenantID.IsNil() {
		topics = append(topics, TenantTopic(j.TenantID.String()))
	}
	if j.Held() {
		topics = append(topics, ContractorTopic(j.ContractorID.String()))
	} else if evtType == EventJobDeclined && actorID != "" {
		// A release clears ContractorID before publishing; the former
		// holder still needs the event to drop the job from their view.
		topics = append(topics, ContractorTopic(actorID))
	}
	if poolAffecting(evtType) {
		topics = append(topics, TopicPool)
	}

	evt := &Event{
		Type:      evtType,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		JobID:     j.ID.String(),
		Version:   j.Version,
		Data: mustMarshal(JobEventData{
			JobID:        j.ID.String(),
			Title:        j.Title,
			Status:       string(j.Status),
			Priority:     string(j.Priority),
			Category:     j.Category,
			LandlordID:   j.LandlordID.String(),
			TenantID:     j.TenantID.String(),
			ContractorID: j.ContractorID.String(),
			ActorID:      actorID,
			Reason:       reason,
		}),
	}

	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// Relay broadcasts an externally produced event, deriving the topic
// fan-out from its payload. Cross-node bridges use this to replay
// events published by other dispatch instances. Events whose payload
// does not carry party IDs (progress updates) reach only the job topic
// and the firehose.
func (b *Broker) Relay(evt *Event) {
	topics := []string{TopicFirehose, JobTopic(evt.JobID)}

	var data JobEventData
	if json.Unmarshal(evt.Data, &data) == nil {
		if data.LandlordID != "" {
			topics = append(topics, LandlordTopic(data.LandlordID))
		}
		if data.TenantID != "" {
			topics = append(topics, TenantTopic(data.TenantID))
		}
		if data.ContractorID != "" {
			topics = append(topics, ContractorTopic(data.ContractorID))
		}
	}
	if poolAffecting(evt.Type) {
		topics = append(topics, TopicPool)
	}

	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

// poolAffecting reports whether the event changes which jobs the open
// pool contains.
func poolAffecting(t EventType) bool {
	switch t {
	case EventJobCreated, EventJobAccepted, EventJobDeclined, EventJobCancelled:
		return true
	}
	return false
}

// mustMarshal marshals data to JSON, panicking on error (programming error).
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("feed: marshal event data: " + err.Error())
	}
	return data
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobCreated(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobCreated, j, j.LandlordID.String(), "")
	return nil
}

func (b *Broker) OnJobAccepted(_ context.Context, j *job.Job, change job.StatusChange) error {
	b.publishJob(EventJobAccepted, j, change.ActorID.String(), "")
	return nil
}

func (b *Broker) OnJobDeclined(_ context.Context, j *job.Job, change job.StatusChange) error {
	b.publishJob(EventJobDeclined, j, change.ActorID.String(), change.Reason)
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job, change job.StatusChange) error {
	b.publishJob(EventJobCancelled, j, change.ActorID.String(), change.Reason)
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job, change job.StatusChange) error {
	b.publishJob(EventJobStarted, j, change.ActorID.String(), "")
	return nil
}

func (b *Broker) OnJobBlocked(_ context.Context, j *job.Job, change job.StatusChange) error {
	b.publishJob(EventJobBlocked, j, change.ActorID.String(), change.Reason)
	return nil
}

func (b *Broker) OnJobResumed(_ context.Context, j *job.Job, change job.StatusChange) error {
	b.publishJob(EventJobResumed, j, change.ActorID.String(), "")
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, change job.StatusChange) error {
	b.publishJob(EventJobCompleted, j, change.ActorID.String(), "")
	return nil
}

// ── Progress hooks ──────────────────────────────────

func (b *Broker) OnProgressAppended(_ context.Context, j *job.Job, entry job.ProgressEntry) error {
	topics := []string{TopicFirehose, JobTopic(j.ID.String()), LandlordTopic(j.LandlordID.String())}
	if !j.TenantID.IsNil() {
		topics = append(topics, TenantTopic(j.TenantID.String()))
	}
	if j.Held() {
		topics = append(topics, ContractorTopic(j.ContractorID.String()))
	}

	refs := make([]string, len(entry.MediaRefs))
	for i, m := range entry.MediaRefs {
		refs[i] = m.String()
	}

	evt := &Event{
		Type:      EventProgressAppended,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		JobID:     j.ID.String(),
		Version:   j.Version,
		Data: mustMarshal(ProgressEventData{
			JobID:           j.ID.String(),
			EntryID:         entry.ID.String(),
			AuthorID:        entry.AuthorID.String(),
			Message:         entry.Message,
			PercentComplete: entry.PercentComplete,
			MediaRefs:       refs,
		}),
	}

	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber) //nolint:errcheck // sync.Map always stores *Subscriber
		sub.Close()
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("change feed shut down")
	return nil
}
