// Package relay bridges the in-process change feed across dispatch
// instances using Redis Pub/Sub. Every node publishes its firehose to a
// shared channel and replays events from other nodes into its local
// broker, so a subscriber connected to any node observes the full feed.
//
// Relayed events carry their origin node ID; a node skips its own
// publications to avoid echo. The consumer-side version gate discards
// duplicates, so at-least-once delivery between nodes is safe.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/propagentic/dispatch/feed"
	"github.com/propagentic/dispatch/id"
)

// DefaultChannel is the Redis Pub/Sub channel shared by all nodes.
const DefaultChannel = "dispatch:relay"

// envelope wraps a feed event with its origin node for echo filtering.
type envelope struct {
	Origin string     `msgpack:"origin"`
	Event  feed.Event `msgpack:"event"`
}

// Relay connects a local feed broker to the shared Redis channel.
// It implements the dispatch Runner contract.
type Relay struct {
	client  redis.UniversalClient
	broker  *feed.Broker
	origin  string
	channel string
	logger  *slog.Logger

	cancel context.CancelFunc
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannel overrides the shared Pub/Sub channel name.
func WithChannel(channel string) Option {
	return func(r *Relay) { r.channel = channel }
}

// WithOrigin sets the node identity used for echo filtering. Defaults
// to a random ID per Relay.
func WithOrigin(origin string) Option {
	return func(r *Relay) { r.origin = origin }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// New creates a relay between the local broker and Redis.
func New(client redis.UniversalClient, broker *feed.Broker, opts ...Option) *Relay {
	r := &Relay{
		client:  client,
		broker:  broker,
		origin:  id.New("node").String(),
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Origin returns the node identity used for echo filtering.
func (r *Relay) Origin() string { return r.origin }

// Start subscribes to the local firehose and the shared Redis channel
// and begins relaying in both directions.
func (r *Relay) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.pubsub = r.client.Subscribe(ctx, r.channel)
	// Force the subscription to be established before returning.
	if _, err := r.pubsub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}

	local := r.broker.Subscribe(r.subscriberID(), feed.TopicFirehose)

	r.wg.Add(2)
	go r.publishLoop(runCtx, local)
	go r.replayLoop(runCtx)

	r.logger.Info("feed relay started",
		slog.String("origin", r.origin),
		slog.String("channel", r.channel),
	)
	return nil
}

// Stop tears down both relay directions.
func (r *Relay) Stop(_ context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	r.broker.RemoveSubscriber(r.subscriberID())
	r.wg.Wait()
	r.logger.Info("feed relay stopped", slog.String("origin", r.origin))
	return nil
}

func (r *Relay) subscriberID() string { return "relay:" + r.origin }

// publishLoop forwards local firehose events to the shared channel.
func (r *Relay) publishLoop(ctx context.Context, local *feed.Subscriber) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-local.C():
			if !ok {
				return
			}
			data, err := msgpack.Marshal(envelope{Origin: r.origin, Event: *evt})
			if err != nil {
				r.logger.Warn("relay: marshal event", "error", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
				r.logger.Warn("relay: publish event",
					"job_id", evt.JobID,
					"error", err,
				)
			}
		}
	}
}

// replayLoop injects events from other nodes into the local broker.
func (r *Relay) replayLoop(ctx context.Context) {
	defer r.wg.Done()
	ch := r.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("relay: malformed envelope", "error", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			env.Event.Topic = feed.JobTopic(env.Event.JobID)
			r.broker.Relay(&env.Event)
		}
	}
}
