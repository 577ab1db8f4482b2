// Package engine wires all dispatch subsystems together: the hook
// registry, the change-feed broker, the assignment coordinator, the
// progress log, the bucket categorizer, notifications, metrics, and the
// stale-acceptance sweeper.
//
// This package exists to break the import cycle: the root dispatch package
// defines Entity (imported by job, media, etc.) and so cannot import those
// packages back. The engine package sits above all subsystem packages and
// below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/assign"
	"github.com/propagentic/dispatch/bucket"
	"github.com/propagentic/dispatch/feed"
	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
	"github.com/propagentic/dispatch/media"
	"github.com/propagentic/dispatch/notify"
	"github.com/propagentic/dispatch/obs"
	"github.com/propagentic/dispatch/progress"
	"github.com/propagentic/dispatch/relay"
	"github.com/propagentic/dispatch/sweep"
)

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d      *dispatch.Dispatcher
	hooks  *hook.Registry
	logger *slog.Logger

	jobStore job.Store
	files    media.Registry

	broker   *feed.Broker
	coord    *assign.Coordinator
	progress *progress.Log
	buckets  *bucket.Categorizer
	sweeper  *sweep.Sweeper

	// Options collected before wiring.
	extensions    []hook.Extension
	notifier      notify.Notifier
	notifyOpts    []notify.Option
	meterProvider metric.MeterProvider
	disableObs    bool
	relayClient   redis.UniversalClient
	relayOpts     []relay.Option
	relay         *relay.Relay
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers a hook extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.extensions = append(eng.extensions, e)
	}
}

// WithNotifier enables the notification fanout with the given delivery
// backend. Without it no notifications are sent.
func WithNotifier(n notify.Notifier, opts ...notify.Option) Option {
	return func(eng *Engine) {
		eng.notifier = n
		eng.notifyOpts = opts
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// extension. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithoutMetrics disables the built-in metrics extension.
func WithoutMetrics() Option {
	return func(eng *Engine) {
		eng.disableObs = true
	}
}

// WithRelay bridges the change feed to other dispatch nodes through
// Redis Pub/Sub. Subscribers on any node then observe events committed
// on every node.
func WithRelay(client redis.UniversalClient, opts ...relay.Option) Option {
	return func(eng *Engine) {
		eng.relayClient = client
		eng.relayOpts = opts
	}
}

// Build creates an Engine from an existing Dispatcher. The Dispatcher's
// store must implement job.Store and media.Registry.
func Build(d *dispatch.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	st := d.Store()

	if st == nil {
		return nil, dispatch.ErrNoStore
	}

	js, ok := st.(job.Store)
	if !ok {
		return nil, fmt.Errorf("dispatch: store does not implement job.Store")
	}
	files, ok := st.(media.Registry)
	if !ok {
		return nil, fmt.Errorf("dispatch: store does not implement media.Registry")
	}

	eng := &Engine{
		d:        d,
		hooks:    hook.NewRegistry(logger),
		logger:   logger,
		jobStore: js,
		files:    files,
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := d.Config()

	// The change-feed broker observes every committed transition.
	eng.broker = feed.NewBroker(logger,
		feed.WithBufferSize(config.FeedBufferSize),
		feed.WithDefaultCredits(config.FeedCredits),
	)
	eng.hooks.Register(eng.broker)

	// Metrics extension (custom provider or global).
	if !eng.disableObs {
		var (
			metrics *obs.MetricsExtension
			err     error
		)
		if eng.meterProvider != nil {
			metrics, err = obs.NewMetricsExtensionWithProvider(eng.meterProvider)
		} else {
			metrics, err = obs.NewMetricsExtension()
		}
		if err != nil {
			return nil, fmt.Errorf("dispatch: build metrics extension: %w", err)
		}
		eng.hooks.Register(metrics)
	}

	// Notification fanout, when a delivery backend is configured.
	if eng.notifier != nil {
		eng.hooks.Register(notify.NewFanout(eng.notifier, logger, eng.notifyOpts...))
	}

	for _, e := range eng.extensions {
		eng.hooks.Register(e)
	}

	eng.coord = assign.New(js, eng.hooks, logger)
	eng.progress = progress.New(js, files, eng.hooks, logger)
	eng.buckets = bucket.New(js, logger, bucket.WithPageSize(config.PageSize))

	// Cross-node feed relay, when a Redis client is configured.
	if eng.relayClient != nil {
		eng.relay = relay.New(eng.relayClient, eng.broker, eng.relayOpts...)
		d.AttachRunner(eng.relay)
	}

	// Stale-acceptance sweeper. AcceptDeadline zero disables it.
	if config.AcceptDeadline > 0 {
		sw, err := sweep.New(js, eng.hooks, logger, config.SweepSchedule, config.AcceptDeadline)
		if err != nil {
			return nil, fmt.Errorf("dispatch: build sweeper: %w", err)
		}
		eng.sweeper = sw
		d.AttachRunner(sw)
	}

	return eng, nil
}

// ── Job operations ──────────────────────────────────

// CreateJob posts a new maintenance job. The job starts pending acceptance
// in the open pool, or targeted at a contractor when job.WithContractor is
// given.
func (eng *Engine) CreateJob(ctx context.Context, landlordID id.LandlordID, title string, opts ...job.CreateOption) (*job.Job, error) {
	j, err := job.New(landlordID, title, opts...)
	if err != nil {
		return nil, err
	}
	if err := eng.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}

	eng.logger.Info("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("landlord_id", landlordID.String()),
		slog.String("priority", string(j.Priority)),
	)
	eng.hooks.EmitJobCreated(ctx, j)
	return j, nil
}

// GetJob returns a snapshot of the job.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// Accept claims a pending job for the contractor. Exactly one concurrent
// acceptor wins; losers get dispatch.ErrAlreadyAssigned.
func (eng *Engine) Accept(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return eng.coord.Accept(ctx, jobID, contractorID)
}

// Decline records the contractor's refusal of a pending job.
func (eng *Engine) Decline(ctx context.Context, jobID id.JobID, contractorID id.ContractorID, reason string) (*job.Job, error) {
	return eng.coord.Decline(ctx, jobID, contractorID, reason)
}

// Release returns the contractor's accepted job to the open pool.
func (eng *Engine) Release(ctx context.Context, jobID id.JobID, contractorID id.ContractorID, reason string) (*job.Job, error) {
	return eng.coord.Release(ctx, jobID, contractorID, reason)
}

// Cancel withdraws a pending job. Landlord only.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID, landlordID id.LandlordID, reason string) (*job.Job, error) {
	return eng.coord.Cancel(ctx, jobID, landlordID, reason)
}

// StartWork moves the contractor's accepted job into active work.
func (eng *Engine) StartWork(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return eng.coord.Start(ctx, jobID, contractorID)
}

// Block pauses active work on an obstacle.
func (eng *Engine) Block(ctx context.Context, jobID id.JobID, contractorID id.ContractorID, reason string) (*job.Job, error) {
	return eng.coord.Block(ctx, jobID, contractorID, reason)
}

// Resume unblocks a paused job.
func (eng *Engine) Resume(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return eng.coord.Resume(ctx, jobID, contractorID)
}

// Complete finishes the work. Repeat completions by the same contractor
// are no-ops returning the completed record.
func (eng *Engine) Complete(ctx context.Context, jobID id.JobID, contractorID id.ContractorID) (*job.Job, error) {
	return eng.coord.Complete(ctx, jobID, contractorID)
}

// AppendProgress records a progress update on the contractor's active job.
// An update at 100% completes the job in the same commit.
func (eng *Engine) AppendProgress(ctx context.Context, jobID id.JobID, authorID id.ContractorID, message string, percent int, mediaRefs []id.MediaID) (*job.Job, job.ProgressEntry, error) {
	return eng.progress.Append(ctx, jobID, authorID, message, percent, mediaRefs)
}

// ProgressEntries returns the job's progress log in append order.
func (eng *Engine) ProgressEntries(ctx context.Context, jobID id.JobID) ([]job.ProgressEntry, error) {
	return eng.progress.Entries(ctx, jobID)
}

// RegisterMedia records an uploaded attachment so progress entries can
// reference it.
func (eng *Engine) RegisterMedia(ctx context.Context, a media.Attachment) error {
	return eng.files.Register(ctx, a)
}

// ── Listings ────────────────────────────────────────

// ListBucket returns one page of the viewer's bucket.
func (eng *Engine) ListBucket(ctx context.Context, v bucket.Viewer, b bucket.Bucket, cursor string, limit int) (*bucket.Page, error) {
	return eng.buckets.List(ctx, v, b, cursor, limit)
}

// ListAvailable returns one page of the open pool as seen by a contractor.
func (eng *Engine) ListAvailable(ctx context.Context, contractorID id.ContractorID, cursor string, limit int) (*bucket.Page, error) {
	return eng.buckets.ListAvailable(ctx, contractorID, cursor, limit)
}

// ── Feed ────────────────────────────────────────────

// Subscribe creates a feed subscriber on the given topics.
func (eng *Engine) Subscribe(subscriberID string, topics ...string) (*feed.Subscriber, error) {
	for _, t := range topics {
		if err := feed.ValidateTopic(t); err != nil {
			return nil, err
		}
	}
	return eng.broker.Subscribe(subscriberID, topics...), nil
}

// Unsubscribe removes a subscriber from specific topics.
func (eng *Engine) Unsubscribe(subscriberID string, topics ...string) {
	eng.broker.Unsubscribe(subscriberID, topics...)
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (eng *Engine) RemoveSubscriber(subscriberID string) {
	eng.broker.RemoveSubscriber(subscriberID)
}

// ── Lifecycle ───────────────────────────────────────

// Start launches the attached background subsystems.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.d.Start(ctx)
}

// Stop shuts down extensions, then the runners and store.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.hooks.EmitShutdown(ctx)
	return eng.d.Stop(ctx)
}

// ── Accessors ───────────────────────────────────────

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Broker returns the change-feed broker.
func (eng *Engine) Broker() *feed.Broker { return eng.broker }

// Coordinator returns the assignment coordinator.
func (eng *Engine) Coordinator() *assign.Coordinator { return eng.coord }

// Progress returns the progress log service.
func (eng *Engine) Progress() *progress.Log { return eng.progress }

// Buckets returns the bucket categorizer.
func (eng *Engine) Buckets() *bucket.Categorizer { return eng.buckets }

// Sweeper returns the stale-acceptance sweeper, or nil when disabled.
func (eng *Engine) Sweeper() *sweep.Sweeper { return eng.sweeper }

// Relay returns the cross-node feed relay, nil unless WithRelay was given.
func (eng *Engine) Relay() *relay.Relay { return eng.relay }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *dispatch.Dispatcher { return eng.d }
