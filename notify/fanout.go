package notify

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension        = (*Fanout)(nil)
	_ hook.JobAccepted      = (*Fanout)(nil)
	_ hook.JobDeclined      = (*Fanout)(nil)
	_ hook.JobCancelled     = (*Fanout)(nil)
	_ hook.JobStarted       = (*Fanout)(nil)
	_ hook.JobBlocked       = (*Fanout)(nil)
	_ hook.JobResumed       = (*Fanout)(nil)
	_ hook.JobCompleted     = (*Fanout)(nil)
	_ hook.ProgressAppended = (*Fanout)(nil)
)

// DefaultRateLimit is the per-recipient sustained notification rate.
var DefaultRateLimit = rate.Limit(1) // one per second

// DefaultBurst is the per-recipient burst allowance.
const DefaultBurst = 5

// Fanout is a hook extension that routes committed lifecycle events to
// recipients through the Notifier. Each recipient has an independent
// token-bucket limiter; notifications over the limit are dropped with a
// log line, never queued, because stale maintenance pings have no value.
type Fanout struct {
	notifier Notifier
	logger   *slog.Logger

	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithRateLimit overrides the per-recipient rate and burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(f *Fanout) {
		f.limit = limit
		f.burst = burst
	}
}

// NewFanout builds the notification extension.
func NewFanout(notifier Notifier, logger *slog.Logger, opts ...Option) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{
		notifier: notifier,
		logger:   logger,
		limit:    DefaultRateLimit,
		burst:    DefaultBurst,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements hook.Extension.
func (f *Fanout) Name() string { return "notify-fanout" }

func (f *Fanout) limiterFor(recipient string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[recipient]
	if !ok {
		l = rate.NewLimiter(f.limit, f.burst)
		f.limiters[recipient] = l
	}
	return l
}

func (f *Fanout) deliver(ctx context.Context, batch []Notification) error {
	for _, n := range batch {
		if !f.limiterFor(n.Recipient.String()).Allow() {
			f.logger.Warn("notification rate limited",
				slog.String("recipient", n.Recipient.String()),
				slog.String("job_id", n.JobID.String()),
				slog.String("event", string(n.Event)),
			)
			continue
		}
		if err := f.notifier.Notify(ctx, n); err != nil {
			f.logger.Error("notification delivery failed",
				slog.String("recipient", n.Recipient.String()),
				slog.String("job_id", n.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (f *Fanout) onChange(ctx context.Context, j *job.Job, change job.StatusChange) error {
	return f.deliver(ctx, Build(j, change))
}

func (f *Fanout) OnJobAccepted(ctx context.Context, j *job.Job, c job.StatusChange) error {
	return f.onChange(ctx, j, c)
}

func (f *Fanout) OnJobDeclined(ctx context.Context, j *job.Job, c job.StatusChange) error {
	return f.onChange(ctx, j, c)
}

func (f *Fanout) OnJobCancelled(ctx context.Context, j *job.Job, c job.StatusChange) error {
	return f.onChange(ctx, j, c)
}

func (f *Fanout) OnJobStarted(ctx context.Context, j *job.Job, c job.StatusChange) error {
	return f.onChange(ctx, j, c)
}

func (f *Fanout) OnJobBlocked(ctx context.Context, j *job.Job, c job.StatusChange) error {
	return f.onChange(ctx, j, c)
}

func (f *Fanout) OnJobResumed(ctx context.Context, j *job.Job, c job.StatusChange) error {
	return f.onChange(ctx, j, c)
}

func (f *Fanout) OnJobCompleted(ctx context.Context, j *job.Job, c job.StatusChange) error {
	return f.onChange(ctx, j, c)
}

func (f *Fanout) OnProgressAppended(ctx context.Context, j *job.Job, entry job.ProgressEntry) error {
	return f.deliver(ctx, BuildProgress(j, entry))
}
