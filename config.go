package dispatch

import "time"

// Config holds configuration for the Dispatcher.
type Config struct {
	// AcceptDeadline is how long an accepted job may sit without the
	// contractor starting work before the sweeper releases it back to the
	// open pool. Zero disables sweeping.
	AcceptDeadline time.Duration

	// SweepSchedule is the cron expression driving the stale-acceptance
	// sweep. Supports standard 5-field cron and descriptors like
	// "@every 5m".
	SweepSchedule string

	// FeedBufferSize is the per-subscriber change buffer on the feed broker.
	FeedBufferSize int

	// FeedCredits is the initial flow-control credit grant for new feed
	// subscribers.
	FeedCredits int64

	// PageSize is the default page size for bucket and pool listings.
	PageSize int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AcceptDeadline:  48 * time.Hour,
		SweepSchedule:   "@every 5m",
		FeedBufferSize:  256,
		FeedCredits:     1000,
		PageSize:        20,
		ShutdownTimeout: 30 * time.Second,
	}
}
