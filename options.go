package dispatch

import (
	"context"
	"log/slog"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// Storer is the minimal store interface held by the Dispatcher. It covers
// lifecycle operations only; the full composite interface (store.Store) is
// used in subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runner is the lifecycle contract for background subsystems the engine
// attaches to the Dispatcher: the feed broker, the stale-acceptance
// sweeper, the notification dispatcher.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Dispatcher is the central handle for the dispatch core. It owns
// configuration, the structured logger, and the store, and drives the
// lifecycle of runner subsystems attached by the engine package.
//
// Create one with New() and functional options, then wire subsystems with
// engine.Build.
type Dispatcher struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	runners []Runner

	started bool
}

// New creates a new Dispatcher with the given options.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Store returns the dispatcher's store.
func (d *Dispatcher) Store() Storer { return d.store }

// Config returns a copy of the dispatcher's configuration.
func (d *Dispatcher) Config() Config { return d.config }

// AttachRunner registers a background subsystem whose lifecycle follows the
// Dispatcher's (called by the engine package). Runners start in attachment
// order and stop in reverse.
func (d *Dispatcher) AttachRunner(r Runner) { d.runners = append(d.runners, r) }

// Start launches all attached runner subsystems.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.store == nil {
		return ErrNoStore
	}
	for _, r := range d.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	d.started = true
	return nil
}

// Stop gracefully shuts down runners in reverse order, then the store.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.started {
		for i := len(d.runners) - 1; i >= 0; i-- {
			if err := d.runners[i].Stop(ctx); err != nil {
				d.logger.Error("runner stop error", "error", err)
			}
		}
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) error {
		d.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		d.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the dispatcher.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds the job store interface.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
