// Package obs records lifecycle metrics through OpenTelemetry. Register
// the extension against the hook registry and every committed transition
// increments a counter; acceptance latency lands in a histogram so the
// marketplace can watch how long landlords wait for a contractor.
package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/propagentic/dispatch/hook"
	"github.com/propagentic/dispatch/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension        = (*MetricsExtension)(nil)
	_ hook.JobCreated       = (*MetricsExtension)(nil)
	_ hook.JobAccepted      = (*MetricsExtension)(nil)
	_ hook.JobDeclined      = (*MetricsExtension)(nil)
	_ hook.JobCancelled     = (*MetricsExtension)(nil)
	_ hook.JobStarted       = (*MetricsExtension)(nil)
	_ hook.JobBlocked       = (*MetricsExtension)(nil)
	_ hook.JobResumed       = (*MetricsExtension)(nil)
	_ hook.JobCompleted     = (*MetricsExtension)(nil)
	_ hook.ProgressAppended = (*MetricsExtension)(nil)
)

const meterName = "github.com/propagentic/dispatch/obs"

// MetricsExtension records job lifecycle metrics.
type MetricsExtension struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	progress    metric.Int64Counter

	// timeToAccept measures job creation to winning acceptance.
	timeToAccept metric.Float64Histogram
	// timeToComplete measures job creation to completion.
	timeToComplete metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global meter
// provider.
func NewMetricsExtension() (*MetricsExtension, error) {
	return NewMetricsExtensionWithProvider(otel.GetMeterProvider())
}

// NewMetricsExtensionWithProvider creates a MetricsExtension with the
// provided meter provider. Use an sdk/metric reader-backed provider in
// tests.
func NewMetricsExtensionWithProvider(mp metric.MeterProvider) (*MetricsExtension, error) {
	meter := mp.Meter(meterName)
	m := &MetricsExtension{}

	var err error
	if m.created, err = meter.Int64Counter("dispatch.job.created",
		metric.WithDescription("Jobs posted")); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.transitions, err = meter.Int64Counter("dispatch.job.transitions",
		metric.WithDescription("Committed lifecycle transitions by kind")); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.progress, err = meter.Int64Counter("dispatch.progress.appended",
		metric.WithDescription("Progress entries appended")); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.timeToAccept, err = meter.Float64Histogram("dispatch.job.time_to_accept",
		metric.WithDescription("Seconds from posting to acceptance"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	if m.timeToComplete, err = meter.Float64Histogram("dispatch.job.time_to_complete",
		metric.WithDescription("Seconds from posting to completion"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("obs: %w", err)
	}
	return m, nil
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) count(ctx context.Context, change job.StatusChange) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(change.Kind)),
	))
}

// ── Job lifecycle hooks ─────────────────────────────

func (m *MetricsExtension) OnJobCreated(ctx context.Context, j *job.Job) error {
	m.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("priority", string(j.Priority)),
	))
	return nil
}

func (m *MetricsExtension) OnJobAccepted(ctx context.Context, j *job.Job, change job.StatusChange) error {
	m.count(ctx, change)
	m.timeToAccept.Record(ctx, change.At.Sub(j.CreatedAt).Seconds())
	return nil
}

func (m *MetricsExtension) OnJobDeclined(ctx context.Context, _ *job.Job, change job.StatusChange) error {
	m.count(ctx, change)
	return nil
}

func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ *job.Job, change job.StatusChange) error {
	m.count(ctx, change)
	return nil
}

func (m *MetricsExtension) OnJobStarted(ctx context.Context, _ *job.Job, change job.StatusChange) error {
	m.count(ctx, change)
	return nil
}

func (m *MetricsExtension) OnJobBlocked(ctx context.Context, _ *job.Job, change job.StatusChange) error {
	m.count(ctx, change)
	return nil
}

func (m *MetricsExtension) OnJobResumed(ctx context.Context, _ *job.Job, change job.StatusChange) error {
	m.count(ctx, change)
	return nil
}

func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, change job.StatusChange) error {
	m.count(ctx, change)
	m.timeToComplete.Record(ctx, change.At.Sub(j.CreatedAt).Seconds())
	return nil
}

// ── Progress hooks ──────────────────────────────────

func (m *MetricsExtension) OnProgressAppended(ctx context.Context, _ *job.Job, _ job.ProgressEntry) error {
	m.progress.Add(ctx, 1)
	return nil
}
