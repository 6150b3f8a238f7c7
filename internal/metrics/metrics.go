// Package metrics defines the OTEL instruments recorded during a batch.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds decommissioning instruments using OTEL semantic conventions
type Metrics struct {
	apiCalls      metric.Int64Counter
	apiDuration   metric.Float64Histogram
	outcomes      metric.Int64Counter
	pollRounds    metric.Int64Counter
	batchDuration metric.Float64Histogram
	batchSize     metric.Int64Gauge
}

// New creates the instruments from provider, or the global provider when nil
func New(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/yairfalse/decom")

	apiCalls, err := meter.Int64Counter(
		"decom.api.calls",
		metric.WithDescription("Number of signed API requests sent"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	apiDuration, err := meter.Float64Histogram(
		"decom.api.duration",
		metric.WithDescription("Round-trip duration of API requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	outcomes, err := meter.Int64Counter(
		"decom.instances.outcome",
		metric.WithDescription("Per-instance termination outcomes"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	pollRounds, err := meter.Int64Counter(
		"decom.poll.iterations",
		metric.WithDescription("Poll rounds spent waiting for an instance to leave a state"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram(
		"decom.batch.duration",
		metric.WithDescription("Duration of a whole batch"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	batchSize, err := meter.Int64Gauge(
		"decom.batch.instances",
		metric.WithDescription("Instances targeted by the last batch"),
		metric.WithUnit("{instance}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		apiCalls:      apiCalls,
		apiDuration:   apiDuration,
		outcomes:      outcomes,
		pollRounds:    pollRounds,
		batchDuration: batchDuration,
		batchSize:     batchSize,
	}, nil
}

// RecordAPICall records one API request with its HTTP status
func (m *Metrics) RecordAPICall(ctx context.Context, action, status string, d time.Duration) {
	m.apiCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
	m.apiDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("action", action),
	))
}

// RecordPoll records one poll round for state
func (m *Metrics) RecordPoll(ctx context.Context, state string) {
	m.pollRounds.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordOutcome records a per-instance outcome (success, failed, skipped)
func (m *Metrics) RecordOutcome(ctx context.Context, outcome string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBatch records batch size and duration
func (m *Metrics) RecordBatch(ctx context.Context, d time.Duration, total int) {
	m.batchDuration.Record(ctx, d.Seconds())
	m.batchSize.Record(ctx, int64(total))
}
