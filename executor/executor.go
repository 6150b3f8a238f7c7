// Package executor runs the termination workflow over a batch of instances.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/decom/internal/i18n"
	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/wal"
)

// Engine fans a batch out to a bounded pool of workers
type Engine struct {
	terminator InstanceTerminator
	options    Options
	logger     *telemetry.Logger
	journal    Journal
	recorder   Recorder
	tracer     trace.Tracer
}

// NewEngine creates a new executor engine
func NewEngine(terminator InstanceTerminator, options Options, logger *telemetry.Logger) *Engine {
	if options.MaxConcurrency <= 0 {
		options.MaxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Engine{
		terminator: terminator,
		options:    options,
		logger:     logger,
		journal:    nopJournal{},
		recorder:   nopRecorder{},
		tracer:     otel.Tracer("github.com/yairfalse/decom/executor"),
	}
}

// WithJournal sets where batch boundaries are recorded
func (e *Engine) WithJournal(j Journal) *Engine {
	if j != nil {
		e.journal = j
	}
	return e
}

// WithRecorder sets the metrics sink
func (e *Engine) WithRecorder(r Recorder) *Engine {
	if r != nil {
		e.recorder = r
	}
	return e
}

// Run decommissions every instance in instanceIDs using at most
// MaxConcurrency workers. A failing instance never aborts the batch.
// Instances not yet started when ctx is cancelled are reported as skipped.
func (e *Engine) Run(ctx context.Context, instanceIDs []string) *BatchResult {
	ctx, span := e.tracer.Start(ctx, "executor.Run", trace.WithAttributes(
		attribute.Int("batch.total", len(instanceIDs)),
		attribute.Int("batch.max_concurrency", e.options.MaxConcurrency),
	))
	defer span.End()

	result := &BatchResult{
		RunID:     e.options.RunID,
		StartTime: time.Now(),
		Total:     len(instanceIDs),
		Results:   make([]InstanceResult, len(instanceIDs)),
	}

	e.append(wal.EntryBatchStart, "", batchStart{
		Total:          len(instanceIDs),
		MaxConcurrency: e.options.MaxConcurrency,
	})

	g := new(errgroup.Group)
	g.SetLimit(e.options.MaxConcurrency)

	for i, id := range instanceIDs {
		if err := ctx.Err(); err != nil {
			result.Results[i] = e.skipResult(id, err)
			continue
		}
		g.Go(func() error {
			result.Results[i] = e.runOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	e.summarize(result)

	for _, r := range result.Results {
		e.recorder.RecordOutcome(ctx, string(r.Status))
	}
	e.recorder.RecordBatch(ctx, result.Duration, result.Total)

	e.append(wal.EntryBatchDone, "", batchDone{
		Total:     result.Total,
		Attempted: result.Attempted,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Skipped:   result.Skipped,
		Duration:  result.Duration,
	})

	if result.Skipped > 0 {
		e.logger.WithContext(ctx).Warn().
			Int("skipped", result.Skipped).
			Msg(e.logger.T(i18n.Cancelled))
	}

	span.SetAttributes(
		attribute.Int("batch.attempted", result.Attempted),
		attribute.Int("batch.succeeded", result.Succeeded),
	)
	return result
}

func (e *Engine) runOne(ctx context.Context, instanceID string) (res InstanceResult) {
	// The pool slot may free up after cancellation.
	if err := ctx.Err(); err != nil {
		return e.skipResult(instanceID, err)
	}

	res = InstanceResult{InstanceID: instanceID, StartTime: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			e.logger.WithContext(ctx).Error().
				Err(err).
				Str("instance_id", instanceID).
				Msg(e.logger.T(i18n.ProcessingFailed, instanceID))
			res = e.failResult(res, err)
		}
	}()

	out := e.terminator.Terminate(ctx, instanceID)

	res.Final = out.Final
	res.StopIssued = out.StopIssued
	res.Value = out.Value()
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	if res.Value == 1 {
		res.Status = StatusSuccess
		return res
	}
	res.Status = StatusFailed
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res
}

// summarize counts outcomes after every worker has joined.
func (e *Engine) summarize(result *BatchResult) {
	for _, r := range result.Results {
		result.Succeeded += r.Value
		switch r.Status {
		case StatusFailed:
			result.Failed++
		case StatusSkipped:
			result.Skipped++
		}
	}
	result.Attempted = result.Total - result.Skipped
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.PartialFailure = result.Failed > 0 || result.Skipped > 0
}

func (e *Engine) skipResult(instanceID string, cause error) InstanceResult {
	now := time.Now()
	e.append(wal.EntrySkipped, instanceID, skipped{Reason: cause.Error()})
	return InstanceResult{
		InstanceID: instanceID,
		Status:     StatusSkipped,
		StartTime:  now,
		EndTime:    now,
		SkipReason: cause.Error(),
	}
}

func (e *Engine) failResult(result InstanceResult, err error) InstanceResult {
	result.Status = StatusFailed
	result.Value = 0
	result.Error = err.Error()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	return result
}

func (e *Engine) append(entryType wal.EntryType, instanceID string, data interface{}) {
	if err := e.journal.Append(entryType, instanceID, data); err != nil {
		e.logger.Warn().Err(err).Str("entry", string(entryType)).Msg("failed to write journal entry")
	}
}

type nopJournal struct{}

func (nopJournal) Append(wal.EntryType, string, interface{}) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordOutcome(context.Context, string) {}

func (nopRecorder) RecordBatch(context.Context, time.Duration, int) {}
