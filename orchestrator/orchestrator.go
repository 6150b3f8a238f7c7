// Package orchestrator drives a single instance through stop, wait and terminate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/decom/internal/cloudhosting"
	"github.com/yairfalse/decom/internal/i18n"
	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/wal"
)

// Terminator decommissions instances one at a time. A single Terminator
// may be shared across goroutines.
type Terminator struct {
	api       API
	inventory Inventory
	config    Config
	logger    *telemetry.Logger
	journal   Journal
	recorder  PollRecorder
	tracer    trace.Tracer
}

// NewTerminator creates a terminator
func NewTerminator(api API, inventory Inventory, config Config, logger *telemetry.Logger) *Terminator {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Terminator{
		api:       api,
		inventory: inventory,
		config:    config,
		logger:    logger,
		journal:   nopJournal{},
		recorder:  nopRecorder{},
		tracer:    otel.Tracer("github.com/yairfalse/decom/orchestrator"),
	}
}

// WithJournal sets where state transitions are recorded
func (t *Terminator) WithJournal(j Journal) *Terminator {
	if j != nil {
		t.journal = j
	}
	return t
}

// WithPollRecorder sets the poll metrics sink
func (t *Terminator) WithPollRecorder(r PollRecorder) *Terminator {
	if r != nil {
		t.recorder = r
	}
	return t
}

// Terminate stops instanceID if it is running, waits until it is neither
// running nor pending, then requests termination. It never panics and
// never returns an error; failures are reported in the Result.
func (t *Terminator) Terminate(ctx context.Context, instanceID string) (res Result) {
	ctx, span := t.tracer.Start(ctx, "orchestrator.Terminate",
		trace.WithAttributes(attribute.String("instance.id", instanceID)))
	defer span.End()

	res = Result{InstanceID: instanceID, Initial: StateUnknown, StartTime: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			res.Err = &OrchestrationError{
				InstanceID: instanceID,
				Step:       res.step,
				Err:        fmt.Errorf("panic: %v", r),
			}
		}
		t.finish(ctx, span, &res)
	}()

	res.Err = t.run(ctx, instanceID, &res)
	return res
}

func (t *Terminator) run(ctx context.Context, instanceID string, res *Result) error {
	// 1. Observe
	res.step = StepObserve
	running := t.inventory.ListInstances(ctx, instanceID, cloudhosting.StateRunning, cloudhosting.WithStatusLog())
	if err := ctx.Err(); err != nil {
		return &OrchestrationError{InstanceID: instanceID, Step: StepObserve, Err: err}
	}

	if len(running) > 0 {
		res.Initial = StateRunning
		t.record(wal.EntryObserved, instanceID, StateRunning)

		// 2. Stop
		res.step = StepStop
		t.record(wal.EntryStopping, instanceID, StateRunning)
		t.logger.WithContext(ctx).Info().
			Str("instance_id", instanceID).
			Str("action", cloudhosting.ActionStopInstances).
			Msg(t.logger.T(i18n.RequestSending, instanceID, t.logger.T(i18n.ActionStop)))
		accepted, err := t.api.Stop(ctx, instanceID)
		if err != nil && !isProviderError(err) {
			return &OrchestrationError{InstanceID: instanceID, Step: StepStop, Err: err}
		}
		res.StopIssued = true
		// A rejected stop is only logged; the wait below still runs.
		t.logger.LogRequest(ctx, instanceID, cloudhosting.ActionStopInstances, i18n.ActionStop, accepted)
	} else {
		res.Initial = StateStopped
		t.record(wal.EntryObserved, instanceID, StateStopped)
	}

	// 3. Wait
	res.step = StepWait
	t.logger.WithContext(ctx).Info().
		Str("instance_id", instanceID).
		Msg(t.logger.T(i18n.StopCheck, instanceID))

	waitCtx := ctx
	if t.config.PollTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.config.PollTimeout)
		defer cancel()
	}
	for _, state := range []cloudhosting.State{cloudhosting.StateRunning, cloudhosting.StatePending} {
		if err := t.waitWhile(waitCtx, instanceID, state); err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %s", ErrPollTimeout, t.config.PollTimeout)
			}
			return &OrchestrationError{InstanceID: instanceID, Step: StepWait, Err: err}
		}
	}

	// 4. Terminate
	res.step = StepTerminate
	if err := ctx.Err(); err != nil {
		return &OrchestrationError{InstanceID: instanceID, Step: StepTerminate, Err: err}
	}
	t.record(wal.EntryTerminating, instanceID, StateStopped)
	accepted, err := t.api.Terminate(ctx, instanceID)
	if err != nil && !isProviderError(err) {
		return &OrchestrationError{InstanceID: instanceID, Step: StepTerminate, Err: err}
	}
	res.Accepted = accepted
	t.logger.LogRequest(ctx, instanceID, cloudhosting.ActionTerminateInstances, i18n.ActionTerminate, accepted)
	if !accepted {
		cause := ErrTerminateRejected
		if err != nil {
			cause = fmt.Errorf("%w: %w", ErrTerminateRejected, err)
		}
		return &OrchestrationError{InstanceID: instanceID, Step: StepTerminate, Err: cause}
	}
	return nil
}

// waitWhile polls until instanceID is no longer reported in state.
func (t *Terminator) waitWhile(ctx context.Context, instanceID string, state cloudhosting.State) error {
	t.record(wal.EntryWaiting, instanceID, State(state))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		t.recorder.RecordPoll(ctx, string(state))
		ids := t.inventory.ListInstances(ctx, instanceID, state)
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		for _, id := range ids {
			t.logger.LogInstanceStatus(ctx, id, string(state))
		}
		timer.Reset(t.config.PollInterval)
	}
}

func (t *Terminator) finish(ctx context.Context, span trace.Span, res *Result) {
	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)

	if res.Err == nil {
		res.Final = StateTerminated
		t.record(wal.EntryTerminated, res.InstanceID, StateTerminated)
		span.SetAttributes(attribute.String("instance.final_state", string(res.Final)))
		return
	}

	res.Final = StateFailed
	_ = t.journal.AppendError(wal.EntryFailed, res.InstanceID, transition{State: StateFailed}, res.Err)
	span.RecordError(res.Err)
	span.SetStatus(codes.Error, res.Err.Error())
	span.SetAttributes(attribute.String("instance.final_state", string(res.Final)))

	// Rejections were already reported by LogRequest.
	if errors.Is(res.Err, ErrTerminateRejected) {
		return
	}
	t.logger.WithContext(ctx).Error().
		Err(res.Err).
		Str("instance_id", res.InstanceID).
		Msg(t.logger.T(i18n.ProcessingFailed, res.InstanceID))
}

func (t *Terminator) record(entryType wal.EntryType, instanceID string, state State) {
	if err := t.journal.Append(entryType, instanceID, transition{State: state}); err != nil {
		t.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("failed to write journal entry")
	}
}

func isProviderError(err error) bool {
	var pe *cloudhosting.ProviderError
	return errors.As(err, &pe)
}

type nopJournal struct{}

func (nopJournal) Append(wal.EntryType, string, interface{}) error { return nil }

func (nopJournal) AppendError(wal.EntryType, string, interface{}, error) error { return nil }

type nopRecorder struct{}

func (nopRecorder) RecordPoll(context.Context, string) {}
