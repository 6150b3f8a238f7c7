package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/yairfalse/decom/internal/cloudhosting"
	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/wal"
)

// fakeAPI records the order of mutating calls
type fakeAPI struct {
	mu           sync.Mutex
	calls        []string
	stopAccepted bool
	stopErr      error
	termAccepted bool
	termErr      error
	panicOn      string
}

func (f *fakeAPI) Stop(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "stop:"+id)
	f.mu.Unlock()
	if f.panicOn == "stop" {
		panic("boom")
	}
	return f.stopAccepted, f.stopErr
}

func (f *fakeAPI) Terminate(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "terminate:"+id)
	f.mu.Unlock()
	return f.termAccepted, f.termErr
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeInventory answers each state query from a script. Once a script is
// exhausted the instance is no longer reported in that state.
type fakeInventory struct {
	mu      sync.Mutex
	scripts map[cloudhosting.State][]bool
	queries []cloudhosting.State
	onQuery func()
}

func (f *fakeInventory) ListInstances(_ context.Context, id string, filter cloudhosting.State, _ ...cloudhosting.QueryOption) []string {
	f.mu.Lock()
	f.queries = append(f.queries, filter)
	var present bool
	if script := f.scripts[filter]; len(script) > 0 {
		present = script[0]
		f.scripts[filter] = script[1:]
	}
	hook := f.onQuery
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if present {
		return []string{id}
	}
	return nil
}

func (f *fakeInventory) Queries() []cloudhosting.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloudhosting.State(nil), f.queries...)
}

type memJournal struct {
	mu      sync.Mutex
	entries []wal.EntryType
}

func (j *memJournal) Append(entryType wal.EntryType, _ string, _ interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entryType)
	return nil
}

func (j *memJournal) AppendError(entryType wal.EntryType, id string, data interface{}, _ error) error {
	return j.Append(entryType, id, data)
}

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond}
}

func newTestTerminator(api API, inv Inventory, cfg Config) (*Terminator, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := telemetry.NewLogger("decom-test", &buf, language.English)
	return NewTerminator(api, inv, cfg, logger), &buf
}

func TestTerminate_RunningInstanceStopsBeforeTerminate(t *testing.T) {
	api := &fakeAPI{stopAccepted: true, termAccepted: true}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{
		// observe, then two polls while stopping
		cloudhosting.StateRunning: {true, true, true},
		cloudhosting.StatePending: {true},
	}}
	journal := &memJournal{}
	term, logs := newTestTerminator(api, inv, fastConfig())
	term.WithJournal(journal)

	res := term.Terminate(context.Background(), "i-1")

	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Value())
	assert.Equal(t, StateRunning, res.Initial)
	assert.Equal(t, StateTerminated, res.Final)
	assert.True(t, res.StopIssued)
	assert.Equal(t, []string{"stop:i-1", "terminate:i-1"}, api.Calls())

	// terminate only after running and then pending were both empty
	assert.Equal(t, []cloudhosting.State{
		cloudhosting.StateRunning,
		cloudhosting.StateRunning, cloudhosting.StateRunning, cloudhosting.StateRunning,
		cloudhosting.StatePending, cloudhosting.StatePending,
	}, inv.Queries())

	assert.Equal(t, []wal.EntryType{
		wal.EntryObserved, wal.EntryStopping,
		wal.EntryWaiting, wal.EntryWaiting,
		wal.EntryTerminating, wal.EntryTerminated,
	}, journal.entries)

	out := logs.String()
	sending := strings.Index(out, "sending stop request for instance i-1")
	accepted := strings.Index(out, "stop request for instance i-1 accepted")
	require.GreaterOrEqual(t, sending, 0)
	require.GreaterOrEqual(t, accepted, 0)
	assert.Less(t, sending, accepted)
}

func TestTerminate_StoppedInstanceSkipsStop(t *testing.T) {
	api := &fakeAPI{termAccepted: true}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{}}
	term, _ := newTestTerminator(api, inv, fastConfig())

	res := term.Terminate(context.Background(), "i-2")

	assert.Equal(t, 1, res.Value())
	assert.Equal(t, StateStopped, res.Initial)
	assert.False(t, res.StopIssued)
	assert.Equal(t, []string{"terminate:i-2"}, api.Calls())
}

func TestTerminate_RejectedStopStillWaits(t *testing.T) {
	api := &fakeAPI{
		stopErr:      &cloudhosting.ProviderError{Action: "StopInstances", Code: "IncorrectInstanceState"},
		termAccepted: true,
	}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{
		cloudhosting.StateRunning: {true, true},
	}}
	term, buf := newTestTerminator(api, inv, fastConfig())

	res := term.Terminate(context.Background(), "i-3")

	assert.Equal(t, 1, res.Value())
	assert.Equal(t, []string{"stop:i-3", "terminate:i-3"}, api.Calls())
	assert.Contains(t, buf.String(), "stop request for instance i-3 failed")
}

func TestTerminate_StopTransportErrorFails(t *testing.T) {
	api := &fakeAPI{stopErr: &cloudhosting.TransportError{Action: "StopInstances", Err: errors.New("connection reset")}}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{
		cloudhosting.StateRunning: {true},
	}}
	term, buf := newTestTerminator(api, inv, fastConfig())

	res := term.Terminate(context.Background(), "i-4")

	assert.Equal(t, 0, res.Value())
	assert.Equal(t, StateFailed, res.Final)

	var oe *OrchestrationError
	require.ErrorAs(t, res.Err, &oe)
	assert.Equal(t, StepStop, oe.Step)
	assert.Equal(t, []string{"stop:i-4"}, api.Calls())
	assert.Contains(t, buf.String(), "error while processing instance i-4")
}

func TestTerminate_TerminateRejected(t *testing.T) {
	api := &fakeAPI{termAccepted: false}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{}}
	term, buf := newTestTerminator(api, inv, fastConfig())

	res := term.Terminate(context.Background(), "i-5")

	assert.Equal(t, 0, res.Value())
	assert.False(t, res.Accepted)
	assert.ErrorIs(t, res.Err, ErrTerminateRejected)
	assert.Contains(t, buf.String(), "delete request for instance i-5 failed")
	assert.NotContains(t, buf.String(), "error while processing")
}

func TestTerminate_TerminateProviderErrorIsRejection(t *testing.T) {
	pe := &cloudhosting.ProviderError{Action: "TerminateInstances", Code: "IncorrectInstanceState"}
	api := &fakeAPI{termErr: pe}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{}}
	term, _ := newTestTerminator(api, inv, fastConfig())

	res := term.Terminate(context.Background(), "i-6")

	assert.Equal(t, 0, res.Value())
	assert.ErrorIs(t, res.Err, ErrTerminateRejected)

	var got *cloudhosting.ProviderError
	require.ErrorAs(t, res.Err, &got)
	assert.Equal(t, "IncorrectInstanceState", got.Code)
}

func TestTerminate_PollTimeout(t *testing.T) {
	api := &fakeAPI{stopAccepted: true, termAccepted: true}
	stuck := make([]bool, 10000)
	for i := range stuck {
		stuck[i] = true
	}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{
		cloudhosting.StateRunning: stuck,
	}}
	term, _ := newTestTerminator(api, inv, Config{PollInterval: time.Millisecond, PollTimeout: 20 * time.Millisecond})

	res := term.Terminate(context.Background(), "i-7")

	assert.Equal(t, 0, res.Value())
	assert.ErrorIs(t, res.Err, ErrPollTimeout)
	assert.Equal(t, []string{"stop:i-7"}, api.Calls())
}

func TestTerminate_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeAPI{stopAccepted: true, termAccepted: true}
	polls := 0
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{
		cloudhosting.StateRunning: {true, true, true, true, true},
	}}
	inv.onQuery = func() {
		polls++
		if polls == 3 {
			cancel()
		}
	}
	term, _ := newTestTerminator(api, inv, fastConfig())

	res := term.Terminate(ctx, "i-8")

	assert.Equal(t, 0, res.Value())
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, []string{"stop:i-8"}, api.Calls())
}

func TestTerminate_PanicBecomesFailure(t *testing.T) {
	api := &fakeAPI{panicOn: "stop"}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{
		cloudhosting.StateRunning: {true},
	}}
	journal := &memJournal{}
	term, buf := newTestTerminator(api, inv, fastConfig())
	term.WithJournal(journal)

	var res Result
	require.NotPanics(t, func() {
		res = term.Terminate(context.Background(), "i-9")
	})

	assert.Equal(t, StateFailed, res.Final)
	var oe *OrchestrationError
	require.ErrorAs(t, res.Err, &oe)
	assert.Equal(t, StepStop, oe.Step)
	assert.Contains(t, oe.Error(), "panic: boom")
	assert.Contains(t, buf.String(), "error while processing instance i-9")
	assert.Equal(t, wal.EntryFailed, journal.entries[len(journal.entries)-1])
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) RecordPoll(_ context.Context, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[state]++
}

func TestTerminate_RecordsPolls(t *testing.T) {
	api := &fakeAPI{stopAccepted: true, termAccepted: true}
	inv := &fakeInventory{scripts: map[cloudhosting.State][]bool{
		cloudhosting.StateRunning: {true, true},
	}}
	rec := &countingRecorder{counts: map[string]int{}}
	term, _ := newTestTerminator(api, inv, fastConfig())
	term.WithPollRecorder(rec)

	term.Terminate(context.Background(), "i-10")

	assert.Equal(t, 2, rec.counts["running"])
	assert.Equal(t, 1, rec.counts["pending"])
}

func TestNewTerminator_Defaults(t *testing.T) {
	term := NewTerminator(&fakeAPI{}, &fakeInventory{}, Config{}, nil)
	assert.Equal(t, DefaultPollInterval, term.config.PollInterval)
	assert.NotNil(t, term.logger)
}
