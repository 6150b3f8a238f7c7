package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yairfalse/decom/internal/cloudhosting"
	"github.com/yairfalse/decom/wal"
)

// State is where an instance is in the decommissioning state machine
type State string

const (
	StateUnknown    State = "unknown"
	StateRunning    State = "running"
	StatePending    State = "pending"
	StateStopped    State = "stopped"
	StateTerminated State = "terminated"
	StateFailed     State = "failed"
)

// Step names the phase an error happened in
type Step string

const (
	StepObserve   Step = "observe"
	StepStop      Step = "stop"
	StepWait      Step = "wait"
	StepTerminate Step = "terminate"
)

var (
	// ErrPollTimeout is returned when PollTimeout elapses while waiting
	ErrPollTimeout = errors.New("timed out waiting for instance to stop")
	// ErrTerminateRejected is returned when the terminate request is not accepted
	ErrTerminateRejected = errors.New("terminate request rejected")
)

// OrchestrationError wraps any failure while driving one instance
type OrchestrationError struct {
	InstanceID string
	Step       Step
	Err        error
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("instance %s: %s: %v", e.InstanceID, e.Step, e.Err)
}

func (e *OrchestrationError) Unwrap() error { return e.Err }

// Result is the outcome of decommissioning one instance
type Result struct {
	InstanceID string        `json:"instance_id"`
	Initial    State         `json:"initial"`
	Final      State         `json:"final"`
	StopIssued bool          `json:"stop_issued"`
	Accepted   bool          `json:"accepted"`
	Err        error         `json:"-"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`

	step Step
}

// Succeeded reports whether the terminate request was accepted. This does
// not confirm the instance is gone.
func (r Result) Succeeded() bool {
	return r.Final == StateTerminated
}

// Value is 1 for success and 0 otherwise, for summing across a batch
func (r Result) Value() int {
	if r.Succeeded() {
		return 1
	}
	return 0
}

// API is the set of mutating calls the orchestrator issues
type API interface {
	Stop(ctx context.Context, instanceID string) (bool, error)
	Terminate(ctx context.Context, instanceID string) (bool, error)
}

// Inventory reports which instances are in a given state
type Inventory interface {
	ListInstances(ctx context.Context, instanceID string, filter cloudhosting.State, opts ...cloudhosting.QueryOption) []string
}

// Journal records state transitions
type Journal interface {
	Append(entryType wal.EntryType, instanceID string, data interface{}) error
	AppendError(entryType wal.EntryType, instanceID string, data interface{}, err error) error
}

// PollRecorder counts poll rounds
type PollRecorder interface {
	RecordPoll(ctx context.Context, state string)
}

// DefaultPollInterval is the wait between state checks
const DefaultPollInterval = 10 * time.Second

// Config tunes the wait loop. A zero PollTimeout waits forever.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

type transition struct {
	State State `json:"state"`
}
