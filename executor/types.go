package executor

import (
	"context"
	"time"

	"github.com/yairfalse/decom/orchestrator"
	"github.com/yairfalse/decom/wal"
)

// BatchResult contains the outcome of decommissioning a list of instances
type BatchResult struct {
	RunID          string           `json:"run_id"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        time.Time        `json:"end_time"`
	Duration       time.Duration    `json:"duration"`
	Total          int              `json:"total"`
	Attempted      int              `json:"attempted"`
	Succeeded      int              `json:"succeeded"`
	Failed         int              `json:"failed"`
	Skipped        int              `json:"skipped"`
	Results        []InstanceResult `json:"results"`
	PartialFailure bool             `json:"partial_failure"`
}

// InstanceResult contains the outcome for a single instance
type InstanceResult struct {
	InstanceID string             `json:"instance_id"`
	Status     ExecutionStatus    `json:"status"`
	Final      orchestrator.State `json:"final_state,omitempty"`
	StopIssued bool               `json:"stop_issued"`
	Value      int                `json:"value"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
	Duration   time.Duration      `json:"duration"`
	Error      string             `json:"error,omitempty"`
	SkipReason string             `json:"skip_reason,omitempty"`
}

// ExecutionStatus tracks the status of one instance in the batch
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusSkipped ExecutionStatus = "skipped"
)

// DefaultMaxConcurrency is used when Options.MaxConcurrency is not positive
const DefaultMaxConcurrency = 1

// Options configure executor behavior
type Options struct {
	MaxConcurrency int    `json:"max_concurrency"`
	RunID          string `json:"run_id"`
}

// InstanceTerminator decommissions one instance
type InstanceTerminator interface {
	Terminate(ctx context.Context, instanceID string) orchestrator.Result
}

// Recorder receives per-instance outcomes and batch totals
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome string)
	RecordBatch(ctx context.Context, d time.Duration, total int)
}

// Journal records batch boundaries and skipped instances
type Journal interface {
	Append(entryType wal.EntryType, instanceID string, data interface{}) error
}

// ConfirmationRequest asks the operator to approve a batch
type ConfirmationRequest struct {
	InstanceIDs []string `json:"instance_ids"`
	Message     string   `json:"message"`
}

// ConfirmationResponse represents the operator's answer
type ConfirmationResponse struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// Confirmer handles operator confirmation before destructive work
type Confirmer interface {
	RequestConfirmation(ctx context.Context, req ConfirmationRequest) (*ConfirmationResponse, error)
}

type batchStart struct {
	Total          int `json:"total"`
	MaxConcurrency int `json:"max_concurrency"`
}

type batchDone struct {
	Total     int           `json:"total"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

type skipped struct {
	Reason string `json:"reason"`
}
