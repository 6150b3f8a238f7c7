package cloudhosting

import (
	"context"
	"errors"

	"github.com/yairfalse/decom/internal/i18n"
	"github.com/yairfalse/decom/telemetry"
)

// Describer is the part of the API the inventory needs.
type Describer interface {
	Describe(ctx context.Context, instanceID string) ([]Instance, error)
}

// QueryKind classifies the outcome of a lookup.
type QueryKind int

const (
	QueryFound QueryKind = iota
	QueryEmpty
	QueryNotFound
	QueryError
)

func (k QueryKind) String() string {
	switch k {
	case QueryFound:
		return "found"
	case QueryEmpty:
		return "empty"
	case QueryNotFound:
		return "not_found"
	case QueryError:
		return "error"
	default:
		return "unknown"
	}
}

// QueryResult is the uncollapsed result of a lookup.
type QueryResult struct {
	Kind      QueryKind
	Instances []Instance
	Err       error
}

// IDs returns the instance IDs of the result; nil unless Kind is QueryFound.
func (r QueryResult) IDs() []string {
	if r.Kind != QueryFound {
		return nil
	}
	ids := make([]string, 0, len(r.Instances))
	for _, inst := range r.Instances {
		ids = append(ids, inst.ID)
	}
	return ids
}

// Inventory answers "which instances exist in which state".
type Inventory struct {
	api    Describer
	logger *telemetry.Logger
}

// NewInventory creates an inventory backed by api.
func NewInventory(api Describer, logger *telemetry.Logger) *Inventory {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &Inventory{api: api, logger: logger}
}

type queryOptions struct {
	logStatus bool
}

// QueryOption tunes a ListInstances call.
type QueryOption func(*queryOptions)

// WithStatusLog logs one status line per instance in the response.
func WithStatusLog() QueryOption {
	return func(o *queryOptions) { o.logStatus = true }
}

// Lookup describes instanceID (all instances when empty) and keeps those
// whose state equals filter (all of them when filter is empty).
func (inv *Inventory) Lookup(ctx context.Context, instanceID string, filter State, opts ...QueryOption) QueryResult {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	instances, err := inv.api.Describe(ctx, instanceID)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.NotFound() {
			return QueryResult{Kind: QueryNotFound, Err: err}
		}
		return QueryResult{Kind: QueryError, Err: err}
	}

	var matched []Instance
	for _, inst := range instances {
		if o.logStatus {
			inv.logger.LogInstanceStatus(ctx, inst.ID, string(inst.State))
		}
		if filter == "" || inst.State == filter {
			matched = append(matched, inst)
		}
	}

	if len(matched) == 0 {
		return QueryResult{Kind: QueryEmpty}
	}
	return QueryResult{Kind: QueryFound, Instances: matched}
}

// ListInstances is Lookup collapsed to a list of IDs. Not-found and errors
// are logged and yield an empty list.
func (inv *Inventory) ListInstances(ctx context.Context, instanceID string, filter State, opts ...QueryOption) []string {
	res := inv.Lookup(ctx, instanceID, filter, opts...)
	switch res.Kind {
	case QueryNotFound:
		inv.logNotFound(ctx, instanceID)
	case QueryError:
		inv.logError(ctx, instanceID, res.Err)
	}
	return res.IDs()
}

// ListAllInstances returns every instance the account owns.
func (inv *Inventory) ListAllInstances(ctx context.Context) []string {
	return inv.ListInstances(ctx, "", "")
}

func (inv *Inventory) logNotFound(ctx context.Context, instanceID string) {
	l := inv.logger.WithContext(ctx)
	if instanceID == "" {
		l.Warn().Msg(inv.logger.T(i18n.NoInstances))
		return
	}
	l.Warn().Str("instance_id", instanceID).Msg(inv.logger.T(i18n.InstanceNotFound, instanceID))
}

func (inv *Inventory) logError(ctx context.Context, instanceID string, err error) {
	l := inv.logger.WithContext(ctx)
	if instanceID == "" {
		l.Error().Err(err).Msg(inv.logger.T(i18n.DescribeFailed))
		return
	}
	l.Error().Err(err).Str("instance_id", instanceID).Msg(inv.logger.T(i18n.DescribeFailedFor, instanceID))
}
