// Package store persists fullsend records: experiments, run records,
// metric streams, aggregates, schedules, and tool metadata.
//
// Key conventions follow the deployed system: experiments:{id},
// experiment_runs:{id}:{ts}, metrics:{id}, metrics_aggregated:{id},
// schedules:{id}, tools:{name}. Storage is a plain key-value/hash store;
// there is no schema migration tooling and none is needed.
package store

import (
	"context"
	"errors"

	"github.com/fullsend/fullsend/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrRunNotFound        = errors.New("run not found")
	ErrRunExists          = errors.New("run record already written")
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrToolNotFound       = errors.New("tool not found")
)

// Store is the persistence interface shared by all services.
// Implementations must be safe for concurrent use.
//
// Experiment state is the one field with two writer categories (executor
// and coordinator); SetExperimentState is a last-write-wins field update
// and callers must treat transitions as idempotent.
type Store interface {
	// PutExperiment stores or replaces an experiment document.
	PutExperiment(ctx context.Context, exp *types.Experiment) error

	// GetExperiment loads an experiment. The state field reflects the most
	// recent state write even when the stored document is older.
	GetExperiment(ctx context.Context, id string) (*types.Experiment, error)

	// ListExperiments returns all stored experiments.
	ListExperiments(ctx context.Context) ([]*types.Experiment, error)

	// SetExperimentState updates the lifecycle state plus any extra fields
	// (e.g. archived_reason). Last write wins; no lock.
	SetExperimentState(ctx context.Context, id string, state types.ExperimentState, extra map[string]string) error

	// SaveRun writes an immutable run record. Returns ErrRunExists if a
	// record for the same (experiment, start) identity exists.
	SaveRun(ctx context.Context, rec *types.RunRecord) error

	// GetRun loads a run record by its "{experiment_id}:{unix}" identity.
	GetRun(ctx context.Context, runID string) (*types.RunRecord, error)

	// ListRuns returns the run records for an experiment.
	ListRuns(ctx context.Context, experimentID string) ([]*types.RunRecord, error)

	// RecordMetric appends a raw metric event and folds it into the
	// experiment's aggregates.
	RecordMetric(ctx context.Context, ev *types.MetricEvent) error

	// AggregatedMetrics returns the current numeric aggregate view for an
	// experiment: {event}_count, {name} (sum), {name}_latest, {name}_avg.
	AggregatedMetrics(ctx context.Context, experimentID string) (map[string]float64, error)

	// PutSchedule stores the cron schedule for an experiment.
	PutSchedule(ctx context.Context, sched *types.Schedule) error

	// GetSchedule loads the schedule for an experiment.
	GetSchedule(ctx context.Context, experimentID string) (*types.Schedule, error)

	// ListSchedules returns all stored schedules.
	ListSchedules(ctx context.Context) ([]*types.Schedule, error)

	// PutTool stores or replaces tool registry metadata.
	PutTool(ctx context.Context, meta *types.ToolMeta) error

	// GetTool loads tool metadata by name.
	GetTool(ctx context.Context, name string) (*types.ToolMeta, error)

	// SetToolState updates a tool's lifecycle state.
	SetToolState(ctx context.Context, name string, state types.ToolState) error

	// Close releases any resources.
	Close() error
}

// reservedAggregateField reports hash fields that are not numeric metric
// values.
func reservedAggregateField(name string) bool {
	return name == "last_updated"
}
