package store

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/fullsend/fullsend/pkg/types"
)

// MemoryStore implements Store in memory. Used by tests and single-process
// demo runs; semantics mirror RedisStore, including the raw aggregate hash
// encoding so foldAggregates behaves identically.
type MemoryStore struct {
	mu sync.RWMutex

	experiments map[string]*memExperiment
	runs        map[string]map[string]string // runID -> hash fields
	rawMetrics  map[string][]string          // experimentID -> raw event JSON
	aggregates  map[string]map[string]string // experimentID -> aggregate hash
	schedules   map[string]*types.Schedule
	tools       map[string]*types.ToolMeta
}

type memExperiment struct {
	doc   []byte
	state types.ExperimentState
	extra map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*memExperiment),
		runs:        make(map[string]map[string]string),
		rawMetrics:  make(map[string][]string),
		aggregates:  make(map[string]map[string]string),
		schedules:   make(map[string]*types.Schedule),
		tools:       make(map[string]*types.ToolMeta),
	}
}

// PutExperiment stores or replaces an experiment document.
func (s *MemoryStore) PutExperiment(ctx context.Context, exp *types.Experiment) error {
	if err := exp.Validate(); err != nil {
		return err
	}
	if exp.State == "" {
		exp.State = types.ExperimentStateDraft
	}
	now := time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = now
	}
	exp.UpdatedAt = now

	doc, err := json.Marshal(exp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[exp.ID] = &memExperiment{
		doc:   doc,
		state: exp.State,
		extra: make(map[string]string),
	}
	return nil
}

// GetExperiment loads an experiment with the most recent state overlaid.
func (s *MemoryStore) GetExperiment(ctx context.Context, id string) (*types.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mem, ok := s.experiments[id]
	if !ok {
		return nil, ErrExperimentNotFound
	}

	var exp types.Experiment
	if err := json.Unmarshal(mem.doc, &exp); err != nil {
		return nil, err
	}
	exp.State = mem.state
	if len(mem.extra) > 0 {
		if exp.Extra == nil {
			exp.Extra = make(map[string]any)
		}
		for k, v := range mem.extra {
			exp.Extra[k] = v
		}
	}
	return &exp, nil
}

// ListExperiments returns all stored experiments.
func (s *MemoryStore) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.experiments))
	for id := range s.experiments {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	exps := make([]*types.Experiment, 0, len(ids))
	for _, id := range ids {
		exp, err := s.GetExperiment(ctx, id)
		if err != nil {
			continue
		}
		exps = append(exps, exp)
	}
	return exps, nil
}

// SetExperimentState updates the lifecycle state field, last write wins.
func (s *MemoryStore) SetExperimentState(ctx context.Context, id string, state types.ExperimentState, extra map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem, ok := s.experiments[id]
	if !ok {
		return ErrExperimentNotFound
	}
	mem.state = state
	for k, v := range extra {
		mem.extra[k] = v
	}
	return nil
}

// SaveRun writes an immutable run record.
func (s *MemoryStore) SaveRun(ctx context.Context, rec *types.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runID := rec.RunID()
	if _, exists := s.runs[runID]; exists {
		return ErrRunExists
	}

	summary, _ := json.Marshal(rec.Summary)
	fields := map[string]string{
		"experiment_id":    rec.ExperimentID,
		"started_at":       rec.StartedAt.UTC().Format(time.RFC3339),
		"status":           string(rec.Status),
		"duration_seconds": strconv.FormatFloat(rec.Duration.Seconds(), 'f', -1, 64),
		"attempts":         strconv.Itoa(rec.Attempts),
		"result_summary":   string(summary),
	}
	if rec.ErrorClass != "" {
		fields["error_class"] = string(rec.ErrorClass)
	}
	if rec.Error != "" {
		fields["error"] = rec.Error
	}
	s.runs[runID] = fields
	return nil
}

// GetRun loads a run record.
func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return runFromHash(fields), nil
}

// ListRuns returns all run records for an experiment.
func (s *MemoryStore) ListRuns(ctx context.Context, experimentID string) ([]*types.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*types.RunRecord
	for _, fields := range s.runs {
		if fields["experiment_id"] == experimentID {
			runs = append(runs, runFromHash(fields))
		}
	}
	return runs, nil
}

// RecordMetric appends the raw event and folds it into the aggregates.
func (s *MemoryStore) RecordMetric(ctx context.Context, ev *types.MetricEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rawMetrics[ev.ExperimentID] = append(s.rawMetrics[ev.ExperimentID], string(raw))

	agg := s.aggregates[ev.ExperimentID]
	if agg == nil {
		agg = make(map[string]string)
		s.aggregates[ev.ExperimentID] = agg
	}
	if ev.Event != "" {
		incr(agg, ev.Event+"_count", 1)
	}
	for name, val := range ev.NumericValues() {
		incr(agg, name+"_sum", val)
		incr(agg, name+"_count", 1)
		agg[name+"_latest"] = strconv.FormatFloat(val, 'f', -1, 64)
	}
	agg["last_updated"] = now.Format(time.RFC3339)
	return nil
}

// AggregatedMetrics returns the folded numeric aggregate view.
func (s *MemoryStore) AggregatedMetrics(ctx context.Context, experimentID string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw := s.aggregates[experimentID]
	copied := make(map[string]string, len(raw))
	for k, v := range raw {
		copied[k] = v
	}
	return foldAggregates(copied), nil
}

// RawMetrics returns the raw metric stream for an experiment. Test helper.
func (s *MemoryStore) RawMetrics(experimentID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.rawMetrics[experimentID]...)
}

// PutSchedule stores the cron schedule for an experiment.
func (s *MemoryStore) PutSchedule(ctx context.Context, sched *types.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	cp := *sched
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.ExperimentID] = &cp
	return nil
}

// GetSchedule loads the schedule for an experiment.
func (s *MemoryStore) GetSchedule(ctx context.Context, experimentID string) (*types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[experimentID]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	cp := *sched
	return &cp, nil
}

// ListSchedules returns all stored schedules.
func (s *MemoryStore) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scheds := make([]*types.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		cp := *sched
		scheds = append(scheds, &cp)
	}
	return scheds, nil
}

// PutTool stores or replaces tool registry metadata.
func (s *MemoryStore) PutTool(ctx context.Context, meta *types.ToolMeta) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if meta.State == "" {
		meta.State = types.ToolStateBuilding
	}
	now := time.Now().UTC()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	cp := *meta
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[meta.Name] = &cp
	return nil
}

// GetTool loads tool metadata by name.
func (s *MemoryStore) GetTool(ctx context.Context, name string) (*types.ToolMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.tools[name]
	if !ok {
		return nil, ErrToolNotFound
	}
	cp := *meta
	return &cp, nil
}

// SetToolState updates a tool's lifecycle state.
func (s *MemoryStore) SetToolState(ctx context.Context, name string, state types.ToolState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.tools[name]
	if !ok {
		return ErrToolNotFound
	}
	meta.State = state
	meta.UpdatedAt = time.Now().UTC()
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func incr(hash map[string]string, field string, by float64) {
	cur, _ := strconv.ParseFloat(hash[field], 64)
	hash[field] = strconv.FormatFloat(cur+by, 'f', -1, 64)
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
