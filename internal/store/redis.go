package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fullsend/fullsend/internal/metrics"
	"github.com/fullsend/fullsend/pkg/types"
)

// RedisStore implements Store backed by Redis hashes and lists.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
	mu     sync.Mutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL string

	// Password for Redis authentication
	Password string

	// DB is the database number
	DB int

	// TTL for run records and raw metric streams (0 = keep forever)
	TTL time.Duration

	// Connection pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		URL:          "redis://localhost:6379/0",
		TTL:          7 * 24 * time.Hour,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(cfg *RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := &redis.Options{
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Password:     cfg.Password,
		DB:           cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts.Addr = parsed.Addr
		if parsed.Password != "" && cfg.Password == "" {
			opts.Password = parsed.Password
		}
		if parsed.DB != 0 && cfg.DB == 0 {
			opts.DB = parsed.DB
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, logger: logger, ttl: cfg.TTL}, nil
}

// NewRedisStoreFromClient wraps an existing Redis client.
func NewRedisStoreFromClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

// Key helpers
func keyExperiment(id string) string { return "experiments:" + id }
func keyRun(runID string) string     { return "experiment_runs:" + runID }
func keyMetrics(id string) string    { return "metrics:" + id }
func keyAggregates(id string) string { return "metrics_aggregated:" + id }
func keySchedule(id string) string   { return "schedules:" + id }
func keyTool(name string) string     { return "tools:" + name }

// PutExperiment stores or replaces an experiment document.
func (s *RedisStore) PutExperiment(ctx context.Context, exp *types.Experiment) error {
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
		return fmt.Errorf("marshal experiment: %w", err)
	}

	err = s.client.HSet(ctx, keyExperiment(exp.ID), map[string]interface{}{
		"json":       string(doc),
		"state":      string(exp.State),
		"updated_at": now.Format(time.RFC3339),
	}).Err()
	s.count("put_experiment", err)
	if err != nil {
		return fmt.Errorf("put experiment: %w", err)
	}
	return nil
}

// GetExperiment loads an experiment, overlaying the state field from the
// hash so the most recent state write wins over a stale document.
func (s *RedisStore) GetExperiment(ctx context.Context, id string) (*types.Experiment, error) {
	fields, err := s.client.HGetAll(ctx, keyExperiment(id)).Result()
	s.count("get_experiment", err)
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrExperimentNotFound
	}
	return experimentFromHash(id, fields)
}

// ListExperiments scans for all experiment keys.
func (s *RedisStore) ListExperiments(ctx context.Context) ([]*types.Experiment, error) {
	var exps []*types.Experiment
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, "experiments:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan experiments: %w", err)
		}
		for _, key := range keys {
			id := strings.TrimPrefix(key, "experiments:")
			exp, err := s.GetExperiment(ctx, id)
			if err != nil {
				if errors.Is(err, ErrExperimentNotFound) {
					continue
				}
				s.logger.Warn("skipping unreadable experiment",
					slog.String("id", id), slog.Any("error", err))
				continue
			}
			exps = append(exps, exp)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return exps, nil
}

// SetExperimentState updates the lifecycle state field, last write wins.
func (s *RedisStore) SetExperimentState(ctx context.Context, id string, state types.ExperimentState, extra map[string]string) error {
	exists, err := s.client.Exists(ctx, keyExperiment(id)).Result()
	if err != nil {
		return fmt.Errorf("check experiment exists: %w", err)
	}
	if exists == 0 {
		return ErrExperimentNotFound
	}

	fields := map[string]interface{}{
		"state":      string(state),
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		fields[k] = v
	}

	err = s.client.HSet(ctx, keyExperiment(id), fields).Err()
	s.count("set_experiment_state", err)
	if err != nil {
		return fmt.Errorf("set experiment state: %w", err)
	}
	return nil
}

// SaveRun writes an immutable run record, one per attempt stream.
func (s *RedisStore) SaveRun(ctx context.Context, rec *types.RunRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	key := keyRun(rec.RunID())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check run exists: %w", err)
	}
	if exists > 0 {
		return ErrRunExists
	}

	summary, _ := json.Marshal(rec.Summary)
	fields := map[string]interface{}{
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

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	s.count("save_run", err)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun loads a run record by its "{experiment_id}:{unix}" identity.
func (s *RedisStore) GetRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	fields, err := s.client.HGetAll(ctx, keyRun(runID)).Result()
	s.count("get_run", err)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrRunNotFound
	}
	return runFromHash(fields), nil
}

// ListRuns returns all run records for an experiment.
func (s *RedisStore) ListRuns(ctx context.Context, experimentID string) ([]*types.RunRecord, error) {
	pattern := "experiment_runs:" + experimentID + ":*"
	var runs []*types.RunRecord
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan runs: %w", err)
		}
		for _, key := range keys {
			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil || len(fields) == 0 {
				continue
			}
			runs = append(runs, runFromHash(fields))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return runs, nil
}

// RecordMetric appends the raw event and folds it into the aggregates.
// Aggregation fields: {event}_count, {name}_sum / {name}_count /
// {name}_latest per numeric value, last_updated.
func (s *RedisStore) RecordMetric(ctx context.Context, ev *types.MetricEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal metric: %w", err)
	}

	aggKey := keyAggregates(ev.ExperimentID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, keyMetrics(ev.ExperimentID), string(raw))
	if s.ttl > 0 {
		pipe.Expire(ctx, keyMetrics(ev.ExperimentID), s.ttl)
	}

	if ev.Event != "" {
		pipe.HIncrBy(ctx, aggKey, ev.Event+"_count", 1)
	}
	for name, val := range ev.NumericValues() {
		pipe.HIncrByFloat(ctx, aggKey, name+"_sum", val)
		pipe.HIncrBy(ctx, aggKey, name+"_count", 1)
		pipe.HSet(ctx, aggKey, name+"_latest", strconv.FormatFloat(val, 'f', -1, 64))
	}
	pipe.HSet(ctx, aggKey, "last_updated", now.Format(time.RFC3339))

	_, err = pipe.Exec(ctx)
	s.count("record_metric", err)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// AggregatedMetrics returns the folded numeric aggregate view.
func (s *RedisStore) AggregatedMetrics(ctx context.Context, experimentID string) (map[string]float64, error) {
	raw, err := s.client.HGetAll(ctx, keyAggregates(experimentID)).Result()
	s.count("aggregated_metrics", err)
	if err != nil {
		return nil, fmt.Errorf("get aggregates: %w", err)
	}
	return foldAggregates(raw), nil
}

// PutSchedule stores the cron schedule for an experiment.
func (s *RedisStore) PutSchedule(ctx context.Context, sched *types.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	doc, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	err = s.client.Set(ctx, keySchedule(sched.ExperimentID), string(doc), 0).Err()
	s.count("put_schedule", err)
	if err != nil {
		return fmt.Errorf("put schedule: %w", err)
	}
	return nil
}

// GetSchedule loads the schedule for an experiment.
func (s *RedisStore) GetSchedule(ctx context.Context, experimentID string) (*types.Schedule, error) {
	doc, err := s.client.Get(ctx, keySchedule(experimentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrScheduleNotFound
	}
	s.count("get_schedule", err)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	var sched types.Schedule
	if err := json.Unmarshal([]byte(doc), &sched); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return &sched, nil
}

// ListSchedules returns all stored schedules.
func (s *RedisStore) ListSchedules(ctx context.Context) ([]*types.Schedule, error) {
	var scheds []*types.Schedule
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, "schedules:*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan schedules: %w", err)
		}
		for _, key := range keys {
			doc, err := s.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var sched types.Schedule
			if err := json.Unmarshal([]byte(doc), &sched); err != nil {
				s.logger.Warn("skipping malformed schedule",
					slog.String("key", key), slog.Any("error", err))
				continue
			}
			scheds = append(scheds, &sched)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return scheds, nil
}

// PutTool stores or replaces tool registry metadata.
func (s *RedisStore) PutTool(ctx context.Context, meta *types.ToolMeta) error {
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

	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal tool: %w", err)
	}
	err = s.client.HSet(ctx, keyTool(meta.Name), map[string]interface{}{
		"json":  string(doc),
		"state": string(meta.State),
	}).Err()
	s.count("put_tool", err)
	if err != nil {
		return fmt.Errorf("put tool: %w", err)
	}
	return nil
}

// GetTool loads tool metadata by name.
func (s *RedisStore) GetTool(ctx context.Context, name string) (*types.ToolMeta, error) {
	fields, err := s.client.HGetAll(ctx, keyTool(name)).Result()
	s.count("get_tool", err)
	if err != nil {
		return nil, fmt.Errorf("get tool: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrToolNotFound
	}

	var meta types.ToolMeta
	if err := json.Unmarshal([]byte(fields["json"]), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal tool: %w", err)
	}
	if state := fields["state"]; state != "" {
		meta.State = types.ToolState(state)
	}
	return &meta, nil
}

// SetToolState updates a tool's lifecycle state.
func (s *RedisStore) SetToolState(ctx context.Context, name string, state types.ToolState) error {
	exists, err := s.client.Exists(ctx, keyTool(name)).Result()
	if err != nil {
		return fmt.Errorf("check tool exists: %w", err)
	}
	if exists == 0 {
		return ErrToolNotFound
	}
	err = s.client.HSet(ctx, keyTool(name), "state", string(state)).Err()
	s.count("set_tool_state", err)
	if err != nil {
		return fmt.Errorf("set tool state: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisStore) count(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.StoreOperations.WithLabelValues(op, result).Inc()
}

func experimentFromHash(id string, fields map[string]string) (*types.Experiment, error) {
	var exp types.Experiment
	if doc := fields["json"]; doc != "" {
		if err := json.Unmarshal([]byte(doc), &exp); err != nil {
			return nil, fmt.Errorf("unmarshal experiment: %w", err)
		}
	}
	if exp.ID == "" {
		exp.ID = id
	}
	if state := fields["state"]; state != "" {
		exp.State = types.ExperimentState(state)
	}
	if exp.Extra == nil {
		exp.Extra = make(map[string]any)
	}
	for k, v := range fields {
		if k == "json" || k == "state" || k == "updated_at" {
			continue
		}
		exp.Extra[k] = v
	}
	if ts := fields["updated_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			exp.UpdatedAt = t
		}
	}
	return &exp, nil
}

func runFromHash(fields map[string]string) *types.RunRecord {
	rec := &types.RunRecord{
		ExperimentID: fields["experiment_id"],
		Status:       types.RunStatus(fields["status"]),
		ErrorClass:   types.ErrorClass(fields["error_class"]),
		Error:        fields["error"],
	}
	if ts := fields["started_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.StartedAt = t
		}
	}
	if d := fields["duration_seconds"]; d != "" {
		if f, err := strconv.ParseFloat(d, 64); err == nil {
			rec.Duration = time.Duration(f * float64(time.Second))
		}
	}
	if a := fields["attempts"]; a != "" {
		if n, err := strconv.Atoi(a); err == nil {
			rec.Attempts = n
		}
	}
	if summary := fields["result_summary"]; summary != "" {
		json.Unmarshal([]byte(summary), &rec.Summary)
	}
	return rec
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
