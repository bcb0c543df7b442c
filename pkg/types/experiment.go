// Package types provides shared types for the fullsend services.
package types

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrMissingID is returned when a record arrives without its identity field.
// Records without identity cannot be stored or routed and are rejected at the
// boundary; every other shape problem is logged and passed through.
var ErrMissingID = errors.New("record missing identity field")

// ExperimentState represents the lifecycle state of an experiment.
type ExperimentState string

const (
	ExperimentStateDraft    ExperimentState = "draft"
	ExperimentStateReady    ExperimentState = "ready"
	ExperimentStateRunning  ExperimentState = "running"
	ExperimentStateRun      ExperimentState = "run"
	ExperimentStateFailed   ExperimentState = "failed"
	ExperimentStateArchived ExperimentState = "archived"
)

// experimentTransitions holds the allowed lifecycle edges. A same-state write
// is always allowed so that writers can treat transitions as idempotent.
var experimentTransitions = map[ExperimentState][]ExperimentState{
	ExperimentStateDraft:    {ExperimentStateReady},
	ExperimentStateReady:    {ExperimentStateRunning},
	ExperimentStateRunning:  {ExperimentStateRun, ExperimentStateFailed},
	ExperimentStateRun:      {ExperimentStateReady, ExperimentStateArchived},
	ExperimentStateFailed:   {ExperimentStateReady, ExperimentStateArchived},
	ExperimentStateArchived: {},
}

// CanTransition reports whether an experiment may move from one state to
// another. Identical states are treated as a no-op transition.
func (s ExperimentState) CanTransition(to ExperimentState) bool {
	if s == to {
		return true
	}
	for _, next := range experimentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing edges.
func (s ExperimentState) Terminal() bool {
	return len(experimentTransitions[s]) == 0
}

// MetricKind categorizes a declared metric.
type MetricKind string

const (
	MetricKindCounter    MetricKind = "counter"
	MetricKindPercentage MetricKind = "percentage"
	MetricKindDuration   MetricKind = "duration"
)

// MetricSpec declares a metric an experiment intends to record.
type MetricSpec struct {
	Name             string     `json:"name"`
	Kind             MetricKind `json:"kind"`
	SuccessThreshold *float64   `json:"success_threshold,omitempty"`
}

// Execution describes how an experiment runs: which tool, with which
// parameters, on which cron schedule. An empty schedule means manual
// trigger only.
type Execution struct {
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params,omitempty"`
	Schedule string         `json:"schedule,omitempty"`
	Timezone string         `json:"timezone,omitempty"`
}

// Experiment is a named unit of scheduled work with a lifecycle state and
// success/failure criteria. Producers are language-model outputs parsed from
// semi-structured text, so everything beyond identity and state is
// best-effort: unknown fields land in Extra and are retained verbatim.
type Experiment struct {
	ID              string          `json:"id"`
	Hypothesis      string          `json:"hypothesis,omitempty"`
	Target          map[string]any  `json:"target,omitempty"`
	Execution       Execution       `json:"execution"`
	Metrics         []MetricSpec    `json:"metrics,omitempty"`
	SuccessCriteria []string        `json:"success_criteria,omitempty"`
	FailureCriteria []string        `json:"failure_criteria,omitempty"`
	State           ExperimentState `json:"state"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
	UpdatedAt       time.Time       `json:"updated_at,omitempty"`

	// Extra retains fields the producer emitted that we do not model.
	Extra map[string]any `json:"-"`
}

// Validate checks the identity and state fields strictly and nothing else.
func (e *Experiment) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	return nil
}

// known experiment field names, used to split Extra during (un)marshalling.
var experimentFields = map[string]bool{
	"id": true, "hypothesis": true, "target": true, "execution": true,
	"metrics": true, "success_criteria": true, "failure_criteria": true,
	"state": true, "created_at": true, "updated_at": true,
}

// UnmarshalJSON decodes an experiment while retaining unknown fields.
func (e *Experiment) UnmarshalJSON(data []byte) error {
	type alias Experiment
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name, val := range raw {
		if experimentFields[name] {
			continue
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			continue
		}
		if a.Extra == nil {
			a.Extra = make(map[string]any)
		}
		a.Extra[name] = v
	}

	*e = Experiment(a)
	return nil
}

// MarshalJSON encodes an experiment with its retained unknown fields inlined.
func (e Experiment) MarshalJSON() ([]byte, error) {
	type alias Experiment
	base, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for name, v := range e.Extra {
		if experimentFields[name] || merged[name] != nil {
			continue
		}
		val, err := json.Marshal(v)
		if err != nil {
			continue
		}
		merged[name] = val
	}
	return json.Marshal(merged)
}

// Schedule associates a cron expression with an experiment. The scheduler
// owns no state beyond "does this expression match now": no drift
// correction, no catch-up runs, no missed-tick detection.
type Schedule struct {
	ExperimentID string `json:"experiment_id"`
	Cron         string `json:"cron"`
	Timezone     string `json:"timezone,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// Validate checks the schedule identity.
func (s *Schedule) Validate() error {
	if s.ExperimentID == "" {
		return ErrMissingID
	}
	return nil
}
