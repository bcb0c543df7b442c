package types

import (
	"encoding/json"
	"time"
)

// ToolState represents the lifecycle state of a registered tool.
type ToolState string

const (
	ToolStateBuilding   ToolState = "building"
	ToolStateActive     ToolState = "active"
	ToolStateBroken     ToolState = "broken"
	ToolStateDeprecated ToolState = "deprecated"
)

var toolTransitions = map[ToolState][]ToolState{
	ToolStateBuilding:   {ToolStateActive},
	ToolStateActive:     {ToolStateBroken, ToolStateDeprecated},
	ToolStateBroken:     {ToolStateActive, ToolStateDeprecated},
	ToolStateDeprecated: {},
}

// CanTransition reports whether a tool may move from one state to another.
// Identical states are a no-op transition.
func (s ToolState) CanTransition(to ToolState) bool {
	if s == to {
		return true
	}
	for _, next := range toolTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ToolMeta is the persisted registry record for a tool. The name doubles as
// the lookup key at execution time. Inputs and Outputs are informal schemas:
// they describe intent, they do not gate invocation.
type ToolMeta struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Inputs      map[string]string `json:"inputs,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
	State       ToolState         `json:"state"`

	// ParamSchema is an optional JSON Schema for invocation parameters.
	// Violations are logged, never rejected.
	ParamSchema json.RawMessage `json:"param_schema,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks the tool identity.
func (t *ToolMeta) Validate() error {
	if t.Name == "" {
		return ErrMissingID
	}
	return nil
}

// ToolResult is the structured result every tool returns. Tools must never
// raise past their boundary; callers treat any uncaught fault as a failure
// result.
type ToolResult struct {
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}
