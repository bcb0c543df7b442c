package main

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fullsend/fullsend/pkg/types"
)

// experimentDoc is the on-disk shape: the experiment definition nested
// under a single top-level key.
type experimentDoc struct {
	Experiment map[string]any `yaml:"experiment"`
}

// parseExperimentFile decodes an experiment YAML document. The YAML is
// bridged through JSON so unknown fields land in the experiment's Extra
// bag the same way they do when arriving over the bus.
func parseExperimentFile(data []byte) (*types.Experiment, error) {
	var doc experimentDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if len(doc.Experiment) == 0 {
		return nil, fmt.Errorf("no experiment block found")
	}

	raw, err := json.Marshal(doc.Experiment)
	if err != nil {
		return nil, fmt.Errorf("encoding experiment: %w", err)
	}

	var exp types.Experiment
	if err := json.Unmarshal(raw, &exp); err != nil {
		return nil, fmt.Errorf("decoding experiment: %w", err)
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if exp.State == "" {
		exp.State = types.ExperimentStateReady
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = now
	}
	exp.UpdatedAt = now

	return &exp, nil
}

// scheduleFor extracts the cron schedule declared in the experiment's
// execution block, or nil when the experiment is manual-trigger only.
func scheduleFor(exp *types.Experiment) *types.Schedule {
	if exp.Execution.Schedule == "" {
		return nil
	}
	tz := exp.Execution.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return &types.Schedule{
		ExperimentID: exp.ID,
		Cron:         exp.Execution.Schedule,
		Timezone:     tz,
		Enabled:      true,
	}
}
