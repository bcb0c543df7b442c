package main

import (
	"errors"
	"testing"

	"github.com/fullsend/fullsend/pkg/types"
)

const sampleYAML = `
experiment:
  id: exp_20260301_devrel_outreach
  hypothesis: "Developers who starred competitor repos respond to tailored outreach"
  target:
    segment: "github stargazers"
    size: 200
  execution:
    tool: scrape_stargazers
    params:
      repo_identifiers: ["acme/widgets"]
      limit: 200
    schedule: "0 9 * * 1-5"
    timezone: America/New_York
  metrics:
    - name: emails_sent
      kind: counter
  success_criteria:
    - "response_rate > 0.10"
  failure_criteria:
    - "bounce_rate > 0.20"
  owner: growth-team
`

func TestParseExperimentFile(t *testing.T) {
	exp, err := parseExperimentFile([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parseExperimentFile: %v", err)
	}

	if exp.ID != "exp_20260301_devrel_outreach" {
		t.Errorf("ID = %q", exp.ID)
	}
	if exp.State != types.ExperimentStateReady {
		t.Errorf("State = %q, want ready", exp.State)
	}
	if exp.Execution.Tool != "scrape_stargazers" {
		t.Errorf("Execution.Tool = %q", exp.Execution.Tool)
	}
	if len(exp.SuccessCriteria) != 1 || exp.SuccessCriteria[0] != "response_rate > 0.10" {
		t.Errorf("SuccessCriteria = %v", exp.SuccessCriteria)
	}
	if exp.CreatedAt.IsZero() || exp.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if exp.Extra["owner"] != "growth-team" {
		t.Errorf("Extra = %v, want owner retained", exp.Extra)
	}
}

func TestParseExperimentFile_StatePreserved(t *testing.T) {
	exp, err := parseExperimentFile([]byte("experiment:\n  id: exp_x\n  state: draft\n"))
	if err != nil {
		t.Fatalf("parseExperimentFile: %v", err)
	}
	if exp.State != types.ExperimentStateDraft {
		t.Errorf("State = %q, want draft", exp.State)
	}
}

func TestParseExperimentFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"invalid yaml", "experiment: [unclosed"},
		{"no experiment block", "other: {}"},
		{"missing id", "experiment:\n  hypothesis: something\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseExperimentFile([]byte(tt.in)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseExperimentFile_MissingIDIsTyped(t *testing.T) {
	_, err := parseExperimentFile([]byte("experiment:\n  hypothesis: x\n"))
	if !errors.Is(err, types.ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}

func TestScheduleFor(t *testing.T) {
	exp, err := parseExperimentFile([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parseExperimentFile: %v", err)
	}

	sched := scheduleFor(exp)
	if sched == nil {
		t.Fatal("expected a schedule")
	}
	if sched.Cron != "0 9 * * 1-5" || sched.Timezone != "America/New_York" || !sched.Enabled {
		t.Fatalf("unexpected schedule: %+v", sched)
	}

	exp.Execution.Schedule = ""
	if scheduleFor(exp) != nil {
		t.Fatal("expected nil schedule without a cron expression")
	}
}

func TestScheduleFor_DefaultTimezone(t *testing.T) {
	exp := &types.Experiment{
		ID:        "exp_tz",
		Execution: types.Execution{Schedule: "*/5 * * * *"},
	}
	sched := scheduleFor(exp)
	if sched.Timezone != "UTC" {
		t.Fatalf("Timezone = %q, want UTC", sched.Timezone)
	}
}
