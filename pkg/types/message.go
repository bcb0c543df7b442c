package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the generic shape of a bus message. Producers are model
// outputs, so everything beyond the type discriminator is a flexible
// payload; consumers pull the fields they understand and ignore the rest.
type Envelope struct {
	ID        string         `json:"message_id,omitempty"`
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Payload   map[string]any `json:"-"`
}

// NewEnvelope builds an envelope with a fresh message id and current
// timestamp.
func NewEnvelope(msgType, source string, payload map[string]any) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

var envelopeFields = map[string]bool{
	"message_id": true, "type": true, "source": true, "timestamp": true,
}

// UnmarshalJSON decodes an envelope, collecting non-reserved fields into
// the payload bag.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for name, v := range raw {
		if envelopeFields[name] {
			continue
		}
		if a.Payload == nil {
			a.Payload = make(map[string]any)
		}
		a.Payload[name] = v
	}

	*e = Envelope(a)
	return nil
}

// MarshalJSON encodes an envelope with its payload inlined.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type alias Envelope
	base, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Payload) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for name, v := range e.Payload {
		if envelopeFields[name] {
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

// String pulls a string field out of the payload, empty if absent or not a
// string.
func (e *Envelope) String(field string) string {
	s, _ := e.Payload[field].(string)
	return s
}

// ClassifierAction is the enumerated decision of the message classifier.
type ClassifierAction string

const (
	ClassifierActionIgnore   ClassifierAction = "ignore"
	ClassifierActionAnswer   ClassifierAction = "answer"
	ClassifierActionEscalate ClassifierAction = "escalate"
)

// Classification is the classifier's verdict on an inbound event. Unknown
// or malformed actions normalize to escalate: over-escalating is cheaper
// than losing a message.
type Classification struct {
	Action            ClassifierAction `json:"action"`
	Reason            string           `json:"reason,omitempty"`
	Priority          string           `json:"priority,omitempty"`
	SuggestedResponse string           `json:"suggested_response,omitempty"`
}

// Normalize coerces out-of-range action and priority values to their
// conservative defaults.
func (c *Classification) Normalize() {
	switch c.Action {
	case ClassifierActionIgnore, ClassifierActionAnswer, ClassifierActionEscalate:
	default:
		c.Action = ClassifierActionEscalate
		if c.Reason == "" {
			c.Reason = "unrecognized action, escalating"
		}
	}
	switch c.Priority {
	case "low", "medium", "high", "urgent":
	default:
		c.Priority = "medium"
	}
}

// DecisionAction is the enumerated dispatch decision of the coordinator.
type DecisionAction string

const (
	DecisionActionDesignRequest DecisionAction = "design_request"
	DecisionActionBuildRequest  DecisionAction = "build_request"
	DecisionActionRespond       DecisionAction = "respond"
	DecisionActionArchive       DecisionAction = "archive"
	DecisionActionNoOp          DecisionAction = "no_action"
)

// Decision is the coordinator's parsed verdict on an escalation or alert.
type Decision struct {
	Action       DecisionAction `json:"action"`
	Reasoning    string         `json:"reasoning,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	ExperimentID string         `json:"experiment_id,omitempty"`
}

// Message type discriminators used on the bus.
const (
	MsgTypeInboundEvent        = "inbound_event"
	MsgTypeClassification      = "classification"
	MsgTypeEscalation          = "escalation"
	MsgTypeResponse            = "response"
	MsgTypeDesignRequest       = "experiment_request"
	MsgTypeExperimentReady     = "experiment_ready"
	MsgTypeBuildRequest        = "tool_prd"
	MsgTypeBuildResult         = "tool_built"
	MsgTypeRunTrigger          = "run_experiment"
	MsgTypeExperimentCompleted = "experiment_completed"
	MsgTypeExperimentFailed    = "experiment_failed"
)
