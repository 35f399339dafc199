package saga

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload keys the orchestrator injects into every command payload so a
// step service can route its answer without any side channel.
const (
	PayloadKeySagaID         = "sagaId"
	PayloadKeyStepName       = "stepName"
	PayloadKeyStepIndex      = "stepIndex"
	PayloadKeyResponseTopic  = "responseTopic"
	PayloadKeyIsCompensation = "isCompensation"
)

// CompensationSuffix is appended to a step name in compensation commands.
const CompensationSuffix = "_COMPENSATION"

// CommandEvent is the orchestrator → service wire envelope. One is
// published per forward step and per compensation step, keyed by saga id.
type CommandEvent struct {
	EventID       string    `json:"eventId"`
	SagaID        string    `json:"sagaId"`
	EventType     EventType `json:"eventType"`
	Timestamp     time.Time `json:"timestamp"`
	StepName      string    `json:"stepName"`
	StepIndex     int       `json:"stepIndex"`
	CommandTopic  string    `json:"commandTopic"`
	ResponseTopic string    `json:"responseTopic"`
	Payload       Payload   `json:"payload"`
}

// ResponseEvent is the service → orchestrator wire envelope, published on
// the shared response topic, keyed by saga id. On success Payload is the
// step's output delta; on failure ErrorMessage is mandatory and Payload
// is ignored.
type ResponseEvent struct {
	EventID      string    `json:"eventId"`
	SagaID       string    `json:"sagaId"`
	EventType    EventType `json:"eventType"`
	Timestamp    time.Time `json:"timestamp"`
	StepName     string    `json:"stepName"`
	StepIndex    int       `json:"stepIndex"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Payload      Payload   `json:"payload,omitempty"`
}

// NewStepCommand builds the forward command for one step. The payload is
// the union of the accumulated saga data plus routing metadata.
func NewStepCommand(sagaID string, step Step, responseTopic string, sagaData Payload) CommandEvent {
	payload := MergePayload(sagaData, Payload{
		PayloadKeySagaID:        sagaID,
		PayloadKeyStepName:      step.Name,
		PayloadKeyStepIndex:     step.Index,
		PayloadKeyResponseTopic: responseTopic,
	})
	return CommandEvent{
		EventID:       uuid.NewString(),
		SagaID:        sagaID,
		EventType:     EventSagaStepStarted,
		Timestamp:     time.Now(),
		StepName:      step.Name,
		StepIndex:     step.Index,
		CommandTopic:  step.CommandTopic,
		ResponseTopic: responseTopic,
		Payload:       payload,
	}
}

// NewCompensationCommand builds the rollback command for a previously
// completed step. The isCompensation marker distinguishes it on the wire.
func NewCompensationCommand(sagaID string, step Step, responseTopic string, sagaData Payload) CommandEvent {
	name := step.Name + CompensationSuffix
	payload := MergePayload(sagaData, Payload{
		PayloadKeySagaID:         sagaID,
		PayloadKeyStepName:       name,
		PayloadKeyStepIndex:      step.Index,
		PayloadKeyResponseTopic:  responseTopic,
		PayloadKeyIsCompensation: true,
	})
	return CommandEvent{
		EventID:       uuid.NewString(),
		SagaID:        sagaID,
		EventType:     EventSagaCompensating,
		Timestamp:     time.Now(),
		StepName:      name,
		StepIndex:     step.Index,
		CommandTopic:  step.CompensationTopic,
		ResponseTopic: responseTopic,
		Payload:       payload,
	}
}

// IsCompensation reports whether the command is a compensation command.
func (c CommandEvent) IsCompensation() bool {
	v, ok := c.Payload[PayloadKeyIsCompensation].(bool)
	return ok && v
}

// Encode serializes the command for the broker.
func (c CommandEvent) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// DecodeCommand parses a command envelope off the wire.
func DecodeCommand(data []byte) (CommandEvent, error) {
	var cmd CommandEvent
	if err := json.Unmarshal(data, &cmd); err != nil {
		return CommandEvent{}, fmt.Errorf("decode command event: %w", err)
	}
	if cmd.SagaID == "" {
		return CommandEvent{}, fmt.Errorf("decode command event: missing sagaId")
	}
	return cmd, nil
}

// SuccessResponse builds the success answer for a command, carrying the
// step's output delta.
func (c CommandEvent) SuccessResponse(output Payload) ResponseEvent {
	eventType := EventSagaStepCompleted
	if c.IsCompensation() {
		eventType = EventSagaCompensating
	}
	return ResponseEvent{
		EventID:   uuid.NewString(),
		SagaID:    c.SagaID,
		EventType: eventType,
		Timestamp: time.Now(),
		StepName:  c.StepName,
		StepIndex: c.StepIndex,
		Success:   true,
		Payload:   output,
	}
}

// FailureResponse builds the failure answer for a command.
func (c CommandEvent) FailureResponse(errorMessage string) ResponseEvent {
	eventType := EventSagaStepFailed
	if c.IsCompensation() {
		eventType = EventSagaCompensating
	}
	return ResponseEvent{
		EventID:      uuid.NewString(),
		SagaID:       c.SagaID,
		EventType:    eventType,
		Timestamp:    time.Now(),
		StepName:     c.StepName,
		StepIndex:    c.StepIndex,
		Success:      false,
		ErrorMessage: errorMessage,
	}
}

// Encode serializes the response for the broker.
func (r ResponseEvent) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResponse parses a response envelope off the wire. Missing event
// ids are generated so dedup always has a key; a failure response without
// an error message is rejected.
func DecodeResponse(data []byte) (ResponseEvent, error) {
	var resp ResponseEvent
	if err := json.Unmarshal(data, &resp); err != nil {
		return ResponseEvent{}, fmt.Errorf("decode response event: %w", err)
	}
	if resp.SagaID == "" {
		return ResponseEvent{}, fmt.Errorf("decode response event: missing sagaId")
	}
	if resp.EventID == "" {
		resp.EventID = uuid.NewString()
	}
	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}
	if !resp.Success && resp.ErrorMessage == "" {
		return ResponseEvent{}, fmt.Errorf("decode response event: failure without errorMessage")
	}
	return resp, nil
}
