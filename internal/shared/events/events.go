package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Aggregate types used in event envelopes.
const (
	AggregateExecution         = "execution"
	AggregateWorkflowExecution = "workflow_execution"
	AggregateInteraction       = "ui_interaction"
)

// Event represents a domain event exported to the message bus
type Event struct {
	ID            string                 `json:"id"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	EventType     string                 `json:"eventType"`
	EventVersion  int                    `json:"eventVersion"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Payload       json.RawMessage        `json:"payload"`
}

// NewEvent creates a new event envelope with a serialized payload
func NewEvent(aggregateID, aggregateType, eventType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventVersion:  1,
		Timestamp:     time.Now(),
		Payload:       payloadBytes,
	}, nil
}

// Program execution events

type ExecutionStarted struct {
	ExecutionID string    `json:"executionId"`
	ProgramID   string    `json:"programId"`
	VersionID   string    `json:"versionId"`
	Language    string    `json:"language"`
	StartedAt   time.Time `json:"startedAt"`
}

type ExecutionCompleted struct {
	ExecutionID string        `json:"executionId"`
	ProgramID   string        `json:"programId"`
	Status      string        `json:"status"`
	ExitCode    int           `json:"exitCode"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completedAt"`
}

type ExecutionFailed struct {
	ExecutionID string    `json:"executionId"`
	ProgramID   string    `json:"programId"`
	ErrorCode   string    `json:"errorCode"`
	Message     string    `json:"message"`
	FailedAt    time.Time `json:"failedAt"`
}

type ExecutionStopped struct {
	ExecutionID string    `json:"executionId"`
	ProgramID   string    `json:"programId"`
	StoppedAt   time.Time `json:"stoppedAt"`
}

// Workflow execution events

type WorkflowExecutionStarted struct {
	WorkflowExecutionID string    `json:"workflowExecutionId"`
	WorkflowID          string    `json:"workflowId"`
	StartedAt           time.Time `json:"startedAt"`
}

type WorkflowExecutionCompleted struct {
	WorkflowExecutionID string        `json:"workflowExecutionId"`
	WorkflowID          string        `json:"workflowId"`
	Status              string        `json:"status"`
	Duration            time.Duration `json:"duration"`
	CompletedAt         time.Time     `json:"completedAt"`
}

type NodeExecutionDone struct {
	WorkflowExecutionID string `json:"workflowExecutionId"`
	NodeID              string `json:"nodeId"`
	NodeType            string `json:"nodeType"`
	Status              string `json:"status"`
	Attempts            int    `json:"attempts"`
}

// UI interaction events

// UIField describes one input the user is asked to provide
type UIField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required"`
}

// UIComponentDescriptor is the renderable shape of an interaction form
type UIComponentDescriptor struct {
	Fields      []UIField `json:"fields"`
	SubmitLabel string    `json:"submitLabel,omitempty"`
	CancelLabel string    `json:"cancelLabel,omitempty"`
	AllowSkip   bool      `json:"allowSkip"`
}

type UIInteractionCreated struct {
	InteractionID       string                 `json:"interactionId"`
	WorkflowExecutionID string                 `json:"workflowExecutionId"`
	NodeID              string                 `json:"nodeId"`
	ProgramID           string                 `json:"programId"`
	UIComponent         UIComponentDescriptor  `json:"uiComponent"`
	ContextData         map[string]interface{} `json:"contextData,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
	TimeoutAt           time.Time              `json:"timeoutAt"`
}

type UIInteractionAvailable struct {
	InteractionID       string    `json:"interactionId"`
	WorkflowExecutionID string    `json:"workflowExecutionId"`
	NodeID              string    `json:"nodeId"`
	TimeoutAt           time.Time `json:"timeoutAt"`
}

type UIInteractionStatusChanged struct {
	InteractionID       string    `json:"interactionId"`
	WorkflowExecutionID string    `json:"workflowExecutionId"`
	Status              string    `json:"status"`
	ChangedAt           time.Time `json:"changedAt"`
}

// Event type constants
const (
	TypeExecutionStarted   = "execution.started"
	TypeExecutionCompleted = "execution.completed"
	TypeExecutionFailed    = "execution.failed"
	TypeExecutionStopped   = "execution.stopped"

	TypeWorkflowStarted   = "workflow_execution.started"
	TypeWorkflowCompleted = "workflow_execution.completed"
	TypeNodeDone          = "workflow_execution.node_done"

	TypeInteractionCreated   = "ui_interaction.created"
	TypeInteractionAvailable = "ui_interaction.available"
	TypeInteractionStatus    = "ui_interaction.status_changed"
)
