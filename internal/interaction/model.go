// Package interaction manages human-in-the-loop pauses inside workflow
// executions.
package interaction

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what the interaction asks of the user
type Type string

const (
	TypeUserInput    Type = "user_input"
	TypeConfirmation Type = "confirmation"
	TypeSelection    Type = "selection"
	TypeFileUpload   Type = "file_upload"
	TypeDataReview   Type = "data_review"
	TypeCustom       Type = "custom"
)

// Status of an interaction
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusTimeout    Status = "timeout"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusTimeout
}

// Field is one input the user is asked for, derived from the schema
type Field struct {
	Name     string        `json:"name" bson:"name"`
	Type     string        `json:"type" bson:"type"`
	Label    string        `json:"label,omitempty" bson:"label,omitempty"`
	Required bool          `json:"required" bson:"required"`
	Options  []interface{} `json:"options,omitempty" bson:"options,omitempty"`
}

// UIInteraction is one pending request for user input inside a workflow
// execution.
type UIInteraction struct {
	ID                  string                 `json:"id" bson:"_id"`
	WorkflowExecutionID string                 `json:"workflowExecutionId" bson:"workflowExecutionId"`
	NodeID              string                 `json:"nodeId" bson:"nodeId"`
	Type                Type                   `json:"interactionType" bson:"interactionType"`
	Status              Status                 `json:"status" bson:"status"`
	Prompt              string                 `json:"prompt,omitempty" bson:"prompt,omitempty"`
	InputSchema         map[string]interface{} `json:"inputSchema,omitempty" bson:"inputSchema,omitempty"`
	Fields              []Field                `json:"fields,omitempty" bson:"fields,omitempty"`
	OutputData          map[string]interface{} `json:"outputData,omitempty" bson:"outputData,omitempty"`
	CreatedAt           time.Time              `json:"createdAt" bson:"createdAt"`
	ResolvedAt          *time.Time             `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	ExpiresAt           time.Time              `json:"expiresAt" bson:"expiresAt"`
}

// newInteraction builds a pending interaction and derives its fields from
// the schema.
func newInteraction(workflowExecutionID, nodeID string, itype Type, prompt string, schema map[string]interface{}, timeout time.Duration) *UIInteraction {
	now := time.Now()
	return &UIInteraction{
		ID:                  uuid.New().String(),
		WorkflowExecutionID: workflowExecutionID,
		NodeID:              nodeID,
		Type:                itype,
		Status:              StatusPending,
		Prompt:              prompt,
		InputSchema:         schema,
		Fields:              fieldsFromSchema(schema),
		CreatedAt:           now,
		ExpiresAt:           now.Add(timeout),
	}
}

// fieldsFromSchema flattens a JSON-schema-shaped object into the field
// list shown to the user.
func fieldsFromSchema(schema map[string]interface{}) []Field {
	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if list, ok := schema["required"].([]interface{}); ok {
		for _, item := range list {
			if name, ok := item.(string); ok {
				required[name] = true
			}
		}
	}

	fields := make([]Field, 0, len(properties))
	for name, raw := range properties {
		field := Field{Name: name, Type: "string", Required: required[name]}
		if prop, ok := raw.(map[string]interface{}); ok {
			if t, ok := prop["type"].(string); ok {
				field.Type = t
			}
			if label, ok := prop["title"].(string); ok {
				field.Label = label
			}
			if options, ok := prop["enum"].([]interface{}); ok {
				field.Options = options
			}
		}
		fields = append(fields, field)
	}
	return fields
}
