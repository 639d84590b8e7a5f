package interaction

import (
	"context"
	"time"
)

// Broker adapts the manager to the workflow engine's suspension contract
type Broker struct {
	manager *Manager
}

// NewBroker wraps a manager for the workflow engine
func NewBroker(manager *Manager) *Broker {
	return &Broker{manager: manager}
}

// CreateInteraction registers a pending user-input interaction for a
// workflow node and returns its id.
func (b *Broker) CreateInteraction(ctx context.Context, workflowExecutionID, nodeID string, schema map[string]interface{}, timeout time.Duration) (string, error) {
	ia, err := b.manager.Create(ctx, CreateRequest{
		WorkflowExecutionID: workflowExecutionID,
		NodeID:              nodeID,
		Type:                TypeUserInput,
		InputSchema:         schema,
		Timeout:             timeout,
	})
	if err != nil {
		return "", err
	}
	return ia.ID, nil
}

// AwaitInteraction blocks until the interaction resolves
func (b *Broker) AwaitInteraction(ctx context.Context, interactionID string) (map[string]interface{}, error) {
	return b.manager.Await(ctx, interactionID)
}
