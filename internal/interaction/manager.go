package interaction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/platform/metrics"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/shared/events"
)

// EventPublisher exports interaction lifecycle events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// outcome is what a waiting node receives when an interaction resolves
type outcome struct {
	data map[string]interface{}
	err  error
}

// Manager tracks pending interactions and wakes the workflow node waiting
// on each one. Expired interactions resolve with a timeout error.
type Manager struct {
	mu           sync.Mutex
	interactions map[string]*UIInteraction
	waiters      map[string]chan outcome

	defaultTimeout time.Duration
	publisher      EventPublisher
	log            logger.Logger
	met            *metrics.Metrics

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewManager creates an interaction manager. The publisher may be nil.
func NewManager(defaultTimeout time.Duration, publisher EventPublisher, log logger.Logger, met *metrics.Metrics) *Manager {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Minute
	}
	return &Manager{
		interactions:   make(map[string]*UIInteraction),
		waiters:        make(map[string]chan outcome),
		defaultTimeout: defaultTimeout,
		publisher:      publisher,
		log:            log,
		met:            met,
		stopSweep:      make(chan struct{}),
	}
}

// CreateRequest describes a new interaction
type CreateRequest struct {
	WorkflowExecutionID string
	NodeID              string
	Type                Type
	Prompt              string
	InputSchema         map[string]interface{}
	Timeout             time.Duration
}

// Create registers a pending interaction and returns it. The caller holds
// the returned interaction's ID and later blocks on Await.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*UIInteraction, error) {
	if req.WorkflowExecutionID == "" || req.NodeID == "" {
		return nil, progerr.Validation("interaction requires workflowExecutionId and nodeId")
	}

	itype := req.Type
	if itype == "" {
		itype = TypeUserInput
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	ia := newInteraction(req.WorkflowExecutionID, req.NodeID, itype, req.Prompt, req.InputSchema, timeout)

	m.mu.Lock()
	m.interactions[ia.ID] = ia
	m.waiters[ia.ID] = make(chan outcome, 1)
	m.mu.Unlock()

	if m.met != nil {
		m.met.InteractionsCreated.Inc()
	}
	m.log.Info("interaction created", "interactionId", ia.ID,
		"workflowExecutionId", ia.WorkflowExecutionID, "nodeId", ia.NodeID,
		"type", ia.Type)

	m.publishEvent(ctx, ia.ID, events.TypeInteractionCreated, events.UIInteractionCreated{
		InteractionID:       ia.ID,
		WorkflowExecutionID: ia.WorkflowExecutionID,
		NodeID:              ia.NodeID,
		UIComponent:         componentOf(ia),
		CreatedAt:           ia.CreatedAt,
		TimeoutAt:           ia.ExpiresAt,
	})
	m.publishEvent(ctx, ia.ID, events.TypeInteractionAvailable, events.UIInteractionAvailable{
		InteractionID:       ia.ID,
		WorkflowExecutionID: ia.WorkflowExecutionID,
		NodeID:              ia.NodeID,
		TimeoutAt:           ia.ExpiresAt,
	})

	return ia, nil
}

// componentOf maps the interaction's derived fields into the renderable
// form descriptor broadcast with the created event.
func componentOf(ia *UIInteraction) events.UIComponentDescriptor {
	component := events.UIComponentDescriptor{}
	for _, f := range ia.Fields {
		component.Fields = append(component.Fields, events.UIField{
			Name:     f.Name,
			Type:     f.Type,
			Label:    f.Label,
			Required: f.Required,
		})
	}
	if schema := ia.InputSchema; schema != nil {
		if label, ok := schema["submitLabel"].(string); ok {
			component.SubmitLabel = label
		}
		if label, ok := schema["cancelLabel"].(string); ok {
			component.CancelLabel = label
		}
		if skip, ok := schema["allowSkip"].(bool); ok {
			component.AllowSkip = skip
		}
	}
	return component
}

// Await blocks until the interaction is submitted, cancelled or expired.
// Returns the submitted output data.
func (m *Manager) Await(ctx context.Context, interactionID string) (map[string]interface{}, error) {
	m.mu.Lock()
	ch, ok := m.waiters[interactionID]
	m.mu.Unlock()
	if !ok {
		return nil, progerr.NotFound("interaction", interactionID)
	}

	select {
	case out := <-ch:
		return out.data, out.err
	case <-ctx.Done():
		m.resolve(interactionID, StatusCancelled, nil, progerr.Cancelled("interaction abandoned"))
		return nil, ctx.Err()
	}
}

// Submit completes an interaction with the user's data. The data is
// validated against the interaction's input schema.
func (m *Manager) Submit(ctx context.Context, interactionID string, data map[string]interface{}) error {
	m.mu.Lock()
	ia, ok := m.interactions[interactionID]
	if !ok {
		m.mu.Unlock()
		return progerr.NotFound("interaction", interactionID)
	}
	if ia.Status.Terminal() {
		m.mu.Unlock()
		return progerr.Validation(fmt.Sprintf("interaction %s already %s", interactionID, ia.Status))
	}
	schema := ia.InputSchema
	m.mu.Unlock()

	if err := validateAgainstSchema(schema, data); err != nil {
		return err
	}

	if !m.resolve(interactionID, StatusCompleted, data, nil) {
		return progerr.Validation(fmt.Sprintf("interaction %s already resolved", interactionID))
	}

	m.publishResolved(ctx, interactionID, StatusCompleted)
	return nil
}

// Cancel resolves an interaction without data. The waiting node fails
// with a cancellation error.
func (m *Manager) Cancel(ctx context.Context, interactionID string) error {
	m.mu.Lock()
	_, ok := m.interactions[interactionID]
	m.mu.Unlock()
	if !ok {
		return progerr.NotFound("interaction", interactionID)
	}

	if !m.resolve(interactionID, StatusCancelled, nil, progerr.Cancelled("interaction cancelled")) {
		return progerr.Validation(fmt.Sprintf("interaction %s already resolved", interactionID))
	}

	m.publishResolved(ctx, interactionID, StatusCancelled)
	return nil
}

// Get returns an interaction by ID
func (m *Manager) Get(interactionID string) (*UIInteraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ia, ok := m.interactions[interactionID]
	if !ok {
		return nil, progerr.NotFound("interaction", interactionID)
	}
	copied := *ia
	return &copied, nil
}

// ListPending returns the pending interactions of a workflow execution
func (m *Manager) ListPending(workflowExecutionID string) []*UIInteraction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*UIInteraction
	for _, ia := range m.interactions {
		if ia.WorkflowExecutionID == workflowExecutionID && !ia.Status.Terminal() {
			copied := *ia
			out = append(out, &copied)
		}
	}
	return out
}

// StartSweeper launches the background loop that expires overdue
// interactions.
func (m *Manager) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopSweep:
				return
			case <-ticker.C:
				m.SweepExpired()
			}
		}
	}()
}

// StopSweeper stops the expiry loop
func (m *Manager) StopSweeper() {
	m.sweepOnce.Do(func() { close(m.stopSweep) })
}

// SweepExpired resolves every overdue interaction with a timeout error
func (m *Manager) SweepExpired() int {
	now := time.Now()

	m.mu.Lock()
	var expired []string
	for id, ia := range m.interactions {
		if !ia.Status.Terminal() && now.After(ia.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if m.resolve(id, StatusTimeout, nil, progerr.InteractionTimeout(id)) {
			m.log.Warn("interaction timed out", "interactionId", id)
			m.publishResolved(context.Background(), id, StatusTimeout)
		}
	}
	return len(expired)
}

// resolve transitions an interaction into a terminal status and wakes its
// waiter exactly once.
func (m *Manager) resolve(interactionID string, status Status, data map[string]interface{}, err error) bool {
	m.mu.Lock()
	ia, ok := m.interactions[interactionID]
	if !ok || ia.Status.Terminal() {
		m.mu.Unlock()
		return false
	}

	now := time.Now()
	ia.Status = status
	ia.OutputData = data
	ia.ResolvedAt = &now

	ch := m.waiters[interactionID]
	delete(m.waiters, interactionID)
	m.mu.Unlock()

	if ch != nil {
		ch <- outcome{data: data, err: err}
	}
	if m.met != nil {
		m.met.InteractionsResolved.WithLabelValues(string(status)).Inc()
	}
	return true
}

func (m *Manager) publishResolved(ctx context.Context, interactionID string, status Status) {
	m.mu.Lock()
	ia, ok := m.interactions[interactionID]
	m.mu.Unlock()
	if !ok {
		return
	}

	resolvedAt := time.Now()
	if ia.ResolvedAt != nil {
		resolvedAt = *ia.ResolvedAt
	}
	m.publishEvent(ctx, interactionID, events.TypeInteractionStatus, events.UIInteractionStatusChanged{
		InteractionID:       interactionID,
		WorkflowExecutionID: ia.WorkflowExecutionID,
		Status:              string(status),
		ChangedAt:           resolvedAt,
	})
}

func (m *Manager) publishEvent(ctx context.Context, interactionID, eventType string, payload interface{}) {
	if m.publisher == nil {
		return
	}
	event, err := events.NewEvent(interactionID, events.AggregateInteraction, eventType, payload)
	if err != nil {
		m.log.Error("failed to build interaction event", "error", err)
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.log.Error("failed to publish interaction event",
			"interactionId", interactionID, "eventType", eventType, "error", err)
	}
}

// validateAgainstSchema checks submitted data against a JSON-schema-shaped
// object: required keys must be present and typed properties must match.
func validateAgainstSchema(schema, data map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	if list, ok := schema["required"].([]interface{}); ok {
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				continue
			}
			if _, present := data[name]; !present {
				return progerr.Validation(fmt.Sprintf("missing required field %q", name))
			}
		}
	}

	properties, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return nil
	}
	for name, raw := range properties {
		value, present := data[name]
		if !present || value == nil {
			continue
		}
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		expected, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if !matchesType(expected, value) {
			return progerr.Validation(fmt.Sprintf("field %q expects type %s", name, expected))
		}
	}
	return nil
}

func matchesType(expected string, value interface{}) bool {
	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}
