package interaction

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/shared/events"
)

func testManager(timeout time.Duration) *Manager {
	return NewManager(timeout, nil, logger.Nop(), nil)
}

func TestCreateAndSubmit(t *testing.T) {
	m := testManager(time.Minute)
	ctx := context.Background()

	ia, err := m.Create(ctx, CreateRequest{
		WorkflowExecutionID: "we-1",
		NodeID:              "n-approve",
		Prompt:              "approve the batch?",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeUserInput, ia.Type, "type defaults to user input")
	assert.Equal(t, StatusPending, ia.Status)

	type awaitResult struct {
		data map[string]interface{}
		err  error
	}
	awaited := make(chan awaitResult, 1)
	go func() {
		data, err := m.Await(ctx, ia.ID)
		awaited <- awaitResult{data, err}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Submit(ctx, ia.ID, map[string]interface{}{"approved": true}))

	select {
	case r := <-awaited:
		require.NoError(t, r.err)
		assert.Equal(t, true, r.data["approved"])
	case <-time.After(time.Second):
		t.Fatal("await did not observe the submission")
	}

	resolved, err := m.Get(ia.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
}

func TestCreateRequiresIdentifiers(t *testing.T) {
	m := testManager(time.Minute)

	_, err := m.Create(context.Background(), CreateRequest{NodeID: "n"})
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err))

	_, err = m.Create(context.Background(), CreateRequest{WorkflowExecutionID: "we"})
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err))
}

func TestSubmitValidatesSchema(t *testing.T) {
	m := testManager(time.Minute)
	ctx := context.Background()

	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"name"},
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
			"age":  map[string]interface{}{"type": "number"},
		},
	}
	ia, err := m.Create(ctx, CreateRequest{
		WorkflowExecutionID: "we-1", NodeID: "n-1", InputSchema: schema,
	})
	require.NoError(t, err)

	err = m.Submit(ctx, ia.ID, map[string]interface{}{"age": 30})
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err), "missing required field")

	err = m.Submit(ctx, ia.ID, map[string]interface{}{"name": 7})
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err), "wrong type")

	require.NoError(t, m.Submit(ctx, ia.ID, map[string]interface{}{"name": "ada", "age": 30}))

	err = m.Submit(ctx, ia.ID, map[string]interface{}{"name": "again"})
	assert.Error(t, err, "terminal interactions reject resubmission")
}

func TestCancelWakesWaiterWithError(t *testing.T) {
	m := testManager(time.Minute)
	ctx := context.Background()

	ia, err := m.Create(ctx, CreateRequest{WorkflowExecutionID: "we-1", NodeID: "n-1"})
	require.NoError(t, err)

	awaitErr := make(chan error, 1)
	go func() {
		_, err := m.Await(ctx, ia.ID)
		awaitErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Cancel(ctx, ia.ID))

	select {
	case err := <-awaitErr:
		assert.Equal(t, progerr.CodeCancelled, progerr.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("await did not observe the cancellation")
	}
}

func TestAwaitContextCancellation(t *testing.T) {
	m := testManager(time.Minute)

	ia, err := m.Create(context.Background(), CreateRequest{WorkflowExecutionID: "we-1", NodeID: "n-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	awaitErr := make(chan error, 1)
	go func() {
		_, err := m.Await(ctx, ia.ID)
		awaitErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-awaitErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("await did not observe context cancellation")
	}

	resolved, err := m.Get(ia.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resolved.Status, "abandoned interactions are cancelled")
}

func TestSweepExpired(t *testing.T) {
	m := testManager(time.Minute)
	ctx := context.Background()

	ia, err := m.Create(ctx, CreateRequest{
		WorkflowExecutionID: "we-1", NodeID: "n-1", Timeout: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	awaitErr := make(chan error, 1)
	go func() {
		_, err := m.Await(ctx, ia.ID)
		awaitErr <- err
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, m.SweepExpired())

	select {
	case err := <-awaitErr:
		assert.Equal(t, progerr.CodeInteractionTimeout, progerr.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("await did not observe the expiry")
	}

	assert.Zero(t, m.SweepExpired(), "terminal interactions are not swept again")
}

func TestListPending(t *testing.T) {
	m := testManager(time.Minute)
	ctx := context.Background()

	first, err := m.Create(ctx, CreateRequest{WorkflowExecutionID: "we-1", NodeID: "n-1"})
	require.NoError(t, err)
	_, err = m.Create(ctx, CreateRequest{WorkflowExecutionID: "we-1", NodeID: "n-2"})
	require.NoError(t, err)
	_, err = m.Create(ctx, CreateRequest{WorkflowExecutionID: "we-other", NodeID: "n-3"})
	require.NoError(t, err)

	assert.Len(t, m.ListPending("we-1"), 2)

	require.NoError(t, m.Cancel(ctx, first.ID))
	assert.Len(t, m.ListPending("we-1"), 1)
}

func TestFieldsDerivedFromSchema(t *testing.T) {
	m := testManager(time.Minute)

	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"choice"},
		"properties": map[string]interface{}{
			"choice": map[string]interface{}{
				"type":  "string",
				"title": "Pick one",
				"enum":  []interface{}{"yes", "no"},
			},
		},
	}
	ia, err := m.Create(context.Background(), CreateRequest{
		WorkflowExecutionID: "we-1", NodeID: "n-1", InputSchema: schema,
	})
	require.NoError(t, err)

	require.Len(t, ia.Fields, 1)
	assert.Equal(t, "choice", ia.Fields[0].Name)
	assert.Equal(t, "Pick one", ia.Fields[0].Label)
	assert.True(t, ia.Fields[0].Required)
	assert.Equal(t, []interface{}{"yes", "no"}, ia.Fields[0].Options)
}

func TestGetUnknownInteraction(t *testing.T) {
	m := testManager(time.Minute)

	_, err := m.Get("missing")
	assert.Equal(t, progerr.CodeNotFound, progerr.CodeOf(err))

	_, err = m.Await(context.Background(), "missing")
	assert.Equal(t, progerr.CodeNotFound, progerr.CodeOf(err))
}

type stubPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *stubPublisher) Publish(ctx context.Context, event *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *stubPublisher) byType(eventType string) []*events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*events.Event
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func TestLifecycleEventsCarryComponent(t *testing.T) {
	publisher := &stubPublisher{}
	m := NewManager(time.Minute, publisher, logger.Nop(), nil)
	ctx := context.Background()

	ia, err := m.Create(ctx, CreateRequest{
		WorkflowExecutionID: "we-1",
		NodeID:              "n-form",
		InputSchema: map[string]interface{}{
			"type":        "object",
			"required":    []interface{}{"amount"},
			"submitLabel": "Approve",
			"allowSkip":   true,
			"properties": map[string]interface{}{
				"amount": map[string]interface{}{"type": "number", "title": "Amount"},
			},
		},
	})
	require.NoError(t, err)

	created := publisher.byType(events.TypeInteractionCreated)
	require.Len(t, created, 1)
	var payload events.UIInteractionCreated
	require.NoError(t, json.Unmarshal(created[0].Payload, &payload))
	assert.Equal(t, ia.ID, payload.InteractionID)
	assert.Equal(t, "Approve", payload.UIComponent.SubmitLabel)
	assert.True(t, payload.UIComponent.AllowSkip)
	require.Len(t, payload.UIComponent.Fields, 1)
	assert.Equal(t, "amount", payload.UIComponent.Fields[0].Name)
	assert.Equal(t, "number", payload.UIComponent.Fields[0].Type)
	assert.True(t, payload.UIComponent.Fields[0].Required)
	assert.False(t, payload.TimeoutAt.IsZero())

	assert.Len(t, publisher.byType(events.TypeInteractionAvailable), 1)

	require.NoError(t, m.Submit(ctx, ia.ID, map[string]interface{}{"amount": 5}))
	changed := publisher.byType(events.TypeInteractionStatus)
	require.Len(t, changed, 1)
	var status events.UIInteractionStatusChanged
	require.NoError(t, json.Unmarshal(changed[0].Payload, &status))
	assert.Equal(t, string(StatusCompleted), status.Status)
}
