package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/workflow/model"
)

// InMemoryWorkflowRepository implements WorkflowRepository in memory
type InMemoryWorkflowRepository struct {
	workflows map[string]*model.Workflow
	mu        sync.RWMutex
}

// NewInMemoryWorkflowRepository creates a new in-memory workflow repository
func NewInMemoryWorkflowRepository() *InMemoryWorkflowRepository {
	return &InMemoryWorkflowRepository{workflows: make(map[string]*model.Workflow)}
}

// Create creates a workflow
func (r *InMemoryWorkflowRepository) Create(ctx context.Context, workflow *model.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[workflow.ID] = workflow
	return nil
}

// FindByID finds a workflow by ID
func (r *InMemoryWorkflowRepository) FindByID(ctx context.Context, id string) (*model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflow, ok := r.workflows[id]
	if !ok {
		return nil, progerr.NotFound("workflow", id)
	}
	return workflow, nil
}

// Update updates a workflow
func (r *InMemoryWorkflowRepository) Update(ctx context.Context, workflow *model.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[workflow.ID]; !ok {
		return progerr.NotFound("workflow", workflow.ID)
	}
	r.workflows[workflow.ID] = workflow
	return nil
}

// Delete deletes a workflow
func (r *InMemoryWorkflowRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workflows, id)
	return nil
}

// List lists workflows, newest first
func (r *InMemoryWorkflowRepository) List(ctx context.Context, limit, offset int) ([]*model.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*model.Workflow, 0, len(r.workflows))
	for _, w := range r.workflows {
		workflows = append(workflows, w)
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	if offset >= len(workflows) {
		return nil, nil
	}
	workflows = workflows[offset:]
	if limit > 0 && len(workflows) > limit {
		workflows = workflows[:limit]
	}
	return workflows, nil
}

// InMemoryWorkflowExecutionRepository implements WorkflowExecutionRepository
// in memory
type InMemoryWorkflowExecutionRepository struct {
	executions map[string]*model.WorkflowExecution
	mu         sync.RWMutex
}

// NewInMemoryWorkflowExecutionRepository creates a new in-memory workflow
// execution repository
func NewInMemoryWorkflowExecutionRepository() *InMemoryWorkflowExecutionRepository {
	return &InMemoryWorkflowExecutionRepository{executions: make(map[string]*model.WorkflowExecution)}
}

// Create creates a workflow execution
func (r *InMemoryWorkflowExecutionRepository) Create(ctx context.Context, execution *model.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[execution.ID] = execution
	return nil
}

// FindByID finds a workflow execution by ID
func (r *InMemoryWorkflowExecutionRepository) FindByID(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, progerr.NotFound("workflow execution", id)
	}
	return execution, nil
}

// Update updates a workflow execution
func (r *InMemoryWorkflowExecutionRepository) Update(ctx context.Context, execution *model.WorkflowExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[execution.ID]; !ok {
		return progerr.NotFound("workflow execution", execution.ID)
	}
	r.executions[execution.ID] = execution
	return nil
}

// ListByWorkflow lists executions of one workflow, newest first
func (r *InMemoryWorkflowExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*model.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var executions []*model.WorkflowExecution
	for _, e := range r.executions {
		if e.WorkflowID == workflowID {
			executions = append(executions, e)
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if offset >= len(executions) {
		return nil, nil
	}
	executions = executions[offset:]
	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}
	return executions, nil
}
