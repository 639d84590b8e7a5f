// Package repository provides persistence for workflows and workflow
// executions.
package repository

import (
	"context"

	"github.com/progrunhq/progrun/internal/workflow/model"
)

// WorkflowRepository defines workflow persistence
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *model.Workflow) error
	FindByID(ctx context.Context, id string) (*model.Workflow, error)
	Update(ctx context.Context, workflow *model.Workflow) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*model.Workflow, error)
}

// WorkflowExecutionRepository defines workflow execution persistence
type WorkflowExecutionRepository interface {
	Create(ctx context.Context, execution *model.WorkflowExecution) error
	FindByID(ctx context.Context, id string) (*model.WorkflowExecution, error)
	Update(ctx context.Context, execution *model.WorkflowExecution) error
	ListByWorkflow(ctx context.Context, workflowID string, limit, offset int) ([]*model.WorkflowExecution, error)
}
