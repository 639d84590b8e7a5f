// Package repository provides persistence for programs, versions, UI
// components and executions.
package repository

import (
	"context"

	"github.com/progrunhq/progrun/internal/program/model"
)

// ProgramRepository defines program persistence
type ProgramRepository interface {
	Create(ctx context.Context, program *model.Program) error
	FindByID(ctx context.Context, id string) (*model.Program, error)
	Update(ctx context.Context, program *model.Program) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*model.Program, error)
}

// VersionRepository defines version persistence
type VersionRepository interface {
	Create(ctx context.Context, version *model.Version) error
	FindByID(ctx context.Context, id string) (*model.Version, error)
	FindByNumber(ctx context.Context, programID string, number int) (*model.Version, error)
	ListByProgram(ctx context.Context, programID string) ([]*model.Version, error)
	Update(ctx context.Context, version *model.Version) error
	NextNumber(ctx context.Context, programID string) (int, error)
}

// ComponentRepository defines UI component persistence
type ComponentRepository interface {
	Create(ctx context.Context, component *model.UiComponent) error
	FindByID(ctx context.Context, id string) (*model.UiComponent, error)
	FindByVersion(ctx context.Context, programID, versionID string) (*model.UiComponent, error)
	Update(ctx context.Context, component *model.UiComponent) error
}

// ExecutionRepository defines program execution persistence
type ExecutionRepository interface {
	Create(ctx context.Context, execution *model.Execution) error
	FindByID(ctx context.Context, id string) (*model.Execution, error)
	Update(ctx context.Context, execution *model.Execution) error
	UpdateStatus(ctx context.Context, id string, status model.ExecutionStatus) error
	ListByProgram(ctx context.Context, programID string, limit, offset int) ([]*model.Execution, error)
}
