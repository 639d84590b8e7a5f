package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
)

// InMemoryProgramRepository implements ProgramRepository in memory
type InMemoryProgramRepository struct {
	programs map[string]*model.Program
	mu       sync.RWMutex
}

// NewInMemoryProgramRepository creates a new in-memory program repository
func NewInMemoryProgramRepository() *InMemoryProgramRepository {
	return &InMemoryProgramRepository{programs: make(map[string]*model.Program)}
}

// Create creates a program
func (r *InMemoryProgramRepository) Create(ctx context.Context, program *model.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[program.ID] = program
	return nil
}

// FindByID finds a program by ID
func (r *InMemoryProgramRepository) FindByID(ctx context.Context, id string) (*model.Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	program, ok := r.programs[id]
	if !ok {
		return nil, progerr.NotFound("program", id)
	}
	return program, nil
}

// Update updates a program
func (r *InMemoryProgramRepository) Update(ctx context.Context, program *model.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.programs[program.ID]; !ok {
		return progerr.NotFound("program", program.ID)
	}
	r.programs[program.ID] = program
	return nil
}

// Delete deletes a program
func (r *InMemoryProgramRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.programs, id)
	return nil
}

// List lists programs ordered by creation time, newest first
func (r *InMemoryProgramRepository) List(ctx context.Context, limit, offset int) ([]*model.Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	programs := make([]*model.Program, 0, len(r.programs))
	for _, p := range r.programs {
		programs = append(programs, p)
	}
	sort.Slice(programs, func(i, j int) bool {
		return programs[i].CreatedAt.After(programs[j].CreatedAt)
	})

	if offset >= len(programs) {
		return nil, nil
	}
	programs = programs[offset:]
	if limit > 0 && len(programs) > limit {
		programs = programs[:limit]
	}
	return programs, nil
}

// InMemoryVersionRepository implements VersionRepository in memory
type InMemoryVersionRepository struct {
	versions map[string]*model.Version
	mu       sync.RWMutex
}

// NewInMemoryVersionRepository creates a new in-memory version repository
func NewInMemoryVersionRepository() *InMemoryVersionRepository {
	return &InMemoryVersionRepository{versions: make(map[string]*model.Version)}
}

// Create creates a version
func (r *InMemoryVersionRepository) Create(ctx context.Context, version *model.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[version.ID] = version
	return nil
}

// FindByID finds a version by ID
func (r *InMemoryVersionRepository) FindByID(ctx context.Context, id string) (*model.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.versions[id]
	if !ok {
		return nil, progerr.NotFound("version", id)
	}
	return version, nil
}

// FindByNumber finds a version by program and number
func (r *InMemoryVersionRepository) FindByNumber(ctx context.Context, programID string, number int) (*model.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.versions {
		if v.ProgramID == programID && v.Number == number {
			return v, nil
		}
	}
	return nil, progerr.NotFound("version", programID)
}

// ListByProgram lists a program's versions ordered by number
func (r *InMemoryVersionRepository) ListByProgram(ctx context.Context, programID string) ([]*model.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var versions []*model.Version
	for _, v := range r.versions {
		if v.ProgramID == programID {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Number < versions[j].Number
	})
	return versions, nil
}

// Update updates a version
func (r *InMemoryVersionRepository) Update(ctx context.Context, version *model.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[version.ID]; !ok {
		return progerr.NotFound("version", version.ID)
	}
	r.versions[version.ID] = version
	return nil
}

// NextNumber returns the next dense version number for a program
func (r *InMemoryVersionRepository) NextNumber(ctx context.Context, programID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	max := 0
	for _, v := range r.versions {
		if v.ProgramID == programID && v.Number > max {
			max = v.Number
		}
	}
	return max + 1, nil
}

// InMemoryComponentRepository implements ComponentRepository in memory
type InMemoryComponentRepository struct {
	components map[string]*model.UiComponent
	mu         sync.RWMutex
}

// NewInMemoryComponentRepository creates a new in-memory component repository
func NewInMemoryComponentRepository() *InMemoryComponentRepository {
	return &InMemoryComponentRepository{components: make(map[string]*model.UiComponent)}
}

// Create creates a component
func (r *InMemoryComponentRepository) Create(ctx context.Context, component *model.UiComponent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.components {
		if c.ProgramID == component.ProgramID &&
			c.VersionID == component.VersionID &&
			c.Name == component.Name &&
			c.Status == "active" {
			return progerr.Validation("active component with this name already exists for the version")
		}
	}
	r.components[component.ID] = component
	return nil
}

// FindByID finds a component by ID
func (r *InMemoryComponentRepository) FindByID(ctx context.Context, id string) (*model.UiComponent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	component, ok := r.components[id]
	if !ok {
		return nil, progerr.NotFound("ui component", id)
	}
	return component, nil
}

// FindByVersion finds the active component attached to a version
func (r *InMemoryComponentRepository) FindByVersion(ctx context.Context, programID, versionID string) (*model.UiComponent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.components {
		if c.ProgramID == programID && c.VersionID == versionID && c.Status == "active" {
			return c, nil
		}
	}
	return nil, progerr.NotFound("ui component", versionID)
}

// Update updates a component
func (r *InMemoryComponentRepository) Update(ctx context.Context, component *model.UiComponent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.components[component.ID]; !ok {
		return progerr.NotFound("ui component", component.ID)
	}
	r.components[component.ID] = component
	return nil
}

// InMemoryExecutionRepository implements ExecutionRepository in memory
type InMemoryExecutionRepository struct {
	executions map[string]*model.Execution
	mu         sync.RWMutex
}

// NewInMemoryExecutionRepository creates a new in-memory execution repository
func NewInMemoryExecutionRepository() *InMemoryExecutionRepository {
	return &InMemoryExecutionRepository{executions: make(map[string]*model.Execution)}
}

// Create creates an execution record
func (r *InMemoryExecutionRepository) Create(ctx context.Context, execution *model.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[execution.ID] = execution
	return nil
}

// FindByID finds an execution by ID
func (r *InMemoryExecutionRepository) FindByID(ctx context.Context, id string) (*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	execution, ok := r.executions[id]
	if !ok {
		return nil, progerr.NotFound("execution", id)
	}
	return execution, nil
}

// Update updates an execution
func (r *InMemoryExecutionRepository) Update(ctx context.Context, execution *model.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[execution.ID]; !ok {
		return progerr.NotFound("execution", execution.ID)
	}
	r.executions[execution.ID] = execution
	return nil
}

// UpdateStatus updates only the status field
func (r *InMemoryExecutionRepository) UpdateStatus(ctx context.Context, id string, status model.ExecutionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, ok := r.executions[id]
	if !ok {
		return progerr.NotFound("execution", id)
	}
	execution.Status = status
	return nil
}

// ListByProgram lists executions for a program, newest first
func (r *InMemoryExecutionRepository) ListByProgram(ctx context.Context, programID string, limit, offset int) ([]*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var executions []*model.Execution
	for _, e := range r.executions {
		if e.ProgramID == programID {
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
