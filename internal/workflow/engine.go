package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/progrunhq/progrun/internal/contract"
	"github.com/progrunhq/progrun/internal/platform/cache"
	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/platform/metrics"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/shared/events"
	"github.com/progrunhq/progrun/internal/taskqueue"
	"github.com/progrunhq/progrun/internal/workflow/model"
	"github.com/progrunhq/progrun/internal/workflow/repository"
)

// ProgramRunRequest asks the program execution core to run one program
// synchronously on behalf of a workflow node.
type ProgramRunRequest struct {
	ProgramID   string
	VersionID   string
	UserID      string
	Parameters  map[string]interface{}
	Environment map[string]string
	Timeout     time.Duration
}

// ProgramRunResult is the outcome of a synchronous program run
type ProgramRunResult struct {
	ExecutionID string
	ExitCode    int
	Outputs     map[string]interface{}
}

// ProgramRunner executes program nodes. Cancelling the context stops the
// underlying child process.
type ProgramRunner interface {
	RunProgram(ctx context.Context, req ProgramRunRequest) (*ProgramRunResult, error)
}

// UIBroker suspends a node on user input and resumes it with the
// submitted data.
type UIBroker interface {
	CreateInteraction(ctx context.Context, workflowExecutionID, nodeID string, schema map[string]interface{}, timeout time.Duration) (string, error)
	AwaitInteraction(ctx context.Context, interactionID string) (map[string]interface{}, error)
}

// EventPublisher exports workflow lifecycle events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Engine schedules workflow executions: it dispatches ready nodes under a
// concurrency cap, routes data between them and drives every execution to
// a terminal state.
type Engine struct {
	cfg   config.WorkflowConfig
	retry config.RetryConfig

	workflows  repository.WorkflowRepository
	executions repository.WorkflowExecutionRepository
	programs   ProgramRunner
	ui         UIBroker
	publisher  EventPublisher
	pool       *taskqueue.Pool
	cache      cache.Cache

	log logger.Logger
	met *metrics.Metrics

	mu   sync.Mutex
	runs map[string]*run
}

// EngineDeps bundles the engine dependencies. UI broker, publisher, pool,
// cache and metrics may be nil.
type EngineDeps struct {
	Config     config.WorkflowConfig
	Retry      config.RetryConfig
	Workflows  repository.WorkflowRepository
	Executions repository.WorkflowExecutionRepository
	Programs   ProgramRunner
	UI         UIBroker
	Publisher  EventPublisher
	Pool       *taskqueue.Pool
	Cache      cache.Cache
	Logger     logger.Logger
	Metrics    *metrics.Metrics
}

// NewEngine creates the workflow engine and registers its task handler
func NewEngine(deps EngineDeps) *Engine {
	e := &Engine{
		cfg:        deps.Config,
		retry:      deps.Retry,
		workflows:  deps.Workflows,
		executions: deps.Executions,
		programs:   deps.Programs,
		ui:         deps.UI,
		publisher:  deps.Publisher,
		pool:       deps.Pool,
		cache:      deps.Cache,
		log:        deps.Logger,
		met:        deps.Metrics,
		runs:       make(map[string]*run),
	}
	if e.pool != nil {
		e.pool.Register(taskqueue.TaskTypeWorkflowExecution, e.handleTask)
	}
	return e
}

// Execute validates and runs a workflow to completion, returning the
// finished execution. Only active workflows may run.
func (e *Engine) Execute(ctx context.Context, workflowID, executedBy string, execCtx model.ExecutionContext) (*model.WorkflowExecution, error) {
	wf, err := e.workflows.FindByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WorkflowActive {
		return nil, progerr.Validation(fmt.Sprintf("workflow %s is %s, not active", wf.ID, wf.Status))
	}

	result := Validate(wf)
	if !result.IsValid {
		return nil, progerr.Validation(fmt.Sprintf(
			"workflow %s failed validation: %s", wf.ID, result.Errors[0].Message))
	}

	exec := model.NewWorkflowExecution(wf, executedBy, execCtx)
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, err
	}

	e.runExecution(ctx, wf, exec)
	return exec, nil
}

// Submit enqueues a workflow execution on the task pool and returns its ID
// immediately.
func (e *Engine) Submit(ctx context.Context, workflowID, executedBy string, execCtx model.ExecutionContext) (*model.WorkflowExecution, error) {
	wf, err := e.workflows.FindByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != model.WorkflowActive {
		return nil, progerr.Validation(fmt.Sprintf("workflow %s is %s, not active", wf.ID, wf.Status))
	}

	result := Validate(wf)
	if !result.IsValid {
		return nil, progerr.Validation(fmt.Sprintf(
			"workflow %s failed validation: %s", wf.ID, result.Errors[0].Message))
	}

	exec := model.NewWorkflowExecution(wf, executedBy, execCtx)
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, err
	}

	task := &taskqueue.Task{
		Type: taskqueue.TaskTypeWorkflowExecution,
		Payload: map[string]interface{}{
			"workflowExecutionId": exec.ID,
			"workflowId":          wf.ID,
		},
	}
	if err := e.pool.Submit(ctx, task); err != nil {
		return nil, err
	}
	return exec, nil
}

func (e *Engine) handleTask(ctx context.Context, task *taskqueue.Task) error {
	executionID, _ := task.Payload["workflowExecutionId"].(string)
	if executionID == "" {
		return fmt.Errorf("workflow execution task missing workflowExecutionId")
	}

	exec, err := e.executions.FindByID(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status.Terminal() {
		return nil
	}
	wf, err := e.workflows.FindByID(ctx, exec.WorkflowID)
	if err != nil {
		return err
	}

	e.runExecution(ctx, wf, exec)
	return nil
}

// Status returns a workflow execution record
func (e *Engine) Status(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	return e.executions.FindByID(ctx, executionID)
}

// Pause stops dispatching new nodes of a running execution. Nodes already
// running finish normally.
func (e *Engine) Pause(executionID string) error {
	r, ok := e.lookup(executionID)
	if !ok {
		return progerr.NotFound("workflow execution", executionID)
	}
	r.pause()
	return nil
}

// Resume continues a paused execution
func (e *Engine) Resume(executionID string) error {
	r, ok := e.lookup(executionID)
	if !ok {
		return progerr.NotFound("workflow execution", executionID)
	}
	r.resume()
	return nil
}

// Cancel stops a running execution. Running program nodes are stopped
// before the execution reaches its terminal state.
func (e *Engine) Cancel(executionID string) error {
	r, ok := e.lookup(executionID)
	if !ok {
		return progerr.NotFound("workflow execution", executionID)
	}
	r.requestCancel()
	return nil
}

func (e *Engine) lookup(executionID string) (*run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[executionID]
	return r, ok
}

// runExecution drives one execution to a terminal state. Blocks until done.
func (e *Engine) runExecution(ctx context.Context, wf *model.Workflow, exec *model.WorkflowExecution) {
	timeout := e.timeoutFor(wf, exec)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxConcurrent := e.concurrencyFor(wf, exec)

	r := &run{
		engine: e,
		wf:     wf,
		exec:   exec,
		router: contract.NewRouter(e.log),
		sem:    make(chan struct{}, maxConcurrent),
		signal: make(chan struct{}, 1),
		cancel: cancel,
		taken:  make(map[string]bool),
	}

	e.mu.Lock()
	e.runs[exec.ID] = r
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.runs, exec.ID)
		e.mu.Unlock()
	}()

	exec.Status = model.ExecutionRunning
	exec.AppendLog("info", "workflow execution started", "")
	e.persist(ctx, exec)

	if e.met != nil {
		e.met.WorkflowExecutionsStarted.WithLabelValues(wf.ID).Inc()
	}
	e.publishEvent(ctx, exec.ID, events.TypeWorkflowStarted, events.WorkflowExecutionStarted{
		WorkflowExecutionID: exec.ID,
		WorkflowID:          wf.ID,
		StartedAt:           exec.StartedAt,
	})

	r.loop(runCtx)

	r.router.Clear(exec.ID)

	if e.met != nil {
		e.met.WorkflowExecutionsDone.WithLabelValues(string(exec.Status)).Inc()
	}
	e.publishEvent(ctx, exec.ID, events.TypeWorkflowCompleted, events.WorkflowExecutionCompleted{
		WorkflowExecutionID: exec.ID,
		WorkflowID:          wf.ID,
		Status:              string(exec.Status),
		Duration:            time.Since(exec.StartedAt),
		CompletedAt:         time.Now(),
	})
	e.log.Info("workflow execution finished", "workflowExecutionId", exec.ID,
		"workflowId", wf.ID, "status", exec.Status,
		"completed", exec.Progress.Completed, "failed", exec.Progress.Failed,
		"skipped", exec.Progress.Skipped)
}

func (e *Engine) timeoutFor(wf *model.Workflow, exec *model.WorkflowExecution) time.Duration {
	minutes := exec.Context.TimeoutMinutes
	if minutes <= 0 {
		minutes = wf.Settings.TimeoutMinutes
	}
	if minutes <= 0 {
		return e.cfg.DefaultTimeout()
	}
	return time.Duration(minutes) * time.Minute
}

// concurrencyFor caps node parallelism at the tighter of the workflow
// settings and the execution context.
func (e *Engine) concurrencyFor(wf *model.Workflow, exec *model.WorkflowExecution) int {
	limit := wf.Settings.MaxConcurrentNodes
	if limit <= 0 {
		limit = e.cfg.MaxConcurrentNodes
	}
	if exec.Context.MaxConcurrentNodes > 0 && exec.Context.MaxConcurrentNodes < limit {
		limit = exec.Context.MaxConcurrentNodes
	}
	if limit <= 0 {
		limit = 1
	}
	return limit
}

func (e *Engine) persist(ctx context.Context, exec *model.WorkflowExecution) {
	if err := e.executions.Update(ctx, exec); err != nil {
		e.log.Warn("failed to persist workflow execution",
			"workflowExecutionId", exec.ID, "error", err)
	}
}

func (e *Engine) publishEvent(ctx context.Context, executionID, eventType string, payload interface{}) {
	if e.publisher == nil {
		return
	}
	event, err := events.NewEvent(executionID, events.AggregateWorkflowExecution, eventType, payload)
	if err != nil {
		e.log.Error("failed to build workflow event", "error", err)
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.log.Error("failed to publish workflow event",
			"workflowExecutionId", executionID, "eventType", eventType, "error", err)
	}
}
