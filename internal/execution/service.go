// Package execution orchestrates the program execution pipeline:
// materialize, build, supervise, persist, publish.
package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/progrunhq/progrun/internal/filestore"
	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/platform/metrics"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
	"github.com/progrunhq/progrun/internal/program/repository"
	"github.com/progrunhq/progrun/internal/runner"
	"github.com/progrunhq/progrun/internal/sandbox"
	"github.com/progrunhq/progrun/internal/shared/events"
	"github.com/progrunhq/progrun/internal/stream"
	"github.com/progrunhq/progrun/internal/supervise"
	"github.com/progrunhq/progrun/internal/taskqueue"
)

// EventPublisher exports execution lifecycle events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// Service runs programs. Execute accepts and enqueues; the task pool
// drives the pipeline through Run.
type Service struct {
	cfg config.ExecutionConfig

	programs   repository.ProgramRepository
	versions   repository.VersionRepository
	components repository.ComponentRepository
	executions repository.ExecutionRepository
	archive    repository.ExecutionArchive

	store        filestore.Store
	materializer *sandbox.Materializer
	runners      *runner.Registry
	supervisor   *supervise.Supervisor
	hub          *stream.Hub
	pool         *taskqueue.Pool
	publisher    EventPublisher

	log logger.Logger
	met *metrics.Metrics

	sem chan struct{}

	mu   sync.Mutex
	runs map[string]*runControl
}

// runControl tracks an in-flight run so Stop, Pause and Resume can reach
// its process.
type runControl struct {
	cancel context.CancelFunc
	handle *supervise.Handle
}

// Deps bundles the service dependencies. Archive, publisher and metrics
// may be nil.
type Deps struct {
	Config       config.ExecutionConfig
	Programs     repository.ProgramRepository
	Versions     repository.VersionRepository
	Components   repository.ComponentRepository
	Executions   repository.ExecutionRepository
	Archive      repository.ExecutionArchive
	Store        filestore.Store
	Materializer *sandbox.Materializer
	Runners      *runner.Registry
	Supervisor   *supervise.Supervisor
	Hub          *stream.Hub
	Pool         *taskqueue.Pool
	Publisher    EventPublisher
	Logger       logger.Logger
	Metrics      *metrics.Metrics
}

// NewService creates the execution service and registers its task handler
func NewService(deps Deps) *Service {
	maxConcurrent := deps.Config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}

	s := &Service{
		cfg:          deps.Config,
		programs:     deps.Programs,
		versions:     deps.Versions,
		components:   deps.Components,
		executions:   deps.Executions,
		archive:      deps.Archive,
		store:        deps.Store,
		materializer: deps.Materializer,
		runners:      deps.Runners,
		supervisor:   deps.Supervisor,
		hub:          deps.Hub,
		pool:         deps.Pool,
		publisher:    deps.Publisher,
		log:          deps.Logger,
		met:          deps.Metrics,
		sem:          make(chan struct{}, maxConcurrent),
		runs:         make(map[string]*runControl),
	}

	if s.pool != nil {
		s.pool.Register(taskqueue.TaskTypeProgramExecution, s.handleTask)
	}
	return s
}

// ExecuteRequest describes one program run
type ExecuteRequest struct {
	ProgramID   string
	VersionID   string
	UserID      string
	Parameters  map[string]interface{}
	Environment map[string]string
	Timeout     time.Duration
}

// Execute validates the request, records the execution and enqueues it.
// Returns the execution ID immediately; the run happens on the task pool.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*model.Execution, error) {
	program, err := s.programs.FindByID(ctx, req.ProgramID)
	if err != nil {
		return nil, err
	}

	versionID := req.VersionID
	if versionID == "" {
		versionID = program.CurrentVersionID
	}
	if versionID == "" {
		return nil, progerr.Validation(fmt.Sprintf("program %s has no current version", program.ID))
	}

	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if version.ProgramID != program.ID {
		return nil, progerr.Validation(fmt.Sprintf("version %s does not belong to program %s", versionID, program.ID))
	}
	if !version.Executable() {
		return nil, progerr.Validation(fmt.Sprintf("version %s is not approved", versionID))
	}

	execution := model.NewExecution(program.ID, version.ID, req.UserID, req.Parameters)
	if err := s.executions.Create(ctx, execution); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	task := &taskqueue.Task{
		Type: taskqueue.TaskTypeProgramExecution,
		Payload: map[string]interface{}{
			"executionId": execution.ID,
			"timeoutMs":   float64(timeout.Milliseconds()),
		},
	}
	for k, v := range req.Environment {
		task.Payload["env."+k] = v
	}

	if err := s.pool.Submit(ctx, task); err != nil {
		s.failExecution(ctx, execution, progerr.Spawn("failed to enqueue execution", err))
		return nil, err
	}

	s.log.Info("execution accepted", "executionId", execution.ID,
		"programId", program.ID, "versionId", version.ID, "language", program.Language)
	return execution, nil
}

func (s *Service) handleTask(ctx context.Context, task *taskqueue.Task) error {
	executionID, _ := task.Payload["executionId"].(string)
	if executionID == "" {
		return fmt.Errorf("program execution task missing executionId")
	}

	timeout := s.cfg.DefaultTimeout
	if ms, ok := task.Payload["timeoutMs"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	env := make(map[string]string)
	for k, v := range task.Payload {
		if len(k) > 4 && k[:4] == "env." {
			if s, ok := v.(string); ok {
				env[k[4:]] = s
			}
		}
	}

	return s.Run(ctx, executionID, timeout, env)
}

// Run drives one accepted execution through the full pipeline. Errors in
// the pipeline are recorded on the execution, not returned; only a missing
// record surfaces as an error.
func (s *Service) Run(ctx context.Context, executionID string, timeout time.Duration, env map[string]string) error {
	execution, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return nil
	}

	program, err := s.programs.FindByID(ctx, execution.ProgramID)
	if err != nil {
		s.failExecution(ctx, execution, progerr.Materialization("program vanished before execution", err))
		return nil
	}
	version, err := s.versions.FindByID(ctx, execution.VersionID)
	if err != nil {
		s.failExecution(ctx, execution, progerr.Materialization("version vanished before execution", err))
		return nil
	}
	component, err := s.components.FindByVersion(ctx, program.ID, version.ID)
	if err != nil && progerr.CodeOf(err) != progerr.CodeNotFound {
		s.failExecution(ctx, execution, progerr.Materialization("failed to load ui component", err))
		return nil
	}

	// Concurrency slot. Queued executions wait here, bounded by the pool
	// depth upstream.
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.failExecution(ctx, execution, progerr.Cancelled("execution cancelled while queued"))
		return nil
	}
	defer func() { <-s.sem }()

	if s.met != nil {
		s.met.ExecutionsRunning.Inc()
		defer s.met.ExecutionsRunning.Dec()
		s.met.ExecutionsStarted.WithLabelValues(string(program.Language)).Inc()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	handle := supervise.NewHandle()
	s.registerRun(execution.ID, cancel, handle)
	defer s.unregisterRun(execution.ID)

	s.publishEvent(ctx, execution.ID, events.TypeExecutionStarted, events.ExecutionStarted{
		ExecutionID: execution.ID,
		ProgramID:   program.ID,
		VersionID:   version.ID,
		Language:    string(program.Language),
		StartedAt:   execution.StartedAt,
	})

	sb, err := s.materializer.Materialize(runCtx, program, version, component, execution.ID)
	if err != nil {
		s.failExecution(ctx, execution, err)
		return nil
	}
	defer sb.Release()

	rn, err := s.runners.Get(program.Language)
	if err != nil {
		s.failExecution(ctx, execution, progerr.Spawn("no runner for language", err))
		return nil
	}
	inv, err := rn.Build(runCtx, &runner.BuildSpec{
		SandboxRoot: sb.Root,
		Parameters:  execution.Parameters,
		Environment: env,
	})
	if err != nil {
		s.failExecution(ctx, execution, progerr.Spawn("failed to build invocation", err))
		return nil
	}

	result, runErr := s.supervisor.Run(runCtx, inv, supervise.Options{
		ExecutionID:     execution.ID,
		UserID:          execution.UserID,
		Timeout:         timeout,
		OutputDir:       sb.OutputDir,
		OutputTailBytes: s.cfg.OutputTailBytes,
		Handle:          handle,
	}, s.hub)
	if result == nil {
		s.failExecution(ctx, execution, runErr)
		return nil
	}

	outputFiles := s.uploadOutputs(ctx, execution, sb, result.OutputFiles)

	s.finish(ctx, execution, program, result, outputFiles, runErr)
	return nil
}

// uploadOutputs copies sandbox output files into durable storage
func (s *Service) uploadOutputs(ctx context.Context, execution *model.Execution, sb *sandbox.Sandbox, names []string) []model.OutputFile {
	var files []model.OutputFile
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(sb.OutputDir, filepath.FromSlash(name)))
		if err != nil {
			s.log.Warn("failed to read output file", "executionId", execution.ID,
				"file", name, "error", err)
			continue
		}
		key, err := s.store.PutOutput(ctx, execution.ProgramID, execution.VersionID, execution.ID, name, data)
		if err != nil {
			s.log.Warn("failed to store output file", "executionId", execution.ID,
				"file", name, "error", err)
			continue
		}
		files = append(files, model.OutputFile{
			Name:       name,
			StorageKey: key,
			Size:       int64(len(data)),
		})
	}
	return files
}

// finish records the terminal outcome and publishes the matching events
func (s *Service) finish(ctx context.Context, execution *model.Execution, program *model.Program, result *supervise.Result, outputFiles []model.OutputFile, runErr error) {
	results := model.ExecutionResults{
		ExitCode:    result.ExitCode,
		Output:      result.OutputTail,
		OutputFiles: outputFiles,
	}

	status := model.ExecutionCompleted
	if runErr != nil {
		results.Error = runErr.Error()
		results.ErrorCode = progerr.CodeOf(runErr)
		if results.ErrorCode == progerr.CodeCancelled {
			status = model.ExecutionStopped
		} else {
			status = model.ExecutionFailed
		}
	}

	if !execution.Finish(status, results, result.Usage) {
		return
	}
	if err := s.executions.Update(ctx, execution); err != nil {
		s.log.Error("failed to persist execution result",
			"executionId", execution.ID, "error", err)
	}

	s.hub.Publish(stream.Event{
		ExecutionID: execution.ID,
		UserID:      execution.UserID,
		Type:        stream.EventStatus,
		Data: map[string]interface{}{
			"status":    string(status),
			"exitCode":  result.ExitCode,
			"errorCode": results.ErrorCode,
		},
		Timestamp: time.Now(),
	})

	language := string(program.Language)
	switch status {
	case model.ExecutionCompleted:
		if s.met != nil {
			s.met.ExecutionsCompleted.WithLabelValues(language).Inc()
		}
		s.publishEvent(ctx, execution.ID, events.TypeExecutionCompleted, events.ExecutionCompleted{
			ExecutionID: execution.ID,
			ProgramID:   execution.ProgramID,
			Status:      string(status),
			ExitCode:    result.ExitCode,
			Duration:    result.Duration,
			CompletedAt: *execution.CompletedAt,
		})
	case model.ExecutionStopped:
		if s.met != nil {
			s.met.ExecutionsStopped.WithLabelValues(language).Inc()
		}
		s.publishEvent(ctx, execution.ID, events.TypeExecutionStopped, events.ExecutionStopped{
			ExecutionID: execution.ID,
			ProgramID:   execution.ProgramID,
			StoppedAt:   *execution.CompletedAt,
		})
	default:
		if s.met != nil {
			s.met.ExecutionsFailed.WithLabelValues(language, results.ErrorCode).Inc()
		}
		s.publishEvent(ctx, execution.ID, events.TypeExecutionFailed, events.ExecutionFailed{
			ExecutionID: execution.ID,
			ProgramID:   execution.ProgramID,
			ErrorCode:   results.ErrorCode,
			Message:     results.Error,
			FailedAt:    *execution.CompletedAt,
		})
	}
	if s.met != nil {
		s.met.ExecutionDuration.WithLabelValues(language).Observe(result.Duration.Seconds())
	}

	s.archiveExecution(ctx, execution)

	s.log.Info("execution finished", "executionId", execution.ID,
		"status", status, "exitCode", result.ExitCode,
		"duration", result.Duration.String())
}

// failExecution records a pipeline failure that happened before or outside
// a supervised run.
func (s *Service) failExecution(ctx context.Context, execution *model.Execution, cause error) {
	results := model.ExecutionResults{
		ExitCode:  -1,
		Error:     cause.Error(),
		ErrorCode: progerr.CodeOf(cause),
	}
	status := model.ExecutionFailed
	if results.ErrorCode == progerr.CodeCancelled {
		status = model.ExecutionStopped
	}

	if !execution.Finish(status, results, model.ResourceUsage{}) {
		return
	}
	if err := s.executions.Update(ctx, execution); err != nil {
		s.log.Error("failed to persist execution failure",
			"executionId", execution.ID, "error", err)
	}

	s.hub.Publish(stream.Event{
		ExecutionID: execution.ID,
		UserID:      execution.UserID,
		Type:        stream.EventStatus,
		Data: map[string]interface{}{
			"status":    string(status),
			"errorCode": results.ErrorCode,
		},
		Timestamp: time.Now(),
	})

	if s.met != nil && status == model.ExecutionFailed {
		s.met.ExecutionsFailed.WithLabelValues("unknown", results.ErrorCode).Inc()
	}
	s.publishEvent(ctx, execution.ID, events.TypeExecutionFailed, events.ExecutionFailed{
		ExecutionID: execution.ID,
		ProgramID:   execution.ProgramID,
		ErrorCode:   results.ErrorCode,
		Message:     results.Error,
		FailedAt:    time.Now(),
	})

	s.archiveExecution(ctx, execution)

	s.log.Warn("execution failed before run", "executionId", execution.ID,
		"errorCode", results.ErrorCode, "error", cause)
}

func (s *Service) archiveExecution(ctx context.Context, execution *model.Execution) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Archive(ctx, execution); err != nil {
		s.log.Warn("failed to archive execution",
			"executionId", execution.ID, "error", err)
	}
}

// Stop cancels a running execution. Stopping a queued execution cancels it
// before it spawns; stopping a finished one is a no-op.
func (s *Service) Stop(ctx context.Context, executionID string) error {
	execution, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		return err
	}
	if execution.Status.Terminal() {
		return nil
	}

	s.mu.Lock()
	ctl, running := s.runs[executionID]
	s.mu.Unlock()

	if running {
		ctl.cancel()
		s.log.Info("execution stop requested", "executionId", executionID)
		return nil
	}

	// Not spawned yet: mark it stopped so the queue handler skips it.
	s.failExecution(ctx, execution, progerr.Cancelled("execution stopped before start"))
	return nil
}

// Pause suspends the running process of an execution. The execution stays
// running from the record's point of view and its timeout keeps counting.
func (s *Service) Pause(ctx context.Context, executionID string) error {
	ctl, err := s.controlFor(ctx, executionID)
	if err != nil {
		return err
	}
	if err := ctl.handle.Pause(); err != nil {
		return err
	}
	s.publishStatus(executionID, "paused")
	s.log.Info("execution paused", "executionId", executionID)
	return nil
}

// Resume continues a paused execution's process
func (s *Service) Resume(ctx context.Context, executionID string) error {
	ctl, err := s.controlFor(ctx, executionID)
	if err != nil {
		return err
	}
	if err := ctl.handle.Resume(); err != nil {
		return err
	}
	s.publishStatus(executionID, "resumed")
	s.log.Info("execution resumed", "executionId", executionID)
	return nil
}

func (s *Service) controlFor(ctx context.Context, executionID string) (*runControl, error) {
	execution, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if execution.Status.Terminal() {
		return nil, progerr.Validation(fmt.Sprintf("execution %s already %s", executionID, execution.Status))
	}

	s.mu.Lock()
	ctl, running := s.runs[executionID]
	s.mu.Unlock()
	if !running {
		return nil, progerr.Validation(fmt.Sprintf("execution %s has not started", executionID))
	}
	return ctl, nil
}

func (s *Service) publishStatus(executionID, status string) {
	s.hub.Publish(stream.Event{
		ExecutionID: executionID,
		Type:        stream.EventStatus,
		Data:        map[string]interface{}{"status": status},
		Timestamp:   time.Now(),
	})
}

// Status returns the current execution record
func (s *Service) Status(ctx context.Context, executionID string) (*model.Execution, error) {
	return s.executions.FindByID(ctx, executionID)
}

// Logs returns the cached tail of the execution's output stream
func (s *Service) Logs(ctx context.Context, executionID string, lastN int) ([]stream.Event, error) {
	if _, err := s.executions.FindByID(ctx, executionID); err != nil {
		return nil, err
	}
	return s.hub.CachedLogs(executionID, lastN), nil
}

// Result returns the terminal results of a finished execution
func (s *Service) Result(ctx context.Context, executionID string) (*model.ExecutionResults, error) {
	execution, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !execution.Status.Terminal() {
		return nil, progerr.Validation(fmt.Sprintf("execution %s is still %s", executionID, execution.Status))
	}
	results := execution.Results
	return &results, nil
}

// ListByProgram returns recent executions of a program
func (s *Service) ListByProgram(ctx context.Context, programID string, limit, offset int) ([]*model.Execution, error) {
	return s.executions.ListByProgram(ctx, programID, limit, offset)
}

func (s *Service) registerRun(executionID string, cancel context.CancelFunc, handle *supervise.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[executionID] = &runControl{cancel: cancel, handle: handle}
}

func (s *Service) unregisterRun(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, executionID)
}

func (s *Service) publishEvent(ctx context.Context, executionID, eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	event, err := events.NewEvent(executionID, events.AggregateExecution, eventType, payload)
	if err != nil {
		s.log.Error("failed to build execution event", "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Error("failed to publish execution event",
			"executionId", executionID, "eventType", eventType, "error", err)
	}
}
