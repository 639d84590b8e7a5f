package execution

import (
	"context"
	"encoding/json"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
	"github.com/progrunhq/progrun/internal/workflow"
)

// resultFile is the conventional structured-output file a program writes
// into its output directory.
const resultFile = "result.json"

// ProgramRunnerAdapter exposes the service to the workflow engine as a
// synchronous program runner.
type ProgramRunnerAdapter struct {
	service *Service
}

// NewProgramRunnerAdapter wraps the execution service for workflow nodes
func NewProgramRunnerAdapter(service *Service) *ProgramRunnerAdapter {
	return &ProgramRunnerAdapter{service: service}
}

// RunProgram runs one program inline, bypassing the task queue: workflow
// nodes already run on scheduled slots. Returns the program's outputs or
// an error carrying the execution's error code.
func (a *ProgramRunnerAdapter) RunProgram(ctx context.Context, req workflow.ProgramRunRequest) (*workflow.ProgramRunResult, error) {
	s := a.service

	program, err := s.programs.FindByID(ctx, req.ProgramID)
	if err != nil {
		return nil, err
	}
	versionID := req.VersionID
	if versionID == "" {
		versionID = program.CurrentVersionID
	}
	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if !version.Executable() {
		return nil, progerr.Validation("version " + versionID + " is not approved")
	}

	execution := model.NewExecution(program.ID, version.ID, req.UserID, req.Parameters)
	if err := s.executions.Create(ctx, execution); err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	if err := s.Run(ctx, execution.ID, timeout, req.Environment); err != nil {
		return nil, err
	}

	finished, err := s.executions.FindByID(ctx, execution.ID)
	if err != nil {
		return nil, err
	}

	result := &workflow.ProgramRunResult{
		ExecutionID: finished.ID,
		ExitCode:    finished.Results.ExitCode,
	}
	if finished.Status != model.ExecutionCompleted {
		return result, errorFromResults(finished.Results)
	}

	result.Outputs = a.outputsOf(ctx, finished)
	return result, nil
}

// outputsOf assembles a node-consumable output map from a finished
// execution: exit code, output tail, output file names, plus the parsed
// result.json when the program wrote one.
func (a *ProgramRunnerAdapter) outputsOf(ctx context.Context, execution *model.Execution) map[string]interface{} {
	fileNames := make([]string, 0, len(execution.Results.OutputFiles))
	for _, f := range execution.Results.OutputFiles {
		fileNames = append(fileNames, f.Name)
	}

	outputs := map[string]interface{}{
		"exitCode":    execution.Results.ExitCode,
		"output":      execution.Results.Output,
		"outputFiles": fileNames,
	}

	for _, f := range execution.Results.OutputFiles {
		if f.Name != resultFile {
			continue
		}
		data, err := a.service.store.GetOutput(ctx,
			execution.ProgramID, execution.VersionID, execution.ID, f.Name)
		if err != nil {
			a.service.log.Warn("failed to fetch result file",
				"executionId", execution.ID, "error", err)
			break
		}
		var structured map[string]interface{}
		if err := json.Unmarshal(data, &structured); err != nil {
			a.service.log.Warn("result file is not a json object",
				"executionId", execution.ID, "error", err)
			break
		}
		for k, v := range structured {
			outputs[k] = v
		}
		break
	}
	return outputs
}

// errorFromResults reconstructs the core error of a failed execution so
// the workflow retry policy can classify it.
func errorFromResults(results model.ExecutionResults) error {
	switch results.ErrorCode {
	case progerr.CodeTimeout:
		return progerr.Timeout(results.Error)
	case progerr.CodeCancelled:
		return progerr.Cancelled(results.Error)
	case progerr.CodeNonZeroExit:
		return progerr.NonZeroExit(results.ExitCode)
	case progerr.CodeMaterialization:
		return progerr.Materialization(results.Error, nil)
	case progerr.CodeSpawn:
		return progerr.Spawn(results.Error, nil)
	default:
		return progerr.Dependency(results.Error)
	}
}
