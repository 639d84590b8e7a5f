package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
	"github.com/progrunhq/progrun/internal/workflow"
)

func TestRunProgramReturnsStructuredOutputs(t *testing.T) {
	env := newTestEnv(t)
	adapter := NewProgramRunnerAdapter(env.service)

	program := env.seedProgram(t, "echo working\necho '{\"sum\":12,\"label\":\"ok\"}' > output/result.json\n")

	result, err := adapter.RunProgram(context.Background(), workflow.ProgramRunRequest{
		ProgramID: program.ID,
		UserID:    "user-1",
		Timeout:   time.Minute,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ExecutionID)
	assert.Equal(t, 0, result.ExitCode)

	assert.Equal(t, float64(12), result.Outputs["sum"], "result.json fields are promoted to outputs")
	assert.Equal(t, "ok", result.Outputs["label"])
	assert.Equal(t, 0, result.Outputs["exitCode"])
	assert.Contains(t, result.Outputs["output"], "working")
	assert.Equal(t, []string{"result.json"}, result.Outputs["outputFiles"])
}

func TestRunProgramWithoutResultFile(t *testing.T) {
	env := newTestEnv(t)
	adapter := NewProgramRunnerAdapter(env.service)

	program := env.seedProgram(t, "echo plain output\n")

	result, err := adapter.RunProgram(context.Background(), workflow.ProgramRunRequest{
		ProgramID: program.ID,
	})
	require.NoError(t, err)

	assert.Contains(t, result.Outputs["output"], "plain output")
	assert.NotContains(t, result.Outputs, "sum")
}

func TestRunProgramFailureCarriesErrorCode(t *testing.T) {
	env := newTestEnv(t)
	adapter := NewProgramRunnerAdapter(env.service)

	program := env.seedProgram(t, "exit 4\n")

	result, err := adapter.RunProgram(context.Background(), workflow.ProgramRunRequest{
		ProgramID: program.ID,
	})
	require.Error(t, err)
	assert.Equal(t, progerr.CodeNonZeroExit, progerr.CodeOf(err))
	assert.True(t, progerr.IsRetryable(err), "the engine retry policy can classify the failure")
	require.NotNil(t, result)
	assert.Equal(t, 4, result.ExitCode)
}

func TestRunProgramRejectsUnapprovedVersion(t *testing.T) {
	env := newTestEnv(t)
	adapter := NewProgramRunnerAdapter(env.service)
	ctx := context.Background()

	program := env.seedProgram(t, "true\n")
	version, err := env.versions.FindByID(ctx, program.CurrentVersionID)
	require.NoError(t, err)
	version.Reject()
	require.NoError(t, env.versions.Update(ctx, version))

	_, err = adapter.RunProgram(ctx, workflow.ProgramRunRequest{ProgramID: program.ID})
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err))
}

func TestErrorFromResults(t *testing.T) {
	tests := []struct {
		name      string
		errorCode string
		wantCode  string
		retryable bool
	}{
		{"timeout", progerr.CodeTimeout, progerr.CodeTimeout, true},
		{"cancelled", progerr.CodeCancelled, progerr.CodeCancelled, false},
		{"non-zero exit", progerr.CodeNonZeroExit, progerr.CodeNonZeroExit, true},
		{"materialization", progerr.CodeMaterialization, progerr.CodeMaterialization, false},
		{"spawn", progerr.CodeSpawn, progerr.CodeSpawn, false},
		{"unknown maps to dependency", "SOMETHING_ELSE", progerr.CodeDependency, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := errorFromResults(model.ExecutionResults{ErrorCode: tt.errorCode, ExitCode: 1, Error: "x"})
			assert.Equal(t, tt.wantCode, progerr.CodeOf(err))
			assert.Equal(t, tt.retryable, progerr.IsRetryable(err))
		})
	}
}
