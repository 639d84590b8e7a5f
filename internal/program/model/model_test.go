package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProgram(t *testing.T) {
	p, err := NewProgram("add numbers", LanguagePython)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, LanguagePython, p.Language)
	assert.False(t, p.CreatedAt.IsZero())

	_, err = NewProgram("", LanguagePython)
	assert.Error(t, err)

	_, err = NewProgram("name", Language("ruby"))
	assert.Error(t, err, "unsupported language")
}

func TestVersionLifecycle(t *testing.T) {
	v, err := NewVersion("prog-1", 1)
	require.NoError(t, err)
	assert.Equal(t, VersionPending, v.Status)
	assert.False(t, v.Executable())

	require.NoError(t, v.Approve())
	assert.True(t, v.Executable())

	rejected, err := NewVersion("prog-1", 2)
	require.NoError(t, err)
	rejected.Reject()
	assert.Error(t, rejected.Approve(), "rejected versions stay rejected")
	assert.False(t, rejected.Executable())
}

func TestNewVersionValidation(t *testing.T) {
	_, err := NewVersion("", 1)
	assert.Error(t, err)

	_, err = NewVersion("prog-1", 0)
	assert.Error(t, err)
}

func TestExecutionFinishIsMonotonic(t *testing.T) {
	e := NewExecution("prog-1", "ver-1", "user-1", nil)
	assert.Equal(t, ExecutionRunning, e.Status)
	assert.False(t, e.Status.Terminal())

	ok := e.Finish(ExecutionCompleted, ExecutionResults{ExitCode: 0, Output: "done"}, ResourceUsage{})
	assert.True(t, ok)
	assert.Equal(t, ExecutionCompleted, e.Status)
	require.NotNil(t, e.CompletedAt)
	first := *e.CompletedAt

	ok = e.Finish(ExecutionFailed, ExecutionResults{ExitCode: 1}, ResourceUsage{})
	assert.False(t, ok, "terminal executions never change again")
	assert.Equal(t, ExecutionCompleted, e.Status)
	assert.Equal(t, "done", e.Results.Output)
	assert.Equal(t, first, *e.CompletedAt)
}

func TestExecutionDuration(t *testing.T) {
	e := NewExecution("prog-1", "ver-1", "user-1", nil)
	assert.Positive(t, e.Duration())

	e.Finish(ExecutionCompleted, ExecutionResults{}, ResourceUsage{})
	frozen := e.Duration()
	assert.Equal(t, frozen, e.Duration(), "duration is fixed once terminal")
}

func TestUiComponentElements(t *testing.T) {
	c := &UiComponent{Configuration: map[string]interface{}{
		"elements": []interface{}{
			map[string]interface{}{"name": "amount", "type": "number"},
			"not an element",
			map[string]interface{}{"name": "note", "type": "string"},
		},
	}}

	elements := c.Elements()
	require.Len(t, elements, 2)
	assert.Equal(t, "amount", elements[0]["name"])
	assert.Equal(t, "note", elements[1]["name"])

	empty := &UiComponent{Configuration: map[string]interface{}{}}
	assert.Nil(t, empty.Elements())
}
