package supervise

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/runner"
	"github.com/progrunhq/progrun/internal/stream"
)

type eventCollector struct {
	mu     sync.Mutex
	events []stream.Event
}

func (c *eventCollector) Emit(e stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) all() []stream.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stream.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) ofType(t stream.EventType) []stream.Event {
	var out []stream.Event
	for _, e := range c.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func shellInvocation(dir, script string) *runner.Invocation {
	return &runner.Invocation{
		Cmd:  "sh",
		Args: []string{"-c", script},
		Env:  os.Environ(),
		Dir:  dir,
	}
}

func TestRunCapturesOutputAndFiles(t *testing.T) {
	dir := t.TempDir()
	outputDir := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))

	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}

	inv := shellInvocation(dir, `echo hello; echo oops >&2; echo '{"sum":3}' > output/result.json`)
	result, err := s.Run(context.Background(), inv, Options{
		ExecutionID:     "exec-1",
		UserID:          "user-1",
		OutputDir:       outputDir,
		OutputTailBytes: 4096,
	}, collector)

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.OutputTail, "hello")
	assert.Equal(t, []string{"result.json"}, result.OutputFiles)
	assert.Positive(t, result.Duration)

	events := collector.all()
	require.NotEmpty(t, events)
	assert.Equal(t, stream.EventStarted, events[0].Type)
	assert.Equal(t, stream.EventCompleted, events[len(events)-1].Type)

	outputs := collector.ofType(stream.EventOutput)
	require.Len(t, outputs, 1)
	assert.Equal(t, "hello", outputs[0].Line)
	assert.Equal(t, "stdout", outputs[0].Stream)
	assert.Equal(t, "exec-1", outputs[0].ExecutionID)

	errs := collector.ofType(stream.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "oops", errs[0].Line)
	assert.Equal(t, "stderr", errs[0].Stream)

	completed := collector.ofType(stream.EventCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, 0, completed[0].Data["exitCode"])
}

func TestRunNonZeroExit(t *testing.T) {
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}

	inv := shellInvocation(t.TempDir(), "echo failing; exit 3")
	result, err := s.Run(context.Background(), inv, Options{ExecutionID: "exec-1"}, collector)

	require.Error(t, err)
	assert.Equal(t, progerr.CodeNonZeroExit, progerr.CodeOf(err))
	assert.True(t, progerr.IsRetryable(err))
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}

	inv := &runner.Invocation{Cmd: "sleep", Args: []string{"10"}, Dir: t.TempDir()}
	start := time.Now()
	result, err := s.Run(context.Background(), inv, Options{
		ExecutionID: "exec-1",
		Timeout:     100 * time.Millisecond,
	}, collector)

	require.Error(t, err)
	assert.Equal(t, progerr.CodeTimeout, progerr.CodeOf(err))
	assert.True(t, progerr.IsRetryable(err))
	assert.NotNil(t, result)
	assert.Less(t, time.Since(start), 5*time.Second, "child is signalled, not waited out")
}

func TestRunCancellation(t *testing.T) {
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	inv := &runner.Invocation{Cmd: "sleep", Args: []string{"10"}, Dir: t.TempDir()}
	_, err := s.Run(ctx, inv, Options{ExecutionID: "exec-1"}, collector)

	require.Error(t, err)
	assert.Equal(t, progerr.CodeCancelled, progerr.CodeOf(err))
	assert.False(t, progerr.IsRetryable(err))
}

func TestRunStopKillsProcessTree(t *testing.T) {
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}

	// The shell forks sleep as a child holding the inherited pipes; stopping
	// the run must take the whole process group down, not just the shell.
	inv := shellInvocation(t.TempDir(), "echo ready\nsleep 30\necho after\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := s.Run(ctx, inv, Options{ExecutionID: "exec-1"}, collector)
		done <- outcome{result, err}
	}()

	require.Eventually(t, func() bool {
		return len(collector.ofType(stream.EventOutput)) > 0
	}, 5*time.Second, 10*time.Millisecond, "script never produced output")

	cancel()

	select {
	case o := <-done:
		require.Error(t, o.err)
		assert.Equal(t, progerr.CodeCancelled, progerr.CodeOf(o.err))
		assert.NotContains(t, o.result.OutputTail, "after")
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after stop; orphaned child kept the pipes open")
	}
}

func TestRunSpawnFailure(t *testing.T) {
	s := NewSupervisor(logger.Nop())

	inv := &runner.Invocation{Cmd: "/nonexistent/interpreter", Dir: t.TempDir()}
	_, err := s.Run(context.Background(), inv, Options{}, stream.EmitterFunc(func(stream.Event) {}))

	require.Error(t, err)
	assert.Equal(t, progerr.CodeSpawn, progerr.CodeOf(err))
}

func TestRunSetupStepsPrecedeMain(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}

	inv := shellInvocation(dir, "cat compiled.txt")
	inv.Setup = []runner.Step{
		{Cmd: "sh", Args: []string{"-c", "echo artifact > compiled.txt"}},
	}

	result, err := s.Run(context.Background(), inv, Options{ExecutionID: "exec-1", OutputTailBytes: 1024}, collector)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.OutputTail, "artifact")
}

func TestRunSetupFailureAborts(t *testing.T) {
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}

	inv := shellInvocation(t.TempDir(), "echo should-not-run")
	inv.Setup = []runner.Step{
		{Cmd: "sh", Args: []string{"-c", "echo compile error >&2; exit 1"}},
	}

	_, err := s.Run(context.Background(), inv, Options{ExecutionID: "exec-1"}, collector)
	require.Error(t, err)
	assert.Equal(t, progerr.CodeSpawn, progerr.CodeOf(err))
	assert.Empty(t, collector.ofType(stream.EventOutput), "main command never ran")
}

func TestScanOutputsNestedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "charts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "result.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "charts", "plot.png"), []byte("png"), 0o644))

	files := scanOutputs(dir)
	assert.ElementsMatch(t, []string{"result.json", "charts/plot.png"}, files)

	assert.Nil(t, scanOutputs(""))
}

func TestTailBufferEvictsOldestLines(t *testing.T) {
	tail := newTailBuffer(12)

	tail.WriteLine("aaaa") // 5 bytes with newline
	tail.WriteLine("bbbb")
	tail.WriteLine("cccc")

	assert.Equal(t, "bbbb\ncccc", tail.String())

	unlimited := newTailBuffer(0)
	unlimited.WriteLine("one")
	unlimited.WriteLine("two")
	assert.Equal(t, "one\ntwo", unlimited.String())

	empty := newTailBuffer(10)
	assert.Equal(t, "", empty.String())
}

func TestRunPauseResume(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}
	handle := NewHandle()

	type runOutcome struct {
		result *Result
		err    error
	}
	done := make(chan runOutcome, 1)
	go func() {
		result, err := s.Run(context.Background(),
			shellInvocation(dir, "echo ready\nsleep 1\necho done\n"),
			Options{ExecutionID: "exec-1", Timeout: 10 * time.Second, Handle: handle},
			collector)
		done <- runOutcome{result, err}
	}()

	require.Eventually(t, func() bool {
		for _, e := range collector.all() {
			if e.Line == "ready" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, handle.Pause())
	assert.True(t, handle.Paused())
	require.NoError(t, handle.Pause(), "pausing twice is a no-op")

	select {
	case <-done:
		t.Fatal("process finished while paused")
	case <-time.After(600 * time.Millisecond):
	}

	require.NoError(t, handle.Resume())
	assert.False(t, handle.Paused())

	var outcome runOutcome
	select {
	case outcome = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not finish after resume")
	}
	require.NoError(t, outcome.err)
	assert.Equal(t, 0, outcome.result.ExitCode)
	assert.Contains(t, outcome.result.OutputTail, "done")
}

func TestRunStopWhilePaused(t *testing.T) {
	dir := t.TempDir()
	s := NewSupervisor(logger.Nop())
	collector := &eventCollector{}
	handle := NewHandle()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx,
			shellInvocation(dir, "echo ready\nexec sleep 30\n"),
			Options{ExecutionID: "exec-1", Handle: handle},
			collector)
		done <- err
	}()

	require.Eventually(t, func() bool {
		for _, e := range collector.all() {
			if e.Line == "ready" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, handle.Pause())
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, progerr.CodeCancelled, progerr.CodeOf(err))
	case <-time.After(10 * time.Second):
		t.Fatal("paused process was not stopped")
	}
}

func TestHandleWithoutProcess(t *testing.T) {
	handle := NewHandle()
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(handle.Pause()))
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(handle.Resume()))
	assert.False(t, handle.Paused())
}
