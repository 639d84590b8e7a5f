// Package supervise spawns language runner processes and tracks their
// output, resource usage and lifetime.
package supervise

import (
	"bufio"
	"context"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
	"github.com/progrunhq/progrun/internal/runner"
	"github.com/progrunhq/progrun/internal/stream"
)

// Default grace period between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// Options configures one supervised run. Handle, when set, is bound to
// the child process for the duration of the run.
type Options struct {
	ExecutionID     string
	UserID          string
	Timeout         time.Duration
	OutputDir       string
	OutputTailBytes int
	Handle          *Handle
}

// Result is the terminal outcome of a supervised run
type Result struct {
	ExitCode    int
	OutputTail  string
	OutputFiles []string
	Usage       model.ResourceUsage
	Duration    time.Duration
}

// Supervisor runs invocations and streams their output
type Supervisor struct {
	log logger.Logger
}

// NewSupervisor creates a supervisor
func NewSupervisor(log logger.Logger) *Supervisor {
	return &Supervisor{log: log}
}

// Run executes the invocation to completion. Lines from stdout and stderr
// are pushed into emit as they arrive; resource usage is sampled at 1 Hz.
// The returned error, when non-nil, is one of the core error kinds.
func (s *Supervisor) Run(ctx context.Context, inv *runner.Invocation, opts Options, emit stream.Emitter) (*Result, error) {
	start := time.Now()

	for _, step := range inv.Setup {
		if err := s.runSetup(ctx, inv, step); err != nil {
			return nil, err
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.Command(inv.Cmd, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env
	// Own process group so signals reach grandchildren too; a shell
	// wrapper's children would otherwise survive and hold the pipes open.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, progerr.Spawn("failed to open stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, progerr.Spawn("failed to open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, progerr.Spawn("failed to start process", err)
	}
	if opts.Handle != nil {
		opts.Handle.bind(cmd.Process)
		defer opts.Handle.release()
	}

	emit.Emit(stream.Event{
		ExecutionID: opts.ExecutionID,
		UserID:      opts.UserID,
		Type:        stream.EventStarted,
		Timestamp:   time.Now(),
	})

	tail := newTailBuffer(opts.OutputTailBytes)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.drain(&readers, stdout, stream.EventOutput, "stdout", opts, emit, tail)
	go s.drain(&readers, stderr, stream.EventError, "stderr", opts, emit, nil)

	sampler := newSampler(cmd.Process.Pid)
	samplerDone := make(chan struct{})
	go sampler.run(samplerDone, opts, emit)

	waitCh := make(chan error, 1)
	waitDone := make(chan struct{})
	go func() {
		readers.Wait()
		waitCh <- cmd.Wait()
		close(waitDone)
	}()

	var waitErr error
	var runErr error
	select {
	case waitErr = <-waitCh:
		// Natural exit.

	case <-runCtx.Done():
		if opts.Handle != nil {
			opts.Handle.release() // SIGCONT first so SIGTERM is delivered
		}
		s.terminate(cmd, waitDone)
		waitErr = <-waitCh

		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			runErr = progerr.Timeout("execution exceeded its timeout")
		} else {
			runErr = progerr.Cancelled("execution stopped")
		}
	}
	close(samplerDone)

	result := &Result{
		OutputTail: tail.String(),
		Usage:      sampler.usage(),
		Duration:   time.Since(start),
	}
	result.OutputFiles = scanOutputs(opts.OutputDir)

	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		result.ExitCode = -1
	}

	if runErr == nil && result.ExitCode != 0 {
		runErr = progerr.NonZeroExit(result.ExitCode)
	}

	emit.Emit(stream.Event{
		ExecutionID: opts.ExecutionID,
		UserID:      opts.UserID,
		Type:        stream.EventCompleted,
		Data: map[string]interface{}{
			"exitCode":    result.ExitCode,
			"outputFiles": result.OutputFiles,
			"duration":    result.Duration.String(),
		},
		Timestamp: time.Now(),
	})

	return result, runErr
}

func (s *Supervisor) runSetup(ctx context.Context, inv *runner.Invocation, step runner.Step) error {
	cmd := exec.CommandContext(ctx, step.Cmd, step.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = inv.Env

	out, err := cmd.CombinedOutput()
	if err != nil {
		s.log.Warn("setup step failed", "cmd", step.Cmd, "output", string(out))
		return progerr.Spawn("setup step failed: "+step.Cmd, err)
	}
	return nil
}

// drain reads one pipe line by line into the emitter
func (s *Supervisor) drain(wg *sync.WaitGroup, r interface{ Read([]byte) (int, error) }, eventType stream.EventType, streamName string, opts Options, emit stream.Emitter, tail *tailBuffer) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			tail.WriteLine(line)
		}
		emit.Emit(stream.Event{
			ExecutionID: opts.ExecutionID,
			UserID:      opts.UserID,
			Type:        eventType,
			Stream:      streamName,
			Line:        line,
			Timestamp:   time.Now(),
		})
	}
}

// terminate signals the child's process group gracefully, then forcefully.
// done closes once cmd.Wait has returned.
func (s *Supervisor) terminate(cmd *exec.Cmd, done <-chan struct{}) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}

	select {
	case <-done:
	case <-time.After(killGrace):
		syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

func scanOutputs(dir string) []string {
	if dir == "" {
		return nil
	}

	var files []string
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(dir, path); err == nil {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	return files
}

// sampler tracks resource usage of a child process via OS counters
type sampler struct {
	pid int

	mu      sync.Mutex
	peakRSS uint64
	cpuTime float64
}

func newSampler(pid int) *sampler {
	return &sampler{pid: pid}
}

func (s *sampler) run(done <-chan struct{}, opts Options, emit stream.Emitter) {
	proc, err := process.NewProcess(int32(s.pid))
	if err != nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !s.sample(proc, opts, emit) {
				return
			}
		}
	}
}

func (s *sampler) sample(proc *process.Process, opts Options, emit stream.Emitter) bool {
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return false
	}
	cpuTimes, err := proc.Times()
	if err != nil {
		return false
	}

	s.mu.Lock()
	if memInfo.RSS > s.peakRSS {
		s.peakRSS = memInfo.RSS
	}
	s.cpuTime = cpuTimes.User + cpuTimes.System
	usage := model.ResourceUsage{CPUTime: s.cpuTime, MemoryUsed: s.peakRSS}
	s.mu.Unlock()

	emit.Emit(stream.Event{
		ExecutionID: opts.ExecutionID,
		UserID:      opts.UserID,
		Type:        stream.EventResourceUsage,
		Data: map[string]interface{}{
			"cpuTime":    usage.CPUTime,
			"memoryUsed": usage.MemoryUsed,
		},
		Timestamp: time.Now(),
	})
	return true
}

func (s *sampler) usage() model.ResourceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ResourceUsage{CPUTime: s.cpuTime, MemoryUsed: s.peakRSS}
}
