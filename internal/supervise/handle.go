package supervise

import (
	"os"
	"sync"
	"syscall"

	"github.com/progrunhq/progrun/internal/progerr"
)

// Handle exposes pause and resume control over one supervised process.
// Bound by the supervisor when the process starts; all methods are safe to
// call from other goroutines. Signals target the child's process group so
// shell wrappers suspend together with their children.
type Handle struct {
	mu     sync.Mutex
	pid    int
	paused bool
}

func NewHandle() *Handle {
	return &Handle{}
}

func (h *Handle) bind(proc *os.Process) {
	h.mu.Lock()
	h.pid = proc.Pid
	h.mu.Unlock()
}

// release detaches the handle, resuming a suspended process group first so
// termination signals can be delivered.
func (h *Handle) release() {
	h.mu.Lock()
	if h.paused && h.pid != 0 {
		syscall.Kill(-h.pid, syscall.SIGCONT)
	}
	h.pid = 0
	h.paused = false
	h.mu.Unlock()
}

// Pause suspends the process group with SIGSTOP. Pausing an already paused
// process is a no-op. The execution timeout keeps running while paused.
func (h *Handle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pid == 0 {
		return progerr.Validation("no running process to pause")
	}
	if h.paused {
		return nil
	}
	if err := syscall.Kill(-h.pid, syscall.SIGSTOP); err != nil {
		return progerr.Spawn("failed to pause process", err)
	}
	h.paused = true
	return nil
}

// Resume continues a paused process group with SIGCONT
func (h *Handle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pid == 0 {
		return progerr.Validation("no running process to resume")
	}
	if !h.paused {
		return nil
	}
	if err := syscall.Kill(-h.pid, syscall.SIGCONT); err != nil {
		return progerr.Spawn("failed to resume process", err)
	}
	h.paused = false
	return nil
}

// Paused reports whether the process is currently suspended
func (h *Handle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}
