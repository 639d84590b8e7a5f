package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus identifies the lifecycle state of a program execution
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// Terminal reports whether the status admits no further transitions
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionStopped
}

// ExecutionResults holds the terminal results of a program execution.
// Output carries only a bounded tail of stdout; the full log lives in the
// streaming hub cache for the grace window.
type ExecutionResults struct {
	ExitCode    int          `json:"exitCode" bson:"exit_code"`
	Output      string       `json:"output" bson:"output"`
	OutputFiles []OutputFile `json:"outputFiles,omitempty" bson:"output_files,omitempty"`
	Error       string       `json:"error,omitempty" bson:"error,omitempty"`
	ErrorCode   string       `json:"errorCode,omitempty" bson:"error_code,omitempty"`
}

// OutputFile describes a file generated under the sandbox output directory
type OutputFile struct {
	Name       string `json:"name" bson:"name"`
	StorageKey string `json:"storageKey" bson:"storage_key"`
	Size       int64  `json:"size" bson:"size"`
}

// ResourceUsage holds sampled resource counters for a child process
type ResourceUsage struct {
	CPUTime    float64 `json:"cpuTime" bson:"cpu_time"`
	MemoryUsed uint64  `json:"memoryUsed" bson:"memory_used"`
	DiskUsed   int64   `json:"diskUsed" bson:"disk_used"`
}

// Execution represents one program invocation
type Execution struct {
	ID            string                 `json:"id" bson:"_id"`
	ProgramID     string                 `json:"programId" bson:"program_id"`
	VersionID     string                 `json:"versionId" bson:"version_id"`
	UserID        string                 `json:"userId" bson:"user_id"`
	Status        ExecutionStatus        `json:"status" bson:"status"`
	Parameters    map[string]interface{} `json:"parameters,omitempty" bson:"parameters,omitempty"`
	Results       ExecutionResults       `json:"results" bson:"results"`
	ResourceUsage ResourceUsage          `json:"resourceUsage" bson:"resource_usage"`
	StartedAt     time.Time              `json:"startedAt" bson:"started_at"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}

// NewExecution creates an execution record in the running state
func NewExecution(programID, versionID, userID string, parameters map[string]interface{}) *Execution {
	return &Execution{
		ID:         uuid.New().String(),
		ProgramID:  programID,
		VersionID:  versionID,
		UserID:     userID,
		Status:     ExecutionRunning,
		Parameters: parameters,
		StartedAt:  time.Now(),
	}
}

// Finish transitions the execution to a terminal status. Transitions are
// monotonic: a terminal execution never changes again.
func (e *Execution) Finish(status ExecutionStatus, results ExecutionResults, usage ResourceUsage) bool {
	if e.Status.Terminal() {
		return false
	}

	e.Status = status
	e.Results = results
	e.ResourceUsage = usage
	now := time.Now()
	e.CompletedAt = &now
	return true
}

// Duration returns the wall-clock duration of the execution so far
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt != nil {
		return e.CompletedAt.Sub(e.StartedAt)
	}
	return time.Since(e.StartedAt)
}
