package model

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowExecutionStatus identifies the lifecycle state of a workflow run
type WorkflowExecutionStatus string

const (
	ExecutionPending   WorkflowExecutionStatus = "pending"
	ExecutionRunning   WorkflowExecutionStatus = "running"
	ExecutionCompleted WorkflowExecutionStatus = "completed"
	ExecutionFailed    WorkflowExecutionStatus = "failed"
	ExecutionCancelled WorkflowExecutionStatus = "cancelled"
	ExecutionPaused    WorkflowExecutionStatus = "paused"
	ExecutionTimeout   WorkflowExecutionStatus = "timeout"
)

// Terminal reports whether the status admits no further transitions
func (s WorkflowExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout:
		return true
	}
	return false
}

// NodeExecutionStatus identifies the per-node run state
type NodeExecutionStatus string

const (
	NodePending   NodeExecutionStatus = "pending"
	NodeRunning   NodeExecutionStatus = "running"
	NodeCompleted NodeExecutionStatus = "completed"
	NodeFailed    NodeExecutionStatus = "failed"
	NodeCancelled NodeExecutionStatus = "cancelled"
	NodeSkipped   NodeExecutionStatus = "skipped"
	NodeTimeout   NodeExecutionStatus = "timeout"
	NodeRetrying  NodeExecutionStatus = "retrying"
	NodeWaitingUI NodeExecutionStatus = "waiting_ui"
)

// Terminal reports whether the node status admits no further transitions
func (s NodeExecutionStatus) Terminal() bool {
	switch s {
	case NodeCompleted, NodeFailed, NodeCancelled, NodeSkipped, NodeTimeout:
		return true
	}
	return false
}

// NodeExecution tracks one node's run within a workflow execution
type NodeExecution struct {
	NodeID             string                 `json:"nodeId" bson:"node_id"`
	Status             NodeExecutionStatus    `json:"status" bson:"status"`
	Inputs             map[string]interface{} `json:"inputs,omitempty" bson:"inputs,omitempty"`
	Outputs            map[string]interface{} `json:"outputs,omitempty" bson:"outputs,omitempty"`
	Error              string                 `json:"error,omitempty" bson:"error,omitempty"`
	ErrorCode          string                 `json:"errorCode,omitempty" bson:"error_code,omitempty"`
	SkipReason         string                 `json:"skipReason,omitempty" bson:"skip_reason,omitempty"`
	RetryCount         int                    `json:"retryCount" bson:"retry_count"`
	Dispatches         int                    `json:"dispatches" bson:"dispatches"`
	ProgramExecutionID string                 `json:"programExecutionId,omitempty" bson:"program_execution_id,omitempty"`
	StartedAt          *time.Time             `json:"startedAt,omitempty" bson:"started_at,omitempty"`
	CompletedAt        *time.Time             `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}

// Progress summarizes how far a workflow execution has advanced
type Progress struct {
	TotalNodes int     `json:"totalNodes" bson:"total_nodes"`
	Completed  int     `json:"completed" bson:"completed"`
	Failed     int     `json:"failed" bson:"failed"`
	Skipped    int     `json:"skipped" bson:"skipped"`
	Running    int     `json:"running" bson:"running"`
	Percent    float64 `json:"percent" bson:"percent"`
}

// ExecutionContext carries caller-supplied context through a workflow run
type ExecutionContext struct {
	UserInputs              map[string]interface{} `json:"userInputs,omitempty" bson:"user_inputs,omitempty"`
	GlobalVariables         map[string]interface{} `json:"globalVariables,omitempty" bson:"global_variables,omitempty"`
	Environment             map[string]string      `json:"environment,omitempty" bson:"environment,omitempty"`
	Mode                    string                 `json:"mode,omitempty" bson:"mode,omitempty"`
	SaveIntermediateResults bool                   `json:"saveIntermediateResults" bson:"save_intermediate_results"`
	MaxConcurrentNodes      int                    `json:"maxConcurrentNodes,omitempty" bson:"max_concurrent_nodes,omitempty"`
	TimeoutMinutes          int                    `json:"timeoutMinutes,omitempty" bson:"timeout_minutes,omitempty"`
	ContinueOnError         bool                   `json:"continueOnError" bson:"continue_on_error"`
}

// ExecutionResults aggregates outputs of a finished workflow execution
type ExecutionResults struct {
	FinalOutputs        map[string]interface{}            `json:"finalOutputs,omitempty" bson:"final_outputs,omitempty"`
	IntermediateResults map[string]map[string]interface{} `json:"intermediateResults,omitempty" bson:"intermediate_results,omitempty"`
	OutputFiles         []string                          `json:"outputFiles,omitempty" bson:"output_files,omitempty"`
	Statistics          map[string]interface{}            `json:"statistics,omitempty" bson:"statistics,omitempty"`
}

// LogEntry is one line of a workflow execution's log
type LogEntry struct {
	Level     string    `json:"level" bson:"level"`
	Message   string    `json:"message" bson:"message"`
	NodeID    string    `json:"nodeId,omitempty" bson:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// WorkflowExecution is one run of a workflow
type WorkflowExecution struct {
	ID              string                    `json:"id" bson:"_id"`
	WorkflowID      string                    `json:"workflowId" bson:"workflow_id"`
	WorkflowVersion int                       `json:"workflowVersion" bson:"workflow_version"`
	ExecutedBy      string                    `json:"executedBy" bson:"executed_by"`
	Status          WorkflowExecutionStatus   `json:"status" bson:"status"`
	Progress        Progress                  `json:"progress" bson:"progress"`
	NodeExecutions  map[string]*NodeExecution `json:"nodeExecutions" bson:"node_executions"`
	Context         ExecutionContext          `json:"executionContext" bson:"execution_context"`
	Results         ExecutionResults          `json:"results" bson:"results"`
	Error           string                    `json:"error,omitempty" bson:"error,omitempty"`
	Logs            []LogEntry                `json:"logs,omitempty" bson:"logs,omitempty"`
	StartedAt       time.Time                 `json:"startedAt" bson:"started_at"`
	CompletedAt     *time.Time                `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
}

// NewWorkflowExecution creates a pending execution for a workflow
func NewWorkflowExecution(wf *Workflow, executedBy string, execCtx ExecutionContext) *WorkflowExecution {
	nodeExecutions := make(map[string]*NodeExecution, len(wf.Nodes))
	total := 0
	for _, node := range wf.Nodes {
		if node.Disabled {
			continue
		}
		nodeExecutions[node.ID] = &NodeExecution{NodeID: node.ID, Status: NodePending}
		total++
	}

	return &WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		ExecutedBy:      executedBy,
		Status:          ExecutionPending,
		Progress:        Progress{TotalNodes: total},
		NodeExecutions:  nodeExecutions,
		Context:         execCtx,
		Results: ExecutionResults{
			FinalOutputs:        make(map[string]interface{}),
			IntermediateResults: make(map[string]map[string]interface{}),
		},
		StartedAt: time.Now(),
	}
}

// UpdateProgress recomputes the progress counters from node states
func (e *WorkflowExecution) UpdateProgress() {
	p := Progress{TotalNodes: e.Progress.TotalNodes}
	for _, ne := range e.NodeExecutions {
		switch ne.Status {
		case NodeCompleted:
			p.Completed++
		case NodeFailed, NodeTimeout:
			p.Failed++
		case NodeSkipped, NodeCancelled:
			p.Skipped++
		case NodeRunning, NodeRetrying, NodeWaitingUI:
			p.Running++
		}
	}
	if p.TotalNodes > 0 {
		p.Percent = float64(p.Completed+p.Failed+p.Skipped) / float64(p.TotalNodes) * 100
	}
	e.Progress = p
}

// AppendLog records a log entry on the execution
func (e *WorkflowExecution) AppendLog(level, message, nodeID string) {
	e.Logs = append(e.Logs, LogEntry{
		Level:     level,
		Message:   message,
		NodeID:    nodeID,
		Timestamp: time.Now(),
	})
}
