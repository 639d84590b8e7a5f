// Package model defines the workflow graph entities.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus identifies the lifecycle state of a workflow
type WorkflowStatus string

const (
	WorkflowDraft      WorkflowStatus = "draft"
	WorkflowActive     WorkflowStatus = "active"
	WorkflowPaused     WorkflowStatus = "paused"
	WorkflowArchived   WorkflowStatus = "archived"
	WorkflowDeprecated WorkflowStatus = "deprecated"
)

// NodeType identifies the kind of a workflow node
type NodeType string

const (
	NodeTypeProgram        NodeType = "program"
	NodeTypeStart          NodeType = "start"
	NodeTypeEnd            NodeType = "end"
	NodeTypeDecision       NodeType = "decision"
	NodeTypeMerge          NodeType = "merge"
	NodeTypeSubWorkflow    NodeType = "sub_workflow"
	NodeTypeCustomFunction NodeType = "custom_function"
	NodeTypeUI             NodeType = "ui"
)

// EdgeType identifies the kind of an edge
type EdgeType string

const (
	EdgeTypeData        EdgeType = "data"
	EdgeTypeControl     EdgeType = "control"
	EdgeTypeConditional EdgeType = "conditional"
	EdgeTypeParallel    EdgeType = "parallel"
	EdgeTypeMerge       EdgeType = "merge"
	EdgeTypeLoop        EdgeType = "loop"
)

// TransformKind identifies an edge transformation
type TransformKind string

const (
	TransformJSONPath    TransformKind = "jsonpath"
	TransformJMESPath    TransformKind = "jmespath"
	TransformExpression  TransformKind = "expression"
	TransformTemplate    TransformKind = "template"
	TransformNoTransform TransformKind = "none"
)

// InputMapping maps an upstream output to a node input
type InputMapping struct {
	SourceNodeID string `json:"sourceNodeId" bson:"source_node_id"`
	SourceOutput string `json:"sourceOutput" bson:"source_output"`
	TargetInput  string `json:"targetInput" bson:"target_input"`
	DataType     string `json:"dataType,omitempty" bson:"data_type,omitempty"`
	Required     bool   `json:"required" bson:"required"`
}

// OutputMapping selects a field from a node's raw output and names it
type OutputMapping struct {
	OutputName string        `json:"outputName" bson:"output_name"`
	Kind       TransformKind `json:"kind" bson:"kind"`
	Expression string        `json:"expression,omitempty" bson:"expression,omitempty"`
	DataType   string        `json:"dataType,omitempty" bson:"data_type,omitempty"`
}

// InputConfiguration holds a node's input wiring
type InputConfiguration struct {
	Mappings        []InputMapping         `json:"mappings,omitempty" bson:"mappings,omitempty"`
	StaticInputs    map[string]interface{} `json:"staticInputs,omitempty" bson:"static_inputs,omitempty"`
	UserInputs      []string               `json:"userInputs,omitempty" bson:"user_inputs,omitempty"`
	ValidationRules map[string]interface{} `json:"validationRules,omitempty" bson:"validation_rules,omitempty"`
}

// OutputConfiguration holds a node's output wiring
type OutputConfiguration struct {
	Mappings     []OutputMapping        `json:"mappings,omitempty" bson:"mappings,omitempty"`
	Schema       map[string]interface{} `json:"schema,omitempty" bson:"schema,omitempty"`
	CacheResults bool                   `json:"cacheResults" bson:"cache_results"`
	CacheTTL     time.Duration          `json:"cacheTtl,omitempty" bson:"cache_ttl,omitempty"`
}

// ResourceLimits caps a node execution's resource consumption
type ResourceLimits struct {
	MaxMemoryMB int `json:"maxMemoryMb,omitempty" bson:"max_memory_mb,omitempty"`
	MaxCPUMs    int `json:"maxCpuMs,omitempty" bson:"max_cpu_ms,omitempty"`
}

// ExecutionSettings holds per-node execution tuning
type ExecutionSettings struct {
	TimeoutMinutes int               `json:"timeoutMinutes,omitempty" bson:"timeout_minutes,omitempty"`
	RetryCount     int               `json:"retryCount" bson:"retry_count"`
	RetryDelay     time.Duration     `json:"retryDelay,omitempty" bson:"retry_delay,omitempty"`
	ResourceLimits ResourceLimits    `json:"resourceLimits,omitempty" bson:"resource_limits,omitempty"`
	Environment    map[string]string `json:"environment,omitempty" bson:"environment,omitempty"`
	RunInParallel  bool              `json:"runInParallel" bson:"run_in_parallel"`
	Priority       int               `json:"priority" bson:"priority"`
}

// ConditionalExecution gates a node on a predicate over the execution context
type ConditionalExecution struct {
	Expression        string `json:"expression" bson:"expression"`
	ConditionType     string `json:"conditionType,omitempty" bson:"condition_type,omitempty"`
	SkipIfFails       bool   `json:"skipIfFails" bson:"skip_if_fails"`
	AlternativeNodeID string `json:"alternativeNodeId,omitempty" bson:"alternative_node_id,omitempty"`
}

// Node is one vertex of the workflow graph
type Node struct {
	ID                   string                `json:"id" bson:"id"`
	ProgramID            string                `json:"programId,omitempty" bson:"program_id,omitempty"`
	VersionID            string                `json:"versionId,omitempty" bson:"version_id,omitempty"`
	Name                 string                `json:"name,omitempty" bson:"name,omitempty"`
	NodeType             NodeType              `json:"nodeType" bson:"node_type"`
	InputConfiguration   InputConfiguration    `json:"inputConfiguration" bson:"input_configuration"`
	OutputConfiguration  OutputConfiguration   `json:"outputConfiguration" bson:"output_configuration"`
	ExecutionSettings    ExecutionSettings     `json:"executionSettings" bson:"execution_settings"`
	ConditionalExecution *ConditionalExecution `json:"conditionalExecution,omitempty" bson:"conditional_execution,omitempty"`
	Disabled             bool                  `json:"disabled" bson:"disabled"`
}

// Transformation is the declarative transform attached to an edge
type Transformation struct {
	Kind       TransformKind `json:"kind" bson:"kind"`
	Expression string        `json:"expression,omitempty" bson:"expression,omitempty"`
}

// Edge connects two nodes with a data-flow or control relation
type Edge struct {
	ID               string          `json:"id" bson:"id"`
	SourceNodeID     string          `json:"sourceNodeId" bson:"source_node_id"`
	TargetNodeID     string          `json:"targetNodeId" bson:"target_node_id"`
	SourceOutputName string          `json:"sourceOutputName,omitempty" bson:"source_output_name,omitempty"`
	TargetInputName  string          `json:"targetInputName,omitempty" bson:"target_input_name,omitempty"`
	EdgeType         EdgeType        `json:"edgeType" bson:"edge_type"`
	Condition        string          `json:"condition,omitempty" bson:"condition,omitempty"`
	Optional         bool            `json:"optional" bson:"optional"`
	Transformation   *Transformation `json:"transformation,omitempty" bson:"transformation,omitempty"`
	Disabled         bool            `json:"disabled" bson:"disabled"`
}

// RetryPolicy configures automatic retries of failed nodes
type RetryPolicy struct {
	MaxRetries         int           `json:"maxRetries" bson:"max_retries"`
	Delay              time.Duration `json:"delay" bson:"delay"`
	ExponentialBackoff bool          `json:"exponentialBackoff" bson:"exponential_backoff"`
	RetryOnErrorTypes  []string      `json:"retryOnErrorTypes,omitempty" bson:"retry_on_error_types,omitempty"`
}

// Settings holds workflow-level execution settings
type Settings struct {
	MaxConcurrentNodes      int         `json:"maxConcurrentNodes" bson:"max_concurrent_nodes"`
	TimeoutMinutes          int         `json:"timeoutMinutes" bson:"timeout_minutes"`
	RetryPolicy             RetryPolicy `json:"retryPolicy" bson:"retry_policy"`
	SaveIntermediateResults bool        `json:"saveIntermediateResults" bson:"save_intermediate_results"`
	ContinueOnError         bool        `json:"continueOnError" bson:"continue_on_error"`
}

// DefaultSettings returns default workflow settings
func DefaultSettings() Settings {
	return Settings{
		MaxConcurrentNodes: 5,
		TimeoutMinutes:     120,
		RetryPolicy: RetryPolicy{
			MaxRetries:         3,
			Delay:              time.Second,
			ExponentialBackoff: true,
			RetryOnErrorTypes:  []string{"NON_ZERO_EXIT", "TIMEOUT"},
		},
		SaveIntermediateResults: true,
	}
}

// Workflow is a directed acyclic graph of program invocations
type Workflow struct {
	ID          string            `json:"id" bson:"_id"`
	Name        string            `json:"name" bson:"name"`
	Creator     string            `json:"creator" bson:"creator"`
	Status      WorkflowStatus    `json:"status" bson:"status"`
	Version     int               `json:"version" bson:"version"`
	Nodes       []Node            `json:"nodes" bson:"nodes"`
	Edges       []Edge            `json:"edges" bson:"edges"`
	Settings    Settings          `json:"settings" bson:"settings"`
	Permissions map[string]string `json:"permissions,omitempty" bson:"permissions,omitempty"`
	Tags        []string          `json:"tags,omitempty" bson:"tags,omitempty"`
	IsTemplate  bool              `json:"isTemplate" bson:"is_template"`
	CreatedAt   time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" bson:"updated_at"`
}

// NewWorkflow creates a draft workflow
func NewWorkflow(name, creator string) (*Workflow, error) {
	if name == "" {
		return nil, errors.New("workflow name is required")
	}
	if creator == "" {
		return nil, errors.New("workflow creator is required")
	}

	now := time.Now()
	return &Workflow{
		ID:        uuid.New().String(),
		Name:      name,
		Creator:   creator,
		Status:    WorkflowDraft,
		Version:   1,
		Nodes:     make([]Node, 0),
		Edges:     make([]Edge, 0),
		Settings:  DefaultSettings(),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NodeByID returns the node with the given id
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// EdgesInto returns the enabled edges targeting a node
func (w *Workflow) EdgesInto(nodeID string) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if !e.Disabled && e.TargetNodeID == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// EdgesFrom returns the enabled edges leaving a node
func (w *Workflow) EdgesFrom(nodeID string) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if !e.Disabled && e.SourceNodeID == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// Activate transitions the workflow into the active state
func (w *Workflow) Activate() error {
	if w.Status != WorkflowDraft && w.Status != WorkflowPaused {
		return errors.New("workflow can only be activated from draft or paused status")
	}
	if len(w.Nodes) == 0 {
		return errors.New("workflow must have at least one node")
	}
	w.Status = WorkflowActive
	w.UpdatedAt = time.Now()
	return nil
}

// Pause transitions an active workflow into the paused state
func (w *Workflow) Pause() error {
	if w.Status != WorkflowActive {
		return errors.New("only active workflows can be paused")
	}
	w.Status = WorkflowPaused
	w.UpdatedAt = time.Now()
	return nil
}

// Archive transitions the workflow into the archived state
func (w *Workflow) Archive() error {
	if w.Status == WorkflowArchived {
		return errors.New("workflow is already archived")
	}
	w.Status = WorkflowArchived
	w.UpdatedAt = time.Now()
	return nil
}

// Deprecate marks the workflow deprecated
func (w *Workflow) Deprecate() error {
	if w.Status == WorkflowArchived {
		return errors.New("archived workflows cannot be deprecated")
	}
	w.Status = WorkflowDeprecated
	w.UpdatedAt = time.Now()
	return nil
}

// AddNode appends a node. Archived workflows reject mutation.
func (w *Workflow) AddNode(node Node) error {
	if w.Status == WorkflowArchived {
		return errors.New("cannot modify archived workflow")
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	for _, existing := range w.Nodes {
		if existing.ID == node.ID {
			return errors.New("node with this ID already exists")
		}
	}

	w.Nodes = append(w.Nodes, node)
	w.bumpVersion()
	return nil
}

// AddEdge appends an edge after checking its endpoints and uniqueness
func (w *Workflow) AddEdge(edge Edge) error {
	if w.Status == WorkflowArchived {
		return errors.New("cannot modify archived workflow")
	}

	if _, ok := w.NodeByID(edge.SourceNodeID); !ok {
		return errors.New("source node not found: " + edge.SourceNodeID)
	}
	if _, ok := w.NodeByID(edge.TargetNodeID); !ok {
		return errors.New("target node not found: " + edge.TargetNodeID)
	}
	for _, existing := range w.Edges {
		if existing.SourceNodeID == edge.SourceNodeID &&
			existing.TargetNodeID == edge.TargetNodeID &&
			existing.SourceOutputName == edge.SourceOutputName &&
			existing.TargetInputName == edge.TargetInputName {
			return errors.New("edge already exists")
		}
	}

	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	if edge.EdgeType == "" {
		edge.EdgeType = EdgeTypeData
	}

	w.Edges = append(w.Edges, edge)
	w.bumpVersion()
	return nil
}

// RemoveNode removes a node and every edge touching it
func (w *Workflow) RemoveNode(nodeID string) error {
	if w.Status == WorkflowArchived {
		return errors.New("cannot modify archived workflow")
	}

	index := -1
	for i, node := range w.Nodes {
		if node.ID == nodeID {
			index = i
			break
		}
	}
	if index == -1 {
		return errors.New("node not found: " + nodeID)
	}

	w.Nodes = append(w.Nodes[:index], w.Nodes[index+1:]...)

	var edges []Edge
	for _, e := range w.Edges {
		if e.SourceNodeID != nodeID && e.TargetNodeID != nodeID {
			edges = append(edges, e)
		}
	}
	w.Edges = edges
	w.bumpVersion()
	return nil
}

// bumpVersion marks a structural change. Structural changes demote an active
// workflow back to draft.
func (w *Workflow) bumpVersion() {
	w.Version++
	w.UpdatedAt = time.Now()
	if w.Status == WorkflowActive {
		w.Status = WorkflowDraft
	}
}
