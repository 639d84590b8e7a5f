package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/workflow/model"
)

func linearWorkflow(nodeIDs ...string) *model.Workflow {
	wf := &model.Workflow{ID: "wf-1", Name: "test", Status: model.WorkflowActive}
	for _, id := range nodeIDs {
		wf.Nodes = append(wf.Nodes, model.Node{ID: id, NodeType: model.NodeTypeProgram})
	}
	for i := 0; i+1 < len(nodeIDs); i++ {
		wf.Edges = append(wf.Edges, model.Edge{
			ID:           "e-" + nodeIDs[i] + "-" + nodeIDs[i+1],
			SourceNodeID: nodeIDs[i],
			TargetNodeID: nodeIDs[i+1],
			EdgeType:     model.EdgeTypeData,
		})
	}
	return wf
}

func errorCodes(result *ValidationResult) []string {
	codes := make([]string, 0, len(result.Errors))
	for _, issue := range result.Errors {
		codes = append(codes, issue.Code)
	}
	return codes
}

func TestValidateLinearWorkflow(t *testing.T) {
	result := Validate(linearWorkflow("a", "b", "c"))

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, result.Metrics.TotalNodes)
	assert.Equal(t, 2, result.Metrics.TotalEdges)
	assert.Equal(t, 3, result.Metrics.MaxDepth)
	assert.Equal(t, 1, result.Metrics.MaxWidth)
	assert.Equal(t, ComplexitySimple, result.Metrics.Level)
}

func TestValidateCycle(t *testing.T) {
	wf := linearWorkflow("a", "b", "c")
	wf.Edges = append(wf.Edges, model.Edge{
		ID: "e-back", SourceNodeID: "c", TargetNodeID: "a", EdgeType: model.EdgeTypeData,
	})

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "CYCLE_DETECTED")
}

func TestValidateLoopEdgeIsNotACycle(t *testing.T) {
	wf := linearWorkflow("a", "b", "c")
	wf.Edges = append(wf.Edges, model.Edge{
		ID: "e-loop", SourceNodeID: "c", TargetNodeID: "b", EdgeType: model.EdgeTypeLoop,
	})

	result := Validate(wf)
	for _, code := range errorCodes(result) {
		assert.NotEqual(t, "CYCLE_DETECTED", code)
	}
}

func TestValidateDanglingEdge(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Edges = append(wf.Edges, model.Edge{
		ID: "e-bad", SourceNodeID: "a", TargetNodeID: "ghost", EdgeType: model.EdgeTypeData,
	})

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "EDGE_TARGET_MISSING")
}

func TestValidateDuplicateEdge(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Edges = append(wf.Edges, model.Edge{
		ID: "e-dup", SourceNodeID: "a", TargetNodeID: "b", EdgeType: model.EdgeTypeData,
	})

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "EDGE_DUPLICATE")
}

func TestValidateEmptyWorkflow(t *testing.T) {
	wf := &model.Workflow{ID: "wf-1", Name: "empty"}

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "EMPTY_WORKFLOW")
}

func TestValidateMultipleEntries(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Nodes = append(wf.Nodes, model.Node{ID: "orphan-entry", NodeType: model.NodeTypeProgram})
	wf.Edges = append(wf.Edges, model.Edge{
		ID: "e2", SourceNodeID: "orphan-entry", TargetNodeID: "b", EdgeType: model.EdgeTypeData,
	})

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "MULTIPLE_ENTRIES")
}

func TestValidateControlEdgeFanOut(t *testing.T) {
	wf := &model.Workflow{ID: "wf-1", Name: "fan-out", Status: model.WorkflowActive}
	wf.Nodes = []model.Node{
		{ID: "start", NodeType: model.NodeTypeStart},
		{ID: "left", NodeType: model.NodeTypeProgram},
		{ID: "right", NodeType: model.NodeTypeProgram},
	}
	wf.Edges = []model.Edge{
		{ID: "e1", SourceNodeID: "start", TargetNodeID: "left", EdgeType: model.EdgeTypeControl},
		{ID: "e2", SourceNodeID: "start", TargetNodeID: "right", EdgeType: model.EdgeTypeControl},
	}

	result := Validate(wf)
	assert.True(t, result.IsValid, "control edges are inbound dependencies: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestValidateUnreachableNode(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Nodes = append(wf.Nodes,
		model.Node{ID: "island1", NodeType: model.NodeTypeProgram},
		model.Node{ID: "island2", NodeType: model.NodeTypeProgram},
	)
	wf.Edges = append(wf.Edges,
		model.Edge{ID: "e-i1", SourceNodeID: "island1", TargetNodeID: "island2", EdgeType: model.EdgeTypeData},
		model.Edge{ID: "e-i2", SourceNodeID: "island2", TargetNodeID: "island1", EdgeType: model.EdgeTypeData},
	)

	result := Validate(wf)
	assert.False(t, result.IsValid)
}

func TestValidateMappingReferences(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Nodes[1].InputConfiguration.Mappings = []model.InputMapping{
		{SourceNodeID: "missing", SourceOutput: "x", TargetInput: "x"},
	}

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "MAPPING_SOURCE_MISSING")
}

func TestValidateMappingUndeclaredOutput(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Nodes[0].OutputConfiguration.Mappings = []model.OutputMapping{
		{OutputName: "total", Kind: model.TransformNoTransform},
	}
	wf.Nodes[1].InputConfiguration.Mappings = []model.InputMapping{
		{SourceNodeID: "a", SourceOutput: "absent", TargetInput: "x"},
	}

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "MAPPING_OUTPUT_MISSING")
}

func TestValidateMappingTypeMismatch(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Nodes[0].OutputConfiguration.Mappings = []model.OutputMapping{
		{OutputName: "total", Kind: model.TransformNoTransform, DataType: "string"},
	}
	wf.Nodes[1].InputConfiguration.Mappings = []model.InputMapping{
		{SourceNodeID: "a", SourceOutput: "total", TargetInput: "x", DataType: "number"},
	}

	result := Validate(wf)
	assert.False(t, result.IsValid)
	assert.Contains(t, errorCodes(result), "MAPPING_TYPE_MISMATCH")

	// A declared transformation on the connecting edge bridges the types.
	wf.Edges[0].Transformation = &model.Transformation{
		Kind: model.TransformExpression, Expression: "int(input)",
	}
	result = Validate(wf)
	assert.True(t, result.IsValid)
}

func TestValidateConditionalSevering(t *testing.T) {
	wf := linearWorkflow("a", "b")
	wf.Edges[0].Condition = "outputs.ok == true"
	wf.Edges[0].EdgeType = model.EdgeTypeConditional

	result := Validate(wf)
	assert.True(t, result.IsValid)

	var codes []string
	for _, issue := range result.Warnings {
		codes = append(codes, issue.Code)
	}
	assert.Contains(t, codes, "CONDITIONAL_SEVERS_PATH")
}

func TestValidateComplexityMetrics(t *testing.T) {
	// Diamond: a -> b, a -> c, b -> d, c -> d
	wf := &model.Workflow{ID: "wf-1", Name: "diamond"}
	for _, id := range []string{"a", "b", "c", "d"} {
		wf.Nodes = append(wf.Nodes, model.Node{ID: id, NodeType: model.NodeTypeProgram})
	}
	wf.Edges = []model.Edge{
		{ID: "e1", SourceNodeID: "a", TargetNodeID: "b", EdgeType: model.EdgeTypeData},
		{ID: "e2", SourceNodeID: "a", TargetNodeID: "c", EdgeType: model.EdgeTypeData},
		{ID: "e3", SourceNodeID: "b", TargetNodeID: "d", EdgeType: model.EdgeTypeData},
		{ID: "e4", SourceNodeID: "c", TargetNodeID: "d", EdgeType: model.EdgeTypeData},
	}

	result := Validate(wf)
	require.True(t, result.IsValid)
	assert.Equal(t, 3, result.Metrics.MaxDepth)
	assert.Equal(t, 2, result.Metrics.MaxWidth)
	assert.Equal(t, 1, result.Metrics.ParallelBranches)
	assert.Equal(t, 2, result.Metrics.CyclomaticComplexity)
}

func TestValidateIsDeterministic(t *testing.T) {
	wf := linearWorkflow("a", "b", "c")
	wf.Edges = append(wf.Edges, model.Edge{
		ID: "e-bad", SourceNodeID: "b", TargetNodeID: "ghost", EdgeType: model.EdgeTypeData,
	})

	first := Validate(wf)
	for i := 0; i < 10; i++ {
		again := Validate(wf)
		assert.Equal(t, first.IsValid, again.IsValid)
		assert.Equal(t, errorCodes(first), errorCodes(again))
		assert.Equal(t, first.Metrics, again.Metrics)
	}
}
