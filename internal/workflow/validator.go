// Package workflow validates workflow graphs before execution.
package workflow

import (
	"fmt"
	"sort"

	"github.com/progrunhq/progrun/internal/workflow/model"
)

// Severity of a validation issue
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is one validation finding
type Issue struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	NodeID   string   `json:"nodeId,omitempty"`
	EdgeID   string   `json:"edgeId,omitempty"`
}

// ComplexityLevel buckets a workflow's structural complexity
type ComplexityLevel string

const (
	ComplexitySimple      ComplexityLevel = "simple"
	ComplexityModerate    ComplexityLevel = "moderate"
	ComplexityComplex     ComplexityLevel = "complex"
	ComplexityVeryComplex ComplexityLevel = "very_complex"
)

// ComplexityMetrics summarizes the workflow graph's shape
type ComplexityMetrics struct {
	TotalNodes           int             `json:"totalNodes"`
	TotalEdges           int             `json:"totalEdges"`
	MaxDepth             int             `json:"maxDepth"`
	MaxWidth             int             `json:"maxWidth"`
	CyclomaticComplexity int             `json:"cyclomaticComplexity"`
	ParallelBranches     int             `json:"parallelBranches"`
	Level                ComplexityLevel `json:"level"`
}

// ValidationResult is the outcome of validating one workflow
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []Issue           `json:"errors"`
	Warnings []Issue           `json:"warnings"`
	Infos    []Issue           `json:"infos"`
	Metrics  ComplexityMetrics `json:"complexityMetrics"`
}

func (r *ValidationResult) add(issue Issue) {
	switch issue.Severity {
	case SeverityError:
		r.Errors = append(r.Errors, issue)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, issue)
	default:
		r.Infos = append(r.Infos, issue)
	}
}

// Validate runs every structural check over a workflow. The function is
// pure: the same workflow content always yields the same result.
func Validate(wf *model.Workflow) *ValidationResult {
	result := &ValidationResult{}

	nodes := make(map[string]*model.Node, len(wf.Nodes))
	for i := range wf.Nodes {
		nodes[wf.Nodes[i].ID] = &wf.Nodes[i]
	}

	checkEdgeReferences(wf, nodes, result)
	if len(result.Errors) == 0 {
		checkAcyclic(wf, result)
		checkTopology(wf, nodes, result)
		checkInputMappings(wf, nodes, result)
		checkConditionalSevering(wf, result)
	}
	result.Metrics = computeMetrics(wf)
	result.IsValid = len(result.Errors) == 0

	return result
}

// checkEdgeReferences verifies every edge resolves to nodes in the workflow
func checkEdgeReferences(wf *model.Workflow, nodes map[string]*model.Node, result *ValidationResult) {
	seen := make(map[string]bool)
	for _, edge := range wf.Edges {
		if _, ok := nodes[edge.SourceNodeID]; !ok {
			result.add(Issue{
				Severity: SeverityError,
				Code:     "EDGE_SOURCE_MISSING",
				Message:  fmt.Sprintf("edge %s references missing source node %s", edge.ID, edge.SourceNodeID),
				EdgeID:   edge.ID,
			})
		}
		if _, ok := nodes[edge.TargetNodeID]; !ok {
			result.add(Issue{
				Severity: SeverityError,
				Code:     "EDGE_TARGET_MISSING",
				Message:  fmt.Sprintf("edge %s references missing target node %s", edge.ID, edge.TargetNodeID),
				EdgeID:   edge.ID,
			})
		}

		key := edge.SourceNodeID + "\x00" + edge.SourceOutputName + "\x00" + edge.TargetNodeID + "\x00" + edge.TargetInputName
		if seen[key] {
			result.add(Issue{
				Severity: SeverityError,
				Code:     "EDGE_DUPLICATE",
				Message:  fmt.Sprintf("duplicate edge from %s.%s to %s.%s", edge.SourceNodeID, edge.SourceOutputName, edge.TargetNodeID, edge.TargetInputName),
				EdgeID:   edge.ID,
			})
		}
		seen[key] = true
	}
}

// checkAcyclic verifies the non-Loop subgraph has no cycles via DFS coloring
func checkAcyclic(wf *model.Workflow, result *ValidationResult) {
	adj := make(map[string][]string)
	for _, edge := range wf.Edges {
		if edge.Disabled || edge.EdgeType == model.EdgeTypeLoop {
			continue
		}
		adj[edge.SourceNodeID] = append(adj[edge.SourceNodeID], edge.TargetNodeID)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, node := range wf.Nodes {
		if color[node.ID] == white && visit(node.ID) {
			result.add(Issue{
				Severity: SeverityError,
				Code:     "CYCLE_DETECTED",
				Message:  "workflow contains a cycle over non-loop edges",
				NodeID:   node.ID,
			})
			return
		}
	}
}

// checkTopology verifies entry uniqueness, terminals, reachability and
// orphan absence.
func checkTopology(wf *model.Workflow, nodes map[string]*model.Node, result *ValidationResult) {
	if len(wf.Nodes) == 0 {
		result.add(Issue{
			Severity: SeverityError,
			Code:     "EMPTY_WORKFLOW",
			Message:  "workflow has no nodes",
		})
		return
	}

	// Control edges are ordering dependencies, so they count for entry,
	// terminal and reachability purposes just like data edges.
	inbound := make(map[string]int)
	outbound := make(map[string]int)
	for _, edge := range wf.Edges {
		if edge.Disabled {
			continue
		}
		inbound[edge.TargetNodeID]++
		outbound[edge.SourceNodeID]++
	}

	var entries []string
	terminals := 0
	for _, node := range wf.Nodes {
		if node.Disabled {
			continue
		}
		if inbound[node.ID] == 0 {
			entries = append(entries, node.ID)
		}
		if outbound[node.ID] == 0 {
			terminals++
		}
	}
	sort.Strings(entries)

	if len(entries) == 0 {
		result.add(Issue{
			Severity: SeverityError,
			Code:     "NO_ENTRY",
			Message:  "workflow has no entry node",
		})
		return
	}
	if len(entries) > 1 {
		result.add(Issue{
			Severity: SeverityError,
			Code:     "MULTIPLE_ENTRIES",
			Message:  fmt.Sprintf("workflow has %d entry nodes, expected exactly one", len(entries)),
			NodeID:   entries[1],
		})
	}
	if terminals == 0 {
		result.add(Issue{
			Severity: SeverityError,
			Code:     "NO_TERMINAL",
			Message:  "workflow has no terminal node",
		})
	}

	reachable := reachableFrom(wf, entries[0], nil)
	for _, node := range wf.Nodes {
		if node.Disabled {
			continue
		}
		if !reachable[node.ID] {
			result.add(Issue{
				Severity: SeverityError,
				Code:     "UNREACHABLE_NODE",
				Message:  fmt.Sprintf("node %s is not reachable from the entry node", node.ID),
				NodeID:   node.ID,
			})
		}
	}
}

// checkInputMappings verifies mapping references and type compatibility
func checkInputMappings(wf *model.Workflow, nodes map[string]*model.Node, result *ValidationResult) {
	for _, node := range wf.Nodes {
		for _, mapping := range node.InputConfiguration.Mappings {
			source, ok := nodes[mapping.SourceNodeID]
			if !ok {
				result.add(Issue{
					Severity: SeverityError,
					Code:     "MAPPING_SOURCE_MISSING",
					Message:  fmt.Sprintf("node %s maps input %q from missing node %s", node.ID, mapping.TargetInput, mapping.SourceNodeID),
					NodeID:   node.ID,
				})
				continue
			}

			if len(source.OutputConfiguration.Mappings) > 0 {
				var declared *model.OutputMapping
				for i := range source.OutputConfiguration.Mappings {
					if source.OutputConfiguration.Mappings[i].OutputName == mapping.SourceOutput {
						declared = &source.OutputConfiguration.Mappings[i]
						break
					}
				}
				if declared == nil {
					result.add(Issue{
						Severity: SeverityError,
						Code:     "MAPPING_OUTPUT_MISSING",
						Message:  fmt.Sprintf("node %s maps input %q from undeclared output %q on node %s", node.ID, mapping.TargetInput, mapping.SourceOutput, source.ID),
						NodeID:   node.ID,
					})
					continue
				}

				if mapping.DataType != "" && declared.DataType != "" && mapping.DataType != declared.DataType {
					if !hasBridgingTransform(wf, source.ID, node.ID) {
						result.add(Issue{
							Severity: SeverityError,
							Code:     "MAPPING_TYPE_MISMATCH",
							Message: fmt.Sprintf("input %q on node %s expects %s but output %q on node %s is %s",
								mapping.TargetInput, node.ID, mapping.DataType, mapping.SourceOutput, source.ID, declared.DataType),
							NodeID: node.ID,
						})
					}
				}
			}
		}
	}
}

// hasBridgingTransform reports whether a transformation is declared on any
// edge between two nodes.
func hasBridgingTransform(wf *model.Workflow, sourceID, targetID string) bool {
	for _, edge := range wf.Edges {
		if edge.SourceNodeID == sourceID && edge.TargetNodeID == targetID && edge.Transformation != nil {
			return true
		}
	}
	return false
}

// checkConditionalSevering warns when a conditional edge without an
// alternative is the only path to a downstream node.
func checkConditionalSevering(wf *model.Workflow, result *ValidationResult) {
	entry := entryNodeID(wf)
	if entry == "" {
		return
	}

	for _, edge := range wf.Edges {
		if edge.Disabled || (edge.EdgeType != model.EdgeTypeConditional && edge.Condition == "") {
			continue
		}

		target, ok := wf.NodeByID(edge.TargetNodeID)
		if !ok || target.ConditionalExecution != nil && target.ConditionalExecution.AlternativeNodeID != "" {
			continue
		}

		reachableWithout := reachableFrom(wf, entry, &edge.ID)
		if !reachableWithout[edge.TargetNodeID] {
			result.add(Issue{
				Severity: SeverityWarning,
				Code:     "CONDITIONAL_SEVERS_PATH",
				Message:  fmt.Sprintf("conditional edge %s is the only path to node %s", edge.ID, edge.TargetNodeID),
				EdgeID:   edge.ID,
				NodeID:   edge.TargetNodeID,
			})
		}
	}
}

// reachableFrom computes the node set reachable from start, optionally
// excluding one edge.
func reachableFrom(wf *model.Workflow, start string, excludeEdgeID *string) map[string]bool {
	adj := make(map[string][]string)
	for _, edge := range wf.Edges {
		if edge.Disabled {
			continue
		}
		if excludeEdgeID != nil && edge.ID == *excludeEdgeID {
			continue
		}
		adj[edge.SourceNodeID] = append(adj[edge.SourceNodeID], edge.TargetNodeID)
	}

	reachable := map[string]bool{start: true}
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[current] {
			if !reachable[next] {
				reachable[next] = true
				stack = append(stack, next)
			}
		}
	}
	return reachable
}

// entryNodeID returns the single node with no enabled inbound edges
func entryNodeID(wf *model.Workflow) string {
	inbound := make(map[string]int)
	for _, edge := range wf.Edges {
		if edge.Disabled {
			continue
		}
		inbound[edge.TargetNodeID]++
	}
	for _, node := range wf.Nodes {
		if !node.Disabled && inbound[node.ID] == 0 {
			return node.ID
		}
	}
	return ""
}

// computeMetrics derives structural complexity metrics from the graph
func computeMetrics(wf *model.Workflow) ComplexityMetrics {
	m := ComplexityMetrics{
		TotalNodes: len(wf.Nodes),
		TotalEdges: len(wf.Edges),
	}
	m.CyclomaticComplexity = m.TotalEdges - m.TotalNodes + 2

	adj := make(map[string][]string)
	dataOut := make(map[string]int)
	inbound := make(map[string]int)
	for _, edge := range wf.Edges {
		if edge.Disabled || edge.EdgeType == model.EdgeTypeLoop {
			continue
		}
		adj[edge.SourceNodeID] = append(adj[edge.SourceNodeID], edge.TargetNodeID)
		inbound[edge.TargetNodeID]++
		if edge.EdgeType == model.EdgeTypeData || edge.EdgeType == "" {
			dataOut[edge.SourceNodeID]++
		}
	}

	for _, count := range dataOut {
		if count > 1 {
			m.ParallelBranches++
		}
	}

	// Longest path and level widths via BFS layering from the roots.
	depth := make(map[string]int)
	var frontier []string
	for _, node := range wf.Nodes {
		if inbound[node.ID] == 0 {
			depth[node.ID] = 1
			frontier = append(frontier, node.ID)
		}
	}

	remaining := make(map[string]int, len(inbound))
	for id, count := range inbound {
		remaining[id] = count
	}

	widths := make(map[int]int)
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]

		widths[depth[current]]++
		if depth[current] > m.MaxDepth {
			m.MaxDepth = depth[current]
		}

		for _, next := range adj[current] {
			if d := depth[current] + 1; d > depth[next] {
				depth[next] = d
			}
			remaining[next]--
			if remaining[next] == 0 {
				frontier = append(frontier, next)
			}
		}
	}
	for _, width := range widths {
		if width > m.MaxWidth {
			m.MaxWidth = width
		}
	}

	switch {
	case m.TotalNodes <= 5 && m.MaxDepth <= 3:
		m.Level = ComplexitySimple
	case m.TotalNodes <= 15 && m.MaxDepth <= 6:
		m.Level = ComplexityModerate
	case m.TotalNodes <= 40:
		m.Level = ComplexityComplex
	default:
		m.Level = ComplexityVeryComplex
	}
	return m
}
