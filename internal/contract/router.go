package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/workflow/model"
)

// Router normalizes node outputs, applies edge transformations and assembles
// downstream inputs. Contracts are keyed by (executionID, targetNodeID,
// targetInputName).
type Router struct {
	mu        sync.RWMutex
	contracts map[string]map[string]map[string]*DataContract
	upstream  map[string]map[string][]string
	log       logger.Logger
}

// NewRouter creates a contract router
func NewRouter(log logger.Logger) *Router {
	return &Router{
		contracts: make(map[string]map[string]map[string]*DataContract),
		upstream:  make(map[string]map[string][]string),
		log:       log,
	}
}

// RegisterOutputs takes a producing node's raw output, builds its named
// outputs through the output mappings, and seals one contract per outbound
// data edge. Returns the named outputs.
func (r *Router) RegisterOutputs(executionID string, node *model.Node, rawOutput map[string]interface{}, edges []model.Edge) (map[string]interface{}, error) {
	outputs, err := r.nameOutputs(node, rawOutput)
	if err != nil {
		return nil, err
	}

	lineage := Lineage{SourceNodes: r.lineageOf(executionID, node.ID)}

	for _, edge := range edges {
		if edge.Disabled || edge.SourceNodeID != node.ID {
			continue
		}
		if edge.EdgeType == model.EdgeTypeControl {
			continue
		}

		value := interface{}(outputs)
		if edge.SourceOutputName != "" {
			selected, ok := outputs[edge.SourceOutputName]
			if !ok {
				return nil, progerr.Dependency(fmt.Sprintf(
					"node %s declares no output %q for edge %s", node.ID, edge.SourceOutputName, edge.ID,
				)).WithNode(node.ID)
			}
			value = selected
		}

		var transformations []TransformationRecord
		if edge.Transformation != nil {
			transformed, err := Transform(edge.Transformation.Kind, edge.Transformation.Expression, value)
			if err != nil {
				return nil, progerr.Dependency(fmt.Sprintf(
					"edge %s transformation failed: %v", edge.ID, err,
				)).WithNode(node.ID)
			}
			value = transformed
			transformations = append(transformations, TransformationRecord{
				Kind:       edge.Transformation.Kind,
				Expression: edge.Transformation.Expression,
				AppliedAt:  time.Now(),
			})
		}

		inputName := edge.TargetInputName
		if inputName == "" {
			inputName = edge.SourceOutputName
		}

		contract := newContract(node.ID, edge.TargetNodeID, value, lineage, transformations)
		r.store(executionID, edge.TargetNodeID, inputName, contract)
	}

	return outputs, nil
}

// nameOutputs applies the node's output mappings to its raw output. Without
// mappings the raw output map is used as-is.
func (r *Router) nameOutputs(node *model.Node, rawOutput map[string]interface{}) (map[string]interface{}, error) {
	if len(node.OutputConfiguration.Mappings) == 0 {
		return rawOutput, nil
	}

	outputs := make(map[string]interface{}, len(node.OutputConfiguration.Mappings))
	for _, mapping := range node.OutputConfiguration.Mappings {
		value, err := Transform(mapping.Kind, mapping.Expression, interface{}(rawOutput))
		if err != nil {
			return nil, progerr.Dependency(fmt.Sprintf(
				"output mapping %q failed: %v", mapping.OutputName, err,
			)).WithNode(node.ID)
		}
		outputs[mapping.OutputName] = value
	}
	return outputs, nil
}

func (r *Router) store(executionID, targetNodeID, inputName string, contract *DataContract) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byTarget, ok := r.contracts[executionID]
	if !ok {
		byTarget = make(map[string]map[string]*DataContract)
		r.contracts[executionID] = byTarget
	}
	byInput, ok := byTarget[targetNodeID]
	if !ok {
		byInput = make(map[string]*DataContract)
		byTarget[targetNodeID] = byInput
	}
	byInput[inputName] = contract
}

// AssembleInputs collects every contract keyed to the node, merges static
// inputs and the user inputs named by the node, and records the node's
// transitive lineage. Missing required mapped inputs surface as a
// DependencyError.
func (r *Router) AssembleInputs(executionID string, node *model.Node, execCtx model.ExecutionContext) (map[string]interface{}, error) {
	inputs := make(map[string]interface{})

	for k, v := range node.InputConfiguration.StaticInputs {
		inputs[k] = v
	}
	for _, name := range node.InputConfiguration.UserInputs {
		if v, ok := execCtx.UserInputs[name]; ok {
			inputs[name] = v
		}
	}

	r.mu.Lock()
	sources := make(map[string]bool)
	for inputName, c := range r.contracts[executionID][node.ID] {
		inputs[inputName] = c.Data
		sources[c.SourceNodeID] = true
		for _, s := range c.Metadata.Lineage.SourceNodes {
			sources[s] = true
		}
	}

	upstream := make([]string, 0, len(sources))
	for s := range sources {
		upstream = append(upstream, s)
	}
	if r.upstream[executionID] == nil {
		r.upstream[executionID] = make(map[string][]string)
	}
	r.upstream[executionID][node.ID] = upstream
	r.mu.Unlock()

	for _, mapping := range node.InputConfiguration.Mappings {
		if !mapping.Required {
			continue
		}
		if _, ok := inputs[mapping.TargetInput]; !ok {
			return nil, progerr.Dependency(fmt.Sprintf(
				"required input %q missing for node %s", mapping.TargetInput, node.ID,
			)).WithNode(node.ID)
		}
	}

	return inputs, nil
}

// lineageOf returns the transitive upstream node set recorded for a node
func (r *Router) lineageOf(executionID, nodeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recorded := r.upstream[executionID][nodeID]
	out := make([]string, len(recorded))
	copy(out, recorded)
	return out
}

// Contracts returns the contracts currently keyed to a target node
func (r *Router) Contracts(executionID, targetNodeID string) []*DataContract {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byInput := r.contracts[executionID][targetNodeID]
	out := make([]*DataContract, 0, len(byInput))
	for _, c := range byInput {
		out = append(out, c)
	}
	return out
}

// Clear drops every contract of an execution
func (r *Router) Clear(executionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contracts, executionID)
	delete(r.upstream, executionID)
}
