package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/progrunhq/progrun/internal/contract"
	"github.com/progrunhq/progrun/internal/platform/cache"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/shared/events"
	"github.com/progrunhq/progrun/internal/workflow/model"
)

// run is the in-flight state of one workflow execution
type run struct {
	engine *Engine
	wf     *model.Workflow
	exec   *model.WorkflowExecution
	router *contract.Router

	sem    chan struct{}
	signal chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	taken     map[string]bool // edgeID -> false when its condition evaluated false
	running   int
	paused    bool
	cancelled bool
	stopping  bool
	timedOut  bool
}

// loop drives the scheduler until every node reaches a terminal state
func (r *run) loop(ctx context.Context) {
	for {
		r.mu.Lock()
		r.reapLocked()

		if r.running == 0 && r.allTerminalLocked() {
			r.finalizeLocked()
			r.mu.Unlock()
			r.engine.persist(context.Background(), r.exec)
			return
		}

		if r.stopping {
			if r.running == 0 {
				r.cancelPendingLocked()
				r.finalizeLocked()
				r.mu.Unlock()
				r.engine.persist(context.Background(), r.exec)
				return
			}
		} else if !r.paused {
			dispatched := r.dispatchLocked(ctx)
			if dispatched == 0 && r.running == 0 && !r.allTerminalLocked() {
				// Validated graphs cannot wedge; treat a wedged remainder
				// as a dependency failure rather than hanging.
				r.failPendingLocked("node never became schedulable")
				r.finalizeLocked()
				r.mu.Unlock()
				r.engine.persist(context.Background(), r.exec)
				return
			}
		}
		r.mu.Unlock()

		if r.isStopping() {
			<-r.signal
		} else {
			select {
			case <-r.signal:
			case <-ctx.Done():
				r.markStopping(ctx)
			}
		}
	}
}

// reapLocked resolves nodes that will never run: downstream of failures
// when the workflow continues on error, downstream of cancelled nodes,
// and downstream of untaken conditional edges or skipped nodes whose
// edge is not marked optional.
func (r *run) reapLocked() {
	continueOnError := r.exec.Context.ContinueOnError || r.wf.Settings.ContinueOnError

	for {
		progressed := false
		for i := range r.wf.Nodes {
			node := &r.wf.Nodes[i]
			ne, ok := r.exec.NodeExecutions[node.ID]
			if !ok || ne.Status != model.NodePending {
				continue
			}

			inbound := r.wf.EdgesInto(node.ID)
			allTerminal := true
			anyFailed := false
			anyCancelled := false
			blockedSkip := false
			blockedUntaken := false
			for _, edge := range inbound {
				src, ok := r.exec.NodeExecutions[edge.SourceNodeID]
				if !ok {
					continue // disabled source, no constraint
				}
				switch {
				case !src.Status.Terminal():
					allTerminal = false
				case src.Status == model.NodeFailed || src.Status == model.NodeTimeout:
					anyFailed = true
				case src.Status == model.NodeCancelled:
					anyCancelled = true
				case src.Status == model.NodeSkipped:
					if !edge.Optional {
						blockedSkip = true
					}
				case src.Status == model.NodeCompleted:
					if pass, recorded := r.taken[edge.ID]; recorded && !pass && !edge.Optional {
						blockedUntaken = true
					}
				}
			}
			if !allTerminal {
				continue
			}

			if anyFailed {
				if !continueOnError {
					if !r.stopping {
						r.stopping = true
						r.cancel()
					}
					continue
				}
				r.skipLocked(node, ne, "upstream_failure")
				progressed = true
				continue
			}

			if anyCancelled {
				r.cancelNodeLocked(node, ne)
				progressed = true
				continue
			}

			if blockedSkip || blockedUntaken {
				reason := "upstream_skipped"
				if blockedUntaken {
					reason = "condition_not_met"
				}
				r.skipLocked(node, ne, reason)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func (r *run) skipLocked(node *model.Node, ne *model.NodeExecution, reason string) {
	now := time.Now()
	ne.Status = model.NodeSkipped
	ne.SkipReason = reason
	ne.CompletedAt = &now
	r.exec.UpdateProgress()
	r.exec.AppendLog("info", "node skipped: "+reason, node.ID)
	r.publishNodeDone(node, ne)
}

// cancelNodeLocked cascades cancellation: a node downstream of a cancelled
// upstream is itself cancelled, never skipped.
func (r *run) cancelNodeLocked(node *model.Node, ne *model.NodeExecution) {
	now := time.Now()
	ne.Status = model.NodeCancelled
	ne.CompletedAt = &now
	r.exec.UpdateProgress()
	r.exec.AppendLog("info", "node cancelled: upstream cancelled", node.ID)
	r.publishNodeDone(node, ne)
}

// dispatchLocked launches every ready node a free slot exists for.
// Ready nodes order by priority, then node id for determinism.
func (r *run) dispatchLocked(ctx context.Context) int {
	var ready []*model.Node
	for i := range r.wf.Nodes {
		node := &r.wf.Nodes[i]
		ne, ok := r.exec.NodeExecutions[node.ID]
		if !ok || ne.Status != model.NodePending {
			continue
		}
		if r.readyLocked(node) {
			ready = append(ready, node)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		pi, pj := ready[i].ExecutionSettings.Priority, ready[j].ExecutionSettings.Priority
		if pi != pj {
			return pi > pj
		}
		return ready[i].ID < ready[j].ID
	})

	dispatched := 0
	for _, node := range ready {
		select {
		case r.sem <- struct{}{}:
		default:
			return dispatched
		}

		ne := r.exec.NodeExecutions[node.ID]
		ne.Status = model.NodeRunning
		r.running++
		dispatched++
		go r.runNode(ctx, node)
	}
	return dispatched
}

// readyLocked reports whether every inbound dependency is satisfied: the
// upstream completed with its edge taken, or resolved without output over
// an edge marked optional.
func (r *run) readyLocked(node *model.Node) bool {
	for _, edge := range r.wf.EdgesInto(node.ID) {
		src, ok := r.exec.NodeExecutions[edge.SourceNodeID]
		if !ok {
			continue // disabled source, no constraint
		}
		switch src.Status {
		case model.NodeCompleted:
			if pass, recorded := r.taken[edge.ID]; recorded && !pass && !edge.Optional {
				return false
			}
		case model.NodeSkipped:
			if !edge.Optional {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// runNode executes one dispatched node to a terminal state
func (r *run) runNode(ctx context.Context, node *model.Node) {
	e := r.engine
	start := time.Now()
	if e.met != nil {
		e.met.NodesRunning.Inc()
		e.met.NodeDispatchesTotal.WithLabelValues(string(node.NodeType)).Inc()
		defer func() {
			e.met.NodesRunning.Dec()
			e.met.NodeDuration.WithLabelValues(string(node.NodeType)).Observe(time.Since(start).Seconds())
		}()
	}

	ne := r.exec.NodeExecutions[node.ID]

	r.mu.Lock()
	now := time.Now()
	ne.StartedAt = &now
	ne.Dispatches++
	r.exec.UpdateProgress()
	r.mu.Unlock()

	inputs, err := r.router.AssembleInputs(r.exec.ID, node, r.exec.Context)
	if err != nil {
		r.completeNode(node, nil, err)
		return
	}
	r.mu.Lock()
	ne.Inputs = inputs
	r.mu.Unlock()

	// Conditional execution gate. Decision nodes are excluded: their
	// expression is their output, not a gate.
	if ce := node.ConditionalExecution; ce != nil && ce.Expression != "" && node.NodeType != model.NodeTypeDecision {
		pass, cerr := contract.EvalCondition(ce.Expression, r.conditionEnv(inputs))
		if cerr != nil {
			if ce.SkipIfFails {
				r.skipFromRun(node, "condition_error")
				return
			}
			r.completeNode(node, nil, progerr.Validation(
				fmt.Sprintf("node %s condition failed: %v", node.ID, cerr)).WithNode(node.ID))
			return
		}
		if !pass {
			r.skipFromRun(node, "condition_not_met")
			return
		}
	}

	// Program nodes that opt in to result caching skip the run when the
	// same version already ran with identical inputs.
	cacheKey := ""
	if e.cache != nil && node.NodeType == model.NodeTypeProgram && node.OutputConfiguration.CacheResults {
		cacheKey = cache.OutputKey(r.wf.ID, node.ID, node.VersionID, inputs)
		if cached, ok := e.cache.Get(ctx, cacheKey); ok {
			r.mu.Lock()
			r.exec.AppendLog("info", "node outputs served from cache", node.ID)
			r.mu.Unlock()
			r.completeNode(node, cached, nil)
			return
		}
	}

	outputs, err := r.executeWithRetry(ctx, node, ne, inputs)
	if err == nil && cacheKey != "" {
		e.cache.Set(ctx, cacheKey, outputs, node.OutputConfiguration.CacheTTL)
	}
	r.completeNode(node, outputs, err)
}

// executeWithRetry runs the node, retrying retryable failures per the
// effective retry policy with backoff.
func (r *run) executeWithRetry(ctx context.Context, node *model.Node, ne *model.NodeExecution, inputs map[string]interface{}) (map[string]interface{}, error) {
	policy := r.retryPolicyFor(node)

	attempt := 0
	for {
		outputs, err := r.executeNode(ctx, node, ne, inputs)
		if err == nil {
			return outputs, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		if attempt >= policy.MaxRetries || !retryable(policy, err) {
			return nil, err
		}

		attempt++
		r.mu.Lock()
		ne.Status = model.NodeRetrying
		ne.RetryCount = attempt
		r.exec.AppendLog("warn", fmt.Sprintf("node retry %d after: %v", attempt, err), node.ID)
		r.mu.Unlock()
		if r.engine.met != nil {
			r.engine.met.NodeRetriesTotal.WithLabelValues(string(node.NodeType)).Inc()
		}

		delay := policy.Delay
		if delay <= 0 {
			delay = time.Second
		}
		if policy.ExponentialBackoff {
			delay <<= attempt - 1
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, progerr.Cancelled("node retry interrupted").WithNode(node.ID)
		}

		r.mu.Lock()
		ne.Status = model.NodeRunning
		r.mu.Unlock()
	}
}

// retryPolicyFor resolves the effective retry policy. Node-level settings
// take precedence over the workflow policy, which in turn falls back to
// the engine's configured defaults.
func (r *run) retryPolicyFor(node *model.Node) model.RetryPolicy {
	policy := r.wf.Settings.RetryPolicy
	if policy.MaxRetries == 0 && policy.Delay == 0 {
		cfg := r.engine.retry
		policy = model.RetryPolicy{
			MaxRetries:         cfg.MaxRetries,
			Delay:              cfg.Delay,
			ExponentialBackoff: cfg.ExponentialBackoff,
			RetryOnErrorTypes:  cfg.RetryOnErrorTypes,
		}
	}

	if node.ExecutionSettings.RetryCount > 0 {
		delay := node.ExecutionSettings.RetryDelay
		if delay <= 0 {
			delay = time.Second
		}
		return model.RetryPolicy{
			MaxRetries:         node.ExecutionSettings.RetryCount,
			Delay:              delay,
			ExponentialBackoff: true,
			RetryOnErrorTypes:  policy.RetryOnErrorTypes,
		}
	}
	return policy
}

func retryable(policy model.RetryPolicy, err error) bool {
	if len(policy.RetryOnErrorTypes) == 0 {
		return progerr.IsRetryable(err)
	}
	code := progerr.CodeOf(err)
	for _, t := range policy.RetryOnErrorTypes {
		if t == code {
			return true
		}
	}
	return false
}

// executeNode performs one attempt of a node
func (r *run) executeNode(ctx context.Context, node *model.Node, ne *model.NodeExecution, inputs map[string]interface{}) (map[string]interface{}, error) {
	switch node.NodeType {
	case model.NodeTypeStart, model.NodeTypeEnd, model.NodeTypeMerge, model.NodeTypeCustomFunction:
		// Pass-through; custom functions compute through their output
		// mappings when outputs are registered.
		return copyMap(inputs), nil

	case model.NodeTypeDecision:
		expression := ""
		if node.ConditionalExecution != nil {
			expression = node.ConditionalExecution.Expression
		}
		result, err := contract.EvalCondition(expression, r.conditionEnv(inputs))
		if err != nil {
			return nil, progerr.Validation(
				fmt.Sprintf("decision node %s: %v", node.ID, err)).WithNode(node.ID)
		}
		outputs := copyMap(inputs)
		outputs["result"] = result
		return outputs, nil

	case model.NodeTypeProgram:
		return r.runProgramNode(ctx, node, ne, inputs)

	case model.NodeTypeUI:
		return r.runUINode(ctx, node, ne)

	case model.NodeTypeSubWorkflow:
		return r.runSubWorkflowNode(ctx, node, inputs)

	default:
		return nil, progerr.Validation(
			fmt.Sprintf("unsupported node type %q", node.NodeType)).WithNode(node.ID)
	}
}

func (r *run) runProgramNode(ctx context.Context, node *model.Node, ne *model.NodeExecution, inputs map[string]interface{}) (map[string]interface{}, error) {
	if r.engine.programs == nil {
		return nil, progerr.Validation("no program runner configured").WithNode(node.ID)
	}

	timeout := r.engine.cfg.DefaultNodeTimeout()
	if node.ExecutionSettings.TimeoutMinutes > 0 {
		timeout = time.Duration(node.ExecutionSettings.TimeoutMinutes) * time.Minute
	}

	env := make(map[string]string)
	for k, v := range r.exec.Context.Environment {
		env[k] = v
	}
	for k, v := range node.ExecutionSettings.Environment {
		env[k] = v
	}

	result, err := r.engine.programs.RunProgram(ctx, ProgramRunRequest{
		ProgramID:   node.ProgramID,
		VersionID:   node.VersionID,
		UserID:      r.exec.ExecutedBy,
		Parameters:  inputs,
		Environment: env,
		Timeout:     timeout,
	})
	if result != nil && result.ExecutionID != "" {
		r.mu.Lock()
		ne.ProgramExecutionID = result.ExecutionID
		r.mu.Unlock()
	}
	if err != nil {
		if coreErr, ok := err.(*progerr.Error); ok {
			return nil, coreErr.WithNode(node.ID)
		}
		return nil, err
	}
	return result.Outputs, nil
}

// runUINode parks the node on a user interaction. The concurrency slot is
// released while waiting so other branches keep running.
func (r *run) runUINode(ctx context.Context, node *model.Node, ne *model.NodeExecution) (map[string]interface{}, error) {
	if r.engine.ui == nil {
		return nil, progerr.Validation("no ui broker configured").WithNode(node.ID)
	}

	interactionID, err := r.engine.ui.CreateInteraction(
		ctx, r.exec.ID, node.ID, node.OutputConfiguration.Schema, r.engine.cfg.InteractionTimeout)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	ne.Status = model.NodeWaitingUI
	r.exec.UpdateProgress()
	r.exec.AppendLog("info", "waiting for user interaction "+interactionID, node.ID)
	r.mu.Unlock()
	r.wake()

	<-r.sem // release the slot while suspended
	data, err := r.engine.ui.AwaitInteraction(ctx, interactionID)
	r.sem <- struct{}{} // take the slot back; completeNode releases it

	r.mu.Lock()
	ne.Status = model.NodeRunning
	r.mu.Unlock()

	if err != nil {
		if coreErr, ok := err.(*progerr.Error); ok {
			return nil, coreErr.WithNode(node.ID)
		}
		return nil, err
	}
	return data, nil
}

// runSubWorkflowNode executes a child workflow synchronously. The node's
// ProgramID carries the child workflow id.
func (r *run) runSubWorkflowNode(ctx context.Context, node *model.Node, inputs map[string]interface{}) (map[string]interface{}, error) {
	if node.ProgramID == "" {
		return nil, progerr.Validation("sub_workflow node missing workflow reference").WithNode(node.ID)
	}
	if node.ProgramID == r.wf.ID {
		return nil, progerr.Validation("sub_workflow cannot reference its own workflow").WithNode(node.ID)
	}

	child, err := r.engine.Execute(ctx, node.ProgramID, r.exec.ExecutedBy, model.ExecutionContext{
		UserInputs:      inputs,
		GlobalVariables: r.exec.Context.GlobalVariables,
		Environment:     r.exec.Context.Environment,
		Mode:            r.exec.Context.Mode,
	})
	if err != nil {
		return nil, err
	}
	if child.Status != model.ExecutionCompleted {
		return nil, progerr.Dependency(fmt.Sprintf(
			"sub-workflow %s finished %s", node.ProgramID, child.Status)).WithNode(node.ID)
	}

	outputs := make(map[string]interface{}, len(child.Results.FinalOutputs))
	for k, v := range child.Results.FinalOutputs {
		outputs[k] = v
	}
	return outputs, nil
}

// completeNode records the terminal outcome of a dispatched node, routes
// its outputs downstream and wakes the scheduler.
func (r *run) completeNode(node *model.Node, rawOutputs map[string]interface{}, runErr error) {
	ne := r.exec.NodeExecutions[node.ID]

	r.mu.Lock()
	now := time.Now()
	ne.CompletedAt = &now

	if runErr == nil {
		outboundAll := r.wf.EdgesFrom(node.ID)
		outbound := r.evaluateEdgeConditionsLocked(node, rawOutputs, outboundAll)

		named, regErr := r.router.RegisterOutputs(r.exec.ID, node, rawOutputs, outbound)
		if regErr != nil {
			runErr = regErr
		} else {
			ne.Status = model.NodeCompleted
			ne.Outputs = named
			if r.exec.Context.SaveIntermediateResults || r.wf.Settings.SaveIntermediateResults {
				r.exec.Results.IntermediateResults[node.ID] = named
			}
			if !hasDataEdges(outboundAll) {
				// Terminal outputs merge into one flat map; on a name
				// collision the later-completing node wins.
				for k, v := range named {
					r.exec.Results.FinalOutputs[k] = v
				}
			}
			r.exec.AppendLog("info", "node completed", node.ID)
		}
	}

	if runErr != nil {
		ne.Error = runErr.Error()
		ne.ErrorCode = progerr.CodeOf(runErr)
		switch ne.ErrorCode {
		case progerr.CodeTimeout:
			ne.Status = model.NodeTimeout
		case progerr.CodeCancelled:
			ne.Status = model.NodeCancelled
		default:
			ne.Status = model.NodeFailed
		}
		r.exec.AppendLog("error", fmt.Sprintf("node %s: %v", ne.Status, runErr), node.ID)
	}

	r.exec.UpdateProgress()
	r.running--
	r.mu.Unlock()

	r.publishNodeDone(node, ne)
	r.engine.persist(context.Background(), r.exec)

	<-r.sem
	r.wake()
}

// skipFromRun resolves a dispatched node as skipped after its gate
// evaluated false.
func (r *run) skipFromRun(node *model.Node, reason string) {
	ne := r.exec.NodeExecutions[node.ID]

	r.mu.Lock()
	now := time.Now()
	ne.Status = model.NodeSkipped
	ne.SkipReason = reason
	ne.CompletedAt = &now
	r.exec.UpdateProgress()
	r.exec.AppendLog("info", "node skipped: "+reason, node.ID)
	r.running--
	r.mu.Unlock()

	r.publishNodeDone(node, ne)
	r.engine.persist(context.Background(), r.exec)

	<-r.sem
	r.wake()
}

// evaluateEdgeConditionsLocked filters the outbound edges through their
// conditions and records untaken branches.
func (r *run) evaluateEdgeConditionsLocked(node *model.Node, outputs map[string]interface{}, edges []model.Edge) []model.Edge {
	kept := make([]model.Edge, 0, len(edges))
	for _, edge := range edges {
		if edge.Condition == "" {
			r.taken[edge.ID] = true
			kept = append(kept, edge)
			continue
		}

		env := r.conditionEnvLocked(nil)
		env["outputs"] = outputs
		pass, err := contract.EvalCondition(edge.Condition, env)
		if err != nil {
			r.engine.log.Warn("edge condition failed, treating branch as untaken",
				"workflowExecutionId", r.exec.ID, "edgeId", edge.ID, "error", err)
			pass = false
		}
		r.taken[edge.ID] = pass
		if pass {
			kept = append(kept, edge)
		} else {
			r.exec.AppendLog("info", "edge condition false: "+edge.ID, node.ID)
		}
	}
	return kept
}

func (r *run) conditionEnv(inputs map[string]interface{}) map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conditionEnvLocked(inputs)
}

func (r *run) conditionEnvLocked(inputs map[string]interface{}) map[string]interface{} {
	nodes := make(map[string]interface{})
	for id, ne := range r.exec.NodeExecutions {
		if ne.Status == model.NodeCompleted {
			nodes[id] = ne.Outputs
		}
	}
	env := map[string]interface{}{
		"userInputs": r.exec.Context.UserInputs,
		"globals":    r.exec.Context.GlobalVariables,
		"nodes":      nodes,
	}
	if inputs != nil {
		env["inputs"] = inputs
	}
	return env
}

func (r *run) allTerminalLocked() bool {
	for _, ne := range r.exec.NodeExecutions {
		if !ne.Status.Terminal() {
			return false
		}
	}
	return true
}

func (r *run) cancelPendingLocked() {
	now := time.Now()
	for _, ne := range r.exec.NodeExecutions {
		if ne.Status == model.NodePending {
			ne.Status = model.NodeCancelled
			ne.CompletedAt = &now
		}
	}
	r.exec.UpdateProgress()
}

func (r *run) failPendingLocked(reason string) {
	now := time.Now()
	for _, ne := range r.exec.NodeExecutions {
		if !ne.Status.Terminal() {
			ne.Status = model.NodeFailed
			ne.Error = reason
			ne.ErrorCode = progerr.CodeDependency
			ne.CompletedAt = &now
		}
	}
	r.exec.UpdateProgress()
}

// finalizeLocked stamps the execution's terminal status. Every node is
// already terminal by the time this runs, so cancellation finishes only
// after all child processes stopped.
func (r *run) finalizeLocked() {
	now := time.Now()
	r.exec.CompletedAt = &now
	r.exec.UpdateProgress()

	switch {
	case r.cancelled:
		r.exec.Status = model.ExecutionCancelled
	case r.timedOut:
		r.exec.Status = model.ExecutionTimeout
		r.exec.Error = "workflow execution exceeded its timeout"
	case r.exec.Progress.Failed > 0:
		r.exec.Status = model.ExecutionFailed
		for _, ne := range r.exec.NodeExecutions {
			if ne.Status == model.NodeFailed || ne.Status == model.NodeTimeout {
				r.exec.Error = fmt.Sprintf("node %s failed: %s", ne.NodeID, ne.Error)
				break
			}
		}
	default:
		r.exec.Status = model.ExecutionCompleted
	}

	r.exec.Results.Statistics = map[string]interface{}{
		"durationMs":     now.Sub(r.exec.StartedAt).Milliseconds(),
		"nodesCompleted": r.exec.Progress.Completed,
		"nodesFailed":    r.exec.Progress.Failed,
		"nodesSkipped":   r.exec.Progress.Skipped,
	}
	r.exec.AppendLog("info", "workflow execution "+string(r.exec.Status), "")
}

func (r *run) publishNodeDone(node *model.Node, ne *model.NodeExecution) {
	r.engine.publishEvent(context.Background(), r.exec.ID, events.TypeNodeDone, events.NodeExecutionDone{
		WorkflowExecutionID: r.exec.ID,
		NodeID:              node.ID,
		NodeType:            string(node.NodeType),
		Status:              string(ne.Status),
		Attempts:            ne.Dispatches,
	})
}

func (r *run) pause() {
	r.mu.Lock()
	if !r.paused && !r.stopping && !r.exec.Status.Terminal() {
		r.paused = true
		r.exec.Status = model.ExecutionPaused
		r.exec.AppendLog("info", "workflow execution paused", "")
	}
	r.mu.Unlock()
	r.engine.persist(context.Background(), r.exec)
	r.wake()
}

func (r *run) resume() {
	r.mu.Lock()
	if r.paused {
		r.paused = false
		r.exec.Status = model.ExecutionRunning
		r.exec.AppendLog("info", "workflow execution resumed", "")
	}
	r.mu.Unlock()
	r.engine.persist(context.Background(), r.exec)
	r.wake()
}

func (r *run) requestCancel() {
	r.mu.Lock()
	r.cancelled = true
	r.stopping = true
	r.paused = false
	r.exec.AppendLog("info", "workflow execution cancel requested", "")
	r.mu.Unlock()
	r.cancel()
	r.wake()
}

func (r *run) markStopping(ctx context.Context) {
	r.mu.Lock()
	if !r.stopping {
		r.stopping = true
		if ctx.Err() == context.DeadlineExceeded && !r.cancelled {
			r.timedOut = true
		}
	}
	r.mu.Unlock()
	r.wake()
}

func (r *run) isStopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

func (r *run) wake() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

func hasDataEdges(edges []model.Edge) bool {
	for _, edge := range edges {
		if edge.EdgeType != model.EdgeTypeControl {
			return true
		}
	}
	return false
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
