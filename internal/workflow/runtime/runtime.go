package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/workflowcore/engine/internal/workflow"
	"github.com/workflowcore/engine/internal/workflow/eval"
	"github.com/workflowcore/engine/internal/workflow/werr"
)

// Runtime executes a compiled Graph. It owns no action
// semantics itself: every `run:`/`uses:` step dispatches through Registry,
// keeping the runtime action-agnostic.
type Runtime struct {
	Graph     *workflow.Graph
	Registry  *workflow.Registry
	Evaluator *eval.Evaluator
	Observer  Observer
	Clock     func() time.Time

	// Telemetry is optional: a nil value disables span/metric emission
	// (every Telemetry method is nil-receiver safe).
	Telemetry *Telemetry
	Name      string // workflow name, used only as a telemetry attribute
}

// New builds a Runtime. A nil observer defaults to a 64-event ChannelObserver.
func New(graph *workflow.Graph, registry *workflow.Registry, evaluator *eval.Evaluator, observer Observer) *Runtime {
	if observer == nil {
		observer = NewChannelObserver(64)
	}
	return &Runtime{Graph: graph, Registry: registry, Evaluator: evaluator, Observer: observer, Clock: time.Now}
}

// emit stamps ev with a fresh event id and forwards it to the observer.
func (r *Runtime) emit(ev Event) {
	ev.ID = newEventID()
	r.Observer.Emit(ev)
}

// RunOptions configures one execution of a Graph.
type RunOptions struct {
	RunID  string // generated via uuid if empty
	Inputs map[string]any
	Env    map[string]string
}

// SuspensionError is returned by Run when a step's action reports
// outcome=suspended. The caller resumes by
// calling Resume with the same state and the step's resume payload.
type SuspensionError struct {
	Request SuspensionRequest
}

func (e *SuspensionError) Error() string {
	return fmt.Sprintf("workflow suspended at step %q: %s", e.Request.StepID, e.Request.Prompt)
}

// SuspensionRequest describes what the host must present to a human/external
// system to resume execution.
type SuspensionRequest struct {
	StepID  string
	NodeID  string // the graph node to resume at; set by execute, not the action
	Prompt  string
	Type    string
	Options []string
	Default any
	Timeout string
}

// Run drives the graph from its entry node to __end__, or until ctx is
// cancelled, a suspension is requested, or an unrecoverable error occurs.
func (r *Runtime) Run(ctx context.Context, opts RunOptions) (workflow.State, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	state := workflow.State{
		"inputs":            opts.Inputs,
		"env":               opts.Env,
		"steps":             map[string]workflow.StepResult{},
		"__workflow_exit":   false,
		"__workflow_failed": false,
		"__run_id":          runID,
	}

	r.emit(Event{Type: EventWorkflowStart, RunID: runID, Timestamp: r.Clock()})
	ctx = r.Telemetry.StartRunSpan(ctx, runID, r.Name)
	return r.execute(ctx, runID, state, r.Graph.Entry)
}

// execute walks the graph from start to __end__. Run and Resume share this:
// Run seeds a fresh state and emits workflow_start first, Resume picks back
// up mid-graph on a state that already carries prior step results.
func (r *Runtime) execute(ctx context.Context, runID string, state workflow.State, start string) (workflow.State, error) {
	runStart := r.Clock()
	current := start
	for current != "" && current != workflow.EndNodeID {
		select {
		case <-ctx.Done():
			r.emit(Event{Type: EventWorkflowEnd, RunID: runID, NodeID: current, Timestamp: r.Clock(),
				Data: map[string]any{"status": "interrupted"}})
			err := werr.New(werr.KindInterrupted, "execution was cancelled").WithHint("state reflects the last completed step")
			r.Telemetry.EndRunSpan(ctx, runID, r.Name, r.Clock().Sub(runStart), err)
			return state, err
		default:
		}

		node := r.Graph.NodeOrNil(current)
		if node == nil {
			err := werr.New(werr.KindCompilation, fmt.Sprintf("no such node %q", current))
			r.Telemetry.EndRunSpan(ctx, runID, r.Name, r.Clock().Sub(runStart), err)
			return state, err
		}

		newState, suspend, err := r.dispatch(ctx, runID, node, state)
		state = newState
		if suspend != nil {
			suspend.NodeID = current
			r.emit(Event{Type: EventSuspended, RunID: runID, NodeID: current, Timestamp: r.Clock()})
			r.Telemetry.EndRunSpan(ctx, runID, r.Name, r.Clock().Sub(runStart), nil)
			return state, &SuspensionError{Request: *suspend}
		}
		if err != nil {
			r.Telemetry.EndRunSpan(ctx, runID, r.Name, r.Clock().Sub(runStart), err)
			return state, err
		}

		next, err := r.selectTransition(node, state)
		if err != nil {
			r.Telemetry.EndRunSpan(ctx, runID, r.Name, r.Clock().Sub(runStart), err)
			return state, err
		}
		current = next
	}

	r.emit(Event{Type: EventWorkflowEnd, RunID: runID, Timestamp: r.Clock()})
	r.Telemetry.EndRunSpan(ctx, runID, r.Name, r.Clock().Sub(runStart), nil)
	return state, nil
}

// dispatch executes one node and returns the resulting state. A non-nil
// SuspensionRequest means execution must halt and be resumed later. Every
// node gets a telemetry span regardless of kind, so loop/condition/cleanup
// nodes show up in traces the same way action nodes do.
func (r *Runtime) dispatch(ctx context.Context, runID string, node *workflow.Node, state workflow.State) (workflow.State, *SuspensionRequest, error) {
	nodeStart := r.Clock()
	ctx, span := r.Telemetry.StartNodeSpan(ctx, runID, node)
	newState, suspend, err := r.dispatchNode(ctx, runID, node, state)
	r.Telemetry.EndNodeSpan(span, string(node.Kind), r.Clock().Sub(nodeStart), err)
	return newState, suspend, err
}

// dispatchNode is the untelemetered node dispatch, factored out so dispatch
// can wrap every kind uniformly with a span.
func (r *Runtime) dispatchNode(ctx context.Context, runID string, node *workflow.Node, state workflow.State) (workflow.State, *SuspensionRequest, error) {
	switch node.Kind {
	case workflow.NodeCondition:
		return r.executeConditionNode(node, state)
	case workflow.NodeAction:
		if node.Step == nil {
			return state, nil, nil // __end__ placeholder
		}
		return r.executeActionNode(ctx, runID, node, state)
	case workflow.NodeLoopInit:
		return r.executeLoopInit(node, state), nil, nil
	case workflow.NodeLoopCheck:
		return r.executeLoopCheck(node, state), nil, nil
	case workflow.NodeLoopBody:
		return r.executeLoopBody(ctx, runID, node, state)
	case workflow.NodeLoopAdvance:
		return r.executeLoopAdvance(node, state), nil, nil
	case workflow.NodeLoopFinalize:
		return r.executeLoopFinalize(node, state), nil, nil
	case workflow.NodeCleanup:
		return r.executeCleanupNode(ctx, runID, node, state), nil, nil
	default:
		return state, nil, werr.New(werr.KindCompilation, fmt.Sprintf("unknown node kind %q", node.Kind))
	}
}

// selectTransition scans node's transitions in declared order and returns
// the first whose guard evaluates true, or is empty.
func (r *Runtime) selectTransition(node *workflow.Node, state workflow.State) (string, error) {
	for _, t := range node.Transitions {
		if t.Guard == "" {
			return t.Target, nil
		}
		ok, err := r.Evaluator.Condition(t.Guard, state)
		if err != nil {
			return "", werr.Wrap(werr.KindExpression, fmt.Sprintf("evaluating guard %q on node %q", t.Guard, node.ID), err)
		}
		if ok {
			return t.Target, nil
		}
	}
	return "", werr.New(werr.KindCompilation, fmt.Sprintf("node %q has no matching transition", node.ID))
}

func (r *Runtime) executeConditionNode(node *workflow.Node, state workflow.State) (workflow.State, *SuspensionRequest, error) {
	met, err := r.Evaluator.Condition(node.Step.If, state)
	if err != nil {
		met = false
	}
	return state.With("__condition_met", met), nil, nil
}

// executeActionNode runs the node's action with retry/timeout handling.
func (r *Runtime) executeActionNode(ctx context.Context, runID string, node *workflow.Node, state workflow.State) (workflow.State, *SuspensionRequest, error) {
	step := node.Step
	action, ok := r.Registry.Resolve(step)
	if !ok {
		return state.WithActionResult(step.StableID(), workflow.OutcomeFailure, nil, "no action resolved for step", "configuration"),
			nil, nil
	}

	with, err := r.Evaluator.ResolveAll(step.With, state)
	if err != nil {
		return state.WithActionResult(step.StableID(), workflow.OutcomeFailure, nil, err.Error(), "expression"), nil, nil
	}
	withMap, _ := with.(map[string]any)

	run := step.Run
	if run != "" {
		run, err = r.Evaluator.ResolveString(run, state)
		if err != nil {
			return state.WithActionResult(step.StableID(), workflow.OutcomeFailure, nil, err.Error(), "expression"), nil, nil
		}
	}

	r.emit(Event{Type: EventStepStart, RunID: runID, NodeID: node.ID, StepID: step.StableID(), Timestamp: r.Clock()})

	outcome, outputs, errMsg, errType, suspend := r.invokeWithRetry(ctx, step, action, workflow.ActionInput{
		StepID: step.StableID(), Run: run, With: withMap, State: state,
	})

	r.emit(Event{Type: EventStepEnd, RunID: runID, NodeID: node.ID, StepID: step.StableID(), Timestamp: r.Clock(),
		Data: map[string]any{"outcome": string(outcome), "error": errMsg}})

	if suspend != nil {
		return state, suspend, nil
	}

	newState := state.WithActionResult(step.StableID(), outcome, outputs, errMsg, errType)
	if outcome == workflow.OutcomeFailure && node.TerminalOnFailure {
		// No on_failure route was compiled for this step, so the implicit
		// default transition is the only one left; without this the failure
		// would silently fall through to the next step instead of routing
		// to cleanup via the priority guard.
		newState = newState.With("__workflow_failed", true)
	}
	return newState, nil, nil
}

// invokeWithRetry calls action, retrying per step.Retry on failure. A per-step timeout is applied via ctx when set.
func (r *Runtime) invokeWithRetry(ctx context.Context, step *workflow.Step, action workflow.Action, in workflow.ActionInput) (workflow.StepOutcome, map[string]any, string, string, *SuspensionRequest) {
	maxAttempts := 1
	var policy *workflow.RetryPolicy
	if step.Retry != nil {
		policy = step.Retry
		if policy.MaxAttempts > 0 {
			maxAttempts = policy.MaxAttempts
		}
	}

	var lastErr string
	var lastType string
	var lastOut map[string]any

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		stepCtx := ctx
		var cancel context.CancelFunc
		if step.Timeout != "" {
			if d, err := time.ParseDuration(step.Timeout); err == nil {
				stepCtx, cancel = context.WithTimeout(ctx, d)
			}
		}

		out := action.Execute(stepCtx, in)
		if cancel != nil {
			cancel()
		}

		if out.Err == nil {
			outcome := workflow.OutcomeSuccess
			if suspendFlag, _ := out.Values["__suspend"].(bool); suspendFlag {
				return workflow.OutcomeSuspended, out.Values, "", "", &SuspensionRequest{
					StepID:  step.StableID(),
					Prompt:  stringOrEmpty(out.Values["__suspend_prompt"]),
					Type:    stringOrEmpty(out.Values["__suspend_type"]),
					Default: out.Values["__suspend_default"],
				}
			}
			return outcome, out.Values, "", "", nil
		}

		lastErr = out.Err.Error()
		lastType = errorKind(stepCtx, out.Err)
		lastOut = out.Values

		if attempt == maxAttempts || policy == nil || !shouldRetry(policy, lastType) {
			break
		}
		time.Sleep(computeDelay(policy, attempt))
	}

	return workflow.OutcomeFailure, lastOut, lastErr, lastType, nil
}

func errorKind(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "timeout"
	}
	return "action-failure"
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}

// executeCleanupNode runs finally: steps in declared order with error
// isolation: a failing step is recorded under steps[id] but does not abort
// the rest.
func (r *Runtime) executeCleanupNode(ctx context.Context, runID string, node *workflow.Node, state workflow.State) workflow.State {
	for i := range node.CleanupSteps {
		step := &node.CleanupSteps[i]
		action, ok := r.Registry.Resolve(step)
		if !ok {
			continue
		}
		with, err := r.Evaluator.ResolveAll(step.With, state)
		withMap, _ := with.(map[string]any)
		if err != nil {
			state = state.WithActionResult(step.StableID(), workflow.OutcomeFailure, nil, err.Error(), "expression")
			continue
		}
		run := step.Run
		if run != "" {
			if run, err = r.Evaluator.ResolveString(run, state); err != nil {
				state = state.WithActionResult(step.StableID(), workflow.OutcomeFailure, nil, err.Error(), "expression")
				continue
			}
		}
		r.emit(Event{Type: EventStepStart, RunID: runID, NodeID: node.ID, StepID: step.StableID(), Timestamp: r.Clock()})
		out := action.Execute(ctx, workflow.ActionInput{StepID: step.StableID(), Run: run, With: withMap, State: state})
		outcome := workflow.OutcomeSuccess
		errMsg := ""
		if out.Err != nil {
			outcome = workflow.OutcomeFailure
			errMsg = out.Err.Error()
		}
		state = state.WithActionResult(step.StableID(), outcome, out.Values, errMsg, "")
		r.emit(Event{Type: EventStepEnd, RunID: runID, NodeID: node.ID, StepID: step.StableID(), Timestamp: r.Clock(),
			Data: map[string]any{"outcome": string(outcome)}})
	}
	return state
}
