package workflow

import (
	"fmt"

	"github.com/workflowcore/engine/internal/workflow/werr"
)

// cleanupPriorityGuard preempts declared flow whenever an action has set
// __workflow_exit or __workflow_failed.
const cleanupPriorityGuard = "__workflow_exit == true or __workflow_failed == true"

// Compile lowers a validated Workflow into an executable Graph. Compilation is pure: no I/O, no side effects, and the result
// depends only on wf.
func Compile(wf *Workflow) (*Graph, error) {
	g := &Graph{
		Nodes:      make(map[string]*Node),
		InputDecls: wf.Inputs,
	}

	if len(wf.Steps) == 0 {
		return nil, werr.New(werr.KindCompilation, "cannot compile a workflow with no steps")
	}

	byID := make(map[string]*Step, len(wf.Steps))
	for i := range wf.Steps {
		byID[wf.Steps[i].StableID()] = &wf.Steps[i]
	}

	entryPoints := make([]string, len(wf.Steps))
	for i, step := range wf.Steps {
		entryPoints[i] = entryNodeID(step)
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		defaultNext := cleanupNodeID
		if i+1 < len(wf.Steps) {
			defaultNext = entryPoints[i+1]
		}

		onFailureTarget := ""
		if step.OnFailure != "" {
			if step.OnFailure == cleanupNodeID {
				onFailureTarget = cleanupNodeID
			} else if target, ok := byID[step.OnFailure]; ok {
				onFailureTarget = entryNodeID(*target)
			} else {
				return nil, werr.New(werr.KindCompilation,
					fmt.Sprintf("step %q has on_failure referencing unknown step %q", step.StableID(), step.OnFailure))
			}
		}

		switch {
		case step.IsLoop():
			compileLoopStep(g, step, defaultNext, onFailureTarget)
		case step.IsConditional():
			compileConditionalStep(g, step, defaultNext, onFailureTarget)
		default:
			compileSimpleStep(g, step, defaultNext, onFailureTarget)
		}
	}

	g.Nodes[cleanupNodeID] = &Node{
		ID:           cleanupNodeID,
		Kind:         NodeCleanup,
		CleanupSteps: wf.Finally,
		Transitions:  []Transition{{Target: endNodeID}},
	}
	g.Nodes[endNodeID] = &Node{ID: endNodeID, Kind: NodeAction}

	g.Entry = entryPoints[0]
	return g, nil
}

// entryNodeID returns the id of the first node a step compiles to: the
// condition evaluator for a conditional step, the init node for a loop step,
// or the step's own id otherwise.
func entryNodeID(step Step) string {
	switch {
	case step.IsLoop():
		return step.StableID() + "_init"
	case step.IsConditional():
		return step.StableID() + "_if"
	default:
		return step.StableID()
	}
}

func priorityTransition() Transition {
	return Transition{Guard: cleanupPriorityGuard, Target: cleanupNodeID}
}

func compileSimpleStep(g *Graph, step *Step, defaultNext, onFailureTarget string) {
	transitions := []Transition{priorityTransition()}
	if onFailureTarget != "" {
		transitions = append(transitions, Transition{
			Guard:  `__step_outcome == "failure"`,
			Target: onFailureTarget,
		})
	}
	transitions = append(transitions, Transition{Target: defaultNext})

	g.Nodes[step.StableID()] = &Node{
		ID:                step.StableID(),
		Kind:              NodeAction,
		Step:              step,
		Transitions:       transitions,
		TerminalOnFailure: onFailureTarget == "",
	}
}

func compileConditionalStep(g *Graph, step *Step, defaultNext, onFailureTarget string) {
	condID := step.StableID() + "_if"
	g.Nodes[condID] = &Node{
		ID:   condID,
		Kind: NodeCondition,
		Step: step,
		Transitions: []Transition{
			priorityTransition(),
			{Guard: "__condition_met == true", Target: step.StableID()},
			{Target: defaultNext},
		},
	}
	compileSimpleStep(g, step, defaultNext, onFailureTarget)
}

// compileLoopStep expands a loop step into its five nodes.
// The transitions here are the declared skeleton; the loop executor
// (runtime/loop_nodes.go) computes the bound/break flags each node's guards
// reference before transition evaluation runs, so the same guard-evaluation
// machinery used for every other node kind applies unchanged.
func compileLoopStep(g *Graph, step *Step, defaultNext, onFailureTarget string) {
	id := step.StableID()
	initID, checkID, bodyID, advanceID, finalizeID := id+"_init", id+"_check", id+"_body", id+"_advance", id+"_finalize"

	g.Nodes[initID] = &Node{
		ID:     initID,
		Kind:   NodeLoopInit,
		Step:   step,
		LoopID: id,
		Transitions: []Transition{
			priorityTransition(),
			{Guard: "__loop_empty == true", Target: defaultNext},
			{Target: checkID},
		},
	}

	g.Nodes[checkID] = &Node{
		ID:     checkID,
		Kind:   NodeLoopCheck,
		Step:   step,
		LoopID: id,
		Transitions: []Transition{
			priorityTransition(),
			{Guard: "__loop_done == true", Target: finalizeID},
			{Target: bodyID},
		},
	}

	bodyTransitions := []Transition{priorityTransition()}
	if onFailureTarget != "" && !step.ContinueOnError {
		bodyTransitions = append(bodyTransitions, Transition{
			Guard:  `__step_outcome == "failure"`,
			Target: onFailureTarget,
		})
	}
	bodyTransitions = append(bodyTransitions, Transition{Target: advanceID})
	g.Nodes[bodyID] = &Node{
		ID:          bodyID,
		Kind:        NodeLoopBody,
		Step:        step,
		LoopID:      id,
		Transitions: bodyTransitions,
	}

	g.Nodes[advanceID] = &Node{
		ID:     advanceID,
		Kind:   NodeLoopAdvance,
		Step:   step,
		LoopID: id,
		Transitions: []Transition{
			priorityTransition(),
			{Guard: "__loop_break_requested == true or __loop_aborted == true", Target: finalizeID},
			{Target: checkID},
		},
	}

	g.Nodes[finalizeID] = &Node{
		ID:     finalizeID,
		Kind:   NodeLoopFinalize,
		Step:   step,
		LoopID: id,
		Transitions: []Transition{
			priorityTransition(),
			{Target: defaultNext},
		},
	}
}
