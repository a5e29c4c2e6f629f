package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/workflowcore/engine/internal/workflow"
)

// loopPolicy is the per-loop bounds/storage record the init node stores and
// every later node in the cycle reads back.
type loopPolicy struct {
	MaxIterations   int
	MaxResults      int
	MaxErrors       int
	Storage         string // memory|file|none
	ContinueOnError bool
	Infinite        bool
	FilePath        string // set when Storage == "file"
}

func policyKey(loopID string) string { return "__loop_policy_" + loopID }

// materializeItems implements the loop's sequence coercion:
// non-iterables become a one-element list; nil/empty collections become
// empty.
func materializeItems(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	case map[string]any:
		if len(val) == 0 {
			return nil
		}
		return []any{val}
	default:
		return []any{val}
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// executeLoopInit materializes the loop's item sequence and frame.
func (r *Runtime) executeLoopInit(node *workflow.Node, state workflow.State) workflow.State {
	step := node.Step
	id := node.LoopID

	val, err := r.Evaluator.Resolve(step.Loop, state)
	infinite := false
	var items []any
	if err == nil {
		if b, ok := val.(bool); ok && b {
			infinite = true
		} else {
			items = materializeItems(val)
		}
	}

	if !infinite && len(items) == 0 {
		return state.With("__loop_empty", true)
	}

	frame := workflow.NewLoopFrame(items, 0, state.LoopOrNil())
	stack := append(append([]string{}, asStringSlice(state["__loop_stack"])...), id)
	depth := asInt(state["__loop_depth"])

	policy := loopPolicy{
		MaxIterations:   step.EffectiveMaxIterations(),
		MaxResults:      step.EffectiveMaxResults(),
		MaxErrors:       step.EffectiveMaxErrors(),
		Storage:         step.LoopStorageMode(),
		ContinueOnError: step.ContinueOnError,
		Infinite:        infinite,
	}
	if policy.Storage == "file" {
		runID, _ := state["__run_id"].(string)
		if path, err := r.Evaluator.SafePath(fmt.Sprintf("loop-results/%s/%s.jsonl", runID, id)); err == nil {
			if dir := filepath.Dir(path); dir != "" {
				_ = r.Evaluator.FS().MkdirAll(dir, 0o755)
			}
			policy.FilePath = path
		}
	}

	return state.WithAll(map[string]any{
		"loop":                   frame,
		"__loop_stack":           stack,
		"__loop_depth":           depth + 1,
		"__loop_iteration_count": 0,
		"__loop_success_count":   0,
		"__loop_results":         []any{},
		"__loop_errors":          []any{},
		"__loop_empty":           false,
		"__loop_infinite":        infinite,
		"__loop_done":            false,
		"__loop_break_requested": false,
		"__loop_aborted":         false,
		policyKey(id):            policy,
	})
}

func asStringSlice(v any) []string {
	s, _ := v.([]string)
	return s
}

// executeLoopCheck evaluates the loop's bounded-predicate routing.
func (r *Runtime) executeLoopCheck(node *workflow.Node, state workflow.State) workflow.State {
	policy, _ := state[policyKey(node.LoopID)].(loopPolicy)
	frame := state.LoopOrNil()
	iterCount := asInt(state["__loop_iteration_count"])
	errCount := len(asSlice(state["__loop_errors"]))

	done := false
	reason := ""
	switch {
	case !policy.Infinite && (frame == nil || frame.Index0 >= frame.Total):
		done, reason = true, "complete"
	case iterCount >= policy.MaxIterations:
		done, reason = true, "max_iterations"
	case errCount >= policy.MaxErrors:
		done, reason = true, "max_errors"
	}

	return state.WithAll(map[string]any{"__loop_done": done, "__loop_done_reason": reason})
}

// executeLoopBody runs the loop's wrapped action for the current frame and
// aggregates its outcome into the loop's counters,
// instead of writing a per-iteration steps[id] entry the way a plain action
// node would — the consolidated result is written once, at finalize.
func (r *Runtime) executeLoopBody(ctx context.Context, runID string, node *workflow.Node, state workflow.State) (workflow.State, *SuspensionRequest, error) {
	step := node.Step
	frame := state.LoopOrNil()

	action, ok := r.Registry.Resolve(step)
	if !ok {
		return r.recordLoopIteration(state, node, frame, workflow.OutcomeFailure, nil, "no action resolved for step"), nil, nil
	}

	bodyState := state.With("loop", frame)
	with, err := r.Evaluator.ResolveAll(step.With, bodyState)
	if err != nil {
		return r.recordLoopIteration(state, node, frame, workflow.OutcomeFailure, nil, err.Error()), nil, nil
	}
	withMap, _ := with.(map[string]any)

	run := step.Run
	if run != "" {
		run, err = r.Evaluator.ResolveString(run, bodyState)
		if err != nil {
			return r.recordLoopIteration(state, node, frame, workflow.OutcomeFailure, nil, err.Error()), nil, nil
		}
	}

	r.emit(Event{Type: EventStepStart, RunID: runID, NodeID: node.ID, StepID: step.StableID(), Timestamp: r.Clock()})
	outcome, outputs, errMsg, _, suspend := r.invokeWithRetry(ctx, step, action, workflow.ActionInput{
		StepID: step.StableID(), Run: run, With: withMap, State: bodyState,
	})
	r.emit(Event{Type: EventStepEnd, RunID: runID, NodeID: node.ID, StepID: step.StableID(), Timestamp: r.Clock(),
		Data: map[string]any{"outcome": string(outcome), "error": errMsg}})

	if suspend != nil {
		return state, suspend, nil
	}

	next := r.recordLoopIteration(state, node, frame, outcome, outputs, errMsg)

	// Mirror the body's __loop_continue output into state so advance can
	// skip break_if for this iteration (see executeLoopAdvance).
	var loopContinue any
	if v, ok := outputs["__loop_continue"]; ok {
		loopContinue = v
	}
	next["__loop_continue"] = loopContinue
	return next, nil, nil
}

func (r *Runtime) recordLoopIteration(state workflow.State, node *workflow.Node, frame *workflow.LoopFrame, outcome workflow.StepOutcome, outputs map[string]any, errMsg string) workflow.State {
	policy, _ := state[policyKey(node.LoopID)].(loopPolicy)
	iterCount := asInt(state["__loop_iteration_count"]) + 1
	successCount := asInt(state["__loop_success_count"])
	results := append([]any{}, asSlice(state["__loop_results"])...)
	errs := append([]any{}, asSlice(state["__loop_errors"])...)

	if outcome == workflow.OutcomeSuccess {
		successCount++
		if len(results) < policy.MaxResults {
			results = append(results, r.loopResultEntry(policy, frame, outputs))
		}
	} else {
		errs = append(errs, map[string]any{"index": frame.Index0, "error": errMsg})
	}

	newFrame := *frame
	newFrame.Output = outputs

	return state.WithAll(map[string]any{
		"loop":                   &newFrame,
		"__loop_iteration_count": iterCount,
		"__loop_success_count":   successCount,
		"__loop_results":         results,
		"__loop_errors":          errs,
		"__loop_last_outcome":    string(outcome),
		// mirrored per iteration (not via WithStepResult, which would write
		// a steps[id] entry per iteration) so the body node's compiled
		// `__step_outcome == "failure"` on_failure guard still works.
		"__step_outcome": string(outcome),
		"__step_error":   errMsg,
	})
}

// loopResultEntry renders one iteration's stored result according to the
// loop's result_storage mode: "none" keeps nothing, "memory" keeps the raw
// outputs inline, and "file" appends a JSONL line through the evaluator's
// safe_path-guarded filesystem and keeps only a reference in state.
func (r *Runtime) loopResultEntry(policy loopPolicy, frame *workflow.LoopFrame, outputs map[string]any) any {
	switch policy.Storage {
	case "none":
		return nil
	case "file":
		if policy.FilePath == "" {
			return outputs
		}
		line, err := json.Marshal(map[string]any{"index": frame.Index0, "output": outputs})
		if err != nil {
			return outputs
		}
		if err := appendLine(r.Evaluator.FS(), policy.FilePath, line); err != nil {
			return outputs
		}
		return map[string]any{"index": frame.Index0, "ref": policy.FilePath}
	default:
		return outputs
	}
}

func appendLine(fs afero.Fs, path string, line []byte) error {
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// executeLoopAdvance evaluates the abort-on-error and break_if guards and
// advances the frame: (break_if skipped for an iteration that set the
// __loop_continue reserved key, resolving Open Question (a) — see
// DESIGN.md) and frame advancement.
func (r *Runtime) executeLoopAdvance(node *workflow.Node, state workflow.State) workflow.State {
	step := node.Step
	frame := state.LoopOrNil()
	policy, _ := state[policyKey(node.LoopID)].(loopPolicy)

	lastOutcome, _ := state["__loop_last_outcome"].(string)
	if !policy.ContinueOnError && lastOutcome == string(workflow.OutcomeFailure) {
		return state.With("__loop_aborted", true)
	}

	skippedContinue := false
	if v, ok := state["__loop_continue"]; ok {
		skippedContinue, _ = v.(bool)
	}

	if step.BreakIf != "" && lastOutcome == string(workflow.OutcomeSuccess) && !skippedContinue {
		met, err := r.Evaluator.Condition(step.BreakIf, state)
		if err == nil && met {
			return state.WithAll(map[string]any{
				"__loop_break_requested": true,
				"__loop_break_item":      frame.Item,
				"__loop_break_index":     frame.Index0,
			})
		}
	}

	newFrame := workflow.NewLoopFrame(frame.Items, frame.Index0+1, frame.Parent)
	return state.With("loop", newFrame)
}

// executeLoopFinalize pops the loop stack,
// restore the parent frame, and write the consolidated step result.
func (r *Runtime) executeLoopFinalize(node *workflow.Node, state workflow.State) workflow.State {
	step := node.Step
	frame := state.LoopOrNil()

	breakRequested, _ := state["__loop_break_requested"].(bool)
	aborted, _ := state["__loop_aborted"].(bool)
	empty, _ := state["__loop_empty"].(bool)
	reason, _ := state["__loop_done_reason"].(string)
	switch {
	case empty:
		reason = "empty"
	case aborted:
		reason = "error"
	case breakRequested:
		reason = "break_if"
	}

	errs := asSlice(state["__loop_errors"])
	outcome := workflow.OutcomeSuccess
	switch {
	case aborted, reason == "max_errors":
		outcome = workflow.OutcomeFailure
	case len(errs) > 0:
		outcome = workflow.OutcomePartial
	}

	outputs := map[string]any{
		"results":       asSlice(state["__loop_results"]),
		"errors":        errs,
		"count":         asInt(state["__loop_iteration_count"]),
		"success_count": asInt(state["__loop_success_count"]),
		"break_early":   breakRequested,
		"break_item":    state["__loop_break_item"],
		"break_index":   state["__loop_break_index"],
		"reason":        reason,
		"storage":       step.LoopStorageMode(),
	}

	next := state.WithActionResult(step.StableID(), outcome, outputs, "", "")

	stack := asStringSlice(next["__loop_stack"])
	if len(stack) > 0 {
		stack = stack[:len(stack)-1]
	}
	depth := asInt(next["__loop_depth"]) - 1

	var parent *workflow.LoopFrame
	if frame != nil {
		parent = frame.Parent
	}

	return next.WithAll(map[string]any{
		"__loop_stack": stack,
		"__loop_depth": depth,
		"loop":         parent,
	})
}
