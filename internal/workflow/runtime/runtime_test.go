package runtime

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/engine/internal/workflow"
	"github.com/workflowcore/engine/internal/workflow/eval"
)

func newTestEvaluator() *eval.Evaluator {
	return eval.New(afero.NewMemMapFs(), "/workspace")
}

// recordingAction returns outcome for every step it backs and stamps
// steps[id].outputs with the step id so assertions can see the call order.
func recordingAction(calls *[]string, outcome workflow.StepOutcome) workflow.Action {
	return workflow.ActionFunc(func(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
		*calls = append(*calls, in.StepID)
		if outcome == workflow.OutcomeFailure {
			return workflow.ActionOutput{Err: errStep}
		}
		return workflow.ActionOutput{Values: map[string]any{"ran": in.StepID}}
	})
}

var errStep = &stepError{"boom"}

type stepError struct{ msg string }

func (e *stepError) Error() string { return e.msg }

func TestRunLinearSuccess(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "linear",
		Steps: []workflow.Step{
			{ID: "a", Uses: "noop"},
			{ID: "b", Uses: "noop"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []string
	registry := workflow.NewRegistry(nil)
	registry.Register("noop", recordingAction(&calls, workflow.OutcomeSuccess))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, calls)

	steps := state.Steps()
	require.Equal(t, workflow.OutcomeSuccess, steps["a"].Outcome)
	require.Equal(t, workflow.OutcomeSuccess, steps["b"].Outcome)
	require.Equal(t, "a", steps["a"].Outputs["ran"])
}

func TestRunConditionalSkip(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "conditional",
		Steps: []workflow.Step{
			{ID: "guarded", If: "inputs.run_it == true", Uses: "noop"},
			{ID: "after", Uses: "noop"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []string
	registry := workflow.NewRegistry(nil)
	registry.Register("noop", recordingAction(&calls, workflow.OutcomeSuccess))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{Inputs: map[string]any{"run_it": false}})
	require.NoError(t, err)

	require.Equal(t, []string{"after"}, calls)
	_, ran := state.Steps()["guarded"]
	require.False(t, ran, "guarded step must not have run its action when its condition is false")
}

func TestRunOnFailureRouting(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "on-failure",
		Steps: []workflow.Step{
			{ID: "flaky", Uses: "boom", OnFailure: "recover"},
			{ID: "skipped", Uses: "noop"},
			{ID: "recover", Uses: "noop"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []string
	registry := workflow.NewRegistry(nil)
	registry.Register("boom", recordingAction(&calls, workflow.OutcomeFailure))
	registry.Register("noop", recordingAction(&calls, workflow.OutcomeSuccess))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"flaky", "recover"}, calls)
	require.Equal(t, workflow.OutcomeFailure, state.Steps()["flaky"].Outcome)
	require.Equal(t, workflow.OutcomeSuccess, state.Steps()["recover"].Outcome)
}

func TestRunCleanupPriorityOnWorkflowExit(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "exit-early",
		Steps: []workflow.Step{
			{ID: "a", Uses: "exit"},
			{ID: "b", Uses: "noop"},
		},
		Finally: []workflow.Step{
			{ID: "cleanup", Uses: "noop"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []string
	registry := workflow.NewRegistry(nil)
	registry.Register("exit", workflow.ActionFunc(func(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
		calls = append(calls, in.StepID)
		return workflow.ActionOutput{Values: map[string]any{"__workflow_exit": true}}
	}))
	registry.Register("noop", recordingAction(&calls, workflow.OutcomeSuccess))

	rt := New(graph, registry, newTestEvaluator(), nil)
	_, err = rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"a", "cleanup"}, calls, "setting __workflow_exit must jump straight to cleanup, skipping step b")
}

func TestRunUnhandledFailureRoutesToCleanup(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "unhandled-failure",
		Steps: []workflow.Step{
			{ID: "flaky", Uses: "boom"},
			{ID: "skipped", Uses: "noop"},
		},
		Finally: []workflow.Step{
			{ID: "cleanup", Uses: "noop"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []string
	registry := workflow.NewRegistry(nil)
	registry.Register("boom", recordingAction(&calls, workflow.OutcomeFailure))
	registry.Register("noop", recordingAction(&calls, workflow.OutcomeSuccess))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []string{"flaky", "cleanup"}, calls,
		"a step failing with no on_failure must route straight to cleanup, skipping the next declared step")
	require.Equal(t, workflow.OutcomeFailure, state.Steps()["flaky"].Outcome)
	require.Equal(t, true, state["__workflow_failed"])
}

func TestRunSuspendThenResume(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "approval",
		Steps: []workflow.Step{
			{ID: "approve", Uses: "human"},
			{ID: "after", Uses: "noop"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []string
	registry := workflow.NewRegistry(nil)
	registry.Register("human", workflow.ActionFunc(func(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
		calls = append(calls, in.StepID)
		resumeData, _ := in.State["__resume_data"].(map[string]any)
		if approved, ok := resumeData[in.StepID]; ok {
			return workflow.ActionOutput{Values: map[string]any{"approved": approved}}
		}
		return workflow.ActionOutput{Values: map[string]any{"__suspend": true, "__suspend_prompt": "approve?"}}
	}))
	registry.Register("noop", recordingAction(&calls, workflow.OutcomeSuccess))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{RunID: "run-approval"})
	require.Error(t, err)
	suspendErr, ok := err.(*SuspensionError)
	require.True(t, ok, "expected a SuspensionError")
	require.Equal(t, "approve", suspendErr.Request.StepID)
	require.Equal(t, "approve", suspendErr.Request.NodeID)
	require.Equal(t, []string{"approve"}, calls)

	state, err = rt.Resume(context.Background(), state, "run-approval", suspendErr.Request.NodeID, true)
	require.NoError(t, err)
	require.Equal(t, []string{"approve", "approve", "after"}, calls)
	require.Equal(t, true, state.Steps()["approve"].Outputs["approved"])
}

func TestRunEmitsEventsThroughChannelObserver(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "events",
		Steps: []workflow.Step{
			{ID: "a", Uses: "noop"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	registry := workflow.NewRegistry(nil)
	var calls []string
	registry.Register("noop", recordingAction(&calls, workflow.OutcomeSuccess))

	observer := NewChannelObserver(16)
	rt := New(graph, registry, newTestEvaluator(), observer)

	go func() {
		_, _ = rt.Run(context.Background(), RunOptions{})
		observer.Close()
	}()

	var types []EventType
	ids := map[string]bool{}
	for ev := range observer.Events() {
		types = append(types, ev.Type)
		require.NotEmpty(t, ev.ID, "every emitted event must carry a ULID id")
		require.False(t, ids[ev.ID], "event ids must be unique")
		ids[ev.ID] = true
	}

	require.Equal(t, EventWorkflowStart, types[0])
	require.Equal(t, EventWorkflowEnd, types[len(types)-1])
	require.Contains(t, types, EventStepStart)
	require.Contains(t, types, EventStepEnd)
}
