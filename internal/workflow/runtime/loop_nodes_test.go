package runtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/workflowcore/engine/internal/workflow"
	"github.com/workflowcore/engine/internal/workflow/eval"
)

func itemAction(calls *[]any) workflow.Action {
	return workflow.ActionFunc(func(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
		*calls = append(*calls, in.With["item"])
		return workflow.ActionOutput{Values: map[string]any{"seen": in.With["item"]}}
	})
}

func TestLoopIteratesEveryItem(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "loop-basic",
		Steps: []workflow.Step{
			{
				ID:   "each",
				Loop: "[1, 2, 3]",
				Uses: "visit",
				With: map[string]any{"item": "${{ loop.item }}"},
			},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []any
	registry := workflow.NewRegistry(nil)
	registry.Register("visit", itemAction(&calls))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, calls)

	result := state.Steps()["each"]
	require.Equal(t, workflow.OutcomeSuccess, result.Outcome)
	require.Equal(t, 3, result.Outputs["count"])
	require.Equal(t, 3, result.Outputs["success_count"])
	require.Equal(t, false, result.Outputs["break_early"])
}

func TestLoopBreakIfStopsEarly(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "loop-break",
		Steps: []workflow.Step{
			{
				ID:      "each",
				Loop:    "[1, 2, 3, 4, 5]",
				Uses:    "visit",
				With:    map[string]any{"item": "${{ loop.item }}"},
				BreakIf: "loop.item == 3",
			},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []any
	registry := workflow.NewRegistry(nil)
	registry.Register("visit", itemAction(&calls))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []any{int64(1), int64(2), int64(3)}, calls, "break_if must stop the loop right after the matching item runs")

	result := state.Steps()["each"]
	require.Equal(t, true, result.Outputs["break_early"])
	require.Equal(t, "break_if", result.Outputs["reason"])
	require.Equal(t, int64(3), result.Outputs["break_item"])
}

func TestLoopEmptySequenceSkipsBody(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "loop-empty",
		Steps: []workflow.Step{
			{ID: "each", Loop: "[]", Uses: "visit", With: map[string]any{"item": "${{ loop.item }}"}},
			{ID: "after", Uses: "visit"},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []any
	registry := workflow.NewRegistry(nil)
	registry.Register("visit", itemAction(&calls))

	rt := New(graph, registry, newTestEvaluator(), nil)
	_, err = rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []any{nil}, calls, "only the 'after' step (with no item) should have run")
}

func TestLoopFileResultStorageWritesJSONL(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "loop-file",
		Steps: []workflow.Step{
			{
				ID:            "each",
				Loop:          "[10, 20]",
				Uses:          "visit",
				With:          map[string]any{"item": "${{ loop.item }}"},
				ResultStorage: "file",
			},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []any
	registry := workflow.NewRegistry(nil)
	registry.Register("visit", itemAction(&calls))

	fs := afero.NewMemMapFs()
	rt := New(graph, registry, newEvaluatorWithFS(fs), nil)
	state, err := rt.Run(context.Background(), RunOptions{RunID: "run-1"})
	require.NoError(t, err)

	result := state.Steps()["each"]
	results, _ := result.Outputs["results"].([]any)
	require.Len(t, results, 2)

	first, _ := results[0].(map[string]any)
	ref, _ := first["ref"].(string)
	require.NotEmpty(t, ref, "file storage mode must record a file reference instead of inline outputs")

	contents, err := afero.ReadFile(fs, ref)
	require.NoError(t, err)

	lines := splitNonEmptyLines(string(contents))
	require.Len(t, lines, 2)

	var line0 map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line0))
	require.Equal(t, float64(0), line0["index"])
}

func TestLoopMaxIterationsBound(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "loop-infinite",
		Steps: []workflow.Step{
			{
				ID:            "each",
				Loop:          "true",
				Uses:          "visit",
				With:          map[string]any{"item": "${{ loop.index0 }}"},
				MaxIterations: 5,
			},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []any
	registry := workflow.NewRegistry(nil)
	registry.Register("visit", itemAction(&calls))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Len(t, calls, 5, "an infinite loop must stop at max_iterations")
	require.Equal(t, 5, state.Steps()["each"].Outputs["count"])
}

func TestLoopAbortsOnFailureWithoutContinueOnError(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "loop-abort",
		Steps: []workflow.Step{
			{
				ID:   "each",
				Loop: "[1, 2, 3, 4]",
				Uses: "visit",
				With: map[string]any{"item": "${{ loop.item }}"},
			},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []any
	registry := workflow.NewRegistry(nil)
	registry.Register("visit", workflow.ActionFunc(func(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
		calls = append(calls, in.With["item"])
		if in.With["item"] == int64(2) {
			return workflow.ActionOutput{Err: errStep}
		}
		return workflow.ActionOutput{Values: map[string]any{"seen": in.With["item"]}}
	}))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []any{int64(1), int64(2)}, calls, "a failing iteration must stop the loop immediately when continue_on_error is false")

	result := state.Steps()["each"]
	require.Equal(t, workflow.OutcomeFailure, result.Outcome)
	require.Equal(t, "error", result.Outputs["reason"])
	require.Equal(t, 2, result.Outputs["count"])
}

func TestLoopContinuesOnErrorWhenConfigured(t *testing.T) {
	wf := &workflow.Workflow{
		Name: "loop-continue",
		Steps: []workflow.Step{
			{
				ID:              "each",
				Loop:            "[1, 2, 3]",
				Uses:            "visit",
				With:            map[string]any{"item": "${{ loop.item }}"},
				ContinueOnError: true,
			},
		},
	}
	graph, err := workflow.Compile(wf)
	require.NoError(t, err)

	var calls []any
	registry := workflow.NewRegistry(nil)
	registry.Register("visit", workflow.ActionFunc(func(ctx context.Context, in workflow.ActionInput) workflow.ActionOutput {
		calls = append(calls, in.With["item"])
		if in.With["item"] == int64(2) {
			return workflow.ActionOutput{Err: errStep}
		}
		return workflow.ActionOutput{Values: map[string]any{"seen": in.With["item"]}}
	}))

	rt := New(graph, registry, newTestEvaluator(), nil)
	state, err := rt.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	require.Equal(t, []any{int64(1), int64(2), int64(3)}, calls, "continue_on_error must let the loop run every item despite the failure")

	result := state.Steps()["each"]
	require.Equal(t, workflow.OutcomePartial, result.Outcome)
	require.Equal(t, 3, result.Outputs["count"])
	require.Equal(t, 2, result.Outputs["success_count"])
}

func newEvaluatorWithFS(fs afero.Fs) *eval.Evaluator {
	return eval.New(fs, "/workspace")
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if line := s[start:i]; line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	if start < len(s) {
		if line := s[start:]; line != "" {
			out = append(out, line)
		}
	}
	return out
}
