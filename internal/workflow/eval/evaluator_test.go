package eval

import (
	"testing"

	"github.com/spf13/afero"
)

func newTestEvaluator() *Evaluator {
	return New(afero.NewMemMapFs(), "/workspace")
}

func TestResolvePreservesNativeTypes(t *testing.T) {
	e := newTestEvaluator()
	state := map[string]any{"count": int64(3)}

	val, err := e.Resolve("count + 1", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, ok := val.(int64)
	if !ok || n != 4 {
		t.Fatalf("expected int64(4), got %#v", val)
	}
}

func TestResolveAttributeStyleAccess(t *testing.T) {
	e := newTestEvaluator()
	state := map[string]any{
		"inputs": map[string]any{"target": "example.com"},
	}
	val, err := e.Resolve("inputs.target", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "example.com" {
		t.Fatalf("expected example.com, got %#v", val)
	}
}

func TestResolveAppliesFilterPipeline(t *testing.T) {
	e := newTestEvaluator()
	state := map[string]any{"inputs": map[string]any{"target": "a b"}}

	val, err := e.Resolve("inputs.target | shell_quote", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "'a b'" {
		t.Fatalf("expected quoted string, got %#v", val)
	}
}

func TestResolveAppliesFilterWithArguments(t *testing.T) {
	e := newTestEvaluator()
	state := map[string]any{"greeting": "hello world"}

	val, err := e.Resolve(`greeting | replace("world", "there")`, state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hello there" {
		t.Fatalf("expected 'hello there', got %#v", val)
	}
}

func TestResolveRejectsForbiddenConstructs(t *testing.T) {
	e := newTestEvaluator()
	if _, err := e.Resolve("inputs.__class__.__mro__", map[string]any{"inputs": map[string]any{}}); err == nil {
		t.Fatal("expected forbidden-construct error")
	}
}

func TestResolveStringSubstitutesMultipleExpressions(t *testing.T) {
	e := newTestEvaluator()
	state := map[string]any{
		"inputs": map[string]any{"name": "Ada"},
		"count":  int64(2),
	}
	out, err := e.ResolveString("hello ${{ inputs.name }}, you have ${{ count }} messages", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hello Ada, you have 2 messages" {
		t.Fatalf("unexpected result: %q", out)
	}
}

func TestResolveAllSoleExpressionPreservesType(t *testing.T) {
	e := newTestEvaluator()
	state := map[string]any{"count": int64(5)}
	val, err := e.ResolveAll("${{ count }}", state)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != int64(5) {
		t.Fatalf("expected int64(5), got %#v", val)
	}
}

func TestConditionFalsyRules(t *testing.T) {
	e := newTestEvaluator()
	cases := map[string]bool{
		`""`:    false,
		`"no"`:  false,
		`"yes"`: true,
		`1`:     true,
		`0`:     false,
	}
	for expr, want := range cases {
		got, err := e.Condition(expr, map[string]any{})
		if err != nil {
			t.Fatalf("expr %q: unexpected error: %v", expr, err)
		}
		if got != want {
			t.Errorf("expr %q: got %v, want %v", expr, got, want)
		}
	}
}

func TestSafePathRejectsTraversal(t *testing.T) {
	e := newTestEvaluator()
	if _, err := e.Resolve(`"../../etc/passwd" | safe_path`, map[string]any{}); err == nil {
		t.Fatal("expected safe_path to reject traversal")
	}
}

func TestSafePathAllowsRelativePath(t *testing.T) {
	e := newTestEvaluator()
	val, err := e.Resolve(`"reports/out.txt" | safe_path`, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "/workspace/reports/out.txt" {
		t.Fatalf("unexpected resolved path: %#v", val)
	}
}
