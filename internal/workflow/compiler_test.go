package workflow

import "testing"

func TestCompileSimpleLinearWorkflow(t *testing.T) {
	wf := &Workflow{
		SchemaVersion: "1.0",
		Name:          "demo",
		Steps: []Step{
			{ID: "a", Run: "echo a"},
			{ID: "b", Run: "echo b"},
		},
	}
	g, err := Compile(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Entry != "a" {
		t.Fatalf("expected entry 'a', got %q", g.Entry)
	}
	a := g.NodeOrNil("a")
	if a == nil {
		t.Fatal("expected node 'a'")
	}
	if a.Transitions[0].Guard != cleanupPriorityGuard {
		t.Fatalf("expected cleanup priority transition first, got %+v", a.Transitions[0])
	}
	last := a.Transitions[len(a.Transitions)-1]
	if last.Guard != "" || last.Target != "b" {
		t.Fatalf("expected default transition to 'b', got %+v", last)
	}
	b := g.NodeOrNil("b")
	if b.Transitions[len(b.Transitions)-1].Target != cleanupNodeID {
		t.Fatalf("expected last step's default transition to __cleanup__")
	}
}

func TestCompileOnFailureRouting(t *testing.T) {
	wf := &Workflow{
		SchemaVersion: "1.0",
		Name:          "demo",
		Steps: []Step{
			{ID: "a", Run: "echo a", OnFailure: "rescue"},
			{ID: "rescue", Run: "echo rescue"},
		},
	}
	g, err := Compile(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := g.NodeOrNil("a")
	found := false
	for _, tr := range a.Transitions {
		if tr.Target == "rescue" && tr.Guard == `__step_outcome == "failure"` {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected failure-guarded transition to 'rescue', got %+v", a.Transitions)
	}
}

func TestCompileConditionalStepProducesTwoNodes(t *testing.T) {
	wf := &Workflow{
		SchemaVersion: "1.0",
		Name:          "demo",
		Steps: []Step{
			{ID: "maybe", If: "inputs.enabled", Run: "echo maybe"},
			{ID: "after", Run: "echo after"},
		},
	}
	g, err := Compile(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Entry != "maybe_if" {
		t.Fatalf("expected entry 'maybe_if', got %q", g.Entry)
	}
	cond := g.NodeOrNil("maybe_if")
	if cond == nil || cond.Kind != NodeCondition {
		t.Fatalf("expected condition node 'maybe_if'")
	}
	body := g.NodeOrNil("maybe")
	if body == nil || body.Kind != NodeAction {
		t.Fatalf("expected action node 'maybe'")
	}
}

func TestCompileLoopStepProducesFiveNodes(t *testing.T) {
	wf := &Workflow{
		SchemaVersion: "1.0",
		Name:          "demo",
		Steps: []Step{
			{ID: "each", Loop: "inputs.items", Run: "echo item"},
			{ID: "after", Run: "echo after"},
		},
	}
	g, err := Compile(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, suffix := range []string{"_init", "_check", "_body", "_advance", "_finalize"} {
		if g.NodeOrNil("each"+suffix) == nil {
			t.Fatalf("expected loop node each%s", suffix)
		}
	}
	if g.Entry != "each_init" {
		t.Fatalf("expected entry 'each_init', got %q", g.Entry)
	}
}

func TestCompileRejectsUnknownOnFailureTarget(t *testing.T) {
	wf := &Workflow{
		SchemaVersion: "1.0",
		Name:          "demo",
		Steps: []Step{
			{ID: "a", Run: "echo a", OnFailure: "missing"},
		},
	}
	if _, err := Compile(wf); err == nil {
		t.Fatal("expected compile error for unknown on_failure target")
	}
}

func TestCompileFoldsFinallyIntoCleanupNode(t *testing.T) {
	wf := &Workflow{
		SchemaVersion: "1.0",
		Name:          "demo",
		Steps:         []Step{{ID: "a", Run: "echo a"}},
		Finally:       []Step{{ID: "f1", Run: "echo cleanup"}},
	}
	g, err := Compile(wf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cleanup := g.NodeOrNil(cleanupNodeID)
	if cleanup == nil || len(cleanup.CleanupSteps) != 1 || cleanup.CleanupSteps[0].ID != "f1" {
		t.Fatalf("expected cleanup node with folded finally step, got %+v", cleanup)
	}
}
