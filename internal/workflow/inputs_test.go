package workflow

import "testing"

func TestCoerceInputsAppliesDefaults(t *testing.T) {
	decls := map[string]InputDecl{
		"retries": {Type: "integer", Default: 3},
	}
	out, err := CoerceInputs(decls, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["retries"] != int64(3) {
		t.Fatalf("expected default 3, got %v", out["retries"])
	}
}

func TestCoerceInputsRejectsMissingRequired(t *testing.T) {
	decls := map[string]InputDecl{
		"target": {Type: "string", Required: true},
	}
	if _, err := CoerceInputs(decls, map[string]any{}); err == nil {
		t.Fatal("expected error for missing required input")
	}
}

func TestCoerceInputsCoercesStringToInteger(t *testing.T) {
	decls := map[string]InputDecl{
		"count": {Type: "integer"},
	}
	out, err := CoerceInputs(decls, map[string]any{"count": "42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["count"] != int64(42) {
		t.Fatalf("expected 42, got %v", out["count"])
	}
}

func TestCoerceInputsRejectsNonIntegerForIntegerType(t *testing.T) {
	decls := map[string]InputDecl{
		"count": {Type: "integer"},
	}
	if _, err := CoerceInputs(decls, map[string]any{"count": "not-a-number"}); err == nil {
		t.Fatal("expected error for non-numeric integer input")
	}
}

func TestCoerceInputsEnforcesEnum(t *testing.T) {
	decls := map[string]InputDecl{
		"env": {Type: "string", Enum: []any{"staging", "production"}},
	}
	if _, err := CoerceInputs(decls, map[string]any{"env": "qa"}); err == nil {
		t.Fatal("expected error for value outside enum")
	}
	out, err := CoerceInputs(decls, map[string]any{"env": "production"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["env"] != "production" {
		t.Fatalf("expected production, got %v", out["env"])
	}
}

func TestCoerceInputsEnforcesPattern(t *testing.T) {
	decls := map[string]InputDecl{
		"region": {Type: "string", Pattern: "^us-"},
	}
	if _, err := CoerceInputs(decls, map[string]any{"region": "eu-west-1"}); err == nil {
		t.Fatal("expected error for value not matching pattern")
	}
}

func TestCoerceInputsPassesThroughUndeclaredKeys(t *testing.T) {
	out, err := CoerceInputs(map[string]InputDecl{}, map[string]any{"extra": "value"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["extra"] != "value" {
		t.Fatalf("expected undeclared input to pass through, got %v", out["extra"])
	}
}
