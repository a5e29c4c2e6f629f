package workflow

import "testing"

func hasCode(issues []ValidationIssue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func baseWorkflow() *Workflow {
	return &Workflow{
		SchemaVersion: "1.0",
		Name:          "demo",
		Steps: []Step{
			{ID: "fetch", Run: "echo hi"},
			{ID: "notify", Run: "echo done", OnFailure: "__cleanup__"},
		},
	}
}

func TestValidateAcceptsWellFormedWorkflow(t *testing.T) {
	result := Validate(baseWorkflow(), false)
	if !result.Valid {
		t.Fatalf("expected valid workflow, got errors %+v", result.Errors)
	}
}

func TestValidateRejectsUnsupportedSchemaVersion(t *testing.T) {
	wf := baseWorkflow()
	wf.SchemaVersion = "2.0"
	result := Validate(wf, false)
	if result.Valid {
		t.Fatalf("expected invalid result for unsupported schema_version")
	}
	if !hasCode(result.Errors, "E001") {
		t.Fatalf("expected E001, got %+v", result.Errors)
	}
}

func TestValidateRejectsEmptySteps(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps = nil
	result := Validate(wf, false)
	if !hasCode(result.Errors, "E003") {
		t.Fatalf("expected E003, got %+v", result.Errors)
	}
}

func TestValidateWarnsOnBothRunAndUses(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[0].Uses = "http.get"
	result := Validate(wf, false)
	if !hasCode(result.Warnings, "W001") {
		t.Fatalf("expected W001, got %+v", result.Warnings)
	}
	if !result.Valid {
		t.Fatalf("a warning alone should not invalidate in non-strict mode")
	}
}

func TestValidateStrictModePromotesWarnings(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[0].Uses = "http.get"
	result := Validate(wf, true)
	if result.Valid {
		t.Fatalf("expected strict mode to promote the W001 warning to a failure")
	}
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[1].ID = "fetch"
	result := Validate(wf, false)
	if !hasCode(result.Errors, "E006") {
		t.Fatalf("expected E006, got %+v", result.Errors)
	}
}

func TestValidateRejectsReservedStepID(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[0].ID = "__cleanup__"
	result := Validate(wf, false)
	if !hasCode(result.Errors, "E007") {
		t.Fatalf("expected E007, got %+v", result.Errors)
	}
}

func TestValidateRejectsUnknownOnFailureTarget(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[1].OnFailure = "does-not-exist"
	result := Validate(wf, false)
	if !hasCode(result.Errors, "E010") {
		t.Fatalf("expected E010, got %+v", result.Errors)
	}
}

func TestValidateRejectsUnknownStepReference(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[1].With = map[string]any{"body": "${{ steps.missing.outputs.x }}"}
	result := Validate(wf, false)
	if !hasCode(result.Errors, "E012") {
		t.Fatalf("expected E012, got %+v", result.Errors)
	}
}

func TestValidateRejectsForbiddenExpressionConstructs(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[0].If = "${{ inputs.__class__.__mro__ }}"
	result := Validate(wf, false)
	if !hasCode(result.Errors, "E013") {
		t.Fatalf("expected E013, got %+v", result.Errors)
	}
}

func TestValidateWarnsOnMissingShellQuote(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[0].Run = "rm ${{ inputs.target }}"
	result := Validate(wf, false)
	if !hasCode(result.Warnings, "W008") {
		t.Fatalf("expected W008, got %+v", result.Warnings)
	}
}

func TestValidateWarnsOnInfiniteLoopWithoutBreak(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[0].Loop = "true"
	result := Validate(wf, false)
	if !hasCode(result.Warnings, "W003") {
		t.Fatalf("expected W003, got %+v", result.Warnings)
	}
}

func TestValidateWarnsOnSecretLikeValue(t *testing.T) {
	wf := baseWorkflow()
	wf.Steps[0].With = map[string]any{"header": "api_key: sk_live_abcdef123456"}
	result := Validate(wf, false)
	if !hasCode(result.Warnings, "W007") {
		t.Fatalf("expected W007, got %+v", result.Warnings)
	}
}
