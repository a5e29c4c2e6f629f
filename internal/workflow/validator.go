package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/workflowcore/engine/internal/workflow/eval"
)

// ValidationIssue is one validator finding, carrying enough context for an
// editor/IDE to underline the offending node.
type ValidationIssue struct {
	Code    string
	Path    string
	Message string
	Hint    string
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

func (r *ValidationResult) addError(code, path, message, hint string) {
	r.Errors = append(r.Errors, ValidationIssue{Code: code, Path: path, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(code, path, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Code: code, Path: path, Message: message, Hint: hint})
}

var supportedSchemaVersions = map[string]bool{"1.0": true}

var reservedStepNames = map[string]bool{
	"__cleanup__": true,
	"__end__":     true,
	"loop":        true,
	"inputs":      true,
	"env":         true,
	"steps":       true,
}

var stepIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// stepRef matches `${{ steps.<id>... }}` inside an expression's text so
// reference-integrity (check 5) can be enforced without a full expression
// parse.
var stepRef = regexp.MustCompile(`steps\.([A-Za-z_][A-Za-z0-9_]*)`)

// Validate runs the nine ordered checks against wf. strict
// promotes warnings to errors in the returned Valid verdict.
func Validate(wf *Workflow, strict bool) ValidationResult {
	var result ValidationResult

	// 1. schema_version
	if !supportedSchemaVersions[wf.SchemaVersion] {
		result.addError("E001", "/schema_version",
			fmt.Sprintf("unsupported schema_version %q", wf.SchemaVersion),
			`set schema_version to "1.0"`)
	}

	// 2. name + steps
	if wf.Name == "" {
		result.addError("E002", "/name", "workflow name is required", "add a top-level 'name' field")
	}
	if len(wf.Steps) == 0 {
		result.addError("E003", "/jobs/main/steps", "jobs.main.steps must be a non-empty sequence",
			"add at least one step under jobs.main.steps")
	}

	allSteps := append(append([]Step{}, wf.Steps...), wf.Finally...)
	knownIDs := make(map[string]bool, len(allSteps)+1)
	knownIDs["__cleanup__"] = true

	// 3. exactly one of run/uses + 4. id uniqueness/reserved names
	seen := make(map[string]bool, len(allSteps))
	for i, step := range allSteps {
		path := stepPath(i, len(wf.Steps))
		validateRunUses(&result, step, path)
		validateStepID(&result, step, path, seen, knownIDs)
	}

	// 5. reference integrity
	for i, step := range allSteps {
		path := stepPath(i, len(wf.Steps))
		validateReferences(&result, step, path, knownIDs)
	}

	// 6/7/9: expression safety, shell-safety, secret scanning over every
	// string field that may carry a ${{ … }} expression.
	for i, step := range allSteps {
		path := stepPath(i, len(wf.Steps))
		for _, src := range expressionSources(step, path) {
			validateExpressionSafety(&result, src.text, src.path)
			validateSecrets(&result, src.text, src.path)
		}
		validateShellSafety(&result, step, path)
	}

	// 8. loop sanity
	for i, step := range allSteps {
		path := stepPath(i, len(wf.Steps))
		validateLoopSanity(&result, step, path)
	}

	result.Valid = len(result.Errors) == 0
	if strict && len(result.Warnings) > 0 {
		result.Valid = false
	}
	return result
}

func stepPath(i, mainLen int) string {
	if i < mainLen {
		return fmt.Sprintf("/jobs/main/steps/%d", i)
	}
	return fmt.Sprintf("/finally/%d", i-mainLen)
}

func validateRunUses(result *ValidationResult, step Step, path string) {
	hasRun := step.Run != ""
	hasUses := step.Uses != ""
	if !hasRun && !hasUses {
		result.addError("E004", path, "step must set exactly one of 'run' or 'uses'",
			"add a 'run' shell command or a 'uses' action reference")
		return
	}
	if hasRun && hasUses {
		result.addWarning("W001", path, "step sets both 'run' and 'uses'; 'run' wins",
			"remove one of 'run'/'uses'")
	}
}

func validateStepID(result *ValidationResult, step Step, path string, seen, known map[string]bool) {
	id := step.StableID()
	if id == "" {
		result.addError("E005", path, "step id is required", "add an 'id' field")
		return
	}
	if seen[id] {
		result.addError("E006", path, fmt.Sprintf("duplicate step id %q", id), "make every step id unique")
	}
	seen[id] = true
	known[id] = true

	if reservedStepNames[id] || strings.HasPrefix(id, "__") || strings.HasPrefix(id, "_internal_") {
		result.addError("E007", path, fmt.Sprintf("step id %q is reserved", id),
			"reserved names: __cleanup__, __end__, loop, inputs, env, steps, and prefixes __ / _internal_")
	}
	if len(id) > 64 {
		result.addError("E008", path, fmt.Sprintf("step id %q exceeds 64 characters", id), "shorten the id")
	}
	if !stepIDPattern.MatchString(id) {
		result.addError("E009", path, fmt.Sprintf("step id %q has an invalid shape", id),
			"ids must match ^[A-Za-z][A-Za-z0-9_-]*$")
	}
}

func validateReferences(result *ValidationResult, step Step, path string, known map[string]bool) {
	if step.OnFailure != "" && !known[step.OnFailure] {
		result.addError("E010", path+"/on_failure",
			fmt.Sprintf("on_failure references unknown step %q", step.OnFailure),
			"on_failure must name a declared step id or __cleanup__")
	}
	for _, dep := range step.Needs {
		if !known[dep] {
			result.addError("E011", path+"/needs",
				fmt.Sprintf("needs references unknown step %q", dep), "needs must name a declared step id")
		}
	}
	for _, src := range expressionSources(step, path) {
		for _, m := range stepRef.FindAllStringSubmatch(src.text, -1) {
			if !known[m[1]] {
				result.addError("E012", src.path,
					fmt.Sprintf("expression references unknown step %q", m[1]),
					"every steps.<id>… reference must name a declared step id")
			}
		}
	}
}

func validateExpressionSafety(result *ValidationResult, text, path string) {
	for _, m := range eval.FindExpressions(text) {
		if hits := eval.ScanForbidden(m.Expr); len(hits) > 0 {
			result.addError("E013", path,
				fmt.Sprintf("expression uses forbidden construct(s): %s", strings.Join(hits, ", ")),
				"remove dunder access and calls to eval/exec/compile/open, and os./sys./subprocess. access")
		}
		if !eval.BracketsBalanced(m.Expr) {
			result.addError("E014", path, "expression has unbalanced brackets", "check (), [], {} nesting")
		}
	}
}

func validateShellSafety(result *ValidationResult, step Step, path string) {
	if step.Run == "" {
		return
	}
	for _, m := range eval.FindExpressions(step.Run) {
		if !eval.HasShellQuote(m.Expr) {
			result.addWarning("W008", path+"/run",
				fmt.Sprintf("expression %q in a run command is not piped through shell_quote", m.Expr),
				"append `| shell_quote` unless the value is known-safe")
		}
	}
}

func validateLoopSanity(result *ValidationResult, step Step, path string) {
	if step.Loop == "" {
		return
	}
	if step.MaxIterations > HardMaxIterations {
		result.addWarning("W002", path+"/max_iterations",
			fmt.Sprintf("max_iterations %d exceeds the hard ceiling of %d", step.MaxIterations, HardMaxIterations),
			"lower max_iterations")
	}
	if strings.TrimSpace(step.Loop) == "true" && step.BreakIf == "" {
		result.addWarning("W003", path,
			"infinite loop (loop: true) has no break_if condition",
			"add a break_if condition to avoid running until max_iterations")
	}
}

func validateSecrets(result *ValidationResult, text, path string) {
	if eval.ScanSecrets(text) {
		result.addWarning("W007", path, "field value resembles a credential or secret",
			"move secrets into env/host-managed configuration instead of inline text")
	}
}

type exprSource struct {
	text string
	path string
}

// expressionSources collects every string field of step that may contain a
// ${{ … }} expression, for checks 6/7/9.
func expressionSources(step Step, path string) []exprSource {
	var out []exprSource
	add := func(text, suffix string) {
		if text != "" {
			out = append(out, exprSource{text: text, path: path + suffix})
		}
	}
	add(step.Run, "/run")
	add(step.If, "/if")
	add(step.Loop, "/loop")
	add(step.BreakIf, "/break_if")
	for k, v := range step.With {
		collectExprFromAny(v, path+"/with/"+k, &out)
	}
	return out
}

func collectExprFromAny(v any, path string, out *[]exprSource) {
	switch val := v.(type) {
	case string:
		if val != "" {
			*out = append(*out, exprSource{text: val, path: path})
		}
	case map[string]any:
		for k, vv := range val {
			collectExprFromAny(vv, path+"/"+k, out)
		}
	case []any:
		for i, vv := range val {
			collectExprFromAny(vv, fmt.Sprintf("%s/%d", path, i), out)
		}
	}
}
