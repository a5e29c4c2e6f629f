package workflow

import "strings"

// StepOutcome is a step's terminal status string.
type StepOutcome string

const (
	OutcomeSuccess   StepOutcome = "success"
	OutcomeFailure   StepOutcome = "failure"
	OutcomeSkipped   StepOutcome = "skipped"
	OutcomeSuspended StepOutcome = "suspended"
	OutcomePartial   StepOutcome = "partial"
	OutcomeBreak     StepOutcome = "break"
)

// StepResult is the value stored under steps[id] in State.
type StepResult struct {
	Outcome   StepOutcome    `json:"outcome"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
}

// LoopFrame is the per-iteration record exposed to expressions via loop.*
//. Invariants: Index == Index0+1, Revindex == Total-Index0,
// First iff Index0 == 0, Last iff Index0 == Total-1.
type LoopFrame struct {
	Items     []any      `json:"items"`
	Item      any        `json:"item"`
	Index     int        `json:"index"`
	Index0    int        `json:"index0"`
	Total     int        `json:"total"`
	First     bool       `json:"first"`
	Last      bool       `json:"last"`
	Revindex  int        `json:"revindex"`
	Revindex0 int        `json:"revindex0"`
	Output    any        `json:"output,omitempty"`
	Parent    *LoopFrame `json:"parent,omitempty"`
}

// NewLoopFrame builds the frame for the given 0-based index into items,
// chained to parent (the enclosing loop frame, or nil).
func NewLoopFrame(items []any, index0 int, parent *LoopFrame) *LoopFrame {
	total := len(items)
	var item any
	if index0 >= 0 && index0 < total {
		item = items[index0]
	}
	return &LoopFrame{
		Items:     items,
		Item:      item,
		Index:     index0 + 1,
		Index0:    index0,
		Total:     total,
		First:     index0 == 0,
		Last:      index0 == total-1,
		Revindex:  total - index0,
		Revindex0: total - index0 - 1,
		Parent:    parent,
	}
}

// ToMap renders the frame into the plain map shape exposed to expressions
// as `loop`.
func (f *LoopFrame) ToMap() map[string]any {
	if f == nil {
		return nil
	}
	m := map[string]any{
		"items":     f.Items,
		"item":      f.Item,
		"index":     f.Index,
		"index0":    f.Index0,
		"total":     f.Total,
		"first":     f.First,
		"last":      f.Last,
		"revindex":  f.Revindex,
		"revindex0": f.Revindex0,
		"output":    f.Output,
	}
	if f.Parent != nil {
		m["parent"] = f.Parent.ToMap()
	}
	return m
}

// State is the immutable mapping the graph runtime operates on.
// "Immutable" means callers always derive a new State via With*/clone rather
// than mutating one in place; the zero value is a valid empty state.
type State map[string]any

// reservedPrefixes holds the control-key prefixes that user actions may
// never write.
var reservedPrefixes = []string{
	"__loop_",
	"__cleanup_",
	"__suspend_",
}

// reservedExact holds the control keys that are reserved but not prefix-based.
var reservedExact = map[string]bool{
	"__next":             true,
	"__condition_met":    true,
	"__workflow_exit":    true,
	"__workflow_failed":  true,
	"__resume_data":      true,
	"__step_outcome":     true,
	"__step_error":       true,
	"__loop_stack":       true,
	"__loop_depth":       true,
}

// IsReservedKey reports whether key is a reserved control key that user
// action outputs must never be allowed to set directly.
func IsReservedKey(key string) bool {
	if reservedExact[key] {
		return true
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// internalControlKeys is the whitelist of control keys the runtime will
// mirror from an action's outputs into top-level state.
// This is how loop/condition nodes communicate without exposing the whole
// reserved-key surface to every action.
var internalControlKeys = []string{
	"__next",
	"__condition_met",
	"__workflow_exit",
	"__workflow_failed",
	"__loop_break_requested",
	"__loop_break_item",
	"__loop_break_index",
	"__loop_continue",
}

// Clone returns a deep-enough copy of s so that mutating the result never
// affects s: maps and slices are copied recursively, scalars by value.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = deepCopyValue(v)
	}
	return out
}

// With returns a new State equal to s with key set to value.
func (s State) With(key string, value any) State {
	out := s.Clone()
	out[key] = value
	return out
}

// WithAll returns a new State equal to s with every key in updates set.
func (s State) WithAll(updates map[string]any) State {
	out := s.Clone()
	for k, v := range updates {
		out[k] = v
	}
	return out
}

// Steps returns the steps mapping, creating an empty one if absent.
func (s State) Steps() map[string]StepResult {
	raw, _ := s["steps"].(map[string]StepResult)
	if raw == nil {
		return map[string]StepResult{}
	}
	return raw
}

// WithStepResult returns a new State with steps[id] set to result, mirroring
// outcome into __step_outcome/__step_error.
func (s State) WithStepResult(id string, result StepResult) State {
	out := s.Clone()
	steps := out.Steps()
	stepsCopy := make(map[string]StepResult, len(steps)+1)
	for k, v := range steps {
		stepsCopy[k] = v
	}
	stepsCopy[id] = result
	out["steps"] = stepsCopy
	out["__step_outcome"] = string(result.Outcome)
	out["__step_error"] = result.Error
	return out
}

// WithActionResult folds a raw action outcome into state: reserved keys are
// stripped from the outputs stored under steps[id], outcome is mirrored
// into __step_outcome/__step_error, and the whitelisted internal control
// keys (and only those) are mirrored from the raw, unsanitized outputs into
// top-level state so loop/condition nodes can read the signals an action
// sent them.
func (s State) WithActionResult(stepID string, outcome StepOutcome, rawOutputs map[string]any, errMsg, errType string) State {
	sanitized := make(map[string]any, len(rawOutputs))
	for k, v := range rawOutputs {
		if !IsReservedKey(k) {
			sanitized[k] = v
		}
	}

	out := s.WithStepResult(stepID, StepResult{
		Outcome:   outcome,
		Outputs:   sanitized,
		Error:     errMsg,
		ErrorType: errType,
	})

	for _, key := range internalControlKeys {
		if v, ok := rawOutputs[key]; ok {
			out[key] = v
		}
	}
	return out
}

// LoopOrNil returns the current loop frame, or nil if not inside a loop.
func (s State) LoopOrNil() *LoopFrame {
	f, _ := s["loop"].(*LoopFrame)
	return f
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = deepCopyValue(vv)
		}
		return out
	case map[string]StepResult:
		out := make(map[string]StepResult, len(val))
		for k, vv := range val {
			out[k] = vv
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = deepCopyValue(vv)
		}
		return out
	default:
		return v
	}
}
