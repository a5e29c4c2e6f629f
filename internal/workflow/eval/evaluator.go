package eval

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/workflowcore/engine/internal/workflow/werr"
)

// AttrDict wraps a Go map[string]any as a starlark value supporting both
// dict-style (`state["steps"]`) and attribute-style (`state.steps`) access,
// ported near-verbatim from station's runtime/starlark_eval.go.
type AttrDict struct {
	dict *starlark.Dict
}

var (
	_ starlark.Value      = (*AttrDict)(nil)
	_ starlark.Mapping    = (*AttrDict)(nil)
	_ starlark.HasAttrs   = (*AttrDict)(nil)
	_ starlark.Iterable   = (*AttrDict)(nil)
	_ starlark.Comparable = (*AttrDict)(nil)
)

func newAttrDict(data map[string]any) *AttrDict {
	dict := starlark.NewDict(len(data))
	for k, v := range data {
		_ = dict.SetKey(starlark.String(k), goToStarlark(v))
	}
	return &AttrDict{dict: dict}
}

func (d *AttrDict) String() string        { return d.dict.String() }
func (d *AttrDict) Type() string          { return "attrdict" }
func (d *AttrDict) Freeze()               { d.dict.Freeze() }
func (d *AttrDict) Truth() starlark.Bool  { return d.dict.Truth() }
func (d *AttrDict) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: attrdict") }

func (d *AttrDict) Get(key starlark.Value) (starlark.Value, bool, error) { return d.dict.Get(key) }
func (d *AttrDict) Iterate() starlark.Iterator                          { return d.dict.Iterate() }
func (d *AttrDict) Len() int                                             { return d.dict.Len() }
func (d *AttrDict) Items() []starlark.Tuple                              { return d.dict.Items() }

func (d *AttrDict) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other, ok := y.(*AttrDict)
	if !ok {
		return false, nil
	}
	return starlark.Compare(op, d.dict, other.dict)
}

func (d *AttrDict) Attr(name string) (starlark.Value, error) {
	val, found, err := d.dict.Get(starlark.String(name))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, starlark.NoSuchAttrError(fmt.Sprintf("attrdict has no .%s field or method", name))
	}
	return val, nil
}

func (d *AttrDict) AttrNames() []string {
	var names []string
	for _, item := range d.dict.Items() {
		if key, ok := item[0].(starlark.String); ok {
			names = append(names, string(key))
		}
	}
	sort.Strings(names)
	return names
}

func goToStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case []any:
		elems := make([]starlark.Value, len(val))
		for i, elem := range val {
			elems[i] = goToStarlark(elem)
		}
		return starlark.NewList(elems)
	case map[string]any:
		return newAttrDict(val)
	case interface{ ToMap() map[string]any }:
		return goToStarlark(val.ToMap())
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

func starlarkToGo(v starlark.Value) any {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(val)
	case starlark.Int:
		i, _ := val.Int64()
		return i
	case starlark.Float:
		return float64(val)
	case starlark.String:
		return string(val)
	case *starlark.List:
		result := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			result[i] = starlarkToGo(val.Index(i))
		}
		return result
	case *starlark.Dict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			if key, ok := starlarkToGo(item[0]).(string); ok {
				result[key] = starlarkToGo(item[1])
			}
		}
		return result
	case *AttrDict:
		result := make(map[string]any)
		for _, item := range val.Items() {
			if key, ok := starlarkToGo(item[0]).(string); ok {
				result[key] = starlarkToGo(item[1])
			}
		}
		return result
	default:
		return val.String()
	}
}

// Evaluator resolves ${{ … }} expressions against workflow state inside a
// starlark sandbox.
type Evaluator struct {
	maxSteps      uint64
	fs            afero.Fs
	workspaceRoot string
	clock         func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock overrides the clock the `now()` global uses (tests only).
func WithClock(clock func() time.Time) Option {
	return func(e *Evaluator) { e.clock = clock }
}

// FS returns the filesystem this evaluator's safe_path/file_exists filters
// are scoped to, so callers outside the package (e.g. the loop runtime's
// file-backed result storage) can reuse the same guarded root.
func (e *Evaluator) FS() afero.Fs { return e.fs }

// SafePath validates and resolves p under the evaluator's workspace root,
// exported for the same reason as FS.
func (e *Evaluator) SafePath(p string) (string, error) { return e.safePath(p) }

// New builds an Evaluator whose safe_path/file_exists filters are scoped to
// workspaceRoot on fs.
func New(fs afero.Fs, workspaceRoot string, opts ...Option) *Evaluator {
	e := &Evaluator{
		maxSteps:      100_000,
		fs:            fs,
		workspaceRoot: workspaceRoot,
		clock:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) thread(name string) *starlark.Thread {
	t := &starlark.Thread{Name: name}
	t.SetMaxExecutionSteps(e.maxSteps)
	return t
}

func (e *Evaluator) globals(state map[string]any) starlark.StringDict {
	globals := make(starlark.StringDict, len(state)+8)
	for k, v := range state {
		globals[k] = goToStarlark(v)
	}
	globals["true"] = starlark.True
	globals["false"] = starlark.False
	globals["none"] = starlark.None
	globals["now"] = starlark.NewBuiltin("now", e.builtinNow)
	for name, fn := range e.filterBuiltins() {
		globals[name] = fn
	}
	return globals
}

func (e *Evaluator) builtinNow(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlark.String(e.clock().UTC().Format(time.RFC3339)), nil
}

// Resolve evaluates a single expression (the text inside `${{ … }}`,
// possibly including a `| filter | filter(...)` pipeline) and returns the
// native Go value, preserving type.
func (e *Evaluator) Resolve(expr string, state map[string]any) (any, error) {
	if hits := ScanForbidden(expr); len(hits) > 0 {
		return nil, werr.New(werr.KindSecurity, fmt.Sprintf("expression uses forbidden construct(s): %s", strings.Join(hits, ", ")))
	}
	if !BracketsBalanced(expr) {
		return nil, werr.New(werr.KindExpression, "unbalanced brackets in expression")
	}

	transformed, err := applyPipeline(expr)
	if err != nil {
		return nil, werr.Wrap(werr.KindExpression, "invalid filter pipeline", err)
	}

	fileOpts := syntax.FileOptions{}
	parsed, err := fileOpts.ParseExpr("expression", transformed, 0)
	if err != nil {
		return nil, werr.Wrap(werr.KindExpression, "parse error", err)
	}

	result, err := starlark.EvalExprOptions(&fileOpts, e.thread("expr"), parsed, e.globals(state))
	if err != nil {
		return nil, werr.Wrap(werr.KindExpression, "eval error", err)
	}
	return starlarkToGo(result), nil
}

// ResolveString substitutes every `${{ … }}` inside template with its
// stringified evaluation result. A failing embedded expression degrades to
// empty string rather than aborting the whole substitution.
func (e *Evaluator) ResolveString(template string, state map[string]any) (string, error) {
	if expr, ok := IsSoleExpression(template); ok {
		val, err := e.Resolve(expr, state)
		if err != nil {
			return "", err
		}
		return stringify(val), nil
	}

	matches := FindExpressions(template)
	if len(matches) == 0 {
		return template, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(template[last:m.Start])
		val, err := e.Resolve(m.Expr, state)
		if err != nil {
			// degrade to empty string rather than aborting the substitution
		} else {
			b.WriteString(stringify(val))
		}
		last = m.End
	}
	b.WriteString(template[last:])
	return b.String(), nil
}

// ResolveAll recursively resolves every string value inside a nested
// map/slice structure.
func (e *Evaluator) ResolveAll(value any, state map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		if expr, ok := IsSoleExpression(v); ok {
			return e.Resolve(expr, state)
		}
		return e.ResolveString(v, state)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, vv := range v {
			resolved, err := e.ResolveAll(vv, state)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, vv := range v {
			resolved, err := e.ResolveAll(vv, state)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// Condition evaluates expr and applies the falsy-set rule.
func (e *Evaluator) Condition(expr string, state map[string]any) (bool, error) {
	val, err := e.Resolve(expr, state)
	if err != nil {
		return false, err
	}
	return !IsFalsy(val), nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
