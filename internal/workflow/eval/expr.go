// Package eval implements the sandboxed ${{ … }} expression language
//, grounded on station's go.starlark.net-based evaluator
// (internal/workflows/runtime/starlark_eval.go).
package eval

import "strings"

// Match is one `${{ … }}` occurrence found inside a string.
type Match struct {
	Start, End int // byte offsets of the whole "${{ ... }}" span
	Expr       string
}

// FindExpressions scans s for every ${{ ... }} span. It does not attempt to
// parse the expression: each `${{` is paired with the next `}}` after it,
// so a `}}` inside the expression itself ends the span early.
func FindExpressions(s string) []Match {
	var matches []Match
	i := 0
	for {
		start := strings.Index(s[i:], "${{")
		if start < 0 {
			break
		}
		start += i
		end := strings.Index(s[start+3:], "}}")
		if end < 0 {
			break
		}
		end = start + 3 + end
		matches = append(matches, Match{
			Start: start,
			End:   end + 2,
			Expr:  strings.TrimSpace(s[start+3 : end]),
		})
		i = end + 2
	}
	return matches
}

// IsSoleExpression reports whether s is exactly one `${{ ... }}` span with
// nothing else around it.
func IsSoleExpression(s string) (expr string, ok bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "${{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	matches := FindExpressions(trimmed)
	if len(matches) != 1 {
		return "", false
	}
	if matches[0].Start != 0 || matches[0].End != len(trimmed) {
		return "", false
	}
	return matches[0].Expr, true
}

// IsFalsy implements the condition-evaluation falsy rule:
// empty string, empty collection, false, "false", "0", "no", "none", and
// undefined (nil) are false; everything else is true.
func IsFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case bool:
		return !val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "", "false", "0", "no", "none":
			return true
		}
		return false
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	case int:
		return val == 0
	case int64:
		return val == 0
	case float64:
		return val == 0
	default:
		return false
	}
}
