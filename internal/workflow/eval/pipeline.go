package eval

import (
	"fmt"
	"strings"
)

// applyPipeline rewrites a Jinja-style filter chain ("expr | f | g(1, 2)")
// into plain starlark call syntax ("g(f(expr), 1, 2)") by textual
// transformation, so the rest of the evaluator can hand the result straight
// to the starlark parser instead of needing a second expression grammar.
func applyPipeline(expr string) (string, error) {
	segments, err := splitTopLevelPipe(expr)
	if err != nil {
		return "", err
	}
	base := strings.TrimSpace(segments[0])
	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return "", fmt.Errorf("empty filter stage")
		}
		name, argsInner, hasParen := splitFilterCall(seg)
		if name == "" {
			return "", fmt.Errorf("invalid filter name in %q", seg)
		}
		if hasParen && strings.TrimSpace(argsInner) != "" {
			base = fmt.Sprintf("%s(%s, %s)", name, base, argsInner)
		} else {
			base = fmt.Sprintf("%s(%s)", name, base)
		}
	}
	return base, nil
}

// splitTopLevelPipe splits s on '|' characters that are not inside a string
// literal or nested inside (), [], {}. Starlark's own bitwise-or operator is
// never used by workflow expressions, so any top-level '|' is treated as a
// filter-pipeline separator.
func splitTopLevelPipe(s string) ([]string, error) {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced brackets in expression")
			}
		case c == '|' && depth == 0:
			parts = append(parts, s[last:i])
			last = i + 1
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string literal in expression")
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced brackets in expression")
	}
	parts = append(parts, s[last:])
	return parts, nil
}

// splitFilterCall parses "name" or "name(args)" into its name and raw,
// unparsed argument text.
func splitFilterCall(seg string) (name, argsInner string, hasParen bool) {
	open := strings.IndexByte(seg, '(')
	if open < 0 {
		return strings.TrimSpace(seg), "", false
	}
	if !strings.HasSuffix(seg, ")") {
		return "", "", false
	}
	name = strings.TrimSpace(seg[:open])
	argsInner = seg[open+1 : len(seg)-1]
	return name, argsInner, true
}
