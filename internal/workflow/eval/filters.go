package eval

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

// filterBuiltins returns the whitelisted filter set exposed as starlark
// global functions. Filters operate on native Go values
// converted in and back out of starlark, rather than on starlark.Value
// directly, so the filter bodies read like ordinary Go.
func (e *Evaluator) filterBuiltins() starlark.StringDict {
	wrap := func(name string, fn func(args []any) (any, error)) starlark.Value {
		return starlark.NewBuiltin(name, func(thread *starlark.Thread, b *starlark.Builtin, sargs starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			native := make([]any, len(sargs))
			for i, a := range sargs {
				native[i] = starlarkToGo(a)
			}
			result, err := fn(native)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return goToStarlark(result), nil
		})
	}

	d := starlark.StringDict{}

	// shell_quote: single-quote a string for safe inclusion in a POSIX
	// shell command line.
	d["shell_quote"] = wrap("shell_quote", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'", nil
	})

	// safe_path: rejects absolute paths and ".." traversal, returns the
	// path joined under the evaluator's workspace root.
	d["safe_path"] = wrap("safe_path", func(args []any) (any, error) {
		p, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return e.safePath(p)
	})

	d["file_exists"] = wrap("file_exists", func(args []any) (any, error) {
		p, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		resolved, err := e.safePath(p)
		if err != nil {
			return false, nil
		}
		exists, _ := afExists(e.fs, resolved)
		return exists, nil
	})

	// string ops
	d["upper"] = wrap("upper", stringOp(strings.ToUpper))
	d["lower"] = wrap("lower", stringOp(strings.ToLower))
	d["trim"] = wrap("trim", stringOp(strings.TrimSpace))
	d["split"] = wrap("split", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		sep, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	})
	d["join"] = wrap("join", func(args []any) (any, error) {
		list, ok := argSliceOrErr(args, 0)
		if !ok {
			return nil, fmt.Errorf("expected a list argument")
		}
		sep, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		parts := make([]string, len(list))
		for i, v := range list {
			parts[i] = stringify(v)
		}
		return strings.Join(parts, sep), nil
	})
	d["replace"] = wrap("replace", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		old, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		repl, err := argString(args, 2)
		if err != nil {
			return nil, err
		}
		return strings.ReplaceAll(s, old, repl), nil
	})

	// collection/string ops
	d["length"] = wrap("length", func(args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("missing argument")
		}
		switch v := args[0].(type) {
		case string:
			return len(v), nil
		case []any:
			return len(v), nil
		case map[string]any:
			return len(v), nil
		default:
			return 0, nil
		}
	})
	d["first"] = wrap("first", func(args []any) (any, error) {
		list, ok := argSliceOrErr(args, 0)
		if !ok || len(list) == 0 {
			return nil, nil
		}
		return list[0], nil
	})
	d["last"] = wrap("last", func(args []any) (any, error) {
		list, ok := argSliceOrErr(args, 0)
		if !ok || len(list) == 0 {
			return nil, nil
		}
		return list[len(list)-1], nil
	})
	d["sort"] = wrap("sort", func(args []any) (any, error) {
		list, ok := argSliceOrErr(args, 0)
		if !ok {
			return nil, fmt.Errorf("expected a list argument")
		}
		out := make([]any, len(list))
		copy(out, list)
		sort.Slice(out, func(i, j int) bool {
			return stringify(out[i]) < stringify(out[j])
		})
		return out, nil
	})
	d["unique"] = wrap("unique", func(args []any) (any, error) {
		list, ok := argSliceOrErr(args, 0)
		if !ok {
			return nil, fmt.Errorf("expected a list argument")
		}
		seen := make(map[string]bool, len(list))
		var out []any
		for _, v := range list {
			key := stringify(v)
			if !seen[key] {
				seen[key] = true
				out = append(out, v)
			}
		}
		return out, nil
	})

	// type conversion
	d["to_string"] = wrap("to_string", func(args []any) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		return stringify(args[0]), nil
	})
	d["to_int"] = wrap("to_int", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", s)
		}
		return n, nil
	})
	d["to_float"] = wrap("to_float", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("not a float: %q", s)
		}
		return f, nil
	})
	d["to_bool"] = wrap("to_bool", func(args []any) (any, error) {
		if len(args) == 0 {
			return false, nil
		}
		return !IsFalsy(args[0]), nil
	})

	// encode/decode
	d["json_encode"] = wrap("json_encode", func(args []any) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		b, err := json.Marshal(args[0])
		if err != nil {
			return nil, err
		}
		return string(b), nil
	})
	d["json_decode"] = wrap("json_decode", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return normalizeJSON(out), nil
	})
	d["base64_encode"] = wrap("base64_encode", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	})
	d["base64_decode"] = wrap("base64_decode", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	})
	d["url_encode"] = wrap("url_encode", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return url.QueryEscape(s), nil
	})
	d["url_decode"] = wrap("url_decode", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return url.QueryUnescape(s)
	})

	// regex
	d["regex_match"] = wrap("regex_match", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		pattern, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.MatchString(s), nil
	})
	d["regex_replace"] = wrap("regex_replace", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		pattern, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		repl, err := argString(args, 2)
		if err != nil {
			return nil, err
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return re.ReplaceAllString(s, repl), nil
	})

	// validation
	d["is_valid_ip"] = wrap("is_valid_ip", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return net.ParseIP(s) != nil, nil
	})
	d["is_valid_url"] = wrap("is_valid_url", func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != "", nil
	})

	return d
}

func stringOp(f func(string) string) func([]any) (any, error) {
	return func(args []any) (any, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return f(s), nil
	}
}

func argString(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	return stringify(args[i]), nil
}

func argSliceOrErr(args []any, i int) ([]any, bool) {
	if i >= len(args) {
		return nil, false
	}
	list, ok := args[i].([]any)
	return list, ok
}

// normalizeJSON converts encoding/json's float64-for-every-number decode into
// int64 where the value has no fractional part, so json_decode round-trips
// the same way the rest of the evaluator treats numbers.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeJSON(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeJSON(e)
		}
		return out
	default:
		return v
	}
}
