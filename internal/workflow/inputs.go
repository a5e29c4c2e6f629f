package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/xeipuuv/gojsonschema"

	"github.com/workflowcore/engine/internal/workflow/werr"
)

// supportedInputTypes mirrors the type keyword JSON Schema accepts, scoped
// to what an input: declaration may name.
var supportedInputTypes = map[string]bool{
	"string": true, "number": true, "integer": true,
	"boolean": true, "array": true, "object": true,
}

// CoerceInputs applies defaults, required checks, type coercion, and
// enum/pattern constraints to raw user-supplied inputs against decls, the
// way validateDataAgainstSchema checks agent inputs against a stored JSON
// Schema — except each declared input is checked independently so one bad
// field doesn't hide the others' errors.
func CoerceInputs(decls map[string]InputDecl, raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(decls))
	var errs []error

	for name, decl := range decls {
		val, present := raw[name]
		if !present {
			if decl.Required {
				errs = append(errs, werr.New(werr.KindValidation, fmt.Sprintf("input %q is required", name)).
					WithHint("pass it in or give the workflow a default"))
				continue
			}
			if decl.Default == nil {
				continue
			}
			val = decl.Default
		}

		coerced, err := coerceScalar(decl.Type, val)
		if err != nil {
			errs = append(errs, werr.New(werr.KindValidation, fmt.Sprintf("input %q: %s", name, err)).
				WithLocation(decl.Location))
			continue
		}

		if err := checkConstraints(name, decl, coerced); err != nil {
			errs = append(errs, err)
			continue
		}

		out[name] = coerced
	}
	if len(errs) == 1 {
		return nil, errs[0]
	}
	if len(errs) > 1 {
		return nil, errors.Join(errs...)
	}

	// Inputs with no declaration pass through unchanged: workflows may read
	// ad-hoc values the author didn't bother declaring.
	for name, val := range raw {
		if _, declared := decls[name]; !declared {
			out[name] = val
		}
	}

	return out, nil
}

func coerceScalar(declType string, val any) (any, error) {
	switch declType {
	case "", "string":
		switch v := val.(type) {
		case string:
			return v, nil
		case nil:
			return "", nil
		default:
			return fmt.Sprintf("%v", v), nil
		}
	case "integer":
		switch v := val.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
	case "number":
		switch v := val.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("expected number, got %T", v)
		}
	case "boolean":
		switch v := val.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
	case "array":
		if v, ok := val.([]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected array, got %T", val)
	case "object":
		if v, ok := val.(map[string]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("expected object, got %T", val)
	default:
		return val, nil
	}
}

// checkConstraints builds a single-property JSON Schema document from decl
// and validates coerced against it, reusing gojsonschema for enum/pattern
// checking exactly the way export_helper.go does for a full document.
func checkConstraints(name string, decl InputDecl, coerced any) error {
	if len(decl.Enum) == 0 && decl.Pattern == "" {
		return nil
	}

	schema := map[string]any{}
	if decl.Type != "" {
		schema["type"] = decl.Type
	}
	if len(decl.Enum) > 0 {
		schema["enum"] = decl.Enum
	}
	if decl.Pattern != "" {
		schema["pattern"] = decl.Pattern
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return werr.Wrap(werr.KindValidation, fmt.Sprintf("input %q: building constraint schema", name), err)
	}
	valueJSON, err := json.Marshal(coerced)
	if err != nil {
		return werr.Wrap(werr.KindValidation, fmt.Sprintf("input %q: encoding value", name), err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(string(schemaJSON)),
		gojsonschema.NewStringLoader(string(valueJSON)),
	)
	if err != nil {
		return werr.Wrap(werr.KindValidation, fmt.Sprintf("input %q: constraint check", name), err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return werr.New(werr.KindValidation, fmt.Sprintf("input %q does not satisfy its constraints: %v", name, msgs)).
			WithLocation(decl.Location)
	}
	return nil
}
