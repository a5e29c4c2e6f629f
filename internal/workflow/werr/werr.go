// Package werr defines the engine's error taxonomy.
//
// Errors are tagged with a Kind rather than modeled as exception hierarchies:
// callers switch on Kind, not on concrete Go types.
package werr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the subsystem that raised it.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindCompilation    Kind = "compilation"
	KindExpression     Kind = "expression"
	KindSecurity       Kind = "security"
	KindActionFailure  Kind = "action-failure"
	KindGuardrail      Kind = "guardrail"
	KindTimeout        Kind = "timeout"
	KindInterrupted    Kind = "interrupted"
	KindSuspended      Kind = "suspended"
)

// Location identifies a position inside a parsed YAML source file.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" && l.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// IsZero reports whether the location carries no information.
func (l Location) IsZero() bool {
	return l.File == "" && l.Line == 0 && l.Column == 0
}

// Error is the engine's concrete error type. It satisfies the standard
// error interface and supports errors.Is/errors.As via Unwrap.
type Error struct {
	Kind     Kind
	Code     string // stable code, e.g. "E003" or "W001"; empty when not applicable
	Subkind  string // action-failure subkind: timeout, network, schema, subprocess, ...
	Message  string
	Hint     string
	Location Location
	Cause    error
}

func (e *Error) Error() string {
	loc := e.Location.String()
	if loc != "" {
		if e.Hint != "" {
			return fmt.Sprintf("%s: %s (hint: %s)", loc, e.Message, e.Hint)
		}
		return fmt.Sprintf("%s: %s", loc, e.Message)
	}
	if e.Hint != "" {
		return fmt.Sprintf("%s (hint: %s)", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind/message context to an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithLocation returns a copy of e with Location set.
func (e *Error) WithLocation(loc Location) *Error {
	c := *e
	c.Location = loc
	return &c
}

// WithCode returns a copy of e with Code set.
func (e *Error) WithCode(code string) *Error {
	c := *e
	c.Code = code
	return &c
}

// WithHint returns a copy of e with Hint set.
func (e *Error) WithHint(hint string) *Error {
	c := *e
	c.Hint = hint
	return &c
}

// WithSubkind returns a copy of e with Subkind set (action-failure errors).
func (e *Error) WithSubkind(subkind string) *Error {
	c := *e
	c.Subkind = subkind
	return &c
}

// Is reports whether target is an *Error with the same Kind and Code, so
// errors.Is(err, werr.New(werr.KindTimeout, "")) matches any timeout error
// that carries no Code. Use OfKind to match on Kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind && e.Code == other.Code
	}
	return false
}

// OfKind reports whether err is a *Error of the given kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
