package eval

import (
	"regexp"
	"strings"
)

// forbiddenSubstrings are dunder/attribute escapes that would let an
// expression reach outside the sandbox.
var forbiddenSubstrings = []string{
	"__class__",
	"__mro__",
	"__subclasses__",
	"__globals__",
	"__builtins__",
	"__import__",
}

var forbiddenCallPattern = regexp.MustCompile(`\b(eval|exec|compile|open)\s*\(`)
var forbiddenAccessPattern = regexp.MustCompile(`\b(os|sys|subprocess)\.`)

// ScanForbidden returns every forbidden construct found in expr: dunder
// substrings, dangerous calls, and dangerous module attribute access
//. An empty result means expr is safe to parse.
func ScanForbidden(expr string) []string {
	var hits []string
	for _, sub := range forbiddenSubstrings {
		if strings.Contains(expr, sub) {
			hits = append(hits, sub)
		}
	}
	if m := forbiddenCallPattern.FindString(expr); m != "" {
		hits = append(hits, strings.TrimSpace(strings.TrimSuffix(m, "(")))
	}
	if m := forbiddenAccessPattern.FindString(expr); m != "" {
		hits = append(hits, strings.TrimSuffix(m, "."))
	}
	return hits
}

// BracketsBalanced reports whether expr has balanced (), [], {} delimiters.
func BracketsBalanced(expr string) bool {
	var stack []byte
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch c {
		case '(', '[', '{':
			stack = append(stack, c)
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != pairs[c] {
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	return len(stack) == 0
}

// secretPatterns are the credential-shaped substrings the validator flags
// as warnings, adapted from the field list in
// original_source/burr_workflow/guard/scanner.py.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bAKIA[0-9A-Z]{16}\b`),               // AWS access key id
	regexp.MustCompile(`(?i)\b(bearer|token)\s+[A-Za-z0-9._-]{20,}`), // bearer tokens
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),     // PEM private key
	regexp.MustCompile(`(?i)\b(password|passwd|api_key|apikey|secret)\s*[:=]\s*['"]?[^\s'"]{6,}`),
}

// ScanSecrets returns true if s contains a substring matching a common
// credential pattern.
func ScanSecrets(s string) bool {
	for _, re := range secretPatterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// shellQuoteSuffix matches an expression that pipes through the mandatory
// shell_quote filter.
var shellQuoteSuffix = regexp.MustCompile(`\|\s*shell_quote\s*(\(.*\))?\s*$`)

// HasShellQuote reports whether expr (the inside of a ${{ ... }}) ends in
// a `| shell_quote` pipeline stage.
func HasShellQuote(expr string) bool {
	return shellQuoteSuffix.MatchString(strings.TrimSpace(expr))
}
