package language

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Verdict is the outcome of a static check.
type Verdict int

const (
	// Valid code parsed and contains at least one statement.
	Valid Verdict = iota
	// Blank code is whitespace only.
	Blank
	// Invalid code does not parse, or parses to nothing but comments.
	Invalid
)

// CheckResult is what Check found. Source is the JavaScript to run: the
// submission itself for JavaScript, the transpiled output for TypeScript.
type CheckResult struct {
	Verdict Verdict
	Source  string
	Message string
	Line    int
	Column  int
}

// Check parses code in-process without executing it.
func Check(lang Language, code string) CheckResult {
	if strings.TrimSpace(code) == "" {
		return CheckResult{Verdict: Blank}
	}

	loader := api.LoaderJS
	if lang.Transpile {
		loader = api.LoaderTS
	}

	res := api.Transform(code, api.TransformOptions{
		Loader:        loader,
		Target:        api.ESNext,
		Sourcefile:    "main",
		LegalComments: api.LegalCommentsNone,
		LogLevel:      api.LogLevelSilent,
	})

	if len(res.Errors) > 0 {
		msg := res.Errors[0]
		out := CheckResult{Verdict: Invalid, Message: msg.Text}
		if msg.Location != nil {
			out.Line = msg.Location.Line
			out.Column = msg.Location.Column + 1
		}
		return out
	}

	if strings.TrimSpace(string(res.Code)) == "" {
		return CheckResult{Verdict: Invalid, Message: "no executable statements"}
	}

	src := code
	if lang.Transpile {
		src = string(res.Code)
	}
	return CheckResult{Verdict: Valid, Source: src}
}

// Error formats an Invalid result for callers. The "Syntax error in code"
// prefix is part of the public contract.
func (c CheckResult) Error() string {
	if c.Line > 0 {
		return fmt.Sprintf("Syntax error in code: %s (line %d, column %d)", c.Message, c.Line, c.Column)
	}
	return "Syntax error in code: " + c.Message
}
