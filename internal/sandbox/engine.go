package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/runbox/internal/language"
	"github.com/michaelbrown/runbox/internal/submission"
)

// ExitStatus is the classified outcome of running a submission.
type ExitStatus string

const (
	StatusOK               ExitStatus = "ok"
	StatusSyntaxError      ExitStatus = "syntaxError"
	StatusRuntimeError     ExitStatus = "runtimeError"
	StatusTimeout          ExitStatus = "timeout"
	StatusResourceExceeded ExitStatus = "resourceExceeded"
)

// Result is what one submission produced. It lives only for the duration of
// a request.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus ExitStatus
	ExitCode   int
	DurationMs int64
	Message    string
}

// Engine checks, prepares and runs submissions on a Runtime.
type Engine struct {
	runtime     Runtime
	policy      Policy
	blankOutput string
	logger      *zerolog.Logger
}

func NewEngine(runtime Runtime, policy Policy, blankOutput string, logger *zerolog.Logger) *Engine {
	return &Engine{
		runtime:     runtime,
		policy:      policy,
		blankOutput: blankOutput,
		logger:      logger,
	}
}

// Policy returns the limits applied to every run.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Prepare readies the runtime for every allowed image.
func (e *Engine) Prepare(ctx context.Context) error {
	return e.runtime.Prepare(ctx, e.policy.Images)
}

func (e *Engine) Close() error {
	return e.runtime.Close()
}

// Run executes sub. The returned error is reserved for infrastructure
// failures; anything the submitted code does is reported in the Result.
func (e *Engine) Run(ctx context.Context, sub submission.Submission) (Result, error) {
	check := language.Check(sub.Language, sub.Code)
	switch check.Verdict {
	case language.Blank:
		return Result{ExitStatus: StatusOK, Stdout: e.blankOutput}, nil
	case language.Invalid:
		return Result{ExitStatus: StatusSyntaxError, ExitCode: 1, Message: check.Error()}, nil
	}

	raw, err := e.runtime.Exec(ctx, ExecOpts{
		Image:  sub.Language.Image,
		Source: check.Source,
		Policy: e.policy,
	})
	if err != nil {
		return Result{}, fmt.Errorf("sandbox exec: %w", err)
	}
	if raw.Cancelled {
		return Result{}, fmt.Errorf("sandbox exec: %w", context.Cause(ctx))
	}

	res := Classify(raw, e.policy)
	e.logger.Debug().
		Str("language", sub.Language.ID).
		Str("status", string(res.ExitStatus)).
		Int("exit_code", res.ExitCode).
		Int64("duration_ms", res.DurationMs).
		Msg("sandbox run")
	return res, nil
}

var errorLine = regexp.MustCompile(`^(?:[A-Za-z_$][\w$]*)?(?:Error|Exception)\b.*`)

// Classify maps a raw run onto an ExitStatus. Resource ceilings win over the
// deadline, the deadline wins over the exit code.
func Classify(raw *ExecResult, p Policy) Result {
	res := Result{
		Stdout:     raw.Stdout,
		Stderr:     raw.Stderr,
		ExitCode:   raw.ExitCode,
		DurationMs: raw.Duration.Milliseconds(),
	}

	switch {
	case raw.OutputExceeded:
		res.ExitStatus = StatusResourceExceeded
		res.Message = "output limit exceeded"
	case raw.OOMKilled || strings.Contains(raw.Stderr, "JavaScript heap out of memory"):
		res.ExitStatus = StatusResourceExceeded
		res.Message = fmt.Sprintf("memory limit of %d MB exceeded", p.MemoryMB)
		if raw.Signal == "SIGXCPU" {
			res.Message = "cpu time limit exceeded"
		}
	case raw.TimedOut:
		res.ExitStatus = StatusTimeout
		res.Message = fmt.Sprintf("Execution timed out after %dms", p.Timeout/time.Millisecond)
	case raw.ExitCode == 0:
		res.ExitStatus = StatusOK
	case strings.Contains(raw.Stderr, "SyntaxError"):
		res.ExitStatus = StatusSyntaxError
		res.Message = "Syntax error in code: " + firstErrorLine(raw.Stderr, "SyntaxError")
	default:
		res.ExitStatus = StatusRuntimeError
		res.Message = firstErrorLine(raw.Stderr, "")
		if res.Message == "" {
			res.Message = fmt.Sprintf("process exited with code %d", raw.ExitCode)
		}
	}
	return res
}

// firstErrorLine picks the most useful line out of a node stack dump: the
// first line naming an error (preferring one that starts with prefix), else
// the first non-empty line.
func firstErrorLine(stderr, prefix string) string {
	var first, named string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		if prefix != "" && strings.HasPrefix(line, prefix) {
			return line
		}
		if named == "" && errorLine.MatchString(line) {
			named = line
		}
	}
	if named != "" {
		return named
	}
	return first
}
