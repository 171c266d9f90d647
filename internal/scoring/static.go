package scoring

import (
	"fmt"
	"strings"

	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/submission"
)

// outcome is the result of grading one check.
type outcome struct {
	pass   bool
	detail string
}

func (c Check) grade(sub submission.Submission, res sandbox.Result) outcome {
	stdout := strings.TrimRight(res.Stdout, "\r\n")
	ran := res.ExitStatus == sandbox.StatusOK

	switch c.Kind {
	case CheckRunsCleanly:
		if ran {
			return outcome{pass: true}
		}
		return outcome{detail: string(res.ExitStatus)}
	case CheckStdoutEquals:
		if ran && stdout == c.Value {
			return outcome{pass: true}
		}
		return outcome{detail: fmt.Sprintf("expected %q", c.Value)}
	case CheckStdoutContains:
		if ran && strings.Contains(res.Stdout, c.Value) {
			return outcome{pass: true}
		}
		return outcome{detail: fmt.Sprintf("output lacks %q", c.Value)}
	case CheckStdoutMatches:
		if ran && c.pattern.MatchString(res.Stdout) {
			return outcome{pass: true}
		}
		return outcome{detail: fmt.Sprintf("output does not match %s", c.Value)}
	case CheckStderrEmpty:
		if strings.TrimSpace(res.Stderr) == "" && res.Message == "" {
			return outcome{pass: true}
		}
		return outcome{}
	case CheckMaxDurationMs:
		if ran && res.DurationMs <= c.maxMs {
			return outcome{pass: true}
		}
		return outcome{detail: fmt.Sprintf("took %dms, limit %dms", res.DurationMs, c.maxMs)}
	case CheckSourceContains:
		if strings.Contains(sub.Code, c.Value) {
			return outcome{pass: true}
		}
		return outcome{}
	case CheckSourceExcludes:
		if !strings.Contains(sub.Code, c.Value) {
			return outcome{pass: true}
		}
		return outcome{detail: fmt.Sprintf("source uses %q", c.Value)}
	}
	return outcome{detail: "unknown check"}
}

// gradeStatic scores every check of rb. Passing checks become positives and
// failing checks negatives. A failed execution always leads the negatives.
func gradeStatic(rb Rubric, sub submission.Submission, res sandbox.Result) (earned float64, positives, negatives []string) {
	if res.ExitStatus != sandbox.StatusOK {
		negatives = append(negatives, failureNote(res))
	}
	for _, c := range rb.Checks {
		o := c.grade(sub, res)
		if o.pass {
			earned += c.Points
			positives = append(positives, c.Description)
			continue
		}
		note := c.Description
		if o.detail != "" {
			note += " (" + o.detail + ")"
		}
		negatives = append(negatives, note)
	}
	return earned, positives, negatives
}

func failureNote(res sandbox.Result) string {
	msg := res.Message
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return fmt.Sprintf("execution failed with %s: %s", res.ExitStatus, msg)
}
