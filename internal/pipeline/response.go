package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/scoring"
)

type outputKind int

const (
	outputNone outputKind = iota
	outputRaw
	outputEvaluated
)

// Output is exactly one of raw program text, a score report, or nothing.
// Nothing marshals as JSON null.
type Output struct {
	kind   outputKind
	text   string
	report scoring.ScoreReport
}

func RawOutput(text string) Output { return Output{kind: outputRaw, text: text} }

func EvaluatedOutput(r scoring.ScoreReport) Output { return Output{kind: outputEvaluated, report: r} }

func NoOutput() Output { return Output{} }

// Text returns the raw program output, if that is what o holds.
func (o Output) Text() (string, bool) { return o.text, o.kind == outputRaw }

// Report returns the score report, if that is what o holds.
func (o Output) Report() (scoring.ScoreReport, bool) { return o.report, o.kind == outputEvaluated }

func (o Output) IsNone() bool { return o.kind == outputNone }

func (o Output) MarshalJSON() ([]byte, error) {
	switch o.kind {
	case outputRaw:
		return json.Marshal(o.text)
	case outputEvaluated:
		return json.Marshal(o.report)
	}
	return []byte("null"), nil
}

func (o *Output) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*o = NoOutput()
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = RawOutput(s)
	case len(data) > 0 && data[0] == '{':
		var r scoring.ScoreReport
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		*o = EvaluatedOutput(r)
	default:
		return fmt.Errorf("output must be a string, an object or null")
	}
	return nil
}

// Response is the body of every reply from the execute endpoint. Status is
// repeated in the body; Error is null on success.
type Response struct {
	Status int     `json:"status"`
	Output Output  `json:"output"`
	Error  *string `json:"error"`

	ID         string        `json:"-"`
	RetryAfter time.Duration `json:"-"`
}

// ErrorMessage returns the error text, or "" on success.
func (r Response) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// ErrorResponse builds a failure reply with no output.
func ErrorResponse(status int, message string) Response {
	return Response{Status: status, Output: NoOutput(), Error: &message}
}

// FormatError renders a failure from any stage. retryAfter is attached to
// admission rejections.
func FormatError(err error, retryAfter time.Duration) Response {
	pe := classify(err, retryAfter)
	resp := ErrorResponse(pe.Status, pe.Message)
	resp.RetryAfter = pe.RetryAfter
	return resp
}

// FormatResult renders a raw-mode execution.
func FormatResult(res sandbox.Result) Response {
	switch res.ExitStatus {
	case sandbox.StatusOK:
		return Response{Status: http.StatusOK, Output: RawOutput(strings.TrimRight(res.Stdout, "\r\n"))}
	case sandbox.StatusSyntaxError:
		return ErrorResponse(http.StatusBadRequest, res.Message)
	case sandbox.StatusRuntimeError:
		return ErrorResponse(http.StatusBadRequest, "Runtime error: "+res.Message)
	case sandbox.StatusTimeout:
		return ErrorResponse(http.StatusRequestTimeout, res.Message)
	case sandbox.StatusResourceExceeded:
		return ErrorResponse(http.StatusUnprocessableEntity, "Resource limit exceeded: "+res.Message)
	}
	return ErrorResponse(http.StatusInternalServerError, internalMessage)
}

// FormatReport renders an evaluate-mode result. Every sandbox outcome is a
// successful evaluation.
func FormatReport(r scoring.ScoreReport) Response {
	return Response{Status: http.StatusOK, Output: EvaluatedOutput(r)}
}
