package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/runbox/internal/admission"
	"github.com/michaelbrown/runbox/internal/language"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/scoring"
	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/storage/sqlite"
	"github.com/michaelbrown/runbox/internal/submission"
)

var logCall = regexp.MustCompile(`console\.log\((.*)\);?`)

// scriptRuntime stands in for node: it understands console.log of a literal
// and `throw`, which is all these tests submit.
type scriptRuntime struct{}

func (scriptRuntime) Exec(ctx context.Context, opts sandbox.ExecOpts) (*sandbox.ExecResult, error) {
	if strings.HasPrefix(opts.Source, "throw") {
		return &sandbox.ExecResult{ExitCode: 1, Stderr: "Error: boom\n    at main.js:1:7\n"}, nil
	}
	var out strings.Builder
	for _, m := range logCall.FindAllStringSubmatch(opts.Source, -1) {
		out.WriteString(strings.Trim(m[1], `"'`) + "\n")
	}
	return &sandbox.ExecResult{Stdout: out.String(), Duration: 5 * time.Millisecond}, nil
}

func (scriptRuntime) Prepare(ctx context.Context, images []string) error { return nil }
func (scriptRuntime) Close() error                                       { return nil }

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingRunner) Run(ctx context.Context, sub submission.Submission) (sandbox.Result, error) {
	b.started <- struct{}{}
	<-b.release
	return sandbox.Result{ExitStatus: sandbox.StatusOK, Stdout: "done"}, nil
}

type failingRunner struct{}

func (failingRunner) Run(ctx context.Context, sub submission.Submission) (sandbox.Result, error) {
	return sandbox.Result{}, errors.New("docker daemon unreachable")
}

type testOptions struct {
	engine    Runner
	admission admission.Options
	ledger    storage.Store
}

func testPipeline(t *testing.T, opts testOptions) *Pipeline {
	t.Helper()
	logger := zerolog.Nop()

	langs, err := language.NewRegistry([]string{"javascript", "typescript"}, "javascript", nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	rubrics := scoring.NewRegistry()
	validator := submission.NewValidator(submission.Options{MaxCodeBytes: 64 * 1024}, langs, rubrics.Has)

	if opts.engine == nil {
		opts.engine = sandbox.NewEngine(scriptRuntime{}, sandbox.DefaultPolicy(), "error exists", &logger)
	}
	if opts.admission.MaxConcurrent == 0 {
		opts.admission = admission.Options{MaxConcurrent: 4, QueueDepth: 256, QueueTimeout: 10 * time.Second}
	}

	return New(Deps{
		Validator:  validator,
		Admission:  admission.New(opts.admission),
		Engine:     opts.engine,
		Evaluator:  scoring.NewEvaluator(rubrics, nil, scoring.Options{LLMPoints: 40}, &logger),
		Ledger:     opts.ledger,
		RetryAfter: 2 * time.Second,
	}, &logger)
}

func body(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestExecuteContract(t *testing.T) {
	p := testPipeline(t, testOptions{})

	tests := []struct {
		name   string
		body   []byte
		status int
		output string // raw output, when status is 200
		errSub string
	}{
		{"empty object", []byte(`{}`), 400, "", "code is required"},
		{"not json", []byte(`invalid_json_data`), 400, "", "invalid JSON"},
		{"comment only", body(t, map[string]string{"code": "//thier are error in codes"}), 400, "", "Syntax error in code"},
		{"parse error", body(t, map[string]string{"code": "console.log("}), 400, "", "Syntax error in code"},
		{"hello", body(t, map[string]string{"code": `console.log("Hi!");`}), 200, "Hi!", ""},
		{"unsupported language", body(t, map[string]string{"code": `console.log("Hi!");`, "language": "python"}), 400, "", "Unsupported language"},
		{"blank code", body(t, map[string]string{"code": strings.Repeat(" ", 1024)}), 200, "error exists", ""},
		{"oversized code", body(t, map[string]string{"code": strings.Repeat(" ", 100000)}), 413, "", "exceeds"},
		{"runtime error", body(t, map[string]string{"code": `throw new Error("boom")`}), 400, "", "Runtime error: Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := p.Execute(context.Background(), tt.body)
			if resp.Status != tt.status {
				t.Fatalf("status = %d, want %d (error %q)", resp.Status, tt.status, resp.ErrorMessage())
			}
			if tt.errSub != "" {
				if !strings.Contains(resp.ErrorMessage(), tt.errSub) {
					t.Errorf("error = %q, want it to contain %q", resp.ErrorMessage(), tt.errSub)
				}
				if !resp.Output.IsNone() {
					t.Errorf("output = %v, want none on error", resp.Output)
				}
				return
			}
			if resp.Error != nil {
				t.Errorf("error = %q, want nil", *resp.Error)
			}
			if got, ok := resp.Output.Text(); !ok || got != tt.output {
				t.Errorf("output = %q, want %q", got, tt.output)
			}
		})
	}
}

func TestExecuteConcurrent(t *testing.T) {
	p := testPipeline(t, testOptions{})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := p.Execute(context.Background(), body(t, map[string]string{"code": fmt.Sprintf("console.log(%d)", i)}))
			if resp.Status != http.StatusOK {
				t.Errorf("request %d: status %d (%s)", i, resp.Status, resp.ErrorMessage())
				return
			}
			if got, _ := resp.Output.Text(); got != strconv.Itoa(i) {
				t.Errorf("request %d: output %q", i, got)
			}
		}(i)
	}
	wg.Wait()

	st := p.Admission().Stats()
	if st.Active != 0 || st.Queued != 0 {
		t.Errorf("slots still held: %+v", st)
	}
	if st.Completed != n {
		t.Errorf("completed = %d, want %d", st.Completed, n)
	}
}

func TestExecuteEvaluate(t *testing.T) {
	p := testPipeline(t, testOptions{})

	resp := p.Execute(context.Background(), body(t, map[string]string{"code": `console.log("Hi!")`, "mode": "evaluate"}))
	if resp.Status != http.StatusOK || resp.Error != nil {
		t.Fatalf("status = %d error = %q", resp.Status, resp.ErrorMessage())
	}
	report, ok := resp.Output.Report()
	if !ok {
		t.Fatalf("output is not a report: %+v", resp.Output)
	}
	if report.Score != 100 || report.Points != 100 {
		t.Errorf("report = %+v", report)
	}
}

func TestExecuteEvaluateFailure(t *testing.T) {
	p := testPipeline(t, testOptions{})

	for _, code := range []string{`throw new Error("boom")`, "// nothing"} {
		resp := p.Execute(context.Background(), body(t, map[string]string{"code": code, "mode": "evaluate"}))
		if resp.Status != http.StatusOK {
			t.Fatalf("%q: status = %d, want 200", code, resp.Status)
		}
		report, ok := resp.Output.Report()
		if !ok {
			t.Fatalf("%q: output is not a report", code)
		}
		if report.Score >= 100 || len(report.Rationale.Negatives) == 0 {
			t.Errorf("%q: report = %+v, want failure reflected", code, report)
		}
	}
}

func TestExecuteUnknownRubric(t *testing.T) {
	p := testPipeline(t, testOptions{})
	resp := p.Execute(context.Background(), body(t, map[string]string{"code": "1", "mode": "evaluate", "rubric": "nope"}))
	if resp.Status != http.StatusBadRequest || !strings.Contains(resp.ErrorMessage(), "unknown rubric") {
		t.Errorf("got %d %q", resp.Status, resp.ErrorMessage())
	}
}

func TestExecuteQueueFull(t *testing.T) {
	runner := blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	p := testPipeline(t, testOptions{
		engine:    runner,
		admission: admission.Options{MaxConcurrent: 1, QueueDepth: 0},
	})

	first := make(chan Response, 1)
	go func() {
		first <- p.Execute(context.Background(), body(t, map[string]string{"code": "1"}))
	}()
	<-runner.started

	resp := p.Execute(context.Background(), body(t, map[string]string{"code": "2"}))
	if resp.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.Status)
	}
	if resp.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", resp.RetryAfter)
	}

	close(runner.release)
	if r := <-first; r.Status != http.StatusOK {
		t.Errorf("first status = %d", r.Status)
	}
	if st := p.Admission().Stats(); st.Active != 0 || st.Rejected != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestExecuteInternalFault(t *testing.T) {
	p := testPipeline(t, testOptions{engine: failingRunner{}})
	resp := p.Execute(context.Background(), body(t, map[string]string{"code": "1"}))
	if resp.Status != http.StatusInternalServerError || resp.ErrorMessage() != "internal error" {
		t.Errorf("got %d %q", resp.Status, resp.ErrorMessage())
	}
	if p.Admission().Stats().Active != 0 {
		t.Error("slot not released after internal fault")
	}
}

func TestExecuteRecordsLedger(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	p := testPipeline(t, testOptions{ledger: store})

	resp := p.Execute(context.Background(), body(t, map[string]string{"code": `console.log("Hi!")`, "mode": "evaluate"}))
	got, err := store.GetExecution(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Mode != "evaluate" || got.ExitStatus != "ok" || got.HTTPStatus != 200 || got.Score == nil {
		t.Errorf("entry = %+v", got)
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		res    sandbox.Result
		status int
		err    string
	}{
		{sandbox.Result{ExitStatus: sandbox.StatusSyntaxError, Message: "Syntax error in code: x"}, 400, "Syntax error in code: x"},
		{sandbox.Result{ExitStatus: sandbox.StatusRuntimeError, Message: "TypeError: y"}, 400, "Runtime error: TypeError: y"},
		{sandbox.Result{ExitStatus: sandbox.StatusTimeout, Message: "Execution timed out after 5000ms"}, 408, "Execution timed out after 5000ms"},
		{sandbox.Result{ExitStatus: sandbox.StatusResourceExceeded, Message: "output limit exceeded"}, 422, "Resource limit exceeded: output limit exceeded"},
	}
	for _, tt := range tests {
		resp := FormatResult(tt.res)
		if resp.Status != tt.status || resp.ErrorMessage() != tt.err || !resp.Output.IsNone() {
			t.Errorf("%s: got %d %q", tt.res.ExitStatus, resp.Status, resp.ErrorMessage())
		}
	}

	ok := FormatResult(sandbox.Result{ExitStatus: sandbox.StatusOK, Stdout: "a\nb\n\n"})
	if text, _ := ok.Output.Text(); text != "a\nb" {
		t.Errorf("ok output = %q, want trailing newlines trimmed", text)
	}
}

func TestResponseJSON(t *testing.T) {
	tests := []struct {
		resp Response
		want string
	}{
		{Response{Status: 200, Output: RawOutput("Hi!")}, `{"status":200,"output":"Hi!","error":null}`},
		{ErrorResponse(400, "code is required"), `{"status":400,"output":null,"error":"code is required"}`},
		{FormatReport(scoring.ScoreReport{Score: 50, Points: 10, Rationale: scoring.Rationale{Positives: []string{}, Negatives: []string{"x"}}}),
			`{"status":200,"output":{"score":50,"rationale":{"positives":[],"negatives":["x"]},"points":10},"error":null}`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.resp)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != tt.want {
			t.Errorf("got %s\nwant %s", data, tt.want)
		}

		var back Response
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if back.Status != tt.resp.Status || back.Output.IsNone() != tt.resp.Output.IsNone() {
			t.Errorf("round trip = %+v", back)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{&submission.ValidationError{Status: 400, Message: "x"}, KindValidation},
		{fmt.Errorf("acquire: %w", admission.ErrQueueFull), KindAdmission},
		{admission.ErrQueueTimeout, KindAdmission},
		{context.Canceled, KindAdmission},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		if got := classify(tt.err, time.Second); got.Kind != tt.kind {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got.Kind, tt.kind)
		}
	}
}

func TestFormatError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
		wantRetry  time.Duration
	}{
		{"validation", &submission.ValidationError{Status: http.StatusRequestEntityTooLarge, Message: "code exceeds 16 bytes"}, http.StatusRequestEntityTooLarge, "code exceeds 16 bytes", 0},
		{"queue full", admission.ErrQueueFull, http.StatusServiceUnavailable, "server busy: execution queue is full", 3 * time.Second},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable, "request cancelled before execution finished", 0},
		{"internal", errors.New("docker: connection refused"), http.StatusInternalServerError, "internal error", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := FormatError(tt.err, 3*time.Second)
			if resp.Status != tt.wantStatus || resp.ErrorMessage() != tt.wantMsg {
				t.Errorf("got %d %q, want %d %q", resp.Status, resp.ErrorMessage(), tt.wantStatus, tt.wantMsg)
			}
			if resp.RetryAfter != tt.wantRetry {
				t.Errorf("RetryAfter = %v, want %v", resp.RetryAfter, tt.wantRetry)
			}
			if !resp.Output.IsNone() {
				t.Error("failure carries output")
			}
		})
	}
}
