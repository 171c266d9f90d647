// Package pipeline runs one submission through validation, admission,
// execution and optional scoring, and shapes the reply.
package pipeline

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/runbox/internal/admission"
	"github.com/michaelbrown/runbox/internal/metrics"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/scoring"
	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/submission"
)

// Runner executes a validated submission.
type Runner interface {
	Run(ctx context.Context, sub submission.Submission) (sandbox.Result, error)
}

// Scorer grades an execution.
type Scorer interface {
	Evaluate(ctx context.Context, rubricID string, sub submission.Submission, res sandbox.Result) scoring.ScoreReport
}

type Deps struct {
	Validator *submission.Validator
	Admission *admission.Controller
	Engine    Runner
	Evaluator Scorer
	// Ledger is optional.
	Ledger storage.Store
	// RetryAfter is suggested to clients turned away by admission.
	RetryAfter time.Duration
}

type Pipeline struct {
	deps   Deps
	logger *zerolog.Logger
}

func New(deps Deps, logger *zerolog.Logger) *Pipeline {
	if deps.RetryAfter <= 0 {
		deps.RetryAfter = time.Second
	}
	return &Pipeline{deps: deps, logger: logger}
}

// Admission exposes the controller for health reporting.
func (p *Pipeline) Admission() *admission.Controller {
	return p.deps.Admission
}

// Execute handles a raw request body.
func (p *Pipeline) Execute(ctx context.Context, body []byte) Response {
	sub, err := p.deps.Validator.Parse(body)
	if err != nil {
		resp := p.fail(err)
		resp.ID = uuid.NewString()
		p.logger.Info().
			Str("id", resp.ID).
			Int("status", resp.Status).
			Str("error", resp.ErrorMessage()).
			Msg("submission rejected")
		metrics.ResponsesTotal.WithLabelValues("", strconv.Itoa(resp.Status)).Inc()
		return resp
	}
	return p.Run(ctx, sub)
}

// ExecuteRequest handles an already decoded request.
func (p *Pipeline) ExecuteRequest(ctx context.Context, req submission.Request) Response {
	sub, err := p.deps.Validator.Validate(req)
	if err != nil {
		return p.fail(err)
	}
	return p.Run(ctx, sub)
}

// Run admits, executes and, in evaluate mode, scores a validated submission.
func (p *Pipeline) Run(ctx context.Context, sub submission.Submission) Response {
	id := uuid.NewString()
	start := time.Now()
	entry := &storage.Execution{
		ID:       id,
		Language: sub.Language.ID,
		Mode:     string(sub.Mode),
		Rubric:   sub.Rubric,
	}

	resp := p.run(ctx, sub, entry)
	resp.ID = id
	entry.HTTPStatus = resp.Status
	if entry.DurationMs == 0 {
		entry.DurationMs = time.Since(start).Milliseconds()
	}

	metrics.ResponsesTotal.WithLabelValues(string(sub.Mode), strconv.Itoa(resp.Status)).Inc()
	p.logger.Info().
		Str("id", id).
		Str("language", sub.Language.ID).
		Str("mode", string(sub.Mode)).
		Str("exit_status", entry.ExitStatus).
		Int("status", resp.Status).
		Int64("duration_ms", entry.DurationMs).
		Msg("execution")

	p.record(ctx, entry)
	return resp
}

func (p *Pipeline) run(ctx context.Context, sub submission.Submission, entry *storage.Execution) Response {
	slot, err := p.deps.Admission.Acquire(ctx)
	if err != nil {
		entry.ExitStatus = "rejected"
		return p.fail(err)
	}
	defer slot.Release()

	res, err := p.deps.Engine.Run(ctx, sub)
	if err != nil {
		entry.ExitStatus = "error"
		return p.fail(err)
	}
	if res.ExitStatus == sandbox.StatusTimeout {
		slot.MarkTimedOut()
	}
	// Scoring does not need a sandbox.
	slot.Release()

	entry.ExitStatus = string(res.ExitStatus)
	entry.DurationMs = res.DurationMs
	metrics.ExecutionsTotal.WithLabelValues(sub.Language.ID, string(res.ExitStatus)).Inc()
	metrics.ExecutionDuration.WithLabelValues(sub.Language.ID).Observe(float64(res.DurationMs))

	if sub.Mode != submission.ModeEvaluate {
		return FormatResult(res)
	}
	report := p.deps.Evaluator.Evaluate(ctx, sub.Rubric, sub, res)
	entry.Score = &report.Score
	return FormatReport(report)
}

func (p *Pipeline) fail(err error) Response {
	resp := FormatError(err, p.deps.RetryAfter)
	if resp.Status == http.StatusInternalServerError {
		p.logger.Error().Err(err).Msg("internal fault")
	}
	return resp
}

func (p *Pipeline) record(ctx context.Context, entry *storage.Execution) {
	if p.deps.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deps.Ledger.RecordExecution(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Str("id", entry.ID).Msg("recording execution")
	}
}
