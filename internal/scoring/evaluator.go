package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/michaelbrown/runbox/internal/metrics"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/submission"
)

// ReviewUnavailable is reported when an llm rubric could not be reviewed.
const ReviewUnavailable = "automated review unavailable"

var errNoReviewer = errors.New("no model provider configured")

type Options struct {
	// LLMPoints is the weight of a model review on top of the static checks.
	LLMPoints float64
	Timeout   time.Duration
}

// Evaluator turns an execution result into a ScoreReport.
type Evaluator struct {
	rubrics  *Registry
	reviewer Reviewer
	opts     Options
	logger   *zerolog.Logger
}

// NewEvaluator builds an evaluator. reviewer may be nil, in which case llm
// rubrics are graded on their static checks alone.
func NewEvaluator(rubrics *Registry, reviewer Reviewer, opts Options, logger *zerolog.Logger) *Evaluator {
	return &Evaluator{rubrics: rubrics, reviewer: reviewer, opts: opts, logger: logger}
}

// Evaluate always returns a well-formed report.
func (e *Evaluator) Evaluate(ctx context.Context, rubricID string, sub submission.Submission, res sandbox.Result) ScoreReport {
	rb, ok := e.rubrics.Get(rubricID)
	if !ok {
		rb, _ = e.rubrics.Get(DefaultRubricID)
	}

	earned, positives, negatives := gradeStatic(rb, sub, res)
	maxPoints := rb.MaxPoints()

	if rb.Grader == GraderLLM {
		rv, err := e.review(ctx, rb, sub, res)
		if err != nil {
			metrics.ScoringFallbacks.Inc()
			e.logger.Warn().Err(err).Str("rubric", rb.ID).Msg("model review failed, using static checks")
			negatives = append(negatives, ReviewUnavailable)
		} else {
			maxPoints += e.opts.LLMPoints
			earned += rv.Score / 100 * e.opts.LLMPoints
			positives = append(positives, rv.Positives...)
			negatives = append(negatives, rv.Negatives...)
		}
	}

	report := newReport(earned, maxPoints, positives, negatives)
	if res.ExitStatus != sandbox.StatusOK && len(report.Rationale.Negatives) == 0 {
		report.Rationale.Negatives = []string{failureNote(res)}
	}
	return report
}

func (e *Evaluator) review(ctx context.Context, rb Rubric, sub submission.Submission, res sandbox.Result) (Review, error) {
	if e.reviewer == nil {
		return Review{}, errNoReviewer
	}
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}
	return e.reviewer.Review(ctx, rb, sub, res)
}
