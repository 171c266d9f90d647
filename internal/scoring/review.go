package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/michaelbrown/runbox/internal/llm"
	"github.com/michaelbrown/runbox/internal/sandbox"
	"github.com/michaelbrown/runbox/internal/submission"
)

const maxReviewOutput = 4096

// Review is a model's verdict on a submission.
type Review struct {
	Score     float64  `json:"score"`
	Positives []string `json:"positives"`
	Negatives []string `json:"negatives"`
}

// Reviewer produces a Review for a rubric with an llm grader.
type Reviewer interface {
	Review(ctx context.Context, rb Rubric, sub submission.Submission, res sandbox.Result) (Review, error)
}

// LLMReviewer asks an OpenAI-compatible chat model for a JSON review.
type LLMReviewer struct {
	client llm.Client
}

func NewLLMReviewer(client llm.Client) *LLMReviewer {
	return &LLMReviewer{client: client}
}

const reviewSystemPrompt = `You grade short programs submitted to an automated judge.
Reply with a single JSON object and nothing else:
{"score": <number 0-100>, "positives": [<short strings>], "negatives": [<short strings>]}
Judge correctness, clarity and idiomatic use of the language. Be concise.`

func (r *LLMReviewer) Review(ctx context.Context, rb Rubric, sub submission.Submission, res sandbox.Result) (Review, error) {
	system := reviewSystemPrompt
	if rb.Instructions != "" {
		system += "\n\nRubric: " + rb.Title + "\n" + rb.Instructions
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Language: %s\n\nCode:\n```\n%s\n```\n\n", sub.Language.Name, sub.Code)
	fmt.Fprintf(&user, "Execution status: %s\n", res.ExitStatus)
	if res.Message != "" {
		fmt.Fprintf(&user, "Message: %s\n", res.Message)
	}
	fmt.Fprintf(&user, "Stdout:\n%s\n", clip(res.Stdout))
	if res.Stderr != "" {
		fmt.Fprintf(&user, "Stderr:\n%s\n", clip(res.Stderr))
	}

	resp, err := r.client.ChatCompletion(ctx, []llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(user.String()),
	}, llm.Options{JSON: true})
	if err != nil {
		return Review{}, err
	}
	return parseReview(resp.Message.Content)
}

// parseReview accepts the model's reply with or without a Markdown fence.
func parseReview(content string) (Review, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var rv Review
	if err := json.Unmarshal([]byte(content), &rv); err != nil {
		return Review{}, fmt.Errorf("decoding review: %w", err)
	}
	if rv.Score < 0 || rv.Score > 100 {
		return Review{}, fmt.Errorf("review score %v out of range", rv.Score)
	}
	return rv, nil
}

func clip(s string) string {
	if len(s) <= maxReviewOutput {
		return s
	}
	cut := maxReviewOutput
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}
