package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/michaelbrown/runbox/internal/pipeline"
	"github.com/michaelbrown/runbox/internal/submission"
)

const maxToolOutput = 4000

type executor interface {
	ExecuteRequest(ctx context.Context, req submission.Request) pipeline.Response
}

type runner struct {
	pipeline executor
}

func codeRunTool(languages, rubrics []string) mcp.Tool {
	return mcp.Tool{
		Name: "code_run",
		Description: fmt.Sprintf("Run code in the runbox sandbox and return its output, or score it against a rubric. Languages: %s. Rubrics: %s.",
			strings.Join(languages, ", "), strings.Join(rubrics, ", ")),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Language id or alias (optional)",
				},
				"mode": map[string]any{
					"type":        "string",
					"enum":        []string{"raw", "evaluate"},
					"description": "raw returns program output, evaluate returns a score report",
				},
				"rubric": map[string]any{
					"type":        "string",
					"description": "Rubric id for evaluate mode (optional)",
				},
			},
			Required: []string{"code"},
		},
	}
}

func (r *runner) handle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	if args == nil {
		return errResult("error: invalid arguments"), nil
	}

	code, ok := args["code"].(string)
	if !ok {
		return errResult("error: 'code' is required"), nil
	}
	language, _ := args["language"].(string)
	mode, _ := args["mode"].(string)
	rubric, _ := args["rubric"].(string)

	resp := r.pipeline.ExecuteRequest(ctx, submission.Request{
		Code:     &code,
		Language: language,
		Mode:     mode,
		Rubric:   rubric,
	})
	if resp.Error != nil {
		return errResult(fmt.Sprintf("error (%d): %s", resp.Status, *resp.Error)), nil
	}

	var text string
	if out, ok := resp.Output.Text(); ok {
		text = out
	} else if report, ok := resp.Output.Report(); ok {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errResult(fmt.Sprintf("error: %v", err)), nil
		}
		text = string(data)
	}

	text = truncate(text, maxToolOutput)

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n... (output truncated)"
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
