package main

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/michaelbrown/runbox/internal/pipeline"
	"github.com/michaelbrown/runbox/internal/scoring"
	"github.com/michaelbrown/runbox/internal/submission"
)

type fakeExecutor struct {
	got  submission.Request
	resp pipeline.Response
}

func (f *fakeExecutor) ExecuteRequest(ctx context.Context, req submission.Request) pipeline.Response {
	f.got = req
	return f.resp
}

func call(args any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = "code_run"
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %d items", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", res.Content[0])
	}
	return tc.Text
}

func TestHandle(t *testing.T) {
	msg := "Unsupported language"
	tests := []struct {
		name    string
		args    any
		resp    pipeline.Response
		want    string
		isError bool
	}{
		{
			name: "raw output",
			args: map[string]any{"code": `console.log("Hi!")`},
			resp: pipeline.Response{Status: 200, Output: pipeline.RawOutput("Hi!")},
			want: "Hi!",
		},
		{
			name: "score report",
			args: map[string]any{"code": "x", "mode": "evaluate"},
			resp: pipeline.Response{Status: 200, Output: pipeline.EvaluatedOutput(scoring.ScoreReport{Score: 80, Points: 80})},
			want: `"score": 80`,
		},
		{
			name:    "pipeline error",
			args:    map[string]any{"code": "x", "language": "python"},
			resp:    pipeline.Response{Status: 400, Error: &msg},
			want:    "error (400): Unsupported language",
			isError: true,
		},
		{
			name:    "missing code",
			args:    map[string]any{"language": "js"},
			want:    "'code' is required",
			isError: true,
		},
		{
			name:    "bad arguments",
			args:    "nope",
			want:    "invalid arguments",
			isError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &runner{pipeline: &fakeExecutor{resp: tt.resp}}
			res, err := r.handle(context.Background(), call(tt.args))
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if res.IsError != tt.isError {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.isError)
			}
			if got := resultText(t, res); !strings.Contains(got, tt.want) {
				t.Errorf("text = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestHandlePassesFields(t *testing.T) {
	fe := &fakeExecutor{resp: pipeline.Response{Status: 200, Output: pipeline.RawOutput("")}}
	r := &runner{pipeline: fe}
	_, err := r.handle(context.Background(), call(map[string]any{
		"code": "1", "language": "ts", "mode": "evaluate", "rubric": "default",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if fe.got.Code == nil || *fe.got.Code != "1" || fe.got.Language != "ts" || fe.got.Mode != "evaluate" || fe.got.Rubric != "default" {
		t.Errorf("request = %+v", fe.got)
	}
}

func TestHandleTruncates(t *testing.T) {
	long := strings.Repeat("a", maxToolOutput+100)
	r := &runner{pipeline: &fakeExecutor{resp: pipeline.Response{Status: 200, Output: pipeline.RawOutput(long)}}}
	res, _ := r.handle(context.Background(), call(map[string]any{"code": "x"}))
	if got := resultText(t, res); !strings.HasSuffix(got, "(output truncated)") {
		t.Errorf("not truncated: len %d", len(got))
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	// "é" is two bytes; an odd limit lands inside one.
	text := strings.Repeat("é", 10)
	got := truncate(text, 5)
	body := strings.TrimSuffix(got, "\n... (output truncated)")
	if !utf8.ValidString(got) || body != "éé" {
		t.Errorf("truncate = %q", got)
	}
	if truncate("short", 5) != "short" {
		t.Error("short text changed")
	}
}

func TestCodeRunTool(t *testing.T) {
	tool := codeRunTool([]string{"javascript", "typescript"}, []string{"default"})
	if tool.Name != "code_run" {
		t.Errorf("name = %q", tool.Name)
	}
	if !strings.Contains(tool.Description, "javascript, typescript") {
		t.Errorf("description = %q", tool.Description)
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "code" {
		t.Errorf("required = %v", tool.InputSchema.Required)
	}
}

func TestServerInProcess(t *testing.T) {
	fe := &fakeExecutor{resp: pipeline.Response{Status: 200, Output: pipeline.RawOutput("Hi!")}}
	s := newServer(fe, []string{"javascript"}, []string{"default"})

	c, err := client.NewInProcessClient(s)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "runbox-test", Version: "0.1.0"},
		},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "code_run" {
		t.Fatalf("tools = %+v", tools.Tools)
	}

	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "code_run",
			Arguments: map[string]any{"code": `console.log("Hi!")`},
		},
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := resultText(t, res); got != "Hi!" {
		t.Errorf("text = %q", got)
	}
}
