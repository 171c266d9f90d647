// Command code-runner exposes the runbox pipeline as an MCP tool over stdio.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/runbox/internal/app"
	"github.com/michaelbrown/runbox/internal/config"
	"github.com/michaelbrown/runbox/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol; logs go to stderr.
	logger := logging.New(cfg.Log.Level)

	a, err := app.New(cfg, &logger, app.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer a.Close()
	a.Prepare(context.Background())

	var langs []string
	for _, l := range a.Languages.List() {
		langs = append(langs, l.ID)
	}
	var rubrics []string
	for _, rb := range a.Rubrics.List() {
		rubrics = append(rubrics, rb.ID)
	}

	s := newServer(a.Pipeline, langs, rubrics)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

func newServer(p executor, languages, rubrics []string) *server.MCPServer {
	s := server.NewMCPServer("runbox-code-runner", "0.1.0")
	s.AddTool(codeRunTool(languages, rubrics), (&runner{pipeline: p}).handle)
	return s
}
