package storage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportMarkdown renders ledger entries as a markdown table.
func ExportMarkdown(execs []Execution) string {
	var b strings.Builder

	b.WriteString("# Executions\n\n")
	b.WriteString("| ID | Created | Language | Mode | Exit status | HTTP | Duration | Score |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, e := range execs {
		score := "-"
		if e.Score != nil {
			score = fmt.Sprintf("%.2f", *e.Score)
		}
		b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d | %dms | %s |\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Language, e.Mode,
			e.ExitStatus, e.HTTPStatus, e.DurationMs, score))
	}

	return b.String()
}

// ExportJSON renders ledger entries as formatted JSON.
func ExportJSON(execs []Execution) ([]byte, error) {
	if execs == nil {
		execs = []Execution{}
	}
	export := struct {
		Executions []Execution `json:"executions"`
	}{
		Executions: execs,
	}
	return json.MarshalIndent(export, "", "  ")
}
