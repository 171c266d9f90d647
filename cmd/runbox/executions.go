package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/storage/sqlite"
)

var (
	statusFilter string
	modeFilter   string
	limitFlag    int
	offsetFlag   int
	exportFormat string
	exportOutput string
	olderThan    time.Duration
	forceFlag    bool
)

var executionsCmd = &cobra.Command{
	Use:     "executions",
	Aliases: []string{"execution", "x"},
	Short:   "Inspect the execution ledger",
	Long: `Read the local execution ledger configured by storage.db_path.
The ledger holds metadata only: no code and no program output.`,
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded executions",
	RunE:  runExecutionsList,
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionsShow,
}

var executionsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count executions per exit status",
	RunE:  runExecutionsSummary,
}

var executionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export executions as markdown or JSON",
	RunE:  runExecutionsExport,
}

var executionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old executions",
	RunE:  runExecutionsPrune,
}

func init() {
	rootCmd.AddCommand(executionsCmd)
	executionsCmd.AddCommand(executionsListCmd, executionsShowCmd, executionsSummaryCmd, executionsExportCmd, executionsPruneCmd)

	for _, c := range []*cobra.Command{executionsListCmd, executionsExportCmd} {
		c.Flags().StringVar(&statusFilter, "status", "", "Filter by exit status (ok, syntaxError, runtimeError, timeout, resourceExceeded)")
		c.Flags().StringVar(&modeFilter, "mode", "", "Filter by mode (raw, evaluate)")
		c.Flags().IntVar(&limitFlag, "limit", 20, "Max executions to show")
		c.Flags().IntVar(&offsetFlag, "offset", 0, "Skip this many executions")
	}

	executionsExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	executionsExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")

	executionsPruneCmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Delete executions older than this")
	executionsPruneCmd.Flags().BoolVar(&forceFlag, "force", false, "Skip confirmation")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.DBPath == "" {
		return nil, fmt.Errorf("execution ledger is disabled (set storage.db_path)")
	}
	return sqlite.Open(cfg.Storage.DBPath)
}

func listOptions() storage.ExecutionListOptions {
	return storage.ExecutionListOptions{
		ExitStatus: statusFilter,
		Mode:       modeFilter,
		Limit:      limitFlag,
		Offset:     offsetFlag,
	}
}

func runExecutionsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	execs, err := store.ListExecutions(context.Background(), listOptions())
	if err != nil {
		return err
	}

	if len(execs) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	// Header
	fmt.Printf("%-10s %-12s %-9s %-18s %-6s %-8s %-7s %s\n", "ID", "LANGUAGE", "MODE", "STATUS", "HTTP", "MS", "SCORE", "WHEN")
	fmt.Println(strings.Repeat("─", 90))

	for _, e := range execs {
		score := "-"
		if e.Score != nil {
			score = fmt.Sprintf("%.2f", *e.Score)
		}
		fmt.Printf("%-10s %-12s %-9s %-18s %-6d %-8d %-7s %s\n",
			shortID(e.ID), truncate(e.Language, 12), e.Mode, e.ExitStatus, e.HTTPStatus, e.DurationMs, score, timeAgo(e.CreatedAt))
	}

	return nil
}

func runExecutionsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.GetExecution(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Execution: %s\n", e.ID)
	fmt.Printf("Language:  %s\n", e.Language)
	fmt.Printf("Mode:      %s\n", e.Mode)
	if e.Rubric != "" {
		fmt.Printf("Rubric:    %s\n", e.Rubric)
	}
	fmt.Printf("Status:    %s (HTTP %d)\n", e.ExitStatus, e.HTTPStatus)
	fmt.Printf("Duration:  %dms\n", e.DurationMs)
	if e.Score != nil {
		fmt.Printf("Score:     %.2f\n", *e.Score)
	}
	fmt.Printf("Created:   %s\n", e.CreatedAt.Format(time.RFC3339))
	return nil
}

func runExecutionsSummary(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Summary(context.Background())
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		fmt.Println("No executions found.")
		return nil
	}

	var total int64
	for _, c := range counts {
		fmt.Printf("%-18s %d\n", c.ExitStatus, c.Count)
		total += c.Count
	}
	fmt.Println(strings.Repeat("─", 25))
	fmt.Printf("%-18s %d\n", "total", total)
	return nil
}

func runExecutionsExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	execs, err := store.ListExecutions(context.Background(), listOptions())
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(execs)
		if err != nil {
			return err
		}
		output = string(data)
	default:
		output = storage.ExportMarkdown(execs)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Print(output)
	return nil
}

func runExecutionsPrune(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	cutoff := time.Now().Add(-olderThan)
	if !forceFlag {
		fmt.Printf("Delete executions recorded before %s? [y/N] ", cutoff.Format(time.RFC3339))
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	n, err := store.Prune(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d executions\n", n)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen-2] + ".."
	}
	return s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
