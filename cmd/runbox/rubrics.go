package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/client"
	"github.com/michaelbrown/runbox/internal/scoring"
)

var remoteFlag bool

var rubricsCmd = &cobra.Command{
	Use:   "rubrics",
	Short: "List scoring rubrics",
	Long: `List the rubrics available for evaluate mode. By default the local
rubrics.dir is read; --remote asks the server instead.`,
	RunE: runRubrics,
}

func init() {
	rubricsCmd.Flags().BoolVar(&remoteFlag, "remote", false, "Ask the server at --endpoint")
	rootCmd.AddCommand(rubricsCmd)
}

type rubricRow struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Grader    string  `json:"grader"`
	MaxPoints float64 `json:"max_points"`
}

func runRubrics(cmd *cobra.Command, args []string) error {
	var rows []rubricRow
	if remoteFlag {
		c := client.New(client.Endpoint(endpointFlag), 10*time.Second)
		if err := c.Get(context.Background(), "/api/rubrics", &rows); err != nil {
			return err
		}
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := scoring.LoadDir(cfg.Rubrics.Dir)
		if err != nil {
			return err
		}
		for _, rb := range reg.List() {
			rows = append(rows, rubricRow{ID: rb.ID, Title: rb.Title, Grader: string(rb.Grader), MaxPoints: rb.MaxPoints()})
		}
	}

	fmt.Printf("%-20s %-8s %-8s %s\n", "ID", "GRADER", "POINTS", "TITLE")
	fmt.Println(strings.Repeat("─", 70))
	for _, r := range rows {
		fmt.Printf("%-20s %-8s %-8.0f %s\n", truncate(r.ID, 20), r.Grader, r.MaxPoints, r.Title)
	}
	return nil
}
