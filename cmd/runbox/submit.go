package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/client"
	"github.com/michaelbrown/runbox/internal/pipeline"
	"github.com/michaelbrown/runbox/internal/submission"
)

var (
	languageFlag string
	modeFlag     string
	rubricFlag   string
	codeFlag     string
	jsonFlag     bool
	timeoutFlag  time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit code to a runbox server",
	Long: `Submit a file (or stdin, or --code) to the execute endpoint and print
the result. The exit code is 0 for a 2xx reply and 1 otherwise.

Examples:
  runbox submit hello.js
  echo 'console.log("Hi!")' | runbox submit
  runbox submit --mode evaluate --rubric default solution.ts --language ts`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Language (default: server default)")
	submitCmd.Flags().StringVarP(&modeFlag, "mode", "m", "raw", "Mode: raw or evaluate")
	submitCmd.Flags().StringVarP(&rubricFlag, "rubric", "r", "", "Rubric id for evaluate mode")
	submitCmd.Flags().StringVarP(&codeFlag, "code", "c", "", "Code to run instead of a file")
	submitCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the raw JSON response")
	submitCmd.Flags().DurationVar(&timeoutFlag, "timeout", 90*time.Second, "HTTP timeout")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	code := codeFlag
	if code == "" {
		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("reading code: %w", err)
		}
		code = string(data)
	}

	c := client.New(client.Endpoint(endpointFlag), timeoutFlag)
	resp, err := c.Execute(context.Background(), submission.Request{
		Code:     &code,
		Language: languageFlag,
		Mode:     modeFlag,
		Rubric:   rubricFlag,
	})
	if err != nil {
		return err
	}

	if jsonFlag {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
	} else {
		printResponse(cmd.OutOrStdout(), resp)
	}

	if resp.Status >= 300 {
		os.Exit(1)
	}
	return nil
}

// printResponse renders a reply for people.
func printResponse(w io.Writer, resp *pipeline.Response) {
	if resp.Error != nil {
		fmt.Fprintf(w, "\033[31m%d: %s\033[0m\n", resp.Status, *resp.Error)
		return
	}
	if text, ok := resp.Output.Text(); ok {
		fmt.Fprintln(w, text)
		return
	}
	if report, ok := resp.Output.Report(); ok {
		fmt.Fprintf(w, "score: %.2f (%.2f points)\n", report.Score, report.Points)
		for _, p := range report.Rationale.Positives {
			fmt.Fprintf(w, "  \033[32m+ %s\033[0m\n", p)
		}
		for _, n := range report.Rationale.Negatives {
			fmt.Fprintf(w, "  \033[31m- %s\033[0m\n", n)
		}
	}
}
