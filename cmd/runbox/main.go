package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	endpointFlag string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "runbox - sandboxed code execution and scoring",
	Long: `runbox runs untrusted JavaScript and TypeScript submissions in a sandbox
and answers with their output or a rubric score.

Start the service with "runbox serve"; talk to it with "runbox submit" or
"runbox repl".`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpointFlag, "endpoint", "", "Execute endpoint URL (default $ENDPOINT or http://localhost:3000/api/execute/)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
