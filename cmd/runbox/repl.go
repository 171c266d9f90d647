package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/client"
	"github.com/michaelbrown/runbox/internal/submission"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactively submit snippets to a runbox server",
	Long: `Each line (or block ended with a line containing only ";;") is submitted
as one program.

Commands:
  /lang <name>     switch language
  /mode <mode>     switch between raw and evaluate
  /rubric <id>     pick the rubric for evaluate mode
  /quit            exit`,
	RunE: runRepl,
}

func init() {
	rootCmd.AddCommand(replCmd)
}

type replState struct {
	language string
	mode     string
	rubric   string
}

func runRepl(cmd *cobra.Command, args []string) error {
	endpoint := client.Endpoint(endpointFlag)
	c := client.New(endpoint, timeoutFlag)
	state := &replState{mode: "raw"}

	fmt.Printf("runbox repl -> %s\n", endpoint)
	fmt.Printf("Type /help for commands, /quit to exit\n\n")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mjs>\033[0m ",
		HistoryFile:     filepath.Join(os.TempDir(), "runbox_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	var block []string
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		if len(block) == 0 && strings.HasPrefix(strings.TrimSpace(line), "/") {
			if !handleReplCommand(strings.TrimSpace(line), state, rl) {
				return nil
			}
			continue
		}

		// A line ending in "{" opens a block closed by ";;".
		trimmed := strings.TrimSpace(line)
		if len(block) > 0 || strings.HasSuffix(trimmed, "{") {
			if trimmed == ";;" {
				line = strings.Join(block, "\n")
				block = nil
				rl.SetPrompt("\033[36mjs>\033[0m ")
			} else {
				block = append(block, line)
				rl.SetPrompt("\033[36m..>\033[0m ")
				continue
			}
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		code := line
		resp, err := c.Execute(context.Background(), submission.Request{
			Code:     &code,
			Language: state.language,
			Mode:     state.mode,
			Rubric:   state.rubric,
		})
		if err != nil {
			fmt.Printf("\033[31merror: %s\033[0m\n", err)
			continue
		}
		printResponse(os.Stdout, resp)
	}
}

// handleReplCommand applies a slash command; false means quit.
func handleReplCommand(input string, state *replState, rl *readline.Instance) bool {
	fields := strings.Fields(input)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch strings.ToLower(fields[0]) {
	case "/quit", "/exit", "/q":
		fmt.Println("Goodbye!")
		return false
	case "/lang":
		state.language = arg
		prompt := "js"
		if arg != "" {
			prompt = arg
		}
		rl.SetPrompt("\033[36m" + prompt + ">\033[0m ")
	case "/mode":
		state.mode = arg
		fmt.Printf("mode: %s\n", arg)
	case "/rubric":
		state.rubric = arg
		fmt.Printf("rubric: %s\n", arg)
	case "/help":
		fmt.Println("Commands:")
		fmt.Println("  /lang <name>    - Switch language (javascript, typescript)")
		fmt.Println("  /mode <mode>    - raw or evaluate")
		fmt.Println("  /rubric <id>    - Rubric for evaluate mode")
		fmt.Println("  /quit           - Exit")
	default:
		fmt.Printf("Unknown command: %s (try /help)\n", input)
	}
	return true
}
