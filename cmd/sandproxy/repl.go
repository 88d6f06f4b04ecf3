package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/sandproxy/sandbox"
	"github.com/chzyer/readline"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive dispatch against one sandbox",
	Long: `Start an interactive loop that dispatches one call per line.

Each line is split like a shell command: the first word names the
function, the rest are arguments (JSON when they parse, strings otherwise).
  >>> strtoupper "hello world"
  >>> implode , '["a","b"]'

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)
  - :hash and :functions inspect the sandbox

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	addHostFlags(replCmd)
	replCmd.Flags().String("history", "", "History file path (default: ~/.sandproxy_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, _ []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".sandproxy_history")
	}

	sb, err := newSandbox(cmd)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(os.Stderr, "sandproxy %s (type 'exit' to quit, Ctrl+D to exit)\n", sb.Hash()[:12])

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if err := evalLine(context.Background(), sb, line, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
}

// evalLine runs one repl line against sb and prints the outcome to w.
func evalLine(ctx context.Context, sb *sandbox.Sandbox, line string, w io.Writer) error {
	switch line {
	case ":hash":
		_, err := fmt.Fprintln(w, sb.Hash())
		return err
	case ":functions":
		for _, name := range sb.Functions().Defined() {
			fmt.Fprintln(w, name)
		}
		return nil
	}

	words, err := shellquote.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(words) == 0 {
		return nil
	}

	out, err := sb.Dispatch(ctx, words[0], parseArgs(words[1:])...)
	if err != nil {
		return err
	}
	return printJSON(w, out)
}
