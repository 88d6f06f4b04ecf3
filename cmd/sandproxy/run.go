package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caffeineduck/sandproxy/executor"
	"github.com/caffeineduck/sandproxy/script"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var jsCmd = &cobra.Command{
	Use:   "js [file]",
	Short: "Run JavaScript against the sandbox",
	Long: `Execute JavaScript with the sandbox bridge installed.

Guest code reaches the host only through these globals:
  call(name, ...args)   dispatch a function through the policy
  constant(name)        read a constant
  magic(name)           read a magic constant
  global(name[, key])   read a superglobal table or one of its keys
  box(str)              wrap a string the way string interception does

Code can be provided via:
  - File argument: sandproxy js script.js
  - Inline flag: sandproxy js -c 'call("strtoupper", "hi")'
  - Stdin: echo 'constant("EOL")' | sandproxy js`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJS,
}

var wasmCmd = &cobra.Command{
	Use:   "wasm <module.wasm> [guest args...]",
	Short: "Run a WASI module against the sandbox",
	Long: `Execute a WebAssembly (WASI preview 1) module under wazero.

The guest calls host functions by writing framed requests to stderr:
  \x00SANDPROXY:{"id":"1","fn":"strtoupper","args":["hi"]}\x00
and reads one JSON response line per call on stdin. Every call is checked
against the policy before it reaches a host function.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWasm,
}

func init() {
	addHostFlags(jsCmd)
	jsCmd.Flags().StringP("code", "c", "", "Code to execute")
	jsCmd.Flags().Duration("timeout", script.DefaultConfig().Timeout, "Execution timeout")
	jsCmd.Flags().Int("max-stack", script.DefaultConfig().MaxCallStackSize, "Max JavaScript call stack depth")
	jsCmd.Flags().Bool("no-console", false, "Do not capture console output")

	addHostFlags(wasmCmd)
	wasmCmd.Flags().StringP("code", "c", "", "Code passed to the guest as its last argument")
	wasmCmd.Flags().Duration("timeout", 30*time.Second, "Execution timeout")
	wasmCmd.Flags().String("memory", "256mb", "Memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")
	wasmCmd.Flags().Bool("no-cache", false, "Disable compilation cache")
	wasmCmd.Flags().StringToString("env", nil, "Guest environment KEY=VALUE (repeatable)")

	rootCmd.AddCommand(jsCmd, wasmCmd)
}

// readSource picks code from -c, a file argument or piped stdin, in that
// order.
func readSource(cmd *cobra.Command, args []string) (string, error) {
	if code, _ := cmd.Flags().GetString("code"); code != "" {
		return code, nil
	}
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("no code: pass a file, -c or pipe stdin")
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runJS(cmd *cobra.Command, args []string) error {
	src, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	sb, err := newSandbox(cmd)
	if err != nil {
		return err
	}

	rc := script.DefaultConfig()
	rc.Timeout, _ = cmd.Flags().GetDuration("timeout")
	rc.MaxCallStackSize, _ = cmd.Flags().GetInt("max-stack")
	if noConsole, _ := cmd.Flags().GetBool("no-console"); noConsole {
		rc.EnableConsole = false
	}

	res, err := script.New(sb, rc).Run(context.Background(), src)
	if res != nil {
		for _, entry := range res.Console {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", entry.Level, entry.Message)
		}
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res.Value)
}

func runWasm(cmd *cobra.Command, args []string) error {
	module, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	sb, err := newSandbox(cmd)
	if err != nil {
		return err
	}

	code, _ := cmd.Flags().GetString("code")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	memory, _ := cmd.Flags().GetString("memory")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	env, _ := cmd.Flags().GetStringToString("env")

	execOpts := []executor.ExecutorOption{executor.WithLogger(logger)}
	if !noCache {
		execOpts = append(execOpts, executor.WithDiskCache())
	}
	if pages := parseMemoryLimit(memory); pages > 0 {
		execOpts = append(execOpts, executor.WithMemoryLimit(pages))
	}

	exec, err := executor.New(sb, execOpts...)
	if err != nil {
		return err
	}
	defer exec.Close()

	runOpts := []executor.Option{executor.WithTimeout(timeout)}
	for k, v := range env {
		runOpts = append(runOpts, executor.WithEnv(k, v))
	}

	lang := executor.NewRaw(filepath.Base(args[0]), module, args[1:]...)
	result := exec.Run(context.Background(), lang, code, runOpts...)
	fmt.Fprint(cmd.OutOrStdout(), result.Output)
	logger.Debug("wasm run finished",
		zap.Duration("duration", result.Duration),
		zap.Int("calls", result.Calls),
	)
	return result.Error
}
