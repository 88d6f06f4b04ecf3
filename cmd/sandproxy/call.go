package main

import (
	"context"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <function> [args...]",
	Short: "Dispatch one call through the policy",
	Long: `Dispatch a single function call and print the result as JSON.

Each argument is parsed as JSON when it can be, otherwise it is passed as
a plain string:
  sandproxy call -p policy.toml strtoupper hello
  sandproxy call -p policy.toml implode '","' '["a","b"]'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the identity hash of a policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sb, err := newSandbox(cmd)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sb.Hash())
		return nil
	},
}

var functionsCmd = &cobra.Command{
	Use:   "functions",
	Short: "List the functions guest code can call",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sb, err := newSandbox(cmd)
		if err != nil {
			return err
		}
		for _, name := range sb.Functions().Defined() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	addHostFlags(callCmd)
	addHostFlags(functionsCmd)
	rootCmd.AddCommand(callCmd, hashCmd, functionsCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	sb, err := newSandbox(cmd)
	if err != nil {
		return err
	}
	out, err := sb.Dispatch(context.Background(), args[0], parseArgs(args[1:])...)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

// parseArgs decodes each word as JSON, keeping it as a string when it is
// not valid JSON.
func parseArgs(words []string) []any {
	out := make([]any, len(words))
	for i, w := range words {
		var v any
		if err := sonic.UnmarshalString(w, &v); err != nil {
			v = w
		}
		out[i] = v
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
