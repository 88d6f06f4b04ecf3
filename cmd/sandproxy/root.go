package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/caffeineduck/sandproxy/executor"
	"github.com/caffeineduck/sandproxy/hostfunc"
	"github.com/caffeineduck/sandproxy/internal/config"
	"github.com/caffeineduck/sandproxy/internal/logging"
	"github.com/caffeineduck/sandproxy/policy"
	"github.com/caffeineduck/sandproxy/sandbox"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    = &config.Config{LogLevel: "warn", Addr: ":8080"}
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "sandproxy",
	Short: "Policy-checked function dispatch for sandboxed code",
	Long: `sandproxy - Route sandboxed calls through an allow-list policy.

A policy names the functions, constants and superglobals guest code may
reach, plus overrides that shadow host functions. Policies load from TOML,
YAML or JSON and layer left to right (-p base.toml -p overlay.yaml).
Sandboxes with equivalent policies share one identity hash.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceP("policy", "p", nil, "Policy file, repeatable (default: $SANDPROXY_POLICY)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default: $SANDPROXY_LOG_LEVEL)")
	rootCmd.PersistentFlags().Bool("log-dev", false, "Human readable console logs")
}

// setup reads SANDPROXY_* settings, lets flags override them and builds
// the process logger.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	flags := cmd.Root().PersistentFlags()
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if flags.Changed("log-dev") {
		cfg.LogDev, _ = flags.GetBool("log-dev")
	}

	l, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.LogDev})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logger = l
	return nil
}

func policyFiles(cmd *cobra.Command) []string {
	files, _ := cmd.Root().PersistentFlags().GetStringSlice("policy")
	if len(files) == 0 {
		files = cfg.PolicyFiles()
	}
	return files
}

// loadPolicy layers the configured policy files. Without any file the
// policy is empty and denies everything.
func loadPolicy(cmd *cobra.Command) (*policy.Policy, error) {
	files := policyFiles(cmd)
	if len(files) == 0 {
		return policy.New(), nil
	}
	return policy.Load(files...)
}

func addHostFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("kv", false, "Enable key-value store host functions")
	cmd.Flags().StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	cmd.Flags().StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")

	cmd.Flags().Int("http-max-url", hostfunc.DefaultMaxURLLength, "Max HTTP URL length")
	cmd.Flags().Int64("http-max-body", hostfunc.DefaultMaxBodySize, "Max HTTP response body size")
	cmd.Flags().Int64("fs-max-file", hostfunc.DefaultMaxFileSize, "Max file read size")
	cmd.Flags().Int64("fs-max-write", hostfunc.DefaultMaxWriteSize, "Max file write size")
	cmd.Flags().Int("fs-max-path", hostfunc.DefaultMaxPathLength, "Max path length")
}

// buildHost assembles the host function table: the string library plus
// whatever capabilities the flags enable. The policy still decides which
// of them guest code may reach.
func buildHost(cmd *cobra.Command) (*hostfunc.Registry, error) {
	host := hostfunc.Stdlib()

	if enableKV, _ := cmd.Flags().GetBool("kv"); enableKV {
		hostfunc.NewKV(hostfunc.DefaultKVConfig()).Install(host)
	}

	if hosts, _ := cmd.Flags().GetStringSlice("allow-host"); len(hosts) > 0 {
		maxURL, _ := cmd.Flags().GetInt("http-max-url")
		maxBody, _ := cmd.Flags().GetInt64("http-max-body")
		hostfunc.NewHTTP(hostfunc.HTTPConfig{
			AllowedHosts: hosts,
			MaxURLLength: maxURL,
			MaxBodySize:  maxBody,
		}).Install(host)
	}

	if specs, _ := cmd.Flags().GetStringSlice("mount"); len(specs) > 0 {
		mounts := make([]hostfunc.Mount, 0, len(specs))
		for _, spec := range specs {
			m, err := parseMount(spec)
			if err != nil {
				return nil, err
			}
			mounts = append(mounts, m)
		}
		maxFile, _ := cmd.Flags().GetInt64("fs-max-file")
		maxWrite, _ := cmd.Flags().GetInt64("fs-max-write")
		maxPath, _ := cmd.Flags().GetInt("fs-max-path")
		hostfunc.NewFS(mounts,
			hostfunc.WithMaxFileSize(maxFile),
			hostfunc.WithMaxWriteSize(maxWrite),
			hostfunc.WithMaxPathLength(maxPath),
		).Install(host)
	}

	return host, nil
}

func newSandbox(cmd *cobra.Command) (*sandbox.Sandbox, error) {
	p, err := loadPolicy(cmd)
	if err != nil {
		return nil, err
	}
	host, err := buildHost(cmd)
	if err != nil {
		return nil, err
	}
	return sandbox.New(p, nil, sandbox.WithHost(host), sandbox.WithLogger(logger))
}

func parseMount(spec string) (hostfunc.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}

	var mode hostfunc.MountMode
	switch parts[2] {
	case "ro":
		mode = hostfunc.MountReadOnly
	case "rw":
		mode = hostfunc.MountReadWrite
	case "rwc":
		mode = hostfunc.MountReadWriteCreate
	default:
		return hostfunc.Mount{}, fmt.Errorf("invalid mount mode %q (expected ro, rw, or rwc)", parts[2])
	}

	return hostfunc.Mount{
		VirtualPath: parts[0],
		HostPath:    parts[1],
		Mode:        mode,
	}, nil
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "1mb":
		return executor.MemoryLimit1MB
	case "16mb":
		return executor.MemoryLimit16MB
	case "64mb":
		return executor.MemoryLimit64MB
	case "256mb":
		return executor.MemoryLimit256MB
	case "1gb":
		return executor.MemoryLimit1GB
	default:
		return 0
	}
}
