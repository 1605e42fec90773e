package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ggonzalez94/v3swap/internal/config"
	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
	"github.com/ggonzalez94/v3swap/internal/logging"
	"github.com/ggonzalez94/v3swap/internal/model"
	"github.com/ggonzalez94/v3swap/internal/out"
	"github.com/ggonzalez94/v3swap/internal/policy"
	"github.com/ggonzalez94/v3swap/internal/schema"
	"github.com/ggonzalez94/v3swap/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner     *Runner
	configPath string
	settings   config.Settings
	log        *zap.Logger
	session    *session
	root       *cobra.Command

	lastCommand  string
	lastWarnings []string
	// lastData is rendered with an error envelope, e.g. a partial swap report.
	lastData any
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	state := &runtimeState{runner: r, log: zap.NewNop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	state.close()
	if err == nil {
		return 0
	}

	state.renderError("", err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Uniswap V3 swap pipeline for EVM wallets",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s.lastCommand = trimRootPath(cmd.CommandPath())
			if cmd.Name() == "help" || cmd.Name() == "version" || cmd.Name() == "schema" {
				return nil
			}
			settings, err := config.Load(s.configPath, cmd.Flags())
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			if err := policy.CheckCommandAllowed(settings.EnableCommands, s.lastCommand, transacts(cmd)); err != nil {
				return err
			}

			logger, err := logging.New(settings.LogLevel)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "configure logging", err)
			}
			s.log = logger.With(zap.String("command", s.lastCommand))
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&s.configPath, "config", "", "Path to config file")
	pf.String("rpc-url", "", "JSON-RPC endpoint (default local node, or the chain's public endpoint with --chain-id)")
	pf.Int64("chain-id", 0, "Expected chain ID (auto-detected from the endpoint when unset)")
	pf.Duration("timeout", 2*time.Minute, "Overall command timeout")
	pf.String("log-level", "info", "Log level (debug|info|warn|error)")
	pf.StringP("output", "o", "json", "Output format (json|plain|yaml)")
	pf.String("select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	pf.Bool("results-only", false, "Output only data payload")
	pf.String("enable-commands", "", "Allowlist command paths (comma-separated; read-only admits every non-transacting command)")
	pf.String("key-source", "auto", "Signing key source (auto|env|file|keystore)")
	pf.String("slippage", "0.05", "Slippage tolerance as a fraction in [0, 1)")
	pf.Duration("deadline", 10*time.Minute, "Swap deadline relative to now")
	pf.String("gas-strategy", execution.GasStrategyEstimate, "Gas limit strategy (estimate|fixed)")
	pf.Uint64("gas-margin", 50000, "Gas added on top of the estimate")
	pf.Uint64("gas-limit", 500000, "Fixed gas limit, also used when estimation fails")
	pf.String("max-fee-gwei", "", "Cap on max fee per gas in gwei")
	pf.String("max-priority-fee-gwei", "", "Priority fee per gas in gwei (default node suggestion)")
	pf.Duration("receipt-timeout", 2*time.Minute, "How long to wait for each receipt")
	pf.Bool("simulate", true, "Simulate each transaction with eth_call before sending")
	pf.Bool("exact-output-fallback", true, "Retry a reverted swap once as exact output")
	pf.Bool("approval-reset", true, "Reset a nonzero allowance to zero before raising it")
	pf.String("factory", "", "Uniswap V3 factory address override")
	pf.String("quoter", "", "QuoterV2 address override")
	pf.String("router", "", "SwapRouter address override")
	pf.String("weth", "", "WETH9 address override")

	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(s.newTokenCommand())
	cmd.AddCommand(s.newBalancesCommand())
	cmd.AddCommand(s.newPoolCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newWrapCommand())
	cmd.AddCommand(s.newUnwrapCommand())
	cmd.AddCommand(s.newApproveCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Describe commands and flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			s.settings.OutputMode = out.ModeJSON
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil)
		},
	}
}

// transacts reports whether this invocation of cmd submits transactions.
func transacts(cmd *cobra.Command) bool {
	if !schema.Transacts(cmd) {
		return false
	}
	if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Value.String() == "true" {
		return false
	}
	return true
}

// commandContext bounds a command by the configured timeout.
func (s *runtimeState) commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, s.settings.Timeout)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	s.log.Error("command failed", zap.Error(err), zap.Int("code", clierr.ExitCode(err)))

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = out.ModeJSON
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	data := s.lastData
	if data == nil {
		data = []any{}
	}
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  false,
		Data:     data,
		Error:    model.NewErrorBody(err),
		Warnings: s.lastWarnings,
		Meta:     s.meta(commandPath),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	meta := model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
	}
	if s.session != nil {
		meta.ChainID = s.session.chainID
		if s.session.signer != nil {
			meta.Wallet = s.session.signer.Address().Hex()
		}
	}
	return meta
}

func (s *runtimeState) close() {
	if s.session != nil {
		s.session.close()
	}
	_ = s.log.Sync()
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.TrimSpace(part)
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
