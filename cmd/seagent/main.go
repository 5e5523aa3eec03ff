// Seagent localizes issues in a repository from hierarchical code summaries.
//
// Usage:
//
//	# HTTP API with /metrics
//	seagent serve --config seagent.yaml
//
//	# MCP over stdio
//	seagent mcp
//
//	# One-shot onboarding and resolution against the local store
//	seagent onboard --repo https://github.com/org/repo --model openai/gpt-4o-mini
//	seagent resolve --thread org-repo --model openai/gpt-4o "nil pointer in handler"
//
// Every setting can be overridden with SEAGENT_<SECTION>_<FIELD> environment
// variables; see internal/config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/agent"
	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seagent",
	Short: "Issue localization over hierarchical code summaries",
	Long: `seagent onboards repositories into file and package summaries, then answers
issue reports with the packages and files most likely involved and a
suggested change.`,
	Version:      fmt.Sprintf("%s (%s)", version, gitCommit),
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, mcpCmd, onboardCmd, resolveCmd, workerCmd, watchCmd)
}

// app holds what every command shares: configuration, logging, telemetry
// and the component stack.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	stack  *agent.Stack
}

// bootstrap loads configuration, then builds telemetry and the logger, then
// opens the stack.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromServiceConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromServiceConfig(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logCfg.Output.Stderr = true
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.Strings("problems", h.Problems))
	}

	stack, err := agent.Open(ctx, cfg, logger)
	if err != nil {
		_ = tel.Shutdown(ctx)
		_ = logger.Sync()
		return nil, fmt.Errorf("initializing dependencies: %w", err)
	}

	logger.Info(ctx, "seagent started",
		zap.String("version", version),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("index", stack.Index != nil),
		zap.Bool("events", stack.Events != nil))
	return &app{cfg: cfg, logger: logger, tel: tel, stack: stack}, nil
}

// close interrupts active runs and flushes telemetry within the configured
// shutdown timeout.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	err := errors.Join(a.stack.Close(ctx), a.tel.Shutdown(ctx))
	_ = a.logger.Sync()
	return err
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withApp runs fn with a bootstrapped app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)
	if err := a.close(); err != nil {
		a.logger.Warn(context.Background(), "shutdown incomplete", zap.Error(err))
	}
	return runErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
