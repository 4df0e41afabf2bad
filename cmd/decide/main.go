package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"decisiondesk-backend/bootstrap"
	"decisiondesk-backend/config"
	"decisiondesk-backend/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configFile string
	timeout    time.Duration

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "decide",
	Short: "Answer business questions from insights and policies",
	Long: `decide runs the decision pipeline from the command line.

It normalizes computed insights, retrieves relevant policies, produces a
four-section report (generative when a backend is configured, rule-based
otherwise) and records every decision in the audit ledger.

Configuration comes from the same .env, config file and environment
variables as the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level, "console")
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML or TOML config file (or set CONFIG_FILE)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Operation timeout")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditExportCmd)

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(auditCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp loads configuration and wires the pipeline. The returned context
// ends on timeout or SIGINT/SIGTERM.
func openApp() (context.Context, *bootstrap.App, func(), error) {
	config.LoadDotEnv()

	path := configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		stop()
		cancel()
		return nil, nil, nil, err
	}
	if _, err := app.LoadPolicies(ctx); err != nil {
		logger.Warn("policy directory not indexed", zap.Error(err))
	}

	cleanup := func() {
		if err := app.Close(); err != nil {
			logger.Warn("failed to close application", zap.Error(err))
		}
		stop()
		cancel()
	}
	return ctx, app, cleanup, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Report written to %s\n", path)
	return nil
}
