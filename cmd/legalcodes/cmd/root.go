// Package cmd provides the CLI commands for legalcodes.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/logging"
	"github.com/qter21/legal-codes-search-api/internal/profiling"
	"github.com/qter21/legal-codes-search-api/pkg/version"
)

var (
	debugMode      bool
	configDir      string
	loggingCleanup func()

	profilePaths   profiling.Paths
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the legalcodes CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legalcodes",
		Short: "Hybrid search over statutory code sections",
		Long: `legalcodes keeps a keyword index and a vector index of statutory code
sections in sync with a source store, and serves hybrid search over them.

Simple lookups ("FAM 3044", "Penal Code 187") go to the keyword index.
Questions in natural language are answered by fusing both indexes.

Run 'legalcodes sync' to build the indexes, then 'legalcodes search' or
'legalcodes serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("legalcodes version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.legalcodes/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "dir", "", "Directory holding .legalcodes.yaml and .env (default: current directory)")

	cmd.PersistentFlags().StringVar(&profilePaths.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profilePaths.Heap, "profile-mem", "", "Write heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&profilePaths.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newClassifyCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newFailuresCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts the requested profiles and installs the
// debug file logger when --debug is set. The serve and mcp commands configure
// their own logging.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if profilePaths.Enabled() {
		s, err := profiling.Start(profilePaths)
		if err != nil {
			return err
		}
		profileSession = s
	}

	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug_logging_enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Version))
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}
	if loggingCleanup != nil {
		slog.Info("debug_logging_stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
