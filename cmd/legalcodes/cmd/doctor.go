package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/preflight"
)

// errChecksFailed is returned when a required doctor check fails.
var errChecksFailed = errors.New("system check failed")

type doctorReport struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
}

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool
	var verbose bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that sync and search can run",
		Long: `Run system checks: configuration, data directory permissions, disk space,
file descriptor limit, source readability, sync lease, and the embedding
model (skipped with --offline).

Exits non-zero when a required check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd, jsonOutput, verbose, offline)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for passing checks")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the embedding model check")

	return cmd
}

func runDoctor(ctx context.Context, cmd *cobra.Command, jsonOutput, verbose, offline bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []preflight.Option{
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithVerbose(verbose),
	}
	if !offline {
		embedder, err := embed.New(cfg.Embeddings, embed.ForQuery)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		defer func() { _ = embedder.Close() }()
		opts = append(opts, preflight.WithEmbedder(embedder))
	}

	checker := preflight.New(cfg, opts...)
	results := checker.RunAll(ctx)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(doctorReport{Status: checker.SummaryStatus(results), Checks: results}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return errChecksFailed
	}
	return nil
}
