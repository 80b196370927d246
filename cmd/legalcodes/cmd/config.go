package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qter21/legal-codes-search-api/configs"
	"github.com/qter21/legal-codes-search-api/internal/config"
	"github.com/qter21/legal-codes-search-api/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the user config, .legalcodes.yaml,
.env and LEGALCODES_* variables are applied. The API key is never printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			}
			redacted := *cfg
			if redacted.Embeddings.APIKey != "" {
				redacted.Embeddings.APIKey = "********"
			}
			data, err := yaml.Marshal(&redacted)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	var sourcePath string
	var sourceKind string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an annotated .legalcodes.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := configDir
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to get working directory: %w", err)
				}
				dir = wd
			}
			path := filepath.Join(dir, config.ProjectFileName)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			switch sourceKind {
			case "", "jsonl", "sqlite":
			default:
				return fmt.Errorf("source kind must be jsonl or sqlite, got %q", sourceKind)
			}
			body, err := configs.RenderProjectConfig(configs.ProjectValues{
				SourceKind: sourceKind,
				SourcePath: sourcePath,
				DataDir:    config.NewConfig().Storage.DataDir,
			})
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}

			w := output.New(cmd.OutOrStdout())
			w.Successf("Wrote %s", path)
			if sourcePath == "" {
				w.Warning("source.path is empty; set it before running 'legalcodes sync'")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringVar(&sourcePath, "source", "", "Path to the source JSONL file or SQLite database")
	cmd.Flags().StringVar(&sourceKind, "kind", "", "Source kind: jsonl or sqlite")

	return cmd
}
