package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qter21/legal-codes-search-api/internal/output"
	"github.com/qter21/legal-codes-search-api/internal/search"
)

func newClassifyCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "classify <query>",
		Short: "Show how a query would be routed",
		Long: `Classify a query as simple (keyword index only) or complex (keyword and
vector indexes fused), and list the signals behind the decision.

No index is opened.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := search.Classify(strings.Join(args, " "))
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}

			w := output.New(cmd.OutOrStdout())
			w.Header(fmt.Sprintf("%s query", c.Decision))
			w.KeyValue("simple", fmt.Sprintf("%d", c.SimpleScore))
			w.KeyValue("complex", fmt.Sprintf("%d", c.ComplexScore))
			if c.CodeHint != "" {
				w.KeyValue("code", c.CodeHint)
			}
			if c.SectionHint != "" {
				w.KeyValue("section", c.SectionHint)
			}
			if len(c.Signals) > 0 {
				w.KeyValue("signals", strings.Join(c.Signals, ", "))
			}
			w.KeyValue("reason", c.Reason)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
