package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/civicdatalab/gr-archiver/internal/validate"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the raw ledger files for schema and invariant violations",
		Long: `Reads the partition files directly, without the in-memory index,
and reports malformed rows, schema violations, unknown or unreachable
states, misplaced partitions, and duplicate identities. Mutates nothing.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			report, err := validate.New(a.Log).Run(a.Cfg.Ledger.Dir)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("ledger has %d violations", len(report.Violations))
			}
			return nil
		},
	}
	return cmd
}
