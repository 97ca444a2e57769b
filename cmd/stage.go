package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicdatalab/gr-archiver/internal/stage"
)

func newStageCmd() *cobra.Command {
	var (
		maxRecords        int
		codes             []string
		recoverWithoutDoc bool
	)

	cmd := &cobra.Command{
		Use:   "stage {download|wayback|archive}",
		Short: "Run one pipeline stage over eligible ledger records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			cfg := a.StageConfig()
			if maxRecords > 0 {
				cfg.MaxRecords = maxRecords
			}
			if len(codes) > 0 {
				cfg.CodeFilter = make(map[string]bool, len(codes))
				for _, code := range codes {
					cfg.CodeFilter[code] = true
				}
			}

			started := time.Now()
			var outcome stage.Outcome
			switch args[0] {
			case "download":
				outcome, err = a.RunDownload(cmd.Context(), cfg, recoverWithoutDoc)
			case "wayback":
				outcome, err = a.RunWayback(cmd.Context(), cfg)
			case "archive":
				outcome, err = a.RunArchive(cmd.Context(), cfg)
			default:
				return fmt.Errorf("unknown stage %q, want download, wayback, or archive", args[0])
			}
			publishRunEvent(cmd.Context(), a, "stage", args[0], started, err, outcome)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}

	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "cap on records processed (0 = config default)")
	cmd.Flags().StringSliceVar(&codes, "code", nil, "restrict the run to these unique codes (repeatable)")
	cmd.Flags().BoolVar(&recoverWithoutDoc, "recover-without-doc", false, "download stage only: include records archived without a document")
	return cmd
}
