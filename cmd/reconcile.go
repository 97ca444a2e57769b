package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicdatalab/gr-archiver/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	var (
		mode       string
		crawlDate  string
		maxRecords int
		dryRun     bool
		skipStages bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile site listings into the ledger",
		Long: `Runs one reconciliation pass. Daily crawls each department with a
page-level early stop and processes new records through all stages. Weekly
skips the crawl and retries failed work, including download recovery for
records archived without a document. Monthly walks the full listing,
inserting unknown records and advancing last-seen dates for known ones.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			cfg := reconcile.Config{
				CrawlDate:  crawlDate,
				MaxRecords: maxRecords,
				DryRun:     dryRun,
				SkipStages: skipStages,
				Stage:      a.StageConfig(),
			}
			if cfg.CrawlDate == "" {
				cfg.CrawlDate = time.Now().UTC().Format("2006-01-02")
			}

			started := time.Now()
			r := a.Reconciler()
			var report reconcile.Report
			switch mode {
			case "daily":
				report, err = r.Daily(cmd.Context(), cfg)
			case "weekly":
				report, err = r.Weekly(cmd.Context(), cfg)
			case "monthly":
				report, err = r.Monthly(cmd.Context(), cfg)
			default:
				return fmt.Errorf("invalid --mode %q, want daily, weekly, or monthly", mode)
			}
			publishRunEvent(cmd.Context(), a, "reconcile", mode, started, err, report)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "run mode: daily, weekly, or monthly")
	cmd.Flags().StringVar(&crawlDate, "crawl-date", "", "override crawl date (YYYY-MM-DD, default today UTC)")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "cap on records applied (0 = unlimited)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan actions without writing the ledger")
	cmd.Flags().BoolVar(&skipStages, "skip-stages", false, "skip the post-crawl stage runs")
	_ = cmd.MarkFlagRequired("mode")
	return cmd
}
