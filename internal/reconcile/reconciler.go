// Package reconcile folds site-crawl listings into the ledger. Daily runs
// discover new records department by department with a page-level early
// stop, weekly runs recover failed work without crawling, monthly runs walk
// the full listing and advance last-seen dates.
package reconcile

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/metrics"
	"github.com/civicdatalab/gr-archiver/internal/stage"
)

// Discovery is one listing row normalized for the ledger. UniqueCode is
// already canonical.
type Discovery struct {
	UniqueCode     string
	Title          string
	DepartmentName string
	DepartmentCode string
	GRDate         string
	SourceURL      string
	CrawlDate      string
}

// Page is one listing page for one department, rows in listing order.
type Page struct {
	Department string
	Index      int
	Records    []Discovery
}

// Source yields site listings. ListDepartment is lazy so the daily early
// stop avoids fetching pages past the first known record.
type Source interface {
	Departments(ctx context.Context) ([]string, error)
	ListDepartment(ctx context.Context, department string) iter.Seq2[Page, error]
}

// Pipeline runs the ledger stages. Implemented by the app wiring so the
// reconciler can trigger post-crawl processing without owning the adapters.
type Pipeline interface {
	RunDownload(ctx context.Context, cfg stage.Config, recoverWithoutDoc bool) (stage.Outcome, error)
	RunWayback(ctx context.Context, cfg stage.Config) (stage.Outcome, error)
	RunArchive(ctx context.Context, cfg stage.Config) (stage.Outcome, error)
}

// Config controls one reconcile run.
type Config struct {
	// CrawlDate is the fallback run date (YYYY-MM-DD) for rows that carry
	// no crawl date of their own.
	CrawlDate string
	// MaxRecords caps inserted (daily/monthly) or reset (weekly) records.
	// Zero means unlimited.
	MaxRecords int
	// DryRun plans without writing the ledger or running stages.
	DryRun bool
	// SkipStages suppresses the post-crawl stage runs.
	SkipStages bool
	// Stage carries the attempt cap and failure limit for post-crawl runs.
	Stage stage.Config
}

// Report summarizes one reconcile run.
type Report struct {
	Mode       string         `json:"mode"`
	Input      int            `json:"input_records"`
	StopPages  int            `json:"stop_pages,omitempty"`
	Discovered []string       `json:"discovered_codes,omitempty"`
	Inserted   []string       `json:"inserted_codes,omitempty"`
	Touched    []string       `json:"touched_codes,omitempty"`
	Reset      []string       `json:"reset_codes,omitempty"`
	DryRun     bool           `json:"dry_run"`
	Download   *stage.Outcome `json:"download,omitempty"`
	Wayback    *stage.Outcome `json:"wayback,omitempty"`
	Archive    *stage.Outcome `json:"archive,omitempty"`
}

// Reconciler drives the three run modes.
type Reconciler struct {
	store    *ledger.Store
	source   Source
	pipeline Pipeline
	log      *zap.Logger
}

// New builds a Reconciler. source may be nil when only weekly runs are
// needed; pipeline may be nil when stages are never triggered.
func New(store *ledger.Store, source Source, pipeline Pipeline, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{store: store, source: source, pipeline: pipeline, log: log}
}

// Daily crawls each department newest-first and inserts records until a page
// contains a code the ledger already knows. Inserted records then flow
// through all three stages, restricted to the new codes.
func (r *Reconciler) Daily(ctx context.Context, cfg Config) (Report, error) {
	if r.source == nil {
		return Report{}, fmt.Errorf("daily reconcile: no crawl source configured")
	}
	report := Report{Mode: "daily", DryRun: cfg.DryRun}

	known := make(map[string]bool)
	for _, code := range r.store.Codes(nil) {
		known[code] = true
	}

	departments, err := r.source.Departments(ctx)
	if err != nil {
		return report, fmt.Errorf("list departments: %w", err)
	}
	sort.Strings(departments)

	var discovered []Discovery
	seen := make(map[string]bool)
	for _, department := range departments {
		stopped, err := r.scanDepartment(ctx, department, known, seen, &report, &discovered)
		if err != nil {
			return report, err
		}
		if stopped {
			report.StopPages++
		}
	}
	if cfg.MaxRecords > 0 && len(discovered) > cfg.MaxRecords {
		discovered = discovered[:cfg.MaxRecords]
	}

	for _, d := range discovered {
		report.Discovered = append(report.Discovered, d.UniqueCode)
		if cfg.DryRun {
			continue
		}
		if _, err := r.store.Insert(recordFor(d), ledger.RunTypeDaily, crawlDate(d, cfg)); err != nil {
			return report, fmt.Errorf("insert %s: %w", d.UniqueCode, err)
		}
		report.Inserted = append(report.Inserted, d.UniqueCode)
		metrics.ObserveReconcile("daily", "inserted")
	}

	r.log.Info("daily reconcile",
		zap.Int("input_records", report.Input),
		zap.Int("stop_pages", report.StopPages),
		zap.Int("discovered", len(report.Discovered)),
		zap.Bool("dry_run", cfg.DryRun))

	if cfg.DryRun || cfg.SkipStages || len(report.Inserted) == 0 || r.pipeline == nil {
		return report, nil
	}
	return report, r.runStages(ctx, &report, stageConfig(cfg, report.Inserted), false)
}

func (r *Reconciler) scanDepartment(
	ctx context.Context,
	department string,
	known, seen map[string]bool,
	report *Report,
	discovered *[]Discovery,
) (bool, error) {
	for page, err := range r.source.ListDepartment(ctx, department) {
		if err != nil {
			return false, fmt.Errorf("list %s: %w", department, err)
		}
		report.Input += len(page.Records)
		pageHasKnown := false
		for _, d := range page.Records {
			if known[d.UniqueCode] {
				pageHasKnown = true
				continue
			}
			if seen[d.UniqueCode] {
				continue
			}
			seen[d.UniqueCode] = true
			*discovered = append(*discovered, d)
		}
		if pageHasKnown {
			r.log.Debug("early stop",
				zap.String("department", department),
				zap.Int("page", page.Index))
			return true, nil
		}
	}
	return false, nil
}

// Weekly never crawls. It resets the download counter for records archived
// without a document, then re-runs the stages so recovered downloads attach
// to their existing archive items.
func (r *Reconciler) Weekly(ctx context.Context, cfg Config) (Report, error) {
	report := Report{Mode: "weekly", DryRun: cfg.DryRun}

	resettable := r.store.Codes(func(rec ledger.Record) bool {
		return rec.State == ledger.StateArchivedWithoutDoc
	})
	if cfg.MaxRecords > 0 && len(resettable) > cfg.MaxRecords {
		resettable = resettable[:cfg.MaxRecords]
	}
	for _, code := range resettable {
		if cfg.DryRun {
			report.Reset = append(report.Reset, code)
			continue
		}
		if _, err := r.store.ResetAttempts(code, ledger.StageDownload); err != nil {
			return report, fmt.Errorf("reset attempts %s: %w", code, err)
		}
		report.Reset = append(report.Reset, code)
		metrics.ObserveReconcile("weekly", "reset")
	}

	r.log.Info("weekly reconcile",
		zap.Int("reset", len(report.Reset)),
		zap.Bool("dry_run", cfg.DryRun))

	if cfg.DryRun || cfg.SkipStages || r.pipeline == nil {
		return report, nil
	}
	return report, r.runStages(ctx, &report, stageConfig(cfg, nil), true)
}

// Monthly walks the full listing: unknown codes are inserted, known codes
// only have their last-seen crawl date advanced. Stages never run.
func (r *Reconciler) Monthly(ctx context.Context, cfg Config) (Report, error) {
	if r.source == nil {
		return Report{}, fmt.Errorf("monthly reconcile: no crawl source configured")
	}
	report := Report{Mode: "monthly", DryRun: cfg.DryRun}

	departments, err := r.source.Departments(ctx)
	if err != nil {
		return report, fmt.Errorf("list departments: %w", err)
	}
	sort.Strings(departments)

	best := make(map[string]Discovery)
	for _, department := range departments {
		for page, err := range r.source.ListDepartment(ctx, department) {
			if err != nil {
				return report, fmt.Errorf("list %s: %w", department, err)
			}
			report.Input += len(page.Records)
			for _, d := range page.Records {
				existing, ok := best[d.UniqueCode]
				if !ok || betterDiscovery(d, existing) {
					best[d.UniqueCode] = d
				}
			}
		}
	}

	codes := make([]string, 0, len(best))
	for code := range best {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	if cfg.MaxRecords > 0 && len(codes) > cfg.MaxRecords {
		codes = codes[:cfg.MaxRecords]
	}

	for _, code := range codes {
		d := best[code]
		_, err := r.store.Lookup(code)
		switch {
		case err == nil:
			if !cfg.DryRun {
				if _, err := r.store.Touch(code, crawlDate(d, cfg)); err != nil {
					return report, fmt.Errorf("touch %s: %w", code, err)
				}
			}
			report.Touched = append(report.Touched, code)
			metrics.ObserveReconcile("monthly", "touched")
		default:
			if !cfg.DryRun {
				if _, err := r.store.Insert(recordFor(d), ledger.RunTypeMonthly, crawlDate(d, cfg)); err != nil {
					return report, fmt.Errorf("insert %s: %w", code, err)
				}
			}
			report.Inserted = append(report.Inserted, code)
			metrics.ObserveReconcile("monthly", "inserted")
		}
	}

	r.log.Info("monthly reconcile",
		zap.Int("input_records", report.Input),
		zap.Int("inserted", len(report.Inserted)),
		zap.Int("touched", len(report.Touched)),
		zap.Bool("dry_run", cfg.DryRun))
	return report, nil
}

func (r *Reconciler) runStages(ctx context.Context, report *Report, cfg stage.Config, recoverWithoutDoc bool) error {
	download, err := r.pipeline.RunDownload(ctx, cfg, recoverWithoutDoc)
	if err != nil {
		return fmt.Errorf("download stage: %w", err)
	}
	report.Download = &download

	wayback, err := r.pipeline.RunWayback(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wayback stage: %w", err)
	}
	report.Wayback = &wayback

	archive, err := r.pipeline.RunArchive(ctx, cfg)
	if err != nil {
		return fmt.Errorf("archive stage: %w", err)
	}
	report.Archive = &archive
	return nil
}

func stageConfig(cfg Config, codes []string) stage.Config {
	out := cfg.Stage
	out.MaxRecords = cfg.MaxRecords
	if len(codes) > 0 {
		filter := make(map[string]bool, len(codes))
		for _, code := range codes {
			filter[code] = true
		}
		out.CodeFilter = filter
	}
	return out
}

func recordFor(d Discovery) ledger.Record {
	code := d.DepartmentCode
	if code == "" {
		code = ledger.DepartmentCodeFromName(d.DepartmentName)
	}
	return ledger.Record{
		UniqueCode:     d.UniqueCode,
		Title:          d.Title,
		DepartmentName: d.DepartmentName,
		DepartmentCode: code,
		GRDate:         d.GRDate,
		SourceURL:      d.SourceURL,
	}
}

func crawlDate(d Discovery, cfg Config) string {
	if d.CrawlDate != "" {
		return d.CrawlDate
	}
	return cfg.CrawlDate
}

// betterDiscovery prefers the row with more populated fields, breaking ties
// toward the later crawl date.
func betterDiscovery(candidate, existing Discovery) bool {
	cs, es := discoveryScore(candidate), discoveryScore(existing)
	if cs != es {
		return cs > es
	}
	return candidate.CrawlDate > existing.CrawlDate
}

func discoveryScore(d Discovery) int {
	score := 0
	for _, v := range []string{d.Title, d.DepartmentName, d.GRDate, d.SourceURL} {
		if v != "" {
			score++
		}
	}
	return score
}
