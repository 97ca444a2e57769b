// Package app initializes and holds the long-lived services shared by the
// CLI commands, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/archiveorg"
	"github.com/civicdatalab/gr-archiver/internal/artifact"
	"github.com/civicdatalab/gr-archiver/internal/clock"
	"github.com/civicdatalab/gr-archiver/internal/config"
	"github.com/civicdatalab/gr-archiver/internal/crawlsite"
	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/logging"
	"github.com/civicdatalab/gr-archiver/internal/metrics"
	"github.com/civicdatalab/gr-archiver/internal/publisher"
	"github.com/civicdatalab/gr-archiver/internal/publisher/memory"
	pubsubpub "github.com/civicdatalab/gr-archiver/internal/publisher/pubsub"
	"github.com/civicdatalab/gr-archiver/internal/reconcile"
	"github.com/civicdatalab/gr-archiver/internal/stage"
	"github.com/civicdatalab/gr-archiver/internal/wayback"
)

// App holds the shared services: logger, ledger store, crawl source, stage
// clients, artifact syncer, and event publisher. Initialized once at startup
// and carried through the command context.
type App struct {
	Cfg    config.Config
	Log    *zap.Logger
	Store  *ledger.Store
	Source reconcile.Source
	Events publisher.Publisher
	Syncer artifact.Syncer

	fetcher  stage.Fetcher
	wayback  stage.Submitter
	uploader stage.Uploader
}

// New builds an App from cfg, failing fast when any service cannot be
// initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	metrics.Init()

	store, err := ledger.Open(cfg.Ledger.Dir, ledger.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	for _, partition := range store.Partitions() {
		metrics.SetLedgerRecords(partition, store.PartitionLen(partition))
	}

	a := &App{
		Cfg:   cfg,
		Log:   log,
		Store: store,
		Source: crawlsite.New(crawlsite.Config{
			BaseURL:   cfg.Crawl.BaseURL,
			UserAgent: cfg.Crawl.UserAgent,
			Timeout:   cfg.CrawlTimeout(),
			MaxPages:  cfg.Crawl.MaxPages,
			Delay:     time.Duration(cfg.Crawl.DelayMs) * time.Millisecond,
		}, log),
		fetcher: stage.NewHTTPFetcher(cfg.DownloadTimeout()),
		wayback: wayback.New(wayback.Config{
			SaveURL:      cfg.Wayback.SaveURL,
			AccessKey:    cfg.Wayback.AccessKey,
			SecretKey:    cfg.Wayback.SecretKey,
			CaptureAll:   cfg.Wayback.CaptureAll,
			Timeout:      time.Duration(cfg.Wayback.TimeoutSeconds) * time.Second,
			PollInterval: time.Duration(cfg.Wayback.PollIntervalSec) * time.Second,
			PollTimeout:  time.Duration(cfg.Wayback.PollTimeoutSec) * time.Second,
		}, log),
		uploader: archiveorg.New(archiveorg.Config{
			UploadURL: cfg.Archive.UploadURL,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Timeout:   time.Duration(cfg.Archive.TimeoutSeconds) * time.Second,
		}, log),
	}

	if a.Events, err = newPublisher(ctx, cfg, log); err != nil {
		return nil, err
	}
	if a.Syncer, err = newSyncer(ctx, cfg, log); err != nil {
		return nil, err
	}
	return a, nil
}

func newPublisher(ctx context.Context, cfg config.Config, log *zap.Logger) (publisher.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		log.Info("no pubsub project configured, run events stay in memory")
		return memory.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	log.Info("publishing run events", zap.String("topic", cfg.PubSub.TopicName))
	return pubsubpub.New(client), nil
}

func newSyncer(ctx context.Context, cfg config.Config, log *zap.Logger) (artifact.Syncer, error) {
	switch cfg.Sync.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		return artifact.NewGCSSyncer(client, cfg.Sync.GCSBucket, cfg.Sync.GCSPrefix, clock.System{}, log)
	default:
		return artifact.NewLocalSyncer(cfg.Sync.LocalDir, clock.System{}, log)
	}
}

// StageConfig maps the configured retry policy into a stage run config.
func (a *App) StageConfig() stage.Config {
	return stage.Config{
		AttemptCap:   a.Cfg.Stage.AttemptCap,
		FailureLimit: a.Cfg.Stage.FailureLimit,
		MaxRecords:   a.Cfg.Stage.MaxRecords,
	}
}

// Reconciler builds the reconcile driver over the app services.
func (a *App) Reconciler() *reconcile.Reconciler {
	return reconcile.New(a.Store, a.Source, a, a.Log)
}

// RunDownload implements reconcile.Pipeline.
func (a *App) RunDownload(ctx context.Context, cfg stage.Config, recoverWithoutDoc bool) (stage.Outcome, error) {
	adapter := stage.NewDownloadAdapter(a.fetcher, a.Cfg.Download.LFSRoot, a.Log)
	adapter.RecoverWithoutDoc = recoverWithoutDoc
	return stage.NewRunner(a.Store, adapter, cfg, a.Log).Run(ctx)
}

// RunWayback implements reconcile.Pipeline.
func (a *App) RunWayback(ctx context.Context, cfg stage.Config) (stage.Outcome, error) {
	adapter := stage.NewWaybackAdapter(a.wayback, a.Log)
	return stage.NewRunner(a.Store, adapter, cfg, a.Log).Run(ctx)
}

// RunArchive implements reconcile.Pipeline.
func (a *App) RunArchive(ctx context.Context, cfg stage.Config) (stage.Outcome, error) {
	adapter := stage.NewArchiveAdapter(a.uploader, a.Cfg.Archive.ItemPrefix, a.Log)
	return stage.NewRunner(a.Store, adapter, cfg, a.Log).Run(ctx)
}

// Close flushes the logger.
func (a *App) Close() {
	_ = a.Log.Sync()
}
