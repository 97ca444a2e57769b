package app_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdatalab/gr-archiver/internal/app"
	"github.com/civicdatalab/gr-archiver/internal/config"
	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/publisher/memory"
	"github.com/civicdatalab/gr-archiver/internal/reconcile"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	base := t.TempDir()
	cfg.Ledger.Dir = filepath.Join(base, "ledger")
	cfg.Download.LFSRoot = filepath.Join(base, "documents")
	cfg.Sync.LocalDir = filepath.Join(base, "mirror")
	return cfg
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Source)
	assert.NotNil(t, a.Syncer)
	assert.IsType(t, &memory.Publisher{}, a.Events, "no pubsub project means in-memory events")

	sc := a.StageConfig()
	assert.Equal(t, cfg.Stage.AttemptCap, sc.AttemptCap)
	assert.Equal(t, cfg.Stage.FailureLimit, sc.FailureLimit)
}

func TestPipelineOverEmptyLedger(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	download, err := a.RunDownload(context.Background(), a.StageConfig(), false)
	require.NoError(t, err)
	assert.Equal(t, ledger.StageDownload, download.Stage)
	assert.Zero(t, download.Selected)

	wayback, err := a.RunWayback(context.Background(), a.StageConfig())
	require.NoError(t, err)
	assert.Zero(t, wayback.Attempted)

	archive, err := a.RunArchive(context.Background(), a.StageConfig())
	require.NoError(t, err)
	assert.Zero(t, archive.Attempted)
}

func TestReconcilerWiring(t *testing.T) {
	a, err := app.New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	r := a.Reconciler()
	require.NotNil(t, r)

	report, err := r.Weekly(context.Background(), reconcile.Config{
		CrawlDate: "2026-03-10",
		Stage:     a.StageConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "weekly", report.Mode)
	assert.Empty(t, report.Reset)
}
