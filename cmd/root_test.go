package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdatalab/gr-archiver/internal/app"
	"github.com/civicdatalab/gr-archiver/internal/config"
)

// withTestApp points the command factory at an app backed by temp
// directories for the duration of one test.
func withTestApp(t *testing.T) {
	t.Helper()
	orig := newApp
	t.Cleanup(func() { newApp = orig })

	newApp = func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load("")
		if err != nil {
			return nil, err
		}
		base := t.TempDir()
		cfg.Ledger.Dir = filepath.Join(base, "ledger")
		cfg.Download.LFSRoot = filepath.Join(base, "documents")
		cfg.Sync.LocalDir = filepath.Join(base, "mirror")
		return app.New(ctx, cfg)
	}
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(context.Background())
}

func TestValidateCommand(t *testing.T) {
	withTestApp(t)
	assert.NoError(t, execute(t, "validate"), "an empty ledger validates clean")
}

func TestReconcileCommand(t *testing.T) {
	withTestApp(t)

	t.Run("ModeRequired", func(t *testing.T) {
		require.Error(t, execute(t, "reconcile"))
	})

	t.Run("InvalidMode", func(t *testing.T) {
		err := execute(t, "reconcile", "--mode", "hourly")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid --mode")
	})

	t.Run("WeeklyOverEmptyLedger", func(t *testing.T) {
		assert.NoError(t, execute(t, "reconcile", "--mode", "weekly"))
	})
}

func TestStageCommand(t *testing.T) {
	withTestApp(t)

	t.Run("UnknownStage", func(t *testing.T) {
		err := execute(t, "stage", "bogus")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown stage")
	})

	t.Run("DownloadOverEmptyLedger", func(t *testing.T) {
		assert.NoError(t, execute(t, "stage", "download"))
	})
}

func TestSyncCommand(t *testing.T) {
	withTestApp(t)
	assert.NoError(t, execute(t, "sync"), "empty ledger and LFS root push empty commits")
}
