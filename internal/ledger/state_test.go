package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
)

func TestCanTransition(t *testing.T) {
	legal := []struct {
		from, to ledger.State
	}{
		{ledger.StateFetched, ledger.StateDownloadSuccess},
		{ledger.StateFetched, ledger.StateDownloadFailed},
		{ledger.StateDownloadSuccess, ledger.StateWaybackUploaded},
		{ledger.StateDownloadSuccess, ledger.StateWaybackUploadFailed},
		{ledger.StateDownloadFailed, ledger.StateArchivedWithoutDoc},
		{ledger.StateWaybackUploaded, ledger.StateArchivedWithWayback},
		{ledger.StateWaybackUploadFailed, ledger.StateArchivedWithoutWayback},
		{ledger.StateArchivedWithoutDoc, ledger.StateDownloadSuccess},
		{ledger.StateArchivedWithoutDoc, ledger.StateDownloadFailed},
		{ledger.StateArchivedWithoutDoc, ledger.StateArchivedWithWayback},
		{ledger.StateArchivedWithoutDoc, ledger.StateArchivedWithoutWayback},
	}
	for _, tc := range legal {
		assert.True(t, ledger.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	illegal := []struct {
		from, to ledger.State
	}{
		{ledger.StateFetched, ledger.StateWaybackUploaded},
		{ledger.StateDownloadFailed, ledger.StateDownloadSuccess},
		{ledger.StateArchivedWithWayback, ledger.StateFetched},
		{ledger.StateArchivedWithoutWayback, ledger.StateArchivedWithWayback},
		{ledger.StateWaybackUploaded, ledger.StateArchivedWithoutWayback},
	}
	for _, tc := range illegal {
		assert.False(t, ledger.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	t.Run("SelfLoopAlwaysAllowed", func(t *testing.T) {
		for _, s := range ledger.AllStates {
			assert.True(t, ledger.CanTransition(s, s), "%s", s)
		}
	})

	t.Run("UnknownStateRejected", func(t *testing.T) {
		assert.False(t, ledger.CanTransition("BOGUS", ledger.StateFetched))
		assert.ErrorIs(t, ledger.ValidateTransition(ledger.StateFetched, "BOGUS"), ledger.ErrIllegalTransition)
	})
}

func TestTerminal(t *testing.T) {
	assert.True(t, ledger.StateArchivedWithWayback.Terminal())
	assert.True(t, ledger.StateArchivedWithoutWayback.Terminal())
	// The without-document state stays open for download recovery.
	assert.False(t, ledger.StateArchivedWithoutDoc.Terminal())
	assert.False(t, ledger.StateFetched.Terminal())
	assert.False(t, ledger.StateDownloadFailed.Terminal())
}

func TestNextState(t *testing.T) {
	t.Run("DownloadSuccess", func(t *testing.T) {
		next, err := ledger.NextState(ledger.StateFetched, ledger.StageEvent{
			Stage: ledger.StageDownload, Success: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateDownloadSuccess, next)
	})

	t.Run("DownloadFailureBelowCapKeepsState", func(t *testing.T) {
		next, err := ledger.NextState(ledger.StateFetched, ledger.StageEvent{
			Stage: ledger.StageDownload,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateFetched, next)
	})

	t.Run("DownloadFailureAtCap", func(t *testing.T) {
		next, err := ledger.NextState(ledger.StateFetched, ledger.StageEvent{
			Stage: ledger.StageDownload, Exhausted: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateDownloadFailed, next)
	})

	t.Run("WaybackPaths", func(t *testing.T) {
		next, err := ledger.NextState(ledger.StateDownloadSuccess, ledger.StageEvent{
			Stage: ledger.StageWayback, Success: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateWaybackUploaded, next)

		next, err = ledger.NextState(ledger.StateDownloadSuccess, ledger.StageEvent{
			Stage: ledger.StageWayback, Exhausted: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateWaybackUploadFailed, next)
	})

	t.Run("ArchiveBranchesOnDocAndWayback", func(t *testing.T) {
		next, err := ledger.NextState(ledger.StateWaybackUploaded, ledger.StageEvent{
			Stage: ledger.StageArchive, Success: true, HasDocument: true, HasWaybackURL: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateArchivedWithWayback, next)

		next, err = ledger.NextState(ledger.StateWaybackUploadFailed, ledger.StageEvent{
			Stage: ledger.StageArchive, Success: true, HasDocument: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateArchivedWithoutWayback, next)

		next, err = ledger.NextState(ledger.StateDownloadFailed, ledger.StageEvent{
			Stage: ledger.StageArchive, Success: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateArchivedWithoutDoc, next)
	})

	t.Run("ArchiveFailureKeepsState", func(t *testing.T) {
		next, err := ledger.NextState(ledger.StateWaybackUploaded, ledger.StageEvent{
			Stage: ledger.StageArchive, Exhausted: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateWaybackUploaded, next)
	})

	t.Run("RecoveryAttachesToArchivedItem", func(t *testing.T) {
		// After a weekly reset and a successful re-download, the archive
		// stage can complete the record from the recovery state.
		next, err := ledger.NextState(ledger.StateArchivedWithoutDoc, ledger.StageEvent{
			Stage: ledger.StageDownload, Success: true,
		})
		require.NoError(t, err)
		assert.Equal(t, ledger.StateDownloadSuccess, next)
	})

	t.Run("UnknownState", func(t *testing.T) {
		_, err := ledger.NextState("BOGUS", ledger.StageEvent{Stage: ledger.StageDownload})
		assert.ErrorIs(t, err, ledger.ErrIllegalTransition)
	})
}

func TestReachableStates(t *testing.T) {
	reachable := ledger.ReachableStates()
	for _, s := range ledger.AllStates {
		assert.True(t, reachable[s], "%s should be reachable from FETCHED", s)
	}
	assert.Len(t, reachable, len(ledger.AllStates))
}
