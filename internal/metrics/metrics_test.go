package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdatalab/gr-archiver/internal/metrics"
)

func TestInitIdempotent(t *testing.T) {
	metrics.Init()
	metrics.Init() // second call must not re-register collectors
}

func TestObserveAndScrape(t *testing.T) {
	metrics.Init()

	metrics.ObserveStageRecord("download", "success")
	metrics.ObserveStageRun("download", false)
	metrics.ObserveStageRun("wayback", true)
	metrics.ObserveEarlyStop("wayback")
	metrics.ObserveReconcile("daily", "inserted")
	metrics.SetLedgerRecords("2024", 42)

	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL) // #nosec G107 -- httptest URL
	require.NoError(t, err)
	defer func() {
		require.NoError(t, resp.Body.Close())
	}()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "grarchiver_stage_records_total")
	assert.Contains(t, text, "grarchiver_ledger_records")
	assert.Contains(t, text, `partition="2024"`)
}
