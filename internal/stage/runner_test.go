package stage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/stage"
)

// scriptedAdapter runs the download stage over FETCHED records, returning
// the scripted error (nil = success) per attempt in order.
type scriptedAdapter struct {
	script map[string][]error
	calls  []string
}

func (a *scriptedAdapter) Stage() ledger.Stage {
	return ledger.StageDownload
}

func (a *scriptedAdapter) Eligible(rec ledger.Record) bool {
	return rec.State == ledger.StateFetched && rec.SourceURL != ""
}

func (a *scriptedAdapter) Attempt(_ context.Context, rec ledger.Record) stage.Result {
	a.calls = append(a.calls, rec.UniqueCode)
	queue := a.script[rec.UniqueCode]
	var err error
	if len(queue) > 0 {
		err = queue[0]
		a.script[rec.UniqueCode] = queue[1:]
	}
	if err != nil {
		return stage.Result{Err: err}
	}
	return stage.Result{
		Success:     true,
		HasDocument: true,
		Apply: func(rec *ledger.Record) {
			rec.Download = &ledger.DownloadResult{Status: ledger.StatusSuccess}
		},
	}
}

func newStageStore(t *testing.T, codes ...string) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(t.TempDir())
	require.NoError(t, err)
	for _, code := range codes {
		_, err := store.Insert(ledger.Record{
			UniqueCode: code,
			GRDate:     "2024-06-01",
			SourceURL:  "https://example.com/" + code + ".pdf",
		}, ledger.RunTypeDaily, "2026-03-10")
		require.NoError(t, err)
	}
	return store
}

func svcErr(n int) error {
	return &stage.ServiceError{Op: "download", Err: fmt.Errorf("boom %d", n)}
}

func TestRunnerSuccess(t *testing.T) {
	store := newStageStore(t, "1000000000000000001")
	adapter := &scriptedAdapter{script: map[string][]error{}}
	runner := stage.NewRunner(store, adapter, stage.Config{AttemptCap: 2, FailureLimit: 10}, nil)

	outcome, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Selected)
	assert.Equal(t, 1, outcome.Attempted)
	assert.Equal(t, 1, outcome.Succeeded)

	rec, err := store.Lookup("1000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, ledger.StateDownloadSuccess, rec.State)
	assert.Equal(t, 1, rec.Attempts.Download)
	require.NotNil(t, rec.Download)
	assert.Equal(t, ledger.StatusSuccess, rec.Download.Status)
}

func TestRunnerAttemptCap(t *testing.T) {
	const code = "1000000000000000001"
	store := newStageStore(t, code)
	adapter := &scriptedAdapter{script: map[string][]error{
		code: {svcErr(1), svcErr(2)},
	}}
	cfg := stage.Config{AttemptCap: 2, FailureLimit: 10}

	// First failure stays below the cap: the state self-loops and the record
	// remains retryable.
	outcome, err := stage.NewRunner(store, adapter, cfg, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Failed)

	rec, err := store.Lookup(code)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFetched, rec.State)
	assert.Equal(t, 1, rec.Attempts.Download)
	require.NotNil(t, rec.Download)
	assert.Equal(t, ledger.StatusFailed, rec.Download.Status)

	// Second failure exhausts the cap and produces the failed transition.
	_, err = stage.NewRunner(store, adapter, cfg, nil).Run(context.Background())
	require.NoError(t, err)

	rec, err = store.Lookup(code)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateDownloadFailed, rec.State)
	assert.Equal(t, 2, rec.Attempts.Download)

	// A further run never touches the record again.
	outcome, err = stage.NewRunner(store, adapter, cfg, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, outcome.Attempted)
}

func TestRunnerSkipsAtCap(t *testing.T) {
	const code = "1000000000000000001"
	store := newStageStore(t, code)
	_, err := store.Update(code, func(rec *ledger.Record) error {
		rec.Attempts.Download = 2
		return nil
	})
	require.NoError(t, err)

	adapter := &scriptedAdapter{script: map[string][]error{}}
	outcome, err := stage.NewRunner(store, adapter, stage.Config{AttemptCap: 2, FailureLimit: 10}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, outcome.Attempted)
	assert.Equal(t, 1, outcome.SkippedAtCap)
	assert.Empty(t, adapter.calls)
}

func TestRunnerEarlyStop(t *testing.T) {
	codes := []string{
		"1000000000000000001",
		"1000000000000000002",
		"1000000000000000003",
	}
	store := newStageStore(t, codes...)
	adapter := &scriptedAdapter{script: map[string][]error{
		codes[0]: {svcErr(1)},
		codes[1]: {svcErr(2)},
		codes[2]: {svcErr(3)},
	}}

	outcome, err := stage.NewRunner(store, adapter, stage.Config{AttemptCap: 2, FailureLimit: 2}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.EarlyStopped)
	assert.Equal(t, 2, outcome.Attempted)
	assert.Equal(t, 2, outcome.ServiceFailures)

	// Both attempted failures are durable; the third record was never touched.
	for i, wantAttempts := range []int{1, 1, 0} {
		rec, err := store.Lookup(codes[i])
		require.NoError(t, err)
		assert.Equal(t, wantAttempts, rec.Attempts.Download, codes[i])
	}
}

func TestRunnerBusinessFailureResetsConsecutiveCount(t *testing.T) {
	codes := []string{
		"1000000000000000001",
		"1000000000000000002",
		"1000000000000000003",
		"1000000000000000004",
		"1000000000000000005",
	}
	store := newStageStore(t, codes...)
	adapter := &scriptedAdapter{script: map[string][]error{
		codes[0]: {svcErr(1)},
		codes[1]: {&stage.RejectedError{Op: "download", Reason: "http_404"}},
		codes[2]: {svcErr(2)},
		codes[3]: {svcErr(3)},
	}}

	outcome, err := stage.NewRunner(store, adapter, stage.Config{AttemptCap: 2, FailureLimit: 2}, nil).Run(context.Background())
	require.NoError(t, err)

	// The rejection between service failures resets the consecutive count,
	// so the limit is only reached on the fourth record and the fifth is
	// never attempted.
	assert.Equal(t, 4, outcome.Attempted)
	assert.Equal(t, 3, outcome.ServiceFailures)
	assert.Equal(t, 4, outcome.Failed)
	assert.True(t, outcome.EarlyStopped)
	assert.NotContains(t, adapter.calls, codes[4])
}

func TestRunnerCodeFilter(t *testing.T) {
	codes := []string{"1000000000000000001", "1000000000000000002"}
	store := newStageStore(t, codes...)
	adapter := &scriptedAdapter{script: map[string][]error{}}

	outcome, err := stage.NewRunner(store, adapter, stage.Config{
		AttemptCap:   2,
		FailureLimit: 10,
		CodeFilter:   map[string]bool{codes[1]: true},
	}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Selected)
	assert.Equal(t, []string{codes[1]}, adapter.calls)
}

func TestRunnerMaxRecords(t *testing.T) {
	codes := []string{"1000000000000000001", "1000000000000000002", "1000000000000000003"}
	store := newStageStore(t, codes...)
	adapter := &scriptedAdapter{script: map[string][]error{}}

	outcome, err := stage.NewRunner(store, adapter, stage.Config{
		AttemptCap:   2,
		FailureLimit: 10,
		MaxRecords:   2,
	}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Attempted)
}

func TestRunnerContextCancel(t *testing.T) {
	store := newStageStore(t, "1000000000000000001")
	adapter := &scriptedAdapter{script: map[string][]error{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := stage.NewRunner(store, adapter, stage.Config{AttemptCap: 2, FailureLimit: 10}, nil).Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
