package validate_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicdatalab/gr-archiver/internal/clock"
	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/validate"
)

func goodRecord(code string) ledger.Record {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return ledger.Record{
		UniqueCode:         code,
		Title:              "Road repair sanction",
		DepartmentName:     "Public Works Department",
		DepartmentCode:     "mahpwd",
		GRDate:             "2024-06-01",
		SourceURL:          "https://example.com/" + code + ".pdf",
		State:              ledger.StateFetched,
		FirstSeenCrawlDate: "2026-03-10",
		LastSeenCrawlDate:  "2026-03-10",
		FirstSeenRunType:   ledger.RunTypeDaily,
		CreatedAtUTC:       now,
		UpdatedAtUTC:       now,
	}
}

func writeRows(t *testing.T, dir, partition string, rows ...any) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, partition+".jsonl")) // #nosec G304 -- temp dir
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	enc := json.NewEncoder(f)
	for _, row := range rows {
		if raw, ok := row.(string); ok {
			_, err := f.WriteString(raw + "\n")
			require.NoError(t, err)
			continue
		}
		require.NoError(t, enc.Encode(row))
	}
}

func violationKinds(report validate.Report) []validate.Kind {
	kinds := make([]validate.Kind, 0, len(report.Violations))
	for _, v := range report.Violations {
		kinds = append(kinds, v.Kind)
	}
	return kinds
}

func TestValidatorCleanLedger(t *testing.T) {
	dir := t.TempDir()
	fixed := &clock.Fixed{Time: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	store, err := ledger.Open(dir, ledger.WithClock(fixed))
	require.NoError(t, err)
	first := goodRecord("202406011234567890")
	second := goodRecord("202301011234567890")
	second.GRDate = "2023-01-01"
	for _, rec := range []ledger.Record{first, second} {
		_, err := store.Insert(rec, ledger.RunTypeDaily, "2026-03-10")
		require.NoError(t, err)
	}

	report, err := validate.New(nil).Run(dir)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Partitions)
	assert.Equal(t, 2, report.Records)
}

func TestValidatorEmptyDir(t *testing.T) {
	report, err := validate.New(nil).Run(t.TempDir())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Zero(t, report.Partitions)
}

func TestValidatorViolations(t *testing.T) {
	t.Run("MalformedRow", func(t *testing.T) {
		dir := t.TempDir()
		writeRows(t, dir, "2024", goodRecord("202406011234567890"), "{not json")

		report, err := validate.New(nil).Run(dir)
		require.NoError(t, err)
		assert.Equal(t, []validate.Kind{validate.KindMalformedRow}, violationKinds(report))
		assert.Equal(t, 2, report.Violations[0].Line)
	})

	t.Run("SchemaViolation", func(t *testing.T) {
		dir := t.TempDir()
		bad := goodRecord("202406011234567890")
		bad.FirstSeenRunType = "hourly"
		writeRows(t, dir, "2024", bad)

		report, err := validate.New(nil).Run(dir)
		require.NoError(t, err)
		assert.Contains(t, violationKinds(report), validate.KindSchema)
	})

	t.Run("UnknownState", func(t *testing.T) {
		dir := t.TempDir()
		bad := goodRecord("202406011234567890")
		bad.State = "UPLOAD_PENDING"
		writeRows(t, dir, "2024", bad)

		report, err := validate.New(nil).Run(dir)
		require.NoError(t, err)
		assert.Contains(t, violationKinds(report), validate.KindUnknownState)
	})

	t.Run("WrongPartition", func(t *testing.T) {
		dir := t.TempDir()
		writeRows(t, dir, "2023", goodRecord("202406011234567890"))

		report, err := validate.New(nil).Run(dir)
		require.NoError(t, err)
		assert.Contains(t, violationKinds(report), validate.KindWrongPartition)
		assert.Contains(t, report.Violations[0].Detail, "implies partition 2024")
	})

	t.Run("DuplicateAcrossPartitions", func(t *testing.T) {
		dir := t.TempDir()
		rec2024 := goodRecord("202406011234567890")
		rec2023 := goodRecord("202406011234567890")
		rec2023.GRDate = "2023-06-01"
		writeRows(t, dir, "2023", rec2023)
		writeRows(t, dir, "2024", rec2024)

		report, err := validate.New(nil).Run(dir)
		require.NoError(t, err)
		assert.Equal(t, []validate.Kind{validate.KindDuplicate}, violationKinds(report))
		assert.Equal(t, "2024", report.Violations[0].Partition)
		assert.Contains(t, report.Violations[0].Detail, "partition 2023")
	})

	t.Run("BlankLinesIgnored", func(t *testing.T) {
		dir := t.TempDir()
		writeRows(t, dir, "2024", goodRecord("202406011234567890"), "", "   ")

		report, err := validate.New(nil).Run(dir)
		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Equal(t, 1, report.Records)
	})
}
