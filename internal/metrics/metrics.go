// Package metrics exposes Prometheus collectors for the archiver pipeline.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageRecordsTotal    *prometheus.CounterVec
	stageRunsTotal       *prometheus.CounterVec
	stageEarlyStopsTotal *prometheus.CounterVec
	reconcileTotal       *prometheus.CounterVec
	ledgerRecords        *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		stageRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grarchiver_stage_records_total",
				Help: "Records processed per stage, labeled by result.",
			},
			[]string{"stage", "result"},
		)

		stageRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grarchiver_stage_runs_total",
				Help: "Stage runs, labeled by completion mode.",
			},
			[]string{"stage", "mode"},
		)

		stageEarlyStopsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grarchiver_stage_early_stops_total",
				Help: "Batches aborted by the consecutive service-failure safeguard.",
			},
			[]string{"stage"},
		)

		reconcileTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grarchiver_reconcile_records_total",
				Help: "Reconciliation decisions, labeled by mode and action.",
			},
			[]string{"mode", "action"},
		)

		ledgerRecords = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "grarchiver_ledger_records",
				Help: "Records currently in the ledger, labeled by partition.",
			},
			[]string{"partition"},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStageRecord counts one processed record for a stage.
func ObserveStageRecord(stage, result string) {
	if stageRecordsTotal != nil {
		stageRecordsTotal.WithLabelValues(stage, result).Inc()
	}
}

// ObserveStageRun counts a completed stage run.
func ObserveStageRun(stage string, earlyStopped bool) {
	if stageRunsTotal == nil {
		return
	}
	mode := "completed"
	if earlyStopped {
		mode = "early_stopped"
	}
	stageRunsTotal.WithLabelValues(stage, mode).Inc()
}

// ObserveEarlyStop counts a tripped early-stop safeguard.
func ObserveEarlyStop(stage string) {
	if stageEarlyStopsTotal != nil {
		stageEarlyStopsTotal.WithLabelValues(stage).Inc()
	}
}

// ObserveReconcile counts one reconciliation decision.
func ObserveReconcile(mode, action string) {
	if reconcileTotal != nil {
		reconcileTotal.WithLabelValues(mode, action).Inc()
	}
}

// SetLedgerRecords records the per-partition ledger size.
func SetLedgerRecords(partition string, count int) {
	if ledgerRecords != nil {
		ledgerRecords.WithLabelValues(partition).Set(float64(count))
	}
}
