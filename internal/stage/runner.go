package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
	"github.com/civicdatalab/gr-archiver/internal/metrics"
)

// Config holds the runner's policy values. Both safeguards are configurable
// so tests can use small thresholds.
type Config struct {
	// AttemptCap is the maximum total attempts per record per stage.
	AttemptCap int
	// FailureLimit is the consecutive service-failure count that aborts the
	// batch.
	FailureLimit int
	// MaxRecords caps how many selected records one run processes; 0 means
	// no cap.
	MaxRecords int
	// CodeFilter, when non-empty, restricts the run to these unique codes.
	CodeFilter map[string]bool
}

func (c Config) withDefaults() Config {
	if c.AttemptCap <= 0 {
		c.AttemptCap = 2
	}
	if c.FailureLimit <= 0 {
		c.FailureLimit = 10
	}
	return c
}

// Runner selects eligible records for one stage, drives the adapter over
// them, and persists exactly one ledger update per attempt. The
// consecutive-service-failure early stop is a circuit breaker: the limit-th
// consecutive ServiceError opens it and the batch stops with the remaining
// records untouched.
type Runner struct {
	store   *ledger.Store
	adapter Adapter
	cfg     Config
	log     *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(store *ledger.Store, adapter Adapter, cfg Config, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		store:   store,
		adapter: adapter,
		cfg:     cfg.withDefaults(),
		log:     log.With(zap.String("stage", string(adapter.Stage()))),
	}
}

// Run executes one batch. Partial progress before an early stop or a context
// cancellation is already durable; the returned Outcome reports it.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	stage := r.adapter.Stage()
	outcome := Outcome{Stage: stage}

	codes, skippedAtCap := r.selectCodes()
	outcome.Selected = len(codes)
	outcome.SkippedAtCap = skippedAtCap
	if r.cfg.MaxRecords > 0 && len(codes) > r.cfg.MaxRecords {
		codes = codes[:r.cfg.MaxRecords]
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: string(stage),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(r.cfg.FailureLimit)
		},
		Timeout: time.Hour,
	})

	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		rec, err := r.store.Lookup(code)
		if err != nil {
			r.log.Warn("selected record vanished", zap.String("unique_code", code), zap.Error(err))
			continue
		}
		if rec.Attempts.For(stage) >= r.cfg.AttemptCap {
			outcome.SkippedAtCap++
			continue
		}

		value, brkErr := breaker.Execute(func() (interface{}, error) {
			res := r.adapter.Attempt(ctx, rec)
			if IsServiceError(res.Err) {
				return res, res.Err
			}
			return res, nil
		})
		if brkErr != nil && (errors.Is(brkErr, gobreaker.ErrOpenState) || errors.Is(brkErr, gobreaker.ErrTooManyRequests)) {
			outcome.EarlyStopped = true
			metrics.ObserveEarlyStop(string(stage))
			r.log.Warn("early stop: consecutive service failures reached the limit",
				zap.Int("limit", r.cfg.FailureLimit),
				zap.Int("attempted", outcome.Attempted),
			)
			break
		}
		res, ok := value.(Result)
		if !ok {
			return outcome, fmt.Errorf("stage %s: adapter returned no result", stage)
		}
		if brkErr != nil {
			outcome.ServiceFailures++
		}

		outcome.Attempted++
		if err := r.persist(code, res); err != nil {
			return outcome, fmt.Errorf("stage %s: persist %s: %w", stage, code, err)
		}
		if res.Success {
			outcome.Succeeded++
			metrics.ObserveStageRecord(string(stage), "success")
		} else {
			outcome.Failed++
			metrics.ObserveStageRecord(string(stage), "failed")
			r.log.Info("stage attempt failed",
				zap.String("unique_code", code),
				zap.Error(res.Err),
			)
		}
	}

	metrics.ObserveStageRun(string(stage), outcome.EarlyStopped)
	r.log.Info("stage run finished",
		zap.Int("selected", outcome.Selected),
		zap.Int("attempted", outcome.Attempted),
		zap.Int("succeeded", outcome.Succeeded),
		zap.Int("failed", outcome.Failed),
		zap.Int("skipped_at_cap", outcome.SkippedAtCap),
		zap.Int("service_failures", outcome.ServiceFailures),
		zap.Bool("early_stopped", outcome.EarlyStopped),
	)
	return outcome, nil
}

// selectCodes walks the ledger once and returns the codes the adapter wants,
// in iteration order, plus the count of otherwise-eligible records already
// at the attempt cap.
func (r *Runner) selectCodes() ([]string, int) {
	stage := r.adapter.Stage()
	var codes []string
	skipped := 0
	for rec := range r.store.All(nil) {
		if len(r.cfg.CodeFilter) > 0 && !r.cfg.CodeFilter[rec.UniqueCode] {
			continue
		}
		if !r.adapter.Eligible(rec) {
			continue
		}
		if rec.Attempts.For(stage) >= r.cfg.AttemptCap {
			skipped++
			continue
		}
		codes = append(codes, rec.UniqueCode)
	}
	return codes, skipped
}

// persist writes the attempt's single ledger update: bumped counter, stage
// object patch, and the state transition the event resolves to.
func (r *Runner) persist(code string, res Result) error {
	stage := r.adapter.Stage()
	_, err := r.store.Update(code, func(rec *ledger.Record) error {
		attempts := rec.Attempts.Bump(stage)
		if res.Apply != nil {
			res.Apply(rec)
		}
		next, err := ledger.NextState(rec.State, ledger.StageEvent{
			Stage:         stage,
			Success:       res.Success,
			Exhausted:     attempts >= r.cfg.AttemptCap,
			HasDocument:   res.HasDocument,
			HasWaybackURL: res.HasWaybackURL,
		})
		if err != nil {
			return err
		}
		rec.State = next
		return nil
	})
	return err
}
