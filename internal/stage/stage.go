// Package stage implements the generic stage runner and its download,
// wayback and archive specializations. External services are injected
// through narrow client interfaces so runs are testable without the network.
package stage

import (
	"context"
	"errors"
	"fmt"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
)

// ServiceError marks a transient transport or service-level failure
// (timeouts, connection errors, HTTP 429/5xx). It counts toward both the
// per-record attempt cap and the consecutive-failure early stop.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: service error: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError reports whether err carries a ServiceError.
func IsServiceError(err error) bool {
	var svc *ServiceError
	return errors.As(err, &svc)
}

// RejectedError marks a permanent business rejection from an external
// service (e.g. HTTP 404). It counts as a stage failure but never toward the
// early-stop safeguard.
type RejectedError struct {
	Op     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Reason)
}

// Result is what one adapter attempt produces. Apply carries the
// stage-object patch and runs inside the single ledger update for the
// attempt; it must not touch state or attempt counters, the runner owns
// those.
type Result struct {
	Success       bool
	HasDocument   bool
	HasWaybackURL bool
	Err           error
	Apply         func(rec *ledger.Record)
}

// Adapter is one stage's effect: eligibility selection plus the external
// call for a single record.
type Adapter interface {
	Stage() ledger.Stage
	Eligible(rec ledger.Record) bool
	Attempt(ctx context.Context, rec ledger.Record) Result
}

// Outcome summarizes one stage run.
type Outcome struct {
	Stage           ledger.Stage `json:"stage"`
	Selected        int          `json:"selected"`
	Attempted       int          `json:"attempted"`
	Succeeded       int          `json:"succeeded"`
	Failed          int          `json:"failed"`
	SkippedAtCap    int          `json:"skipped_at_cap"`
	ServiceFailures int          `json:"service_failures"`
	EarlyStopped    bool         `json:"early_stopped"`
}
