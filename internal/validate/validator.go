// Package validate runs read-only consistency checks over a ledger directory.
// It inspects the partition files directly, so it can report problems a
// normal Store open would refuse to load.
package validate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
)

// Kind classifies a violation.
type Kind string

const (
	KindMalformedRow   Kind = "malformed_row"
	KindSchema         Kind = "schema"
	KindUnknownState   Kind = "unknown_state"
	KindUnreachable    Kind = "unreachable_state"
	KindWrongPartition Kind = "wrong_partition"
	KindDuplicate      Kind = "duplicate_identity"
)

// Violation is one failed check against one row.
type Violation struct {
	Kind       Kind   `json:"kind"`
	Partition  string `json:"partition"`
	Line       int    `json:"line"`
	UniqueCode string `json:"unique_code,omitempty"`
	Detail     string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s:%d %s: %s", v.Kind, v.Partition, v.Line, v.UniqueCode, v.Detail)
}

// Report is the outcome of one validation pass.
type Report struct {
	Partitions int         `json:"partitions"`
	Records    int         `json:"records"`
	Violations []Violation `json:"violations"`
}

// OK reports whether the ledger passed every check.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

// Validator checks ledger directories.
type Validator struct {
	log *zap.Logger
}

// New creates a Validator.
func New(log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{log: log}
}

// Run validates every partition file under dir and returns the full
// violation report. It mutates nothing.
func (v *Validator) Run(dir string) (Report, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return Report{}, fmt.Errorf("scan ledger dir: %w", err)
	}
	sort.Strings(files)

	report := Report{Partitions: len(files)}
	reachable := ledger.ReachableStates()
	seen := make(map[string]string) // unique_code -> first partition

	for _, file := range files {
		partition := strings.TrimSuffix(filepath.Base(file), ".jsonl")
		if err := v.checkPartition(file, partition, reachable, seen, &report); err != nil {
			return Report{}, err
		}
	}

	v.log.Info("ledger validated",
		zap.String("dir", dir),
		zap.Int("partitions", report.Partitions),
		zap.Int("records", report.Records),
		zap.Int("violations", len(report.Violations)),
	)
	return report, nil
}

func (v *Validator) checkPartition(
	path string,
	partition string,
	reachable map[ledger.State]bool,
	seen map[string]string,
	report *Report,
) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from the ledger dir glob
	if err != nil {
		return fmt.Errorf("open partition %s: %w", partition, err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		report.Records++

		var rec ledger.Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			report.Violations = append(report.Violations, Violation{
				Kind: KindMalformedRow, Partition: partition, Line: line,
				Detail: err.Error(),
			})
			continue
		}

		if err := rec.ValidateSchema(); err != nil {
			report.Violations = append(report.Violations, Violation{
				Kind: KindSchema, Partition: partition, Line: line,
				UniqueCode: rec.UniqueCode, Detail: err.Error(),
			})
		}

		switch {
		case !ledger.KnownState(rec.State):
			report.Violations = append(report.Violations, Violation{
				Kind: KindUnknownState, Partition: partition, Line: line,
				UniqueCode: rec.UniqueCode,
				Detail:     fmt.Sprintf("state %q not enumerated", rec.State),
			})
		case !reachable[rec.State]:
			report.Violations = append(report.Violations, Violation{
				Kind: KindUnreachable, Partition: partition, Line: line,
				UniqueCode: rec.UniqueCode,
				Detail:     fmt.Sprintf("state %q unreachable from %s", rec.State, ledger.StateFetched),
			})
		}

		if want := ledger.PartitionFor(rec.GRDate); want != partition {
			report.Violations = append(report.Violations, Violation{
				Kind: KindWrongPartition, Partition: partition, Line: line,
				UniqueCode: rec.UniqueCode,
				Detail:     fmt.Sprintf("gr_date %q implies partition %s", rec.GRDate, want),
			})
		}

		if rec.UniqueCode != "" {
			if first, dup := seen[rec.UniqueCode]; dup {
				report.Violations = append(report.Violations, Violation{
					Kind: KindDuplicate, Partition: partition, Line: line,
					UniqueCode: rec.UniqueCode,
					Detail:     fmt.Sprintf("already present in partition %s", first),
				})
			} else {
				seen[rec.UniqueCode] = partition
			}
		}
	}
	return scanner.Err()
}
