// Package ledger implements the canonical GR record model, its partitioned
// flat-file store, and the pipeline state machine.
package ledger

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// RunType tags the reconciliation policy that first discovered a record.
type RunType string

const (
	RunTypeDaily   RunType = "daily"
	RunTypeMonthly RunType = "monthly"
)

// Stage result status values persisted inside stage objects.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// PartitionUnknown holds records whose gr_date is missing or unparseable.
const PartitionUnknown = "unknown"

// DateLayout is the wire format for gr_date and crawl dates.
const DateLayout = "2006-01-02"

// Attempts tracks per-stage attempt counters. Counters are monotonically
// non-decreasing except through Store.ResetAttempts.
type Attempts struct {
	Download int `json:"download"`
	Wayback  int `json:"wayback"`
	Archive  int `json:"archive"`
}

// For returns the counter for the given stage.
func (a Attempts) For(stage Stage) int {
	switch stage {
	case StageDownload:
		return a.Download
	case StageWayback:
		return a.Wayback
	case StageArchive:
		return a.Archive
	}
	return 0
}

// Bump increments the counter for the given stage and returns the new value.
func (a *Attempts) Bump(stage Stage) int {
	switch stage {
	case StageDownload:
		a.Download++
		return a.Download
	case StageWayback:
		a.Wayback++
		return a.Wayback
	case StageArchive:
		a.Archive++
		return a.Archive
	}
	return 0
}

func (a *Attempts) set(stage Stage, value int) {
	switch stage {
	case StageDownload:
		a.Download = value
	case StageWayback:
		a.Wayback = value
	case StageArchive:
		a.Archive = value
	}
}

// DownloadResult is the download stage's result object.
type DownloadResult struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Hash   string `json:"hash"`
	Size   int64  `json:"size"`
	Error  string `json:"error"`
}

// WaybackResult is the wayback stage's result object.
type WaybackResult struct {
	URL         string `json:"url"`
	ContentURL  string `json:"content_url"`
	ArchiveTime string `json:"archive_time"`
	SHA1        string `json:"archive_sha1"`
	Length      int64  `json:"archive_length"`
	Mimetype    string `json:"archive_mimetype"`
	StatusCode  string `json:"archive_status_code"`
	Status      string `json:"status"`
	Error       string `json:"error"`
}

// ArchiveResult is the archive stage's result object.
type ArchiveResult struct {
	Identifier string `json:"identifier"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

// Record is one discovered government resolution and its pipeline progress.
// unique_code, created_at_utc, first_seen_crawl_date and first_seen_run_type
// are immutable after insert.
type Record struct {
	UniqueCode     string `json:"unique_code"`
	Title          string `json:"title"`
	DepartmentName string `json:"department_name"`
	DepartmentCode string `json:"department_code"`
	// GRDate is YYYY-MM-DD, or empty when the source date never parsed.
	GRDate    string `json:"gr_date"`
	SourceURL string `json:"source_url"`
	// LFSPath is the confirmed local artifact path, empty until a download
	// has been verified on disk.
	LFSPath string `json:"lfs_path,omitempty"`

	State    State    `json:"state"`
	Attempts Attempts `json:"attempt_counts"`

	Download *DownloadResult `json:"download,omitempty"`
	Wayback  *WaybackResult  `json:"wayback,omitempty"`
	Archive  *ArchiveResult  `json:"archive,omitempty"`

	FirstSeenCrawlDate string  `json:"first_seen_crawl_date"`
	LastSeenCrawlDate  string  `json:"last_seen_crawl_date"`
	FirstSeenRunType   RunType `json:"first_seen_run_type"`

	CreatedAtUTC time.Time `json:"created_at_utc"`
	UpdatedAtUTC time.Time `json:"updated_at_utc"`
}

// Clone returns a deep copy, so callers can mutate freely without touching
// store-held rows.
func (r Record) Clone() Record {
	out := r
	if r.Download != nil {
		d := *r.Download
		out.Download = &d
	}
	if r.Wayback != nil {
		w := *r.Wayback
		out.Wayback = &w
	}
	if r.Archive != nil {
		a := *r.Archive
		out.Archive = &a
	}
	return out
}

// ParseDate parses a YYYY-MM-DD value, reporting ok=false for empty or
// malformed input.
func ParseDate(value string) (time.Time, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, text)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// PartitionFor maps a gr_date to its partition: the four-digit year when the
// date parses, PartitionUnknown otherwise. Pure and idempotent.
func PartitionFor(grDate string) string {
	t, ok := ParseDate(grDate)
	if !ok {
		return PartitionUnknown
	}
	return fmt.Sprintf("%04d", t.Year())
}

// validIdentity accepts a permissive alphanumeric token: non-empty, no
// whitespace or control characters, at least one letter or digit. Observed
// codes are 16-22 digits but other lengths must not hard-fail.
func validIdentity(code string) bool {
	if code == "" {
		return false
	}
	hasAlnum := false
	for _, r := range code {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			hasAlnum = true
		}
	}
	return hasAlnum
}

// ValidateSchema checks the record against the canonical schema. Used at the
// store boundary on every insert and update, and by the validator.
func (r Record) ValidateSchema() error {
	if !validIdentity(r.UniqueCode) {
		return fmt.Errorf("%w: unique_code %q", ErrInvalidIdentity, r.UniqueCode)
	}
	if !KnownState(r.State) {
		return fmt.Errorf("unknown state %q", r.State)
	}
	if r.Attempts.Download < 0 || r.Attempts.Wayback < 0 || r.Attempts.Archive < 0 {
		return fmt.Errorf("negative attempt count %+v", r.Attempts)
	}
	if r.FirstSeenRunType != RunTypeDaily && r.FirstSeenRunType != RunTypeMonthly {
		return fmt.Errorf("invalid first_seen_run_type %q", r.FirstSeenRunType)
	}
	if r.GRDate != "" {
		if _, ok := ParseDate(r.GRDate); !ok {
			return fmt.Errorf("unparseable gr_date %q", r.GRDate)
		}
	}
	for name, value := range map[string]string{
		"first_seen_crawl_date": r.FirstSeenCrawlDate,
		"last_seen_crawl_date":  r.LastSeenCrawlDate,
	} {
		if _, ok := ParseDate(value); !ok {
			return fmt.Errorf("unparseable %s %q", name, value)
		}
	}
	return nil
}
