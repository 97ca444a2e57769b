package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/clock"
)

// Store is the durable, partitioned ledger. One JSONL file per partition
// (<year>.jsonl or unknown.jsonl); an in-memory index keyed by unique_code is
// built once at Open and kept consistent on every mutation, so Lookup is O(1).
//
// Writes are serialized within the process and each partition rewrite is
// atomic (temp file then rename), so a crash mid-write never leaves a
// partially written partition visible. Cross-process writers are out of
// scope; orchestration runs one writer at a time.
type Store struct {
	dir string
	clk clock.Clock
	log *zap.Logger

	mu    sync.Mutex
	rows  map[string][]Record // partition -> rows in insertion order
	index map[string]location
}

type location struct {
	partition string
	idx       int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store clock.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clk = c }
}

// WithLogger attaches a logger for mutation logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open loads every partition under dir and builds the identity index,
// creating dir when absent. A unique_code appearing in more than one
// partition fails with ErrDuplicateKey.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	s := &Store{
		dir:   dir,
		clk:   clock.NewSystem(),
		log:   zap.NewNop(),
		rows:  make(map[string][]Record),
		index: make(map[string]location),
	}
	for _, opt := range opts {
		opt(s)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("scan ledger dir: %w", err)
	}
	sort.Strings(files)
	for _, file := range files {
		partition := strings.TrimSuffix(filepath.Base(file), ".jsonl")
		records, err := readPartitionFile(file)
		if err != nil {
			return nil, fmt.Errorf("load partition %s: %w", partition, err)
		}
		for i, rec := range records {
			if existing, ok := s.index[rec.UniqueCode]; ok {
				return nil, fmt.Errorf("%w: %s in partitions %s and %s",
					ErrDuplicateKey, rec.UniqueCode, existing.partition, partition)
			}
			s.index[rec.UniqueCode] = location{partition: partition, idx: i}
		}
		s.rows[partition] = records
	}
	s.log.Debug("ledger opened",
		zap.String("dir", dir),
		zap.Int("partitions", len(s.rows)),
		zap.Int("records", len(s.index)),
	)
	return s, nil
}

// Dir returns the ledger directory.
func (s *Store) Dir() string {
	return s.dir
}

// Len returns the total record count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// PartitionLen returns the record count of one partition.
func (s *Store) PartitionLen(partition string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[partition])
}

// Partitions returns the loaded partition names in ascending order.
func (s *Store) Partitions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.rows))
	for name := range s.rows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the record for code, or ErrNotFound.
func (s *Store) Lookup(code string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.index[code]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	return s.rows[loc.partition][loc.idx].Clone(), nil
}

// Insert creates a new FETCHED record from the discovery attributes in rec.
// Pipeline fields (state, attempts, stage objects) are owned by the store and
// reset regardless of what the caller passed. Fails with ErrDuplicateKey when
// the code exists in any partition.
func (s *Store) Insert(rec Record, runType RunType, crawlDate string) (Record, error) {
	rec.UniqueCode = strings.TrimSpace(rec.UniqueCode)
	if !validIdentity(rec.UniqueCode) {
		return Record{}, fmt.Errorf("%w: unique_code %q", ErrInvalidIdentity, rec.UniqueCode)
	}
	if runType != RunTypeMonthly {
		runType = RunTypeDaily
	}
	now := s.clk.Now()
	day := crawlDate
	if _, ok := ParseDate(day); !ok {
		day = now.Format(DateLayout)
	}

	rec.State = StateFetched
	rec.Attempts = Attempts{}
	rec.Download = nil
	rec.Wayback = nil
	rec.Archive = nil
	rec.LFSPath = ""
	if rec.DepartmentCode == "" {
		rec.DepartmentCode = DepartmentCodeFromName(rec.DepartmentName)
	}
	rec.FirstSeenRunType = runType
	rec.FirstSeenCrawlDate = day
	rec.LastSeenCrawlDate = day
	rec.CreatedAtUTC = now
	rec.UpdatedAtUTC = now

	if err := rec.ValidateSchema(); err != nil {
		return Record{}, fmt.Errorf("insert %s: %w", rec.UniqueCode, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.index[rec.UniqueCode]; ok {
		return Record{}, fmt.Errorf("%w: %s already in partition %s",
			ErrDuplicateKey, rec.UniqueCode, existing.partition)
	}

	partition := PartitionFor(rec.GRDate)
	next := append(append([]Record(nil), s.rows[partition]...), rec)
	if err := s.writePartition(partition, next); err != nil {
		return Record{}, err
	}
	s.rows[partition] = next
	s.index[rec.UniqueCode] = location{partition: partition, idx: len(next) - 1}
	s.log.Info("record inserted",
		zap.String("unique_code", rec.UniqueCode),
		zap.String("partition", partition),
		zap.String("run_type", string(runType)),
	)
	return rec.Clone(), nil
}

// Update applies mutate to a deep copy of the record and persists the result
// atomically. It enforces the write-once fields, the state transition table,
// attempt-counter monotonicity, and the schema. When the mutator corrects
// gr_date into another partition the record moves with two atomic rewrites.
func (s *Store) Update(code string, mutate func(*Record) error) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.index[code]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	current := s.rows[loc.partition][loc.idx]
	updated := current.Clone()
	if err := mutate(&updated); err != nil {
		return Record{}, fmt.Errorf("update %s: %w", code, err)
	}

	if err := validateImmutable(current, updated); err != nil {
		return Record{}, fmt.Errorf("update %s: %w", code, err)
	}
	if updated.State != current.State {
		if err := ValidateTransition(current.State, updated.State); err != nil {
			return Record{}, fmt.Errorf("update %s: %w", code, err)
		}
	}
	for _, stage := range Stages {
		if updated.Attempts.For(stage) < current.Attempts.For(stage) {
			return Record{}, fmt.Errorf("update %s: %w: %s %d -> %d",
				code, ErrAttemptRegression, stage,
				current.Attempts.For(stage), updated.Attempts.For(stage))
		}
	}
	updated.UpdatedAtUTC = s.clk.Now()
	if err := updated.ValidateSchema(); err != nil {
		return Record{}, fmt.Errorf("update %s: %w", code, err)
	}

	if err := s.place(loc, updated); err != nil {
		return Record{}, err
	}
	return updated.Clone(), nil
}

// Touch records a monthly-reconciliation observation of a known record,
// advancing last_seen_crawl_date when the observation is newer. Nothing else
// changes. Returns the stored record.
func (s *Store) Touch(code string, crawlDate string) (Record, error) {
	candidate, ok := ParseDate(crawlDate)
	if !ok {
		return Record{}, fmt.Errorf("touch %s: unparseable crawl date %q", code, crawlDate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok2 := s.index[code]
	if !ok2 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	current := s.rows[loc.partition][loc.idx]
	if existing, ok := ParseDate(current.LastSeenCrawlDate); ok && !candidate.After(existing) {
		return current.Clone(), nil
	}
	updated := current.Clone()
	updated.LastSeenCrawlDate = candidate.Format(DateLayout)
	updated.UpdatedAtUTC = s.clk.Now()
	if err := s.place(loc, updated); err != nil {
		return Record{}, err
	}
	return updated.Clone(), nil
}

// ResetAttempts zeroes the attempt counter for one stage. This is the only
// sanctioned decrease of a counter; the weekly reconciler uses it to reopen
// the download recovery path for ARCHIVE_UPLOADED_WITHOUT_DOCUMENT records.
func (s *Store) ResetAttempts(code string, stage Stage) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.index[code]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, code)
	}
	updated := s.rows[loc.partition][loc.idx].Clone()
	updated.Attempts.set(stage, 0)
	updated.UpdatedAtUTC = s.clk.Now()
	if err := s.place(loc, updated); err != nil {
		return Record{}, err
	}
	s.log.Info("attempts reset",
		zap.String("unique_code", code),
		zap.String("stage", string(stage)),
	)
	return updated.Clone(), nil
}

// All returns a restartable iterator over records matching filter (nil
// matches everything), ordered by partition ascending and insertion order
// within each partition. Records are cloned; the corpus is never exposed as
// one eager structure.
func (s *Store) All(filter func(Record) bool) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, partition := range s.Partitions() {
			s.mu.Lock()
			snapshot := append([]Record(nil), s.rows[partition]...)
			s.mu.Unlock()
			for _, rec := range snapshot {
				if filter != nil && !filter(rec) {
					continue
				}
				if !yield(rec.Clone()) {
					return
				}
			}
		}
	}
}

// Codes returns the unique codes of records matching filter, in iteration
// order.
func (s *Store) Codes(filter func(Record) bool) []string {
	var codes []string
	for rec := range s.All(filter) {
		codes = append(codes, rec.UniqueCode)
	}
	return codes
}

// place writes updated into its target partition, moving it out of the
// current one when gr_date now maps elsewhere. Caller holds the lock.
func (s *Store) place(loc location, updated Record) error {
	target := PartitionFor(updated.GRDate)
	if target == loc.partition {
		next := append([]Record(nil), s.rows[loc.partition]...)
		next[loc.idx] = updated
		if err := s.writePartition(loc.partition, next); err != nil {
			return err
		}
		s.rows[loc.partition] = next
		return nil
	}

	source := make([]Record, 0, len(s.rows[loc.partition])-1)
	for i, rec := range s.rows[loc.partition] {
		if i != loc.idx {
			source = append(source, rec)
		}
	}
	dest := append(append([]Record(nil), s.rows[target]...), updated)

	if err := s.writePartition(loc.partition, source); err != nil {
		return err
	}
	if err := s.writePartition(target, dest); err != nil {
		return err
	}
	s.rows[loc.partition] = source
	s.rows[target] = dest
	s.reindex(loc.partition)
	s.reindex(target)
	s.log.Info("record moved",
		zap.String("unique_code", updated.UniqueCode),
		zap.String("from", loc.partition),
		zap.String("to", target),
	)
	return nil
}

func (s *Store) reindex(partition string) {
	for code, loc := range s.index {
		if loc.partition == partition {
			delete(s.index, code)
		}
	}
	for i, rec := range s.rows[partition] {
		s.index[rec.UniqueCode] = location{partition: partition, idx: i}
	}
}

func (s *Store) partitionPath(partition string) string {
	return filepath.Join(s.dir, partition+".jsonl")
}

// writePartition performs the atomic replace: marshal every row to a temp
// file in the same directory, then rename over the partition file.
func (s *Store) writePartition(partition string, records []Record) error {
	tmp, err := os.CreateTemp(s.dir, "."+partition+"-*.jsonl.tmp")
	if err != nil {
		return fmt.Errorf("create temp partition: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode record %s: %w", records[i].UniqueCode, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush partition %s: %w", partition, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp partition: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.partitionPath(partition)); err != nil {
		return fmt.Errorf("replace partition %s: %w", partition, err)
	}
	return nil
}

func validateImmutable(current, updated Record) error {
	switch {
	case updated.UniqueCode != current.UniqueCode:
		return fmt.Errorf("%w: unique_code", ErrImmutableField)
	case !updated.CreatedAtUTC.Equal(current.CreatedAtUTC):
		return fmt.Errorf("%w: created_at_utc", ErrImmutableField)
	case updated.FirstSeenCrawlDate != current.FirstSeenCrawlDate:
		return fmt.Errorf("%w: first_seen_crawl_date", ErrImmutableField)
	case updated.FirstSeenRunType != current.FirstSeenRunType:
		return fmt.Errorf("%w: first_seen_run_type", ErrImmutableField)
	case updated.LastSeenCrawlDate != current.LastSeenCrawlDate:
		return fmt.Errorf("%w: last_seen_crawl_date (only monthly Touch advances it)", ErrImmutableField)
	}
	return nil
}

func readPartitionFile(path string) ([]Record, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the ledger dir glob
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.UniqueCode == "" {
			return nil, fmt.Errorf("line %d: missing unique_code", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
