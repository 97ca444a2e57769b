package stage

import (
	"context"
	"crypto/sha1" // #nosec G505 -- the ledger contract records SHA-1 digests
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
)

// FileInfo describes a fetched document on local disk.
type FileInfo struct {
	Path string
	SHA1 string
	Size int64
}

// Fetcher is the download client boundary: fetch source_url into destPath
// and report the stored file.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, destPath string) (FileInfo, error)
}

// HTTPFetcher implements Fetcher over net/http with a request timeout.
// 429 and 5xx responses and transport errors surface as ServiceError; other
// non-200 statuses as RejectedError.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads sourceURL and writes it atomically to destPath.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL, destPath string) (FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return FileInfo{}, &RejectedError{Op: "download", Reason: fmt.Sprintf("bad url: %v", err)}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return FileInfo{}, &ServiceError{Op: "download", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return FileInfo{}, &ServiceError{Op: "download", Err: fmt.Errorf("http_%d", resp.StatusCode)}
	default:
		return FileInfo{}, &RejectedError{Op: "download", Reason: fmt.Sprintf("http_%d", resp.StatusCode)}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return FileInfo{}, fmt.Errorf("create download dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".*")
	if err != nil {
		return FileInfo{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	digest := sha1.New() // #nosec G401 -- contractual digest, not a credential
	size, err := io.Copy(io.MultiWriter(tmp, digest), resp.Body)
	if err != nil {
		_ = tmp.Close()
		return FileInfo{}, &ServiceError{Op: "download", Err: fmt.Errorf("read body: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return FileInfo{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return FileInfo{}, fmt.Errorf("move into place: %w", err)
	}
	return FileInfo{
		Path: destPath,
		SHA1: hex.EncodeToString(digest.Sum(nil)),
		Size: size,
	}, nil
}

// DownloadAdapter runs the download stage: FETCHED records always, plus
// ARCHIVE_UPLOADED_WITHOUT_DOCUMENT records when the weekly recovery pass
// enables it.
type DownloadAdapter struct {
	fetcher Fetcher
	lfsRoot string
	// RecoverWithoutDoc opens the weekly recovery path.
	RecoverWithoutDoc bool
	log               *zap.Logger
}

// NewDownloadAdapter builds a DownloadAdapter storing documents under
// lfsRoot.
func NewDownloadAdapter(fetcher Fetcher, lfsRoot string, log *zap.Logger) *DownloadAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &DownloadAdapter{fetcher: fetcher, lfsRoot: lfsRoot, log: log}
}

// Stage implements Adapter.
func (a *DownloadAdapter) Stage() ledger.Stage {
	return ledger.StageDownload
}

// Eligible implements Adapter.
func (a *DownloadAdapter) Eligible(rec ledger.Record) bool {
	if rec.SourceURL == "" {
		return false
	}
	if rec.State == ledger.StateFetched {
		return true
	}
	return a.RecoverWithoutDoc && rec.State == ledger.StateArchivedWithoutDoc
}

// DocumentPath derives the canonical local path for a record's document:
// <lfsRoot>/<department_code>/<YYYY-MM>/<safe_code>.pdf, or the already
// confirmed lfs_path when present.
func (a *DownloadAdapter) DocumentPath(rec ledger.Record) string {
	if rec.LFSPath != "" {
		return rec.LFSPath
	}
	dept := rec.DepartmentCode
	if dept == "" {
		dept = ledger.PartitionUnknown
	}
	month := ledger.PartitionUnknown
	if t, ok := ledger.ParseDate(rec.GRDate); ok {
		month = t.Format("2006-01")
	}
	return filepath.Join(a.lfsRoot, dept, month, ledger.SafeToken(rec.UniqueCode)+".pdf")
}

// Attempt implements Adapter. A document already on disk counts as a success
// without refetching, so interrupted runs converge.
func (a *DownloadAdapter) Attempt(ctx context.Context, rec ledger.Record) Result {
	destPath := a.DocumentPath(rec)

	if info, err := os.Stat(destPath); err == nil && info.Mode().IsRegular() {
		hash, herr := sha1File(destPath)
		if herr == nil {
			return downloadSuccess(FileInfo{Path: destPath, SHA1: hash, Size: info.Size()})
		}
		a.log.Warn("existing document unreadable, refetching",
			zap.String("path", destPath), zap.Error(herr))
	}

	info, err := a.fetcher.Fetch(ctx, rec.SourceURL, destPath)
	if err != nil {
		return downloadFailure(err)
	}
	return downloadSuccess(info)
}

func downloadSuccess(info FileInfo) Result {
	return Result{
		Success:     true,
		HasDocument: true,
		Apply: func(rec *ledger.Record) {
			rec.Download = &ledger.DownloadResult{
				Path:   info.Path,
				Status: ledger.StatusSuccess,
				Hash:   info.SHA1,
				Size:   info.Size,
			}
			rec.LFSPath = info.Path
		},
	}
}

func downloadFailure(err error) Result {
	return Result{
		Err: err,
		Apply: func(rec *ledger.Record) {
			prev := ledger.DownloadResult{}
			if rec.Download != nil {
				prev = *rec.Download
			}
			prev.Status = ledger.StatusFailed
			prev.Error = err.Error()
			rec.Download = &prev
		},
	}
}

func sha1File(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path derived from the LFS root
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()
	digest := sha1.New() // #nosec G401 -- contractual digest, not a credential
	if _, err := io.Copy(digest, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
