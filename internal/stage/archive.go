package stage

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
)

// DefaultItemPrefix namespaces archive item identifiers.
const DefaultItemPrefix = "in.gov.maharashtra.gr"

// Item is a long-term-archive item reference.
type Item struct {
	Identifier string
	URL        string
}

// UploadRequest carries one archive upload. An empty LocalPath means a
// metadata-only registration; a non-empty Identifier targets the existing
// item instead of creating a new one.
type UploadRequest struct {
	Identifier string
	LocalPath  string
	Metadata   map[string]string
	WaybackURL string
}

// Uploader is the archive client boundary.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (Item, error)
}

// ArchiveAdapter runs the archive stage: document uploads after the wayback
// stage settles, metadata-only fallbacks for permanently failed downloads,
// and document recovery onto existing items.
type ArchiveAdapter struct {
	client     Uploader
	itemPrefix string
	log        *zap.Logger
}

// NewArchiveAdapter builds an ArchiveAdapter. An empty itemPrefix uses
// DefaultItemPrefix.
func NewArchiveAdapter(client Uploader, itemPrefix string, log *zap.Logger) *ArchiveAdapter {
	if itemPrefix == "" {
		itemPrefix = DefaultItemPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ArchiveAdapter{client: client, itemPrefix: itemPrefix, log: log}
}

// Stage implements Adapter.
func (a *ArchiveAdapter) Stage() ledger.Stage {
	return ledger.StageArchive
}

// Eligible implements Adapter. ARCHIVE_UPLOADED_WITHOUT_DOCUMENT records
// qualify only once a later download actually succeeded (the recovery path).
func (a *ArchiveAdapter) Eligible(rec ledger.Record) bool {
	switch rec.State {
	case ledger.StateWaybackUploaded, ledger.StateWaybackUploadFailed, ledger.StateDownloadFailed:
		return true
	case ledger.StateArchivedWithoutDoc:
		return hasConfirmedDocument(rec)
	}
	return false
}

// Identifier resolves the item identifier for a record. A previously stored
// identifier always wins: recovery attaches the document to the same item,
// never a new one.
func (a *ArchiveAdapter) Identifier(rec ledger.Record) string {
	if rec.Archive != nil && rec.Archive.Identifier != "" {
		return rec.Archive.Identifier
	}
	return a.itemPrefix + "." + ledger.SafeToken(rec.UniqueCode)
}

// Attempt implements Adapter.
func (a *ArchiveAdapter) Attempt(ctx context.Context, rec ledger.Record) Result {
	identifier := a.Identifier(rec)
	waybackURL := ""
	if rec.Wayback != nil && rec.Wayback.Status == ledger.StatusSuccess {
		waybackURL = rec.Wayback.URL
	}

	localPath := ""
	hasDoc := hasConfirmedDocument(rec)
	if hasDoc {
		localPath = rec.LFSPath
		if _, err := os.Stat(localPath); err != nil {
			return archiveFailure(&RejectedError{
				Op:     "archive",
				Reason: fmt.Sprintf("missing_download_file: %s", localPath),
			})
		}
	}

	item, err := a.client.Upload(ctx, UploadRequest{
		Identifier: identifier,
		LocalPath:  localPath,
		Metadata:   a.metadata(rec, identifier, waybackURL),
		WaybackURL: waybackURL,
	})
	if err != nil {
		return archiveFailure(err)
	}
	return Result{
		Success:       true,
		HasDocument:   hasDoc,
		HasWaybackURL: waybackURL != "",
		Apply: func(rec *ledger.Record) {
			rec.Archive = &ledger.ArchiveResult{
				Identifier: item.Identifier,
				URL:        item.URL,
				Status:     ledger.StatusSuccess,
			}
		},
	}
}

func (a *ArchiveAdapter) metadata(rec ledger.Record, identifier, waybackURL string) map[string]string {
	md := map[string]string{
		"identifier":  identifier,
		"collection":  "maharashtragr",
		"mediatype":   "texts",
		"title":       fmt.Sprintf("Maharashtra GR: #%s", rec.UniqueCode),
		"creator":     "Government of Maharashtra",
		"unique_code": rec.UniqueCode,
		"url":         rec.SourceURL,
	}
	if rec.DepartmentName != "" {
		md["department"] = rec.DepartmentName
	}
	if rec.GRDate != "" {
		md["date"] = rec.GRDate
	}
	if rec.Title != "" {
		md["description"] = rec.Title
	}
	if waybackURL != "" {
		md["wayback_url"] = waybackURL
	}
	return md
}

func archiveFailure(err error) Result {
	return Result{
		Err: err,
		Apply: func(rec *ledger.Record) {
			prev := ledger.ArchiveResult{}
			if rec.Archive != nil {
				prev = *rec.Archive
			}
			prev.Status = ledger.StatusFailed
			prev.Error = err.Error()
			rec.Archive = &prev
		},
	}
}

func hasConfirmedDocument(rec ledger.Record) bool {
	return rec.LFSPath != "" && rec.Download != nil && rec.Download.Status == ledger.StatusSuccess
}
