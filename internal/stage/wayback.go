package stage

import (
	"context"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/ledger"
)

// Snapshot is a completed web-archive capture.
type Snapshot struct {
	URL         string
	ContentURL  string
	ArchiveTime string
	SHA1        string
	Length      int64
	Mimetype    string
	StatusCode  string
}

// Submitter is the wayback client boundary.
type Submitter interface {
	Submit(ctx context.Context, sourceURL string) (Snapshot, error)
}

// WaybackAdapter runs the wayback stage over downloaded records that have no
// successful snapshot yet.
type WaybackAdapter struct {
	client Submitter
	log    *zap.Logger
}

// NewWaybackAdapter builds a WaybackAdapter.
func NewWaybackAdapter(client Submitter, log *zap.Logger) *WaybackAdapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &WaybackAdapter{client: client, log: log}
}

// Stage implements Adapter.
func (a *WaybackAdapter) Stage() ledger.Stage {
	return ledger.StageWayback
}

// Eligible implements Adapter.
func (a *WaybackAdapter) Eligible(rec ledger.Record) bool {
	if rec.State != ledger.StateDownloadSuccess || rec.SourceURL == "" {
		return false
	}
	return rec.Wayback == nil || rec.Wayback.Status != ledger.StatusSuccess
}

// Attempt implements Adapter.
func (a *WaybackAdapter) Attempt(ctx context.Context, rec ledger.Record) Result {
	snap, err := a.client.Submit(ctx, rec.SourceURL)
	if err != nil {
		return Result{
			Err: err,
			Apply: func(rec *ledger.Record) {
				prev := ledger.WaybackResult{}
				if rec.Wayback != nil {
					prev = *rec.Wayback
				}
				prev.Status = ledger.StatusFailed
				prev.Error = err.Error()
				rec.Wayback = &prev
			},
		}
	}
	return Result{
		Success: true,
		Apply: func(rec *ledger.Record) {
			rec.Wayback = &ledger.WaybackResult{
				URL:         snap.URL,
				ContentURL:  snap.ContentURL,
				ArchiveTime: snap.ArchiveTime,
				SHA1:        snap.SHA1,
				Length:      snap.Length,
				Mimetype:    snap.Mimetype,
				StatusCode:  snap.StatusCode,
				Status:      ledger.StatusSuccess,
			}
		},
	}
}
