// Package artifact pushes downloaded documents and ledger partitions to a
// durable mirror. The core pipeline never depends on this; only the sync
// command does.
package artifact

import (
	"context"
	"time"
)

// Commit identifies one completed push.
type Commit struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	Files       int       `json:"files"`
	Bytes       int64     `json:"bytes"`
	PushedAtUTC time.Time `json:"pushed_at_utc"`
}

// Syncer mirrors a set of files. Paths are relative to root; the relative
// layout is preserved at the destination.
type Syncer interface {
	Push(ctx context.Context, root string, paths []string) (Commit, error)
}
