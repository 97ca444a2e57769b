package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/clock"
)

// GCSSyncer mirrors files into a Google Cloud Storage bucket under an
// optional object prefix.
type GCSSyncer struct {
	client *storage.Client
	bucket string
	prefix string
	clk    clock.Clock
	log    *zap.Logger
}

// NewGCSSyncer builds a GCSSyncer.
func NewGCSSyncer(client *storage.Client, bucket, prefix string, clk clock.Clock, log *zap.Logger) (*GCSSyncer, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GCSSyncer{client: client, bucket: bucket, prefix: prefix, clk: clk, log: log}, nil
}

// Push implements Syncer.
func (s *GCSSyncer) Push(ctx context.Context, root string, paths []string) (Commit, error) {
	commit := Commit{
		ID:          uuid.NewString(),
		Target:      fmt.Sprintf("gs://%s/%s", s.bucket, s.prefix),
		PushedAtUTC: s.clk.Now(),
	}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return Commit{}, err
		}
		n, err := s.uploadOne(ctx, root, rel)
		if err != nil {
			return Commit{}, fmt.Errorf("push %s: %w", rel, err)
		}
		commit.Files++
		commit.Bytes += n
	}
	s.log.Info("artifact push",
		zap.String("commit_id", commit.ID),
		zap.String("target", commit.Target),
		zap.Int("files", commit.Files),
		zap.Int64("bytes", commit.Bytes))
	return commit, nil
}

func (s *GCSSyncer) uploadOne(ctx context.Context, root, rel string) (int64, error) {
	src, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = src.Close()
	}()

	object := path.Join(s.prefix, rel)
	writer := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	n, err := io.Copy(writer, src)
	if err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return 0, fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return 0, fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return 0, fmt.Errorf("close writer: %w", err)
	}
	return n, nil
}
