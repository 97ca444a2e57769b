package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/clock"
)

// LocalSyncer mirrors files into a directory on the local filesystem.
type LocalSyncer struct {
	baseDir string
	clk     clock.Clock
	log     *zap.Logger
}

// NewLocalSyncer builds a LocalSyncer rooted at baseDir, creating it when
// missing.
func NewLocalSyncer(baseDir string, clk clock.Clock, log *zap.Logger) (*LocalSyncer, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalSyncer{baseDir: baseDir, clk: clk, log: log}, nil
}

// Push implements Syncer.
func (s *LocalSyncer) Push(ctx context.Context, root string, paths []string) (Commit, error) {
	commit := Commit{
		ID:          uuid.NewString(),
		Target:      "file://" + s.baseDir,
		PushedAtUTC: s.clk.Now(),
	}
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return Commit{}, err
		}
		n, err := s.copyOne(root, rel)
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

func (s *LocalSyncer) copyOne(root, rel string) (int64, error) {
	dst := filepath.Join(s.baseDir, filepath.FromSlash(rel))
	if !strings.HasPrefix(filepath.Clean(dst), filepath.Clean(s.baseDir)+string(os.PathSeparator)) {
		return 0, fmt.Errorf("path escapes mirror root")
	}

	src, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = src.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".sync-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}
