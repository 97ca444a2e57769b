package cmd

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/civicdatalab/gr-archiver/internal/artifact"
)

func newSyncCmd() *cobra.Command {
	var (
		ledgerOnly    bool
		documentsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push ledger partitions and downloaded documents to the mirror",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			started := time.Now()
			var commits []artifact.Commit

			if !documentsOnly {
				paths, err := relativeFiles(a.Cfg.Ledger.Dir, "*.jsonl")
				if err != nil {
					return err
				}
				commit, err := a.Syncer.Push(cmd.Context(), a.Cfg.Ledger.Dir, paths)
				if err != nil {
					publishRunEvent(cmd.Context(), a, "sync", "ledger", started, err, nil)
					return err
				}
				commits = append(commits, commit)
			}
			if !ledgerOnly {
				paths, err := relativeFiles(a.Cfg.Download.LFSRoot, "*")
				if err != nil {
					return err
				}
				commit, err := a.Syncer.Push(cmd.Context(), a.Cfg.Download.LFSRoot, paths)
				if err != nil {
					publishRunEvent(cmd.Context(), a, "sync", "documents", started, err, nil)
					return err
				}
				commits = append(commits, commit)
			}

			publishRunEvent(cmd.Context(), a, "sync", "", started, nil, commits)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(commits)
		},
	}

	cmd.Flags().BoolVar(&ledgerOnly, "ledger-only", false, "push only the ledger partitions")
	cmd.Flags().BoolVar(&documentsOnly, "documents-only", false, "push only the downloaded documents")
	cmd.MarkFlagsMutuallyExclusive("ledger-only", "documents-only")
	return cmd
}

// relativeFiles walks root and returns slash-separated file paths relative
// to it, filtered by the base-name pattern. A missing root yields an empty
// list.
func relativeFiles(root, pattern string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
