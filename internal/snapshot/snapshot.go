// Package snapshot takes a pre-session capture of the workspace and can roll
// it back or diff against it. Grounded on the teacher's direct git shell-outs
// (task/safety.go, gitutil) — there is no pluggable storage backend, just
// exec.CommandContext and the stdlib archive/tar + compress/gzip fallback
// for workspaces that aren't a git working tree.
package snapshot

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/gitutil"
)

// Kind identifies which mechanism backs a Snapshot.
type Kind string

const (
	KindNone   Kind = "none"
	KindTag    Kind = "tag"
	KindTarball Kind = "tarball"
)

// Snapshot records how to roll back or diff a workspace as it stood before
// a session started.
type Snapshot struct {
	Kind      Kind   `json:"kind"`
	WorkDir   string `json:"workDir"`
	TagName   string `json:"tagName,omitempty"`
	TarPath   string `json:"tarPath,omitempty"`
	TakenAt   time.Time `json:"takenAt"`
}

var excludedDirs = map[string]bool{
	".haivemind":   true,
	"node_modules": true,
	".git":         true,
}

// Take captures workDir's current state: a lightweight git tag if workDir is
// inside a git working tree, else a gzip tarball under
// <workDir>/.haivemind/snapshots/, else KindNone if neither is possible.
func Take(ctx context.Context, workDir, sessionID string) Snapshot {
	if gitutil.IsRepo(ctx, workDir) {
		tag := "haivemind/pre-session/" + sessionID
		if err := gitutil.Tag(ctx, workDir, tag); err == nil {
			return Snapshot{Kind: KindTag, WorkDir: workDir, TagName: tag, TakenAt: time.Now()}
		}
	}

	dir := filepath.Join(workDir, ".haivemind", "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Snapshot{Kind: KindNone, WorkDir: workDir, TakenAt: time.Now()}
	}
	tarPath := filepath.Join(dir, sessionID+".tar.gz")
	if err := writeTarball(workDir, tarPath); err != nil {
		return Snapshot{Kind: KindNone, WorkDir: workDir, TakenAt: time.Now()}
	}
	return Snapshot{Kind: KindTarball, WorkDir: workDir, TarPath: tarPath, TakenAt: time.Now()}
}

// Rollback restores workDir to the state captured by s.
func Rollback(ctx context.Context, s Snapshot) error {
	switch s.Kind {
	case KindTag:
		if err := gitutil.ResetToTag(ctx, s.WorkDir, s.TagName); err != nil {
			return fmt.Errorf("snapshot: reset to tag: %w", err)
		}
		return gitutil.CleanUntracked(ctx, s.WorkDir)
	case KindTarball:
		return extractTarball(s.TarPath, s.WorkDir)
	default:
		return fmt.Errorf("snapshot: cannot roll back a %q snapshot", s.Kind)
	}
}

// Diff describes what changed relative to a snapshot.
type Diff struct {
	NameOnly []string `json:"nameOnly"`
	Stat     string   `json:"stat"`
	Untracked []string `json:"untracked"`
}

// GetDiff reports the files changed since s was taken, merging tracked diffs
// with any new untracked files.
func GetDiff(ctx context.Context, s Snapshot) (Diff, error) {
	var d Diff
	if s.Kind != KindTag {
		return d, fmt.Errorf("snapshot: diff only supported for tag snapshots")
	}
	names, err := gitutil.DiffNameOnly(ctx, s.WorkDir, s.TagName, "HEAD")
	if err != nil {
		return d, err
	}
	stat, err := gitutil.DiffStatText(ctx, s.WorkDir, s.TagName, "HEAD")
	if err != nil {
		return d, err
	}
	untracked, err := gitutil.UntrackedFiles(ctx, s.WorkDir)
	if err != nil {
		return d, err
	}
	d.NameOnly = names
	d.Stat = stat
	d.Untracked = untracked
	return d, nil
}

func writeTarball(workDir, tarPath string) error {
	f, err := os.Create(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(workDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && excludedDirs[d.Name()] {
			return filepath.SkipDir
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	})
}

func extractTarball(tarPath, destDir string) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("snapshot: tar entry escapes destination: %s", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
