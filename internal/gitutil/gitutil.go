// Package gitutil wraps the handful of git subcommands the snapshot and
// task subsystems shell out to. Every function follows the teacher's
// task/safety.go style: exec.CommandContext, cmd.Dir set to the workspace,
// stderr captured into the wrapped error.
package gitutil

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // args are built from internal state, not user input.
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// Fetch updates the remote tracking refs so origin/<base> is current.
func Fetch(ctx context.Context, dir string) error {
	_, err := run(ctx, dir, "fetch", "origin")
	return err
}

// CreateBranch creates branch at from and checks it out. Fails if branch
// already exists, letting the caller retry with a different name.
func CreateBranch(ctx context.Context, dir, branch, from string) error {
	_, err := run(ctx, dir, "checkout", "-b", branch, from)
	return err
}

// CheckoutBranch switches the working tree to an existing branch.
func CheckoutBranch(ctx context.Context, dir, branch string) error {
	_, err := run(ctx, dir, "checkout", branch)
	return err
}

// CurrentBranch returns the checked-out branch name.
func CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

var branchSeqRe = regexp.MustCompile(`^haivemind/w(\d+)$`)

// MaxBranchSeqNum scans local and remote branches for the highest
// "haivemind/w<N>" sequence number, so a fresh session continues numbering
// instead of colliding with a prior run's branches.
func MaxBranchSeqNum(ctx context.Context, dir string) (int, error) {
	out, err := run(ctx, dir, "branch", "-a", "--format=%(refname:short)")
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "origin/")
		m := branchSeqRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest, nil
}

// Diff returns the unified diff between base and branch.
func Diff(ctx context.Context, dir, base, branch string) (string, error) {
	return run(ctx, dir, "diff", base+"..."+branch)
}

// DiffNameOnly returns just the changed paths between two refs.
func DiffNameOnly(ctx context.Context, dir, from, to string) ([]string, error) {
	out, err := run(ctx, dir, "diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l != "" {
			names = append(names, l)
		}
	}
	return names, nil
}

// DiffStatText returns the human-readable `git diff --stat` summary between
// two refs.
func DiffStatText(ctx context.Context, dir, from, to string) (string, error) {
	return run(ctx, dir, "diff", "--stat", from, to)
}

// UntrackedFiles lists paths git considers untracked (new, not yet added).
func UntrackedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := run(ctx, dir, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l != "" {
			files = append(files, l)
		}
	}
	return files, nil
}

// CleanUntracked removes untracked files and directories, used after a hard
// reset to a snapshot tag so leftover new files don't linger.
func CleanUntracked(ctx context.Context, dir string) error {
	_, err := run(ctx, dir, "clean", "-fd")
	return err
}

// DiffNameStatus returns one "<status>\t<path>" line per changed file,
// feeding the snapshot component's file-level change summary.
func DiffNameStatus(ctx context.Context, dir, base, branch string) ([]string, error) {
	out, err := run(ctx, dir, "diff", "--name-status", base+"..."+branch)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// Tag creates an annotated-free lightweight tag at HEAD, used as the
// preferred snapshot mechanism (cheap, no object copy beyond the tag ref).
func Tag(ctx context.Context, dir, name string) error {
	_, err := run(ctx, dir, "tag", "-f", name)
	return err
}

// ResetToTag hard-resets the working tree to a previously created tag.
func ResetToTag(ctx context.Context, dir, name string) error {
	_, err := run(ctx, dir, "reset", "--hard", name)
	return err
}

// DeleteTag removes a snapshot tag once it is no longer needed.
func DeleteTag(ctx context.Context, dir, name string) error {
	_, err := run(ctx, dir, "tag", "-d", name)
	return err
}

// TagExists reports whether name refers to an existing tag.
func TagExists(ctx context.Context, dir, name string) bool {
	_, err := run(ctx, dir, "rev-parse", "--verify", "refs/tags/"+name)
	return err == nil
}

// IsRepo reports whether dir is inside a git working tree.
func IsRepo(ctx context.Context, dir string) bool {
	out, err := run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}
