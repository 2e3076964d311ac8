package task

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hAIvemind-dev/haivemind/internal/gitutil"
)

// maxSafetyIssues bounds one scan's findings, matching summarizer's
// capped-slice convention.
const maxSafetyIssues = 15

// SafetyIssue flags one suspicious file or line turned up by CheckSafety.
type SafetyIssue struct {
	File   string `json:"file"`
	Kind   string `json:"kind"` // "secret" | "binary"
	Detail string `json:"detail"`
}

type secretPattern struct {
	re   *regexp.Regexp
	desc string
}

// secretPatterns mirrors the teacher's task/safety.go table; pattern strings
// stay split so this file doesn't match itself.
var secretPatterns = []*secretPattern{
	{regexp.MustCompile(`AK` + `IA[0-9A-Z]{16}`), "AWS access key"},
	{regexp.MustCompile(`-{5}` + `BEGIN\s+(RSA|DSA|EC|OPENSSH|PGP)\s+PRIV` + `ATE\s+KEY-{5}`), "private key"},
	{regexp.MustCompile(`gh` + `p_[A-Za-z0-9_]{36}`), "GitHub personal access token"},
	{regexp.MustCompile(`gh` + `o_[A-Za-z0-9_]{36}`), "GitHub OAuth token"},
	{regexp.MustCompile(`github` + `_pat_[A-Za-z0-9_]{22,}`), "GitHub fine-grained PAT"},
	{regexp.MustCompile(`sk` + `-[A-Za-z0-9]{20,}`), "API secret key"},
	{regexp.MustCompile(`(?i)(pass` + `word|sec` + `ret|to` + `ken|api[_-]?key)\s*[:=]\s*['"][^'"]{8,}`), "hardcoded credential"},
}

// CheckSafety scans the diff between baseRef and HEAD for added secrets and
// binary files. A non-nil error means the diff itself failed, not that a
// safety problem was found. Adapted from the teacher's branch-to-branch
// scanner (task/safety.go) to this runner's session-snapshot-to-HEAD model:
// there is no per-task branch here, so every successful task is scanned
// against the same pre-session baseline.
func CheckSafety(ctx context.Context, dir, baseRef string) ([]SafetyIssue, error) {
	diff, err := gitutil.Diff(ctx, dir, baseRef, "HEAD")
	if err != nil {
		return nil, fmt.Errorf("task: safety scan: %w", err)
	}

	var issues []SafetyIssue
	seen := make(map[string]bool)
	var currentFile string

	scanner := bufio.NewScanner(strings.NewReader(diff))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if len(issues) >= maxSafetyIssues {
			break
		}
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "+++ b/"); ok {
			currentFile = after
			continue
		}
		if strings.HasPrefix(line, "Binary files ") && strings.HasSuffix(line, " differ") {
			key := currentFile + ":binary"
			if !seen[key] {
				seen[key] = true
				issues = append(issues, SafetyIssue{File: currentFile, Kind: "binary", Detail: "binary file added or modified"})
			}
			continue
		}
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		added := line[1:]
		for _, sp := range secretPatterns {
			if !sp.re.MatchString(added) {
				continue
			}
			key := currentFile + ":" + sp.desc
			if seen[key] {
				continue
			}
			seen[key] = true
			issues = append(issues, SafetyIssue{File: currentFile, Kind: "secret", Detail: fmt.Sprintf("possible %s detected", sp.desc)})
		}
	}
	return issues, nil
}
