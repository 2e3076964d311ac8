// Package summarizer extracts a compact, structured summary from raw agent
// output: files touched, errors, warnings, test results, and commands run.
// Every extractor is a small closed set of compiled regexes, in the style of
// the teacher's task/safety.go secret scanner — package-level pattern tables,
// a single bufio.Scanner pass, capped and deduped result slices.
package summarizer

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Bounds on every extracted list, per spec §3.
const (
	maxFilesChanged = 25
	maxFilesDeleted = 15
	maxErrors       = 15
	maxWarnings     = 8
	maxCommands     = 10
	maxTestDetails  = 15
)

// TestCounts holds pass/fail/skip counts from the most specific test
// framework matcher that fired, plus per-failure detail lines.
type TestCounts struct {
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
	Details []string `json:"details,omitempty"`
}

// Summary is the structured extraction of one agent output blob.
type Summary struct {
	FilesChanged []string   `json:"filesChanged,omitempty"`
	FilesDeleted []string   `json:"filesDeleted,omitempty"`
	Errors       []string   `json:"errors,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	Tests        TestCounts `json:"tests"`
	Commands     []string   `json:"commands,omitempty"`
	Digest       string     `json:"digest"`
}

var (
	filesChangedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`create mode \d+ (.+)$`),
		regexp.MustCompile(`(?i)^(?:Created|Modified|Updated|Wrote|Writing) file:\s*(.+)$`),
		regexp.MustCompile(`^diff --git a/(\S+) b/\S+$`),
		regexp.MustCompile(`^>\s+(\S+\.\w+)\s*$`),
	}
	filesDeletedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`delete mode \d+ (.+)$`),
		regexp.MustCompile(`(?i)^(?:Deleted|Removed) file:\s*(.+)$`),
	}
	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^Error:\s*.+$`),
		regexp.MustCompile(`^TypeError:\s*.+$`),
		regexp.MustCompile(`ENOENT:\s*.+$`),
		regexp.MustCompile(`error TS\d+:\s*.+$`),
		regexp.MustCompile(`^panic:\s*.+$`),
		regexp.MustCompile(`^Traceback\s*.+$`),
		regexp.MustCompile(`^(?:FAIL|---\s*FAIL)\s+.+$`),
	}
	warningPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^Warning:\s*.+$`),
		regexp.MustCompile(`^WARN\s+.+$`),
		regexp.MustCompile(`(?i)deprecated:\s*.+$`),
	}
	commandPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\$\s+(.+)$`),
		regexp.MustCompile(`^>\s+([a-zA-Z].+)$`),
		regexp.MustCompile(`^Running:\s*(.+)$`),
	}

	// Test-framework matchers, most specific first; the first one to match
	// anywhere in the output wins and the rest are not consulted (spec §4.5:
	// "precedence ensuring the most specific match wins").
	jestSummary     = regexp.MustCompile(`Tests:\s*(?:(\d+)\s*failed,\s*)?(?:(\d+)\s*skipped,\s*)?(\d+)\s*passed,\s*(\d+)\s*total`)
	playwrightSum   = regexp.MustCompile(`(\d+)\s*passed(?:\s*\((?:[\d.]+m?s)\))?(?:,\s*(\d+)\s*failed)?(?:,\s*(\d+)\s*skipped)?`)
	pytestSummary   = regexp.MustCompile(`(\d+)\s*passed(?:,\s*(\d+)\s*failed)?(?:,\s*(\d+)\s*skipped)?\s*in\s*[\d.]+s`)
	goTestSummary   = regexp.MustCompile(`^(ok|FAIL)\s+(\S+)\s+[\d.]+s`)
	goTestFailLine  = regexp.MustCompile(`^--- FAIL:\s*(\S+)`)
	jestFailLine    = regexp.MustCompile(`^\s*(?:✕|✗|×)\s*(.+)$`)
	pytestFailLine  = regexp.MustCompile(`^FAILED\s+(.+)$`)
)

// Summarize parses raw agent output and returns a bounded, deduped
// structured summary.
func Summarize(output string) Summary {
	var s Summary
	seenFiles := map[string]bool{}
	seenDeleted := map[string]bool{}
	seenErrors := map[string]bool{}
	seenWarnings := map[string]bool{}
	seenCommands := map[string]bool{}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		matchInto(line, filesChangedPatterns, &s.FilesChanged, seenFiles, maxFilesChanged)
		matchInto(line, filesDeletedPatterns, &s.FilesDeleted, seenDeleted, maxFilesDeleted)
		matchFullInto(line, errorPatterns, &s.Errors, seenErrors, maxErrors)
		matchFullInto(line, warningPatterns, &s.Warnings, seenWarnings, maxWarnings)
		matchInto(line, commandPatterns, &s.Commands, seenCommands, maxCommands)
	}

	s.Tests = extractTests(output)
	s.Digest = digest(s)
	return s
}

// matchInto applies patterns to line; for the first pattern that matches, the
// first capture group (or whole match if no group) is appended to *out if
// not already seen, capped at max.
func matchInto(line string, patterns []*regexp.Regexp, out *[]string, seen map[string]bool, max int) {
	if len(*out) >= max {
		return
	}
	for _, re := range patterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		val := m[0]
		if len(m) > 1 && m[1] != "" {
			val = strings.TrimSpace(m[1])
		}
		if val == "" || seen[val] {
			return
		}
		seen[val] = true
		*out = append(*out, val)
		if len(*out) >= max {
			return
		}
		return
	}
}

// matchFullInto is like matchInto but keeps the whole matched line (errors
// and warnings report the full message, not just a captured path).
func matchFullInto(line string, patterns []*regexp.Regexp, out *[]string, seen map[string]bool, max int) {
	if len(*out) >= max {
		return
	}
	for _, re := range patterns {
		if !re.MatchString(line) {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			return
		}
		seen[trimmed] = true
		*out = append(*out, trimmed)
		return
	}
}

// extractTests tries each framework matcher in precedence order and returns
// the first that fires, along with up to maxTestDetails failure lines.
func extractTests(output string) TestCounts {
	if m := jestSummary.FindStringSubmatch(output); m != nil {
		return TestCounts{
			Failed:  atoi(m[1]),
			Skipped: atoi(m[2]),
			Passed:  atoi(m[3]),
			Details: failureLines(output, jestFailLine),
		}
	}
	if m := goTestSummaryAll(output); m.Passed+m.Failed > 0 {
		return m
	}
	if m := pytestSummary.FindStringSubmatch(output); m != nil {
		return TestCounts{
			Passed:  atoi(m[1]),
			Failed:  atoi(m[2]),
			Skipped: atoi(m[3]),
			Details: failureLines(output, pytestFailLine),
		}
	}
	if m := playwrightSum.FindStringSubmatch(output); m != nil {
		return TestCounts{
			Passed:  atoi(m[1]),
			Failed:  atoi(m[2]),
			Skipped: atoi(m[3]),
			Details: failureLines(output, jestFailLine),
		}
	}
	return TestCounts{}
}

// goTestSummaryAll tallies `ok`/`FAIL` package lines emitted by `go test`.
func goTestSummaryAll(output string) TestCounts {
	var tc TestCounts
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m := goTestSummary.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if m[1] == "ok" {
			tc.Passed++
		} else {
			tc.Failed++
		}
	}
	if tc.Failed > 0 {
		tc.Details = failureLines(output, goTestFailLine)
	}
	return tc
}

func failureLines(output string, re *regexp.Regexp) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m := re.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		out = append(out, strings.TrimSpace(m[1]))
		if len(out) >= maxTestDetails {
			break
		}
	}
	return out
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// digest renders a one-sentence summary derived from counts.
func digest(s Summary) string {
	parts := make([]string, 0, 4)
	if n := len(s.FilesChanged); n > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s) changed", n))
	}
	if n := len(s.FilesDeleted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d file(s) deleted", n))
	}
	if n := len(s.Errors); n > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", n))
	}
	if n := len(s.Warnings); n > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", n))
	}
	if s.Tests.Passed+s.Tests.Failed+s.Tests.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("tests: %d passed, %d failed, %d skipped", s.Tests.Passed, s.Tests.Failed, s.Tests.Skipped))
	}
	if len(parts) == 0 {
		return "no notable output"
	}
	return strings.Join(parts, "; ")
}

// ToContext renders a Markdown "Previous Attempt Summary" block for injection
// into a retry prompt. If the rendered block is shorter than 200 chars and
// rawTail is non-empty, the last 1 KB of raw output is appended as a
// fallback so the agent still has something concrete to react to.
func ToContext(s Summary, rawTail string) string {
	var b strings.Builder
	b.WriteString("## Previous Attempt Summary\n\n")
	b.WriteString(s.Digest)
	b.WriteString("\n")
	writeCappedList(&b, "Files changed", s.FilesChanged)
	writeCappedList(&b, "Files deleted", s.FilesDeleted)
	writeCappedList(&b, "Errors", s.Errors)
	writeCappedList(&b, "Warnings", s.Warnings)
	writeCappedList(&b, "Commands run", s.Commands)
	if len(s.Tests.Details) > 0 {
		writeCappedList(&b, "Test failures", s.Tests.Details)
	}

	rendered := b.String()
	if len(rendered) < 200 && rawTail != "" {
		tail := rawTail
		if len(tail) > 1024 {
			tail = tail[len(tail)-1024:]
		}
		b.WriteString("\n### Raw tail\n\n```\n")
		b.WriteString(tail)
		b.WriteString("\n```\n")
	}
	return b.String()
}

func writeCappedList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n**")
	b.WriteString(title)
	b.WriteString(":**\n")
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
}
