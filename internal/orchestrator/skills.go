package orchestrator

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/hAIvemind-dev/haivemind/internal/project"
)

// Bounds on extracted skill lists per session, mirroring summarizer's
// per-field caps so one noisy agent can't swamp a project's skill set.
const maxSkillCommandsPerSession = 10

// Command-classifying patterns, most specific first within each list. Lines
// are checked build-then-test-then-lint; a line matching more than one class
// (e.g. "make test" also looking vaguely build-ish) is filed under its first
// match only. Grounded on summarizer.go's package-level compiled-regex-table
// idiom, narrowed from "what kind of output line is this" to "what kind of
// command is this."
var (
	buildCmdPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\$?\s*(?:go build\S*|npm run build\S*|yarn build|pnpm build|make build|cargo build\S*|mvn (?:package|install)|gradle(?:w)? build)\b.*$`),
	}
	testCmdPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\$?\s*(?:go test\S*|npm (?:test|run test)\S*|yarn test|pnpm test|pytest\S*|make test|cargo test\S*|jest\S*|mvn test|gradle(?:w)? test)\b.*$`),
	}
	lintCmdPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\$?\s*(?:golangci-lint\S*|eslint\S*|npm run lint\S*|yarn lint|pnpm lint|ruff\S*|flake8\S*|make lint)\b.*$`),
	}
)

// ExtractSkills regex-matches build/test/lint invocations out of one agent's
// raw output (spec §4.4 step 8: "extract skills by regex-matching build/test/
// lint commands in concatenated agent output"). The caller merges the result
// into the project's Skills via Skills.Merge.
func ExtractSkills(rawOutput string) project.Skills {
	var skills project.Skills
	seenBuild := map[string]bool{}
	seenTest := map[string]bool{}
	seenLint := map[string]bool{}

	scanner := bufio.NewScanner(strings.NewReader(rawOutput))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case matchesAny(line, buildCmdPatterns):
			addCapped(&skills.BuildCommands, seenBuild, line, maxSkillCommandsPerSession)
		case matchesAny(line, testCmdPatterns):
			addCapped(&skills.TestCommands, seenTest, line, maxSkillCommandsPerSession)
		case matchesAny(line, lintCmdPatterns):
			addCapped(&skills.LintCommands, seenLint, line, maxSkillCommandsPerSession)
		}
	}
	return skills
}

func matchesAny(line string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func addCapped(out *[]string, seen map[string]bool, value string, max int) {
	if len(*out) >= max || seen[value] {
		return
	}
	seen[value] = true
	*out = append(*out, value)
}
