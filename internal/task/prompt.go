package task

import (
	"fmt"
	"strings"

	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/summarizer"
)

// buildExtraContext concatenates summary-to-context renderings of every
// prior failure report for a task, fed into the retry prompt (spec §4.3
// "_launchTask ... build extraContext by concatenating summary-to-context
// renderings of prior failure reports").
func buildExtraContext(reports []FailureReport) string {
	if len(reports) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range reports {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(summarizer.ToContext(r.Summary, ""))
	}
	return b.String()
}

// buildPrompt assembles the agent prompt from the task, project skills, and
// any accumulated retry context (spec §4.2 spawn: "{task.label,
// task.description, task.affectedFiles, project.skills,
// project.workspaceAnalysis, extraContext}").
func buildPrompt(t *Task, proj *project.Project, workspace *project.WorkspaceAnalysis, extraContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task: %s\n\n%s\n", t.Label, t.Description())
	if len(t.AffectedFiles) > 0 {
		b.WriteString("\n**Affected files:** ")
		b.WriteString(strings.Join(t.AffectedFiles, ", "))
		b.WriteString("\n")
	}
	if proj != nil {
		if len(proj.Skills.BuildCommands) > 0 {
			fmt.Fprintf(&b, "\n**Build:** %s\n", strings.Join(proj.Skills.BuildCommands, "; "))
		}
		if len(proj.Skills.TestCommands) > 0 {
			fmt.Fprintf(&b, "**Test:** %s\n", strings.Join(proj.Skills.TestCommands, "; "))
		}
	}
	if workspace != nil && workspace.Summary != "" {
		fmt.Fprintf(&b, "\n**Workspace:** %s\n", workspace.Summary)
	}
	if extraContext != "" {
		b.WriteString("\n")
		b.WriteString(extraContext)
	}
	return b.String()
}

// buildSplitPrompt describes a stuck task to the orchestrator's decompose
// collaborator, asking for a 2-4 task sub-plan (spec §4.3 "_trySplitTask").
func buildSplitPrompt(t *Task, st *TaskState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %q has failed %d time(s) and needs to be split into 2-4 smaller sub-tasks:\n\n%s\n", t.Label, st.Retries(), t.Description())
	reports := st.FailureReports()
	if len(reports) > 0 {
		b.WriteString("\nMost recent failure:\n")
		b.WriteString(reports[len(reports)-1].Summary.Digest)
		b.WriteString("\n")
	}
	return b.String()
}

// categorize assigns a coarse failure category from a summary, used to tag
// FailureReports for downstream triage. No model call is involved — this is
// a local heuristic, not a suggested-fix service (spec §1 Non-goals: no
// direct model calls from this engine).
func categorize(s summarizer.Summary) string {
	switch {
	case s.Tests.Failed > 0:
		return "test_failure"
	case len(s.Errors) > 0:
		return "error"
	default:
		return "unknown"
	}
}

// suggestFix renders a short heuristic suggestion from a summary's counts,
// injected into the failure report for observers; not a model-generated fix.
func suggestFix(s summarizer.Summary) string {
	switch {
	case s.Tests.Failed > 0:
		return fmt.Sprintf("Investigate %d failing test(s): %s", s.Tests.Failed, strings.Join(s.Tests.Details, "; "))
	case len(s.Errors) > 0:
		return "Address reported error(s): " + strings.Join(s.Errors, "; ")
	default:
		return "Review attempt output for the cause of failure."
	}
}
