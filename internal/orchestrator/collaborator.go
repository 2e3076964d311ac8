// Package orchestrator implements the Session Orchestrator: spec §4.4's
// startSession/handleChatMessage flow, the verify-fix loop, and the
// post-session Reflection/skill-extraction step. It is the sole emitter of
// the canonical SESSION_COMPLETE (spec §9 Open Question #3) and the top of
// the ownership tree — sessions, runners, and agents never hold a reference
// back up to it (spec §9 "cyclic ownership").
package orchestrator

import (
	"context"

	"github.com/hAIvemind-dev/haivemind/internal/project"
)

// DecomposedTask is one task as returned by the decompose collaborator
// (spec §6: "decompose(prompt, workDir, {...}) → Plan" returning
// "{tasks:[{id,label,description,dependencies,affectedFiles?}]}").
type DecomposedTask struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Description   string   `json:"description"`
	Dependencies  []string `json:"dependencies"`
	AffectedFiles []string `json:"affectedFiles,omitempty"`
	Gate          bool     `json:"gate,omitempty"`
}

// Plan is the decompose collaborator's return value.
type Plan struct {
	Tasks []DecomposedTask `json:"tasks"`
}

// DecomposeOpts carries the optional context decompose may use.
type DecomposeOpts struct {
	Skills            project.Skills
	WorkspaceAnalysis *project.WorkspaceAnalysis
}

// Decompose turns a prompt into a task plan. Injected, not owned (spec §6).
type Decompose func(ctx context.Context, prompt, workDir string, opts DecomposeOpts) (Plan, error)

// VerifyOpts carries the optional context verify may use.
type VerifyOpts struct {
	Skills project.Skills
}

// VerifyResult is the outcome of one verify-fix round.
type VerifyResult struct {
	Passed        bool             `json:"passed"`
	Issues        []string         `json:"issues"`
	FollowUpTasks []DecomposedTask `json:"followUpTasks"`
	TestsRun      []string         `json:"testsRun,omitempty"`
}

// Verify checks a completed plan's output against the workspace. Injected,
// not owned (spec §6).
type Verify func(ctx context.Context, tasks []DecomposedTask, workDir string, opts VerifyOpts) (VerifyResult, error)

// ResearchReport is the research planner's output (spec §6 "plan(...) →
// ResearchReport"); opaque beyond a rendered summary since nothing in this
// engine inspects its structure further.
type ResearchReport struct {
	Summary string `json:"summary"`
}

// Planner researches a feature before decomposition. Injected, not owned.
type Planner func(ctx context.Context, featureDescription, workDir string) (ResearchReport, error)

// WorkspaceAnalyzer produces the optional tech-stack summary raced against a
// timeout in step 3 of startSession.
type WorkspaceAnalyzer func(ctx context.Context, workDir string) (*project.WorkspaceAnalysis, error)
