package task

import "context"

// SplitTask is one sub-task returned by an OrchestratorFn split call.
// Dependencies reference other sub-tasks' (unnamespaced) IDs within the same
// split batch; a sub-task with no Dependencies inherits the parent's
// original dependency set, making it a root of the sub-DAG (spec §4.3
// "inherit parent's dependencies on roots").
type SplitTask struct {
	ID            string
	Label         string
	Description   string
	Dependencies  []string
	AffectedFiles []string
	Gate          bool
}

// OrchestratorFn decomposes a stuck task into a 2-4 task sub-plan. Injected
// by the Session Orchestrator; nil disables splitting entirely.
type OrchestratorFn func(ctx context.Context, splitPrompt, workDir string) ([]SplitTask, error)
