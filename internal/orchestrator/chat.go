package orchestrator

import (
	"context"
	"fmt"

	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/task"
)

// HandleChatMessage extends a session with a new chat-driven round of work
// (spec §4.4 handleChatMessage): decompose the message into tasks namespaced
// to this iteration, bridge them behind a synthetic prompt node so the new
// work is ordered after (but not dependent on the content of) anything still
// settling from a prior round, run to completion, then verify-fix. Rejects
// if a chat iteration is already in flight for this session.
func (o *Orchestrator) HandleChatMessage(ctx context.Context, sess *hvstate.Session, proj *project.Project, message string) error {
	iteration, ok := sess.BeginChatIteration()
	if !ok {
		return fmt.Errorf("orchestrator: session %s already has a chat iteration in flight", sess.ID)
	}
	defer sess.EndChatIteration()

	promptNodeID := fmt.Sprintf("__prompt_%d__", iteration)
	o.broadcast(protocol.New(protocol.IterationStart, protocol.IterationStartPayload{
		SessionID: sess.ID, Iteration: iteration, PromptID: promptNodeID,
	}))

	if o.Decompose == nil {
		return fmt.Errorf("orchestrator: no decompose collaborator configured")
	}
	plan, err := o.Decompose(ctx, message, proj.Dir, DecomposeOpts{Skills: proj.Skills})
	if err != nil {
		return fmt.Errorf("orchestrator: decompose chat message: %w", err)
	}
	if len(plan.Tasks) == 0 {
		o.broadcast(protocol.New(protocol.IterationComplete, protocol.IterationCompletePayload{SessionID: sess.ID, Iteration: iteration}))
		return nil
	}

	var priorLeaves []string
	if runner := sess.Runner(); runner != nil {
		priorLeaves = currentLeaves(runner.Snapshots())
	}
	promptNode := task.NewTask(promptNodeID, "chat prompt", message, priorLeaves, task.TypePrompt, false, nil)
	tasks := []*task.Task{promptNode}
	for _, d := range namespaceIteration(iteration, plan.Tasks) {
		deps := d.Dependencies
		if len(deps) == 0 {
			deps = []string{promptNodeID}
		}
		tasks = append(tasks, task.NewTask(d.ID, d.Label, d.Description, deps, task.TypeWork, d.Gate, d.AffectedFiles))
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	o.Engine.IndexTasks(sess.ID, ids)
	o.broadcast(planCreatedEnvelope(sess.ID, tasks, true, ""))

	snaps, mgr, err := o.runRound(ctx, sess, proj, tasks)
	if err != nil {
		return err
	}
	if _, _, err := o.verifyFixLoop(ctx, sess, proj, snaps, mgr); err != nil {
		return err
	}

	o.broadcast(protocol.New(protocol.IterationComplete, protocol.IterationCompletePayload{SessionID: sess.ID, Iteration: iteration}))
	return nil
}

// namespaceIteration prefixes every task id (and internal dependency
// reference) with its chat iteration, so re-running the same decomposition
// shape across iterations never collides with an earlier iteration's ids —
// mirroring the verify-fix loop's "fix-<round>-<id>" namespacing.
func namespaceIteration(iteration int, tasks []DecomposedTask) []DecomposedTask {
	idMap := make(map[string]string, len(tasks))
	for _, t := range tasks {
		idMap[t.ID] = fmt.Sprintf("iter-%d-%s", iteration, t.ID)
	}
	out := make([]DecomposedTask, 0, len(tasks))
	for _, t := range tasks {
		deps := make([]string, 0, len(t.Dependencies))
		for _, d := range t.Dependencies {
			if nd, ok := idMap[d]; ok {
				deps = append(deps, nd)
			}
		}
		out = append(out, DecomposedTask{
			ID: idMap[t.ID], Label: t.Label, Description: t.Description,
			Dependencies: deps, AffectedFiles: t.AffectedFiles, Gate: t.Gate,
		})
	}
	return out
}
