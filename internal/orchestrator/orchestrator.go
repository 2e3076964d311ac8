package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/sync/errgroup"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/registry"
	"github.com/hAIvemind-dev/haivemind/internal/snapshot"
	"github.com/hAIvemind-dev/haivemind/internal/task"
)

// analysisRaceTimeout bounds the optional workspace-analysis/research race
// before decomposition proceeds with whatever arrived in time (spec §4.4
// step 3: "a 3 s sub-context").
const analysisRaceTimeout = 3 * time.Second

// verifyMaxRounds bounds the verify-fix loop (spec §4.4 step 6).
const verifyMaxRounds = 3

// checkpointInterval is the periodic flush cadence (spec §4.4 "a periodic
// flush (default 30 s)").
const checkpointInterval = 30 * time.Second

// Orchestrator drives sessions end to end: decomposition, execution,
// verify-fix, and reflection/skill synthesis. It owns no DAG or subprocess
// logic itself — that lives in internal/task and internal/agentmgr — and
// holds no state of its own beyond its configuration and collaborators; all
// mutable session state lives in the injected Engine (spec §9).
type Orchestrator struct {
	Engine    *hvstate.Engine
	Registry  *registry.Registry // nil is valid (no persistence, e.g. in tests)
	Backend   agentmgr.Backend
	Swarm     agentmgr.SwarmRunner
	Publish   func(protocol.Envelope) // records and fans out to observers (broadcast.Broadcaster.Publish); nil records only
	Decompose Decompose
	Verify    Verify
	Planner   Planner
	Analyze   WorkspaceAnalyzer

	BaseConcurrency      int
	SwarmMaxConcurrency  int
	SpeculativeEnabled   bool
	SpeculativeThreshold float64
	TaskSplitEnabled     bool
	TaskSplitAfterRetries int
	StallThresholdMs     int
	StallCheckIntervalMs int
	MaxAgentOutputBytes  int
	AgentTimeout         time.Duration
	CostCeiling          float64
}

// broadcast hands the envelope to Publish, which records it into its owning
// session's timeline and forwards it to observers; with no Publish set it
// records the envelope directly, so each envelope is recorded exactly once.
// Every emission in this package goes through this one choke point (spec
// §4.7: "the broadcaster is the sole path by which observers learn
// anything").
func (o *Orchestrator) broadcast(env protocol.Envelope) {
	if o.Publish == nil {
		o.Engine.Record(env)
		return
	}
	o.Publish(env)
}

// StartSession runs spec §4.4's startSession flow to completion: lock,
// snapshot, decompose (or accept a caller-supplied plan), execute, verify-fix,
// finalize, and reflect. It blocks until the session reaches a terminal
// state; callers that want concurrent sessions call it from their own
// goroutine per session.
func (o *Orchestrator) StartSession(ctx context.Context, proj *project.Project, prompt string, predefined []DecomposedTask) (*hvstate.Session, error) {
	sessionID := ksid.NewID().String()

	// Step 1: workspace advisory lock (spec §5/§8 P6).
	holder, ok := o.Engine.AcquireWorkspaceLock(proj.Dir, sessionID)
	if !ok {
		o.broadcast(protocol.New(protocol.SessionError, protocol.SessionErrorPayload{
			SessionID: sessionID,
			Message:   "workspace is locked by another session",
			HolderID:  holder,
		}))
		return nil, fmt.Errorf("orchestrator: workspace %s locked by session %s", proj.Dir, holder)
	}

	sess := o.Engine.NewSession(sessionID, proj.Slug, prompt, proj.Dir)
	o.broadcast(protocol.New(protocol.SessionStart, protocol.SessionStartPayload{
		SessionID: sessionID, ProjectSlug: proj.Slug, Prompt: prompt,
	}))

	execCtx, cancel := context.WithCancel(ctx)
	sess.SetCancel(cancel)
	defer cancel()

	if err := o.runSession(execCtx, sess, proj, prompt, predefined); err != nil {
		sess.SetStatus(hvstate.SessionFailed)
		o.broadcast(protocol.New(protocol.SessionError, protocol.SessionErrorPayload{
			SessionID: sessionID,
			Message:   err.Error(),
		}))
		o.finalize(sess, proj)
		return sess, err
	}
	return sess, nil
}

// runSession is StartSession's body, split out so every error path funnels
// through one failure handler in StartSession (spec §4.4 step 9: "the
// orchestrator catches all orchestration errors, marks the session failed").
func (o *Orchestrator) runSession(ctx context.Context, sess *hvstate.Session, proj *project.Project, prompt string, predefined []DecomposedTask) error {
	// Step 2: pre-session snapshot.
	snap := snapshot.Take(ctx, proj.Dir, sess.ID)
	sess.SetSnapshot(snap)
	o.writeCheckpoint(sess, proj, nil)

	// Step 3: race workspace analysis and research against a timeout, then
	// decompose (or accept the caller-supplied plan outright).
	decomposed := predefined
	if decomposed == nil {
		analysis, report := o.raceAnalysisAndResearch(ctx, proj, prompt)
		if report != "" {
			o.broadcast(protocol.New(protocol.PlanResearch, protocol.PlanResearchPayload{SessionID: sess.ID, Report: report}))
		}
		if o.Decompose == nil {
			return fmt.Errorf("orchestrator: no decompose collaborator configured")
		}
		plan, err := o.Decompose(ctx, prompt, proj.Dir, DecomposeOpts{Skills: proj.Skills, WorkspaceAnalysis: analysis})
		if err != nil {
			return fmt.Errorf("orchestrator: decompose: %w", err)
		}
		decomposed = plan.Tasks
	}
	if len(decomposed) == 0 {
		return fmt.Errorf("orchestrator: decomposition produced no tasks")
	}

	// Step 4: build the task set, index it, broadcast PLAN_CREATED.
	tasks := decomposedToTasks(decomposed)
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	o.Engine.IndexTasks(sess.ID, ids)
	o.broadcast(planCreatedEnvelope(sess.ID, tasks, false, ""))

	// Step 5: execute to completion.
	snaps, mgr, err := o.runRound(ctx, sess, proj, tasks)
	if err != nil {
		return err
	}

	// Step 6: verify-fix loop.
	snaps, mgr, err = o.verifyFixLoop(ctx, sess, proj, snaps, mgr)
	if err != nil {
		return err
	}

	// Step 7: finalize.
	status := hvstate.SessionCompleted
	for _, s := range snaps {
		if s.Status == task.StatusBlocked {
			status = hvstate.SessionPartial
			break
		}
	}
	sess.SetStatus(status)
	o.broadcast(protocol.New(protocol.SessionComplete, protocol.SessionCompletePayload{
		SessionID:   sess.ID,
		Status:      statusWireString(status),
		CostSummary: mgr.CostSummary(),
		Rewrites:    len(sess.Runner().Rewrites()),
		SwarmStats:  sess.Runner().GetSwarmStats(),
	}))
	o.finalize(sess, proj)

	// Step 8: reflection synthesis + skill extraction.
	o.synthesize(sess, proj, snaps, mgr)
	return nil
}

func statusWireString(s hvstate.SessionStatus) string {
	if s == hvstate.SessionPartial {
		return "partial"
	}
	return "completed"
}

// raceAnalysisAndResearch runs the workspace analyzer and research planner
// concurrently against a bounded sub-context; either or both may be nil or
// time out, in which case decomposition proceeds without them (spec §4.4
// step 3, best-effort by design — a slow analyzer must never block the
// session).
func (o *Orchestrator) raceAnalysisAndResearch(ctx context.Context, proj *project.Project, prompt string) (*project.WorkspaceAnalysis, string) {
	raceCtx, cancel := context.WithTimeout(ctx, analysisRaceTimeout)
	defer cancel()

	var mu sync.Mutex
	var analysis *project.WorkspaceAnalysis
	var report string

	g, gctx := errgroup.WithContext(raceCtx)
	g.Go(func() error {
		if o.Analyze == nil {
			return nil
		}
		a, err := o.Analyze(gctx, proj.Dir)
		if err != nil {
			return nil
		}
		mu.Lock()
		analysis = a
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		if o.Planner == nil {
			return nil
		}
		r, err := o.Planner(gctx, prompt, proj.Dir)
		if err != nil {
			return nil
		}
		mu.Lock()
		report = r.Summary
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	return analysis, report
}

// runRound instantiates a fresh Agent Manager and Task Runner for the given
// task set and runs it to completion, returning the final task snapshots.
func (o *Orchestrator) runRound(ctx context.Context, sess *hvstate.Session, proj *project.Project, tasks []*task.Task) ([]task.Snapshot, *agentmgr.Manager, error) {
	mgr := agentmgr.NewManager(o.Backend, o.broadcast)
	mgr.Swarm = o.Swarm
	mgr.SessionID = sess.ID
	mgr.CostCeiling = o.CostCeiling
	if o.MaxAgentOutputBytes > 0 {
		mgr.MaxAgentOutputBytes = o.MaxAgentOutputBytes
	}
	if o.AgentTimeout > 0 {
		mgr.AgentTimeout = o.AgentTimeout
	}
	sess.SetManager(mgr)

	var safetyBaseRef string
	if snap := sess.Snapshot(); snap.Kind == snapshot.KindTag {
		safetyBaseRef = snap.TagName
	}

	runner, err := task.NewRunner(task.Config{
		SessionID:             sess.ID,
		WorkDir:               proj.Dir,
		Project:               proj,
		Spawner:               mgr,
		Broadcast:             o.broadcast,
		OrchestratorFn:        o.splitTask,
		BaseConcurrency:       o.BaseConcurrency,
		SwarmMaxConcurrency:   o.SwarmMaxConcurrency,
		SpeculativeEnabled:    o.SpeculativeEnabled,
		SpeculativeThreshold:  o.SpeculativeThreshold,
		TaskSplitEnabled:      o.TaskSplitEnabled,
		TaskSplitAfterRetries: o.TaskSplitAfterRetries,
		MaxRetriesTotal:       proj.Settings.MaxRetriesTotal,
		StallThresholdMs:      o.StallThresholdMs,
		StallCheckIntervalMs:  o.StallCheckIntervalMs,
		SafetyBaseRef:         safetyBaseRef,
	}, tasks)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: build runner: %w", err)
	}
	sess.SetRunner(runner)

	go runner.Run(ctx)

	stop := o.startCheckpointTicker(ctx, sess, proj, runner)
	defer close(stop)

	select {
	case <-runner.Done():
	case <-ctx.Done():
		runner.Cleanup()
		mgr.KillAll()
		return runner.Snapshots(), mgr, ctx.Err()
	}
	return runner.Snapshots(), mgr, nil
}

// splitTask adapts the decompose collaborator into a task.OrchestratorFn for
// stuck-task splitting (spec §4.3's adaptive splitting reuses the same
// decomposition capability, just against a narrower prompt).
func (o *Orchestrator) splitTask(ctx context.Context, splitPrompt, workDir string) ([]task.SplitTask, error) {
	if o.Decompose == nil {
		return nil, fmt.Errorf("orchestrator: no decompose collaborator configured")
	}
	plan, err := o.Decompose(ctx, splitPrompt, workDir, DecomposeOpts{})
	if err != nil {
		return nil, err
	}
	out := make([]task.SplitTask, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		out = append(out, task.SplitTask{
			ID: t.ID, Label: t.Label, Description: t.Description,
			Dependencies: t.Dependencies, AffectedFiles: t.AffectedFiles, Gate: t.Gate,
		})
	}
	return out, nil
}

// verifyFixLoop runs up to verifyMaxRounds of verify→fix, each round a fresh
// Task Runner over the follow-up tasks verify reports (spec §4.4 step 6).
func (o *Orchestrator) verifyFixLoop(ctx context.Context, sess *hvstate.Session, proj *project.Project, snaps []task.Snapshot, mgr *agentmgr.Manager) ([]task.Snapshot, *agentmgr.Manager, error) {
	if o.Verify == nil {
		return snaps, mgr, nil
	}

	current := decomposedFromSnapshots(snaps)
	for round := 1; round <= verifyMaxRounds; round++ {
		result, err := o.Verify(ctx, current, proj.Dir, VerifyOpts{Skills: proj.Skills})
		if err != nil {
			return snaps, mgr, fmt.Errorf("orchestrator: verify round %d: %w", round, err)
		}
		o.broadcast(protocol.New(protocol.VerificationStatus, protocol.VerificationStatusPayload{
			SessionID: sess.ID, Round: round, Passed: result.Passed, Issues: result.Issues,
		}))
		if result.Passed || len(result.FollowUpTasks) == 0 {
			return snaps, mgr, nil
		}

		leaves := currentLeaves(snaps)
		namespaced := make([]DecomposedTask, 0, len(result.FollowUpTasks))
		for _, t := range result.FollowUpTasks {
			t.ID = fmt.Sprintf("fix-%d-%s", round, t.ID)
			deps := make([]string, 0, len(t.Dependencies))
			for _, d := range t.Dependencies {
				deps = append(deps, fmt.Sprintf("fix-%d-%s", round, d))
			}
			if len(deps) == 0 {
				deps = leaves
			}
			t.Dependencies = deps
			namespaced = append(namespaced, t)
		}

		fixTasks := decomposedToTasks(namespaced)
		ids := make([]string, 0, len(fixTasks))
		for _, t := range fixTasks {
			ids = append(ids, t.ID)
		}
		o.Engine.IndexTasks(sess.ID, ids)
		o.broadcast(planCreatedEnvelope(sess.ID, fixTasks, true, ""))

		roundSnaps, roundMgr, err := o.runRound(ctx, sess, proj, fixTasks)
		if err != nil {
			return roundSnaps, roundMgr, err
		}
		snaps = append(snaps, roundSnaps...)
		mgr = roundMgr
		current = decomposedFromSnapshots(roundSnaps)
	}
	return snaps, mgr, nil
}

// finalize persists the session's checkpoint deletion and releases the
// workspace lock (spec §4.4 step 7).
func (o *Orchestrator) finalize(sess *hvstate.Session, proj *project.Project) {
	_ = snapshot.Delete(proj.Dir, sess.ID)
	o.Engine.ReleaseWorkspaceLock(proj.Dir, sess.ID)
}

// synthesize computes the session's Reflection, merges newly extracted
// build/test/lint skills into the project, and persists both the session's
// terminal summary and its reflection record (spec §4.4 step 8; spec §6
// "reflections/<sid>.json").
func (o *Orchestrator) synthesize(sess *hvstate.Session, proj *project.Project, snaps []task.Snapshot, mgr *agentmgr.Manager) {
	status := sess.Status()
	refl := buildReflection(status, sess.StartedAt, snaps, mgr.Agents(), mgr.CostSummary())
	sess.SetReflection(refl)

	var discovered []string
	for _, a := range mgr.Agents() {
		extracted := ExtractSkills(a.Output())
		proj.Skills.Merge(extracted)
		discovered = appendNewSkillNames(discovered, extracted)
	}

	if o.Registry == nil {
		return
	}
	_ = o.Registry.SaveSkills(proj.Slug, proj.Skills)
	_ = o.Registry.SaveSession(proj.Slug, registry.SessionSummary{
		SessionID:   sess.ID,
		ProjectSlug: proj.Slug,
		Prompt:      sess.Prompt,
		Status:      statusWireString(status),
		StartedAt:   sess.StartedAt,
		FinishedAt:  time.Now(),
		TotalCost:   mgr.CostSummary().Total,
		Rewrites:    len(sess.Runner().Rewrites()),
		Snapshot:    sess.Snapshot(),
	})
	_ = o.Registry.SaveReflection(proj.Slug, registry.ReflectionRecord{
		SessionID:        sess.ID,
		Reflection:       refl,
		SkillsDiscovered: discovered,
	})
}

// appendNewSkillNames flattens a Skills struct's command lists into dst for
// the reflection record's "what did this session discover" summary.
func appendNewSkillNames(dst []string, s project.Skills) []string {
	dst = append(dst, s.BuildCommands...)
	dst = append(dst, s.TestCommands...)
	dst = append(dst, s.LintCommands...)
	return dst
}

// startCheckpointTicker periodically flushes the session's checkpoint while
// its runner is active, stopping when the returned channel is closed.
func (o *Orchestrator) startCheckpointTicker(ctx context.Context, sess *hvstate.Session, proj *project.Project, runner *task.Runner) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(checkpointInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.writeCheckpoint(sess, proj, runner)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return stop
}

func (o *Orchestrator) writeCheckpoint(sess *hvstate.Session, proj *project.Project, runner *task.Runner) {
	var tasks []snapshot.CheckpointTask
	if runner != nil {
		for _, s := range runner.Snapshots() {
			tasks = append(tasks, snapshot.CheckpointTask{
				ID: s.ID, Label: s.Label, Status: string(s.Status), Dependencies: s.Dependencies,
			})
		}
	}
	var timeline []snapshot.TimelineEvent
	for _, env := range sess.Timeline() {
		timeline = append(timeline, snapshot.TimelineEvent{Timestamp: time.Now(), Type: string(env.Type), Payload: env.Payload})
	}
	_ = snapshot.Write(proj.Dir, snapshot.Checkpoint{
		SessionID:   sess.ID,
		ProjectSlug: sess.ProjectSlug,
		Status:      "running",
		Prompt:      sess.Prompt,
		WorkDir:     sess.WorkDir,
		Snapshot:    sess.Snapshot(),
		Tasks:       tasks,
		Timeline:    timeline,
	})
}

func decomposedToTasks(decomposed []DecomposedTask) []*task.Task {
	out := make([]*task.Task, 0, len(decomposed))
	for _, d := range decomposed {
		out = append(out, task.NewTask(d.ID, d.Label, d.Description, d.Dependencies, task.TypeWork, d.Gate, d.AffectedFiles))
	}
	return out
}

// currentLeaves returns the ids of tasks in snaps that no other task in the
// set depends on — the frontier a new root must be anchored behind so it
// runs after the existing plan settles rather than racing it (spec §4.4
// "current leaves").
func currentLeaves(snaps []task.Snapshot) []string {
	depended := make(map[string]bool, len(snaps))
	for _, s := range snaps {
		for _, d := range s.Dependencies {
			depended[d] = true
		}
	}
	leaves := make([]string, 0, len(snaps))
	for _, s := range snaps {
		if !depended[s.ID] {
			leaves = append(leaves, s.ID)
		}
	}
	return leaves
}

// decomposedFromSnapshots converts completed task snapshots back into the
// decompose/verify collaborators' shared representation, so verify's
// follow-up tasks can reference the work just done.
func decomposedFromSnapshots(snaps []task.Snapshot) []DecomposedTask {
	out := make([]DecomposedTask, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, DecomposedTask{
			ID: s.ID, Label: s.Label, Description: s.Description,
			Dependencies: s.Dependencies, AffectedFiles: nil,
		})
	}
	return out
}

func planCreatedEnvelope(sessionID string, tasks []*task.Task, appendMode bool, splitFrom string) protocol.Envelope {
	planTasks := make([]protocol.PlanTask, 0, len(tasks))
	var edges []protocol.PlanEdge
	for _, t := range tasks {
		deps := t.Dependencies()
		planTasks = append(planTasks, protocol.PlanTask{
			ID: t.ID, Label: t.Label, Description: t.Description(), Dependencies: deps,
			Type: string(t.Type), Gate: t.Gate, AffectedFiles: t.AffectedFiles,
		})
		for _, d := range deps {
			edges = append(edges, protocol.PlanEdge{ID: d + "->" + t.ID, Source: d, Target: t.ID})
		}
	}
	return protocol.New(protocol.PlanCreated, protocol.PlanCreatedPayload{
		SessionID: sessionID, Tasks: planTasks, Edges: edges, Append: appendMode, SplitFrom: splitFrom,
	})
}
