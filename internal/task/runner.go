package task

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/summarizer"
)

// AgentSpawner is the subset of *agentmgr.Manager the Runner depends on,
// narrowed for testability (mock spawners in tests never touch a real
// subprocess).
type AgentSpawner interface {
	Spawn(ctx context.Context, proj *project.Project, opts agentmgr.Options) (*agentmgr.Agent, error)
}

// RewriteRecord is one stall-triggered edge removal (spec §4.3 DAG
// rewriting).
type RewriteRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	FromLabel string    `json:"fromLabel"`
	ToLabel   string    `json:"toLabel"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

type eventKind int

const (
	eventAgentExited eventKind = iota
	eventStallTick
	eventGateResolved
)

type runnerEvent struct {
	kind     eventKind
	taskID   string
	agent    *agentmgr.Agent
	spawnErr error
	approved bool
	feedback string
}

// Config bundles the tunables a Runner needs beyond its task set, mirroring
// spec §6's HAIVEMIND_* environment knobs.
type Config struct {
	SessionID             string
	WorkDir               string
	Project               *project.Project
	Spawner               AgentSpawner
	Broadcast             func(protocol.Envelope)
	OrchestratorFn        OrchestratorFn
	Workspace             *project.WorkspaceAnalysis
	BaseConcurrency       int
	SwarmMaxConcurrency   int // 0 = unbounded
	SpeculativeEnabled    bool
	SpeculativeThreshold  float64
	TaskSplitEnabled      bool
	TaskSplitAfterRetries int
	MaxRetriesTotal       int
	StallThresholdMs      int
	StallCheckIntervalMs  int

	// SafetyBaseRef is the git ref (tag or branch) a task's diff is scanned
	// against after a successful attempt. Empty disables the scan, e.g. when
	// the workspace isn't a git repo and no tag snapshot was taken.
	SafetyBaseRef string
}

// Runner executes one session's DAG to completion (spec §4.3, the hardest
// subsystem). Its TaskState map is effectively single-writer: every mutating
// method is called either from Run's event loop or while holding mu, so
// _scheduleEligible/_launchTask/_checkForStalls never race each other (spec
// §5). Agent subprocesses run truly concurrently; their completion is folded
// back into the event loop via the events channel rather than mutating
// shared state from their own goroutine.
type Runner struct {
	cfg Config

	mu          sync.Mutex
	tasks       map[string]*Task
	states      map[string]*TaskState
	order       []string
	waves       map[string]int
	totalWaves  int
	running     map[string]bool
	speculative map[string]bool
	splitOnce   map[string]bool
	gateAsked   map[string]bool
	rewrites    []RewriteRecord
	stats       protocol.SwarmStats
	activeWave  int

	events      chan runnerEvent
	stallTicker *time.Ticker
	stallDone   chan struct{}
	completed   bool
	finalStatus string
	doneCh      chan struct{}
}

// NewRunner constructs a Runner from an initial task set. Tasks with
// Gate=true start in StatusGated; all others start StatusPending.
func NewRunner(cfg Config, tasks []*Task) (*Runner, error) {
	r := &Runner{
		cfg:         cfg,
		tasks:       make(map[string]*Task, len(tasks)),
		states:      make(map[string]*TaskState, len(tasks)),
		running:     make(map[string]bool),
		speculative: make(map[string]bool),
		splitOnce:   make(map[string]bool),
		gateAsked:   make(map[string]bool),
		events:      make(chan runnerEvent, 256),
		doneCh:      make(chan struct{}),
	}
	if r.cfg.BaseConcurrency <= 0 {
		r.cfg.BaseConcurrency = 3
	}
	if r.cfg.SpeculativeThreshold <= 0 {
		r.cfg.SpeculativeThreshold = 0.5
	}
	if r.cfg.MaxRetriesTotal <= 0 {
		r.cfg.MaxRetriesTotal = 3
	}
	if r.cfg.StallThresholdMs <= 0 {
		r.cfg.StallThresholdMs = 5 * 60 * 1000
	}
	if r.cfg.StallCheckIntervalMs <= 0 {
		r.cfg.StallCheckIntervalMs = 30 * 1000
	}
	if r.cfg.Broadcast == nil {
		r.cfg.Broadcast = func(protocol.Envelope) {}
	}

	for _, t := range tasks {
		r.tasks[t.ID] = t
		r.order = append(r.order, t.ID)
		initial := StatusPending
		if t.Gate {
			initial = StatusGated
		}
		r.states[t.ID] = NewTaskState(initial)
	}
	waves, total, err := computeWaves(r.tasks)
	if err != nil {
		return nil, err
	}
	r.waves = waves
	r.totalWaves = total
	r.stats.TotalTasks = len(tasks)
	r.stats.TotalWaves = total
	return r, nil
}

// Run drives the scheduling loop to completion or until ctx is cancelled.
// It blocks; call from its own goroutine.
func (r *Runner) Run(ctx context.Context) {
	r.startStallTicker()
	r.mu.Lock()
	r.scheduleEligibleLocked(ctx)
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			r.Cleanup()
			return
		case <-r.doneCh:
			return
		case ev := <-r.events:
			r.mu.Lock()
			switch ev.kind {
			case eventAgentExited:
				r.onAgentExitedLocked(ctx, ev)
			case eventStallTick:
				r.checkForStallsLocked(ctx)
				r.scheduleEligibleLocked(ctx)
			case eventGateResolved:
				r.onGateResolvedLocked(ctx, ev)
			}
			r.mu.Unlock()
		}
	}
}

// Cleanup stops the stall ticker. Idempotent; safe to call after Run exits
// for any reason (spec §4.3 public surface "cleanup()").
func (r *Runner) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopStallTickerLocked()
}

func (r *Runner) startStallTicker() {
	r.mu.Lock()
	if r.stallTicker != nil {
		r.mu.Unlock()
		return
	}
	r.stallTicker = time.NewTicker(time.Duration(r.cfg.StallCheckIntervalMs) * time.Millisecond)
	r.stallDone = make(chan struct{})
	ticker := r.stallTicker
	done := r.stallDone
	r.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				select {
				case r.events <- runnerEvent{kind: eventStallTick}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
}

func (r *Runner) stopStallTickerLocked() {
	if r.stallTicker == nil {
		return
	}
	r.stallTicker.Stop()
	close(r.stallDone)
	r.stallTicker = nil
}

// ResolveGate approves or rejects a gated task, per spec §4.3 "awaits a
// one-shot resolveGate call". Approval moves the task to pending; rejection
// blocks it. Feedback is appended to the task's description either way.
func (r *Runner) ResolveGate(taskID string, approved bool, feedback string) error {
	r.mu.Lock()
	st, ok := r.states[taskID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("task: unknown task %q", taskID)
	}
	if st.Status() != StatusGated {
		r.mu.Unlock()
		return fmt.Errorf("task: %q is not awaiting gate resolution", taskID)
	}
	r.mu.Unlock()

	select {
	case r.events <- runnerEvent{kind: eventGateResolved, taskID: taskID, approved: approved, feedback: feedback}:
		return nil
	case <-r.doneCh:
		return fmt.Errorf("task: runner already completed")
	}
}

func (r *Runner) onGateResolvedLocked(ctx context.Context, ev runnerEvent) {
	st, ok := r.states[ev.taskID]
	if !ok || st.Status() != StatusGated {
		return
	}
	t := r.tasks[ev.taskID]
	if ev.feedback != "" && t != nil {
		t.AppendHumanFeedback(ev.feedback)
	}
	if ev.approved {
		st.setStatus(StatusPending)
	} else {
		st.setStatus(StatusBlocked)
		st.setCompletedAt(time.Now())
	}
	r.broadcastTaskStatusLocked(ev.taskID)
	r.checkCompletionLocked(ctx)
	r.scheduleEligibleLocked(ctx)
}

// GetSwarmStats returns the current swarm stats snapshot (spec §4.3 public
// surface "getSwarmStats()").
func (r *Runner) GetSwarmStats() protocol.SwarmStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.DAGRewrites = len(r.rewrites)
	return stats
}

// Rewrites returns the ordered history of stall-triggered edge removals.
func (r *Runner) Rewrites() []RewriteRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RewriteRecord(nil), r.rewrites...)
}

// FinalStatus returns "completed" or "partial" once the runner has settled,
// or "" if still running.
func (r *Runner) FinalStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalStatus
}

// Done returns a channel closed once every task has reached a terminal
// status (success or blocked).
func (r *Runner) Done() <-chan struct{} {
	return r.doneCh
}

// Snapshots returns a serializable view of every task, in insertion order.
func (r *Runner) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].Snapshot(r.states[id]))
	}
	return out
}

func (r *Runner) allDepsSuccessLocked(id string) bool {
	t := r.tasks[id]
	for _, dep := range t.Dependencies() {
		ds, ok := r.states[dep]
		if !ok || ds.Status() != StatusSuccess {
			return false
		}
	}
	return true
}

// dynamicConcurrencyLimit computes spec §4.3 step 2's
// `min(swarmMaxConcurrency, baseCap + ceil(log2(totalEligible+1)*2))`.
func dynamicConcurrencyLimit(baseCap, swarmMax, totalEligible int) int {
	scaled := baseCap + int(math.Ceil(math.Log2(float64(totalEligible+1))*2))
	limit := scaled
	if swarmMax > 0 && swarmMax < limit {
		limit = swarmMax
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}

// resolveBridgeNodesLocked auto-completes any pending non-work node (prompt
// or verify bridge nodes the orchestrator inserts between chat iterations and
// verify-fix rounds) whose dependencies are already satisfied — they carry no
// agent work of their own, so the runner settles them directly rather than
// spawning an agent (spec §4.4's prompt/verify bridge nodes "never execute").
// Loops to a fixpoint since resolving one bridge node can make a dependent
// bridge node eligible in the same pass.
func (r *Runner) resolveBridgeNodesLocked() {
	changed := true
	for changed {
		changed = false
		for _, id := range r.order {
			if r.running[id] {
				continue
			}
			st := r.states[id]
			if st.Status() != StatusPending {
				continue
			}
			if r.tasks[id].Type == TypeWork {
				continue
			}
			if !r.allDepsSuccessLocked(id) {
				continue
			}
			st.setStatus(StatusSuccess)
			st.setCompletedAt(time.Now())
			r.broadcastTaskStatusLocked(id)
			changed = true
		}
	}
}

func (r *Runner) scheduleEligibleLocked(ctx context.Context) {
	if r.completed {
		return
	}
	r.resolveBridgeNodesLocked()
	r.checkCompletionLocked(ctx)
	if r.completed {
		return
	}

	var eligible []string
	for _, id := range r.order {
		if r.running[id] {
			continue
		}
		st := r.states[id]
		if st.Status() != StatusPending && st.Status() != StatusGated {
			continue
		}
		if r.allDepsSuccessLocked(id) {
			eligible = append(eligible, id)
		}
	}
	totalEligible := len(eligible)

	limit := dynamicConcurrencyLimit(r.cfg.BaseConcurrency, r.cfg.SwarmMaxConcurrency, totalEligible)
	if limit > r.cfg.BaseConcurrency {
		r.cfg.Broadcast(protocol.New(protocol.SwarmScaling, protocol.SwarmScalingPayload{
			SessionID:    r.cfg.SessionID,
			BaseCap:      r.cfg.BaseConcurrency,
			DynamicLimit: limit,
			Eligible:     totalEligible,
		}))
	}

	budget := limit - len(r.running)
	var toLaunch []string
	for _, id := range eligible {
		if budget <= 0 {
			break
		}
		st := r.states[id]
		if st.Status() == StatusGated {
			if !r.gateAsked[id] {
				r.gateAsked[id] = true
				r.broadcastGateRequestLocked(id)
			}
			continue
		}
		toLaunch = append(toLaunch, id)
		budget--
	}

	if budget > 0 && r.cfg.SpeculativeEnabled {
		toLaunch = append(toLaunch, r.speculativeCandidatesLocked(budget)...)
	}

	for _, id := range toLaunch {
		r.running[id] = true
		if wave := r.waves[id]; wave > r.activeWave {
			r.activeWave = wave
			r.cfg.Broadcast(protocol.New(protocol.SwarmWave, protocol.SwarmWavePayload{
				SessionID: r.cfg.SessionID,
				Wave:      wave,
				TotalWave: r.totalWaves,
			}))
		}
		if n := len(r.running); n > r.stats.PeakConcurrency {
			r.stats.PeakConcurrency = n
		}
	}
	for _, id := range toLaunch {
		r.launchTaskLocked(ctx, id)
	}
}

// speculativeCandidatesLocked finds pending tasks whose dependencies are not
// all success yet, but are close enough to launch early (spec §4.3 step 3
// speculative-execution rule).
func (r *Runner) speculativeCandidatesLocked(budget int) []string {
	var out []string
	for _, id := range r.order {
		if budget <= 0 {
			break
		}
		if r.running[id] || r.speculative[id] {
			continue
		}
		st := r.states[id]
		if st.Status() != StatusPending {
			continue
		}
		t := r.tasks[id]
		deps := t.Dependencies()
		if len(deps) == 0 {
			continue
		}
		if r.allDepsSuccessLocked(id) {
			continue // fully eligible already, handled in the main pass
		}
		doneDeps, runningDeps := 0, 0
		hardFailed := false
		preservesTrueDep := false
		for _, dep := range deps {
			ds, ok := r.states[dep]
			if !ok {
				continue
			}
			switch ds.Status() {
			case StatusSuccess:
				doneDeps++
			case StatusRunning:
				runningDeps++
				if hasTrueDataDependency(t.Description(), r.tasks[dep].Label) {
					preservesTrueDep = true
				}
			case StatusBlocked:
				hardFailed = true
			}
		}
		if hardFailed || preservesTrueDep {
			continue
		}
		total := len(deps)
		if doneDeps+runningDeps != total {
			continue
		}
		if float64(doneDeps)/float64(total) < r.cfg.SpeculativeThreshold {
			continue
		}
		r.speculative[id] = true
		r.stats.SpeculativeLaunches++
		r.cfg.Broadcast(protocol.New(protocol.SpeculativeStart, protocol.SpeculativeStartPayload{
			SessionID: r.cfg.SessionID,
			TaskID:    id,
		}))
		out = append(out, id)
		budget--
	}
	return out
}

func (r *Runner) launchTaskLocked(ctx context.Context, id string) {
	st := r.states[id]
	if st.Status() == StatusRunning {
		return // double-launch guard
	}
	t := r.tasks[id]
	st.setStatus(StatusRunning)
	st.setStartedAt(time.Now())
	r.broadcastTaskStatusLocked(id)

	extraContext := buildExtraContext(st.FailureReports())
	opts := agentmgr.Options{
		TaskID:        id,
		Label:         t.Label,
		Description:   t.Description(),
		AffectedFiles: t.AffectedFiles,
		Retries:       st.Retries(),
		Prompt:        buildPrompt(t, r.cfg.Project, r.cfg.Workspace, extraContext),
		WorkDir:       r.cfg.WorkDir,
		ExtraContext:  extraContext,
		Workspace:     r.cfg.Workspace,
	}
	if r.cfg.Project != nil {
		opts.Skills = r.cfg.Project.Skills
	}

	spawner := r.cfg.Spawner
	proj := r.cfg.Project
	events := r.events
	done := r.doneCh
	go func() {
		agent, err := spawner.Spawn(ctx, proj, opts)
		if agent != nil {
			agent.Wait()
		}
		select {
		case events <- runnerEvent{kind: eventAgentExited, taskID: id, agent: agent, spawnErr: err}:
		case <-done:
		}
	}()
}

func (r *Runner) onAgentExitedLocked(ctx context.Context, ev runnerEvent) {
	id := ev.taskID
	st, ok := r.states[id]
	if !ok {
		return
	}
	delete(r.running, id)
	if ev.agent != nil {
		st.addAgentID(ev.agent.ID)
	}

	success := ev.spawnErr == nil && ev.agent != nil && ev.agent.Status() == agentmgr.StatusSuccess
	if success {
		st.setStatus(StatusSuccess)
		st.setCompletedAt(time.Now())
		r.broadcastTaskStatusLocked(id)
		if r.cfg.SafetyBaseRef != "" {
			go r.scanSafety(ctx, id)
		}
	} else {
		r.handleFailureLocked(ctx, id, ev.agent)
	}

	r.checkCompletionLocked(ctx)
	r.scheduleEligibleLocked(ctx)
}

// scanSafety runs CheckSafety for a just-succeeded task's cumulative diff and
// re-broadcasts its status if anything turned up. Runs off the event loop
// goroutine so a slow git diff never blocks scheduling of other tasks; never
// downgrades the task's status (spec's exit-code-only success invariant
// covers status, not metadata).
func (r *Runner) scanSafety(ctx context.Context, id string) {
	issues, err := CheckSafety(ctx, r.cfg.WorkDir, r.cfg.SafetyBaseRef)
	if err != nil || len(issues) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return
	}
	st.setSafetyIssues(issues)
	r.broadcastTaskStatusLocked(id)
}

func (r *Runner) handleFailureLocked(ctx context.Context, id string, agent *agentmgr.Agent) {
	st := r.states[id]
	retries := st.incRetries()

	if retries >= r.cfg.MaxRetriesTotal {
		st.setStatus(StatusBlocked)
		st.setCompletedAt(time.Now())
		r.broadcastTaskStatusLocked(id)
		return
	}

	if agent != nil {
		summary := agent.Summary()
		if summary == nil {
			s := summarizer.Summarize(agent.Output())
			summary = &s
		}
		st.addFailureReport(FailureReport{
			Summary:      *summary,
			SuggestedFix: suggestFix(*summary),
			Category:     categorize(*summary),
			Timestamp:    time.Now(),
		})
	}

	if r.cfg.TaskSplitEnabled && r.cfg.OrchestratorFn != nil && retries == r.cfg.TaskSplitAfterRetries && !r.splitOnce[id] {
		if r.trySplitTaskLocked(ctx, id) {
			return
		}
	}

	st.setStatus(StatusPending)
}

func (r *Runner) trySplitTaskLocked(ctx context.Context, id string) bool {
	r.splitOnce[id] = true
	parent := r.tasks[id]
	parentState := r.states[id]
	prompt := buildSplitPrompt(parent, parentState)

	subs, err := r.cfg.OrchestratorFn(ctx, prompt, r.cfg.WorkDir)
	if err != nil || len(subs) < 2 {
		return false
	}

	idMap := make(map[string]string, len(subs))
	for _, s := range subs {
		idMap[s.ID] = id + "-split-" + s.ID
	}

	hasInternalDependent := make(map[string]bool, len(subs))
	newTasks := make([]*Task, 0, len(subs))
	for _, s := range subs {
		newID := idMap[s.ID]
		var deps []string
		if len(s.Dependencies) == 0 {
			deps = append(deps, parent.Dependencies()...)
		} else {
			for _, d := range s.Dependencies {
				if nd, ok := idMap[d]; ok {
					deps = append(deps, nd)
					hasInternalDependent[nd] = true
				}
			}
		}
		newTasks = append(newTasks, NewTask(newID, s.Label, s.Description, deps, TypeWork, s.Gate, s.AffectedFiles))
	}

	var leaves []string
	for _, nt := range newTasks {
		if !hasInternalDependent[nt.ID] {
			leaves = append(leaves, nt.ID)
		}
	}

	for _, nt := range newTasks {
		r.tasks[nt.ID] = nt
		r.order = append(r.order, nt.ID)
		initial := StatusPending
		if nt.Gate {
			initial = StatusGated
		}
		r.states[nt.ID] = NewTaskState(initial)
	}

	for tid, t := range r.tasks {
		if tid == id {
			continue
		}
		t.ReplaceDependency(id, leaves)
	}

	parentState.setStatus(StatusSuccess)
	parentState.setCompletedAt(time.Now())

	if waves, total, err := computeWaves(r.tasks); err == nil {
		r.waves = waves
		r.totalWaves = total
		r.stats.TotalWaves = total
	}
	r.stats.TaskSplits++
	r.stats.TotalTasks = len(r.tasks)

	subIDs := make([]string, 0, len(newTasks))
	for _, nt := range newTasks {
		subIDs = append(subIDs, nt.ID)
	}
	r.cfg.Broadcast(protocol.New(protocol.TaskSplit, protocol.TaskSplitPayload{
		SessionID: r.cfg.SessionID,
		ParentID:  id,
		SubIDs:    subIDs,
		LeafIDs:   leaves,
	}))
	r.broadcastPlanCreatedLocked(true, id, newTasks)
	r.broadcastTaskStatusLocked(id)
	return true
}

func (r *Runner) checkForStallsLocked(ctx context.Context) {
	now := time.Now()
	threshold := time.Duration(r.cfg.StallThresholdMs) * time.Millisecond
	for _, id := range r.order {
		st := r.states[id]
		if st.Status() != StatusRunning {
			continue
		}
		if now.Sub(st.StartedAt()) < threshold {
			continue
		}
		staller := r.tasks[id]
		for _, depID := range r.order {
			if depID == id {
				continue
			}
			depState := r.states[depID]
			if depState.Status() != StatusPending {
				continue
			}
			dep := r.tasks[depID]
			isDependent := false
			for _, d := range dep.Dependencies() {
				if d == id {
					isDependent = true
					break
				}
			}
			if !isDependent {
				continue
			}
			if hasTrueDataDependency(dep.Description(), staller.Label) {
				continue
			}
			dep.RemoveDependency(id)
			rec := RewriteRecord{
				From:      id,
				To:        depID,
				FromLabel: staller.Label,
				ToLabel:   dep.Label,
				Reason:    "stall threshold exceeded with no detected data dependency",
				Timestamp: now,
			}
			r.rewrites = append(r.rewrites, rec)
			r.cfg.Broadcast(protocol.New(protocol.DAGRewrite, protocol.DAGRewritePayload{
				SessionID: r.cfg.SessionID,
				From:      rec.From,
				To:        rec.To,
				FromLabel: rec.FromLabel,
				ToLabel:   rec.ToLabel,
				Reason:    rec.Reason,
				Timestamp: now.UnixMilli(),
			}))
		}
	}
}

func (r *Runner) checkCompletionLocked(ctx context.Context) {
	if r.completed {
		return
	}
	partial := false
	for _, id := range r.order {
		switch r.states[id].Status() {
		case StatusSuccess:
		case StatusBlocked:
			partial = true
		default:
			return // at least one task not yet terminal
		}
	}
	r.completed = true
	r.stopStallTickerLocked()
	if partial {
		r.finalStatus = "partial"
	} else {
		r.finalStatus = "completed"
	}
	// SESSION_COMPLETE is never broadcast here: internal/orchestrator is the
	// sole emitter of the canonical session-complete event.
	close(r.doneCh)
}

func (r *Runner) broadcastTaskStatusLocked(id string) {
	st := r.states[id]
	var issues []protocol.SafetyIssue
	for _, si := range st.SafetyIssues() {
		issues = append(issues, protocol.SafetyIssue{File: si.File, Kind: si.Kind, Detail: si.Detail})
	}
	r.cfg.Broadcast(protocol.New(protocol.TaskStatus, protocol.TaskStatusPayload{
		SessionID:    r.cfg.SessionID,
		TaskID:       id,
		Status:       string(st.Status()),
		Retries:      st.Retries(),
		SafetyIssues: issues,
	}))
}

func (r *Runner) broadcastGateRequestLocked(id string) {
	t := r.tasks[id]
	r.cfg.Broadcast(protocol.New(protocol.GateRequest, protocol.GateRequestPayload{
		SessionID: r.cfg.SessionID,
		TaskID:    id,
		Label:     t.Label,
	}))
}

func (r *Runner) broadcastPlanCreatedLocked(appendMode bool, splitFrom string, added []*Task) {
	planTasks := make([]protocol.PlanTask, 0, len(added))
	var edges []protocol.PlanEdge
	for _, t := range added {
		deps := t.Dependencies()
		planTasks = append(planTasks, protocol.PlanTask{
			ID:            t.ID,
			Label:         t.Label,
			Description:   t.Description(),
			Dependencies:  deps,
			Type:          string(t.Type),
			Gate:          t.Gate,
			AffectedFiles: t.AffectedFiles,
		})
		for _, d := range deps {
			edges = append(edges, protocol.PlanEdge{ID: d + "->" + t.ID, Source: d, Target: t.ID})
		}
	}
	r.cfg.Broadcast(protocol.New(protocol.PlanCreated, protocol.PlanCreatedPayload{
		SessionID: r.cfg.SessionID,
		Tasks:     planTasks,
		Edges:     edges,
		Append:    appendMode,
		SplitFrom: splitFrom,
	}))
}
