package task

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

// writeHangingScript writes a tiny shell script that ignores its argv and
// sleeps, standing in for a coding-agent CLI that never returns (used to
// drive the stall-detector scenario with a real, killable subprocess).
func writeHangingScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hang.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatalf("write hang script: %v", err)
	}
	return path
}

// sequencedBackend delegates each spawn to a real "true"/"false"/"sleep"
// subprocess chosen by plan(taskID, attemptIndex), letting tests script
// exact success/failure/hang sequences per task without needing access to
// agentmgr.Handle's unexported fields (mirrors the teacher's preference for
// real subprocess fixtures over mocks).
type sequencedBackend struct {
	mu    sync.Mutex
	calls map[string]int
	plan  func(taskID string, attempt int) string
}

func newSequencedBackend(plan func(taskID string, attempt int) string) *sequencedBackend {
	return &sequencedBackend{calls: make(map[string]int), plan: plan}
}

func (b *sequencedBackend) Spawn(ctx context.Context, opts agentmgr.Options) (*agentmgr.Handle, error) {
	b.mu.Lock()
	attempt := b.calls[opts.TaskID]
	b.calls[opts.TaskID] = attempt + 1
	b.mu.Unlock()

	cli := b.plan(opts.TaskID, attempt)
	return agentmgr.NewLocalBackend(cli, "test").Spawn(ctx, opts)
}

func testProject() *project.Project {
	return &project.Project{
		Slug:     "demo",
		Settings: project.Settings{Escalation: project.DefaultEscalation, MaxRetriesTotal: 5},
	}
}

func collectEvents() (func(protocol.Envelope), func() []protocol.Envelope) {
	var mu sync.Mutex
	var events []protocol.Envelope
	return func(e protocol.Envelope) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		}, func() []protocol.Envelope {
			mu.Lock()
			defer mu.Unlock()
			return append([]protocol.Envelope(nil), events...)
		}
}

func waitDone(t *testing.T, r *Runner, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(timeout):
		t.Fatal("runner did not complete in time")
	}
}

// Scenario 1 (spec §8): two-wide fan-out, all T0-success.
func TestTwoWideFanoutAllSuccess(t *testing.T) {
	a := NewTask("A", "task a", "do a", nil, TypeWork, false, nil)
	b := NewTask("B", "task b", "do b", nil, TypeWork, false, nil)
	c := NewTask("C", "task c", "do c", []string{"A", "B"}, TypeWork, false, nil)

	backend := newSequencedBackend(func(string, int) string { return "true" })
	broadcast, events := collectEvents()
	mgr := agentmgr.NewManager(backend, broadcast)

	r, err := NewRunner(Config{
		SessionID:       "s1",
		WorkDir:         t.TempDir(),
		Project:         testProject(),
		Spawner:         mgr,
		Broadcast:       broadcast,
		BaseConcurrency: 3,
	}, []*Task{a, b, c})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go r.Run(ctx)
	waitDone(t, r, 4*time.Second)

	if got := r.FinalStatus(); got != "completed" {
		t.Fatalf("FinalStatus = %q, want completed", got)
	}
	stats := r.GetSwarmStats()
	if stats.PeakConcurrency != 2 {
		t.Fatalf("PeakConcurrency = %d, want 2", stats.PeakConcurrency)
	}
	for _, snap := range r.Snapshots() {
		if snap.Status != StatusSuccess {
			t.Fatalf("task %s status = %s, want success", snap.ID, snap.Status)
		}
	}

	taskStatusCount := 0
	for _, e := range events() {
		if e.Type == protocol.TaskStatus {
			taskStatusCount++
		}
	}
	if taskStatusCount != 6 {
		t.Fatalf("TASK_STATUS events = %d, want 6 (running+success for 3 tasks)", taskStatusCount)
	}
}

// Scenario 2 (spec §8): retry escalation — fails twice at T0 then succeeds.
func TestRetryEscalation(t *testing.T) {
	backend := newSequencedBackend(func(_ string, attempt int) string {
		if attempt < 2 {
			return "false"
		}
		return "true"
	})
	broadcast, events := collectEvents()
	mgr := agentmgr.NewManager(backend, broadcast)

	single := NewTask("T1", "single task", "do it", nil, TypeWork, false, nil)
	r, err := NewRunner(Config{
		SessionID:       "s2",
		WorkDir:         t.TempDir(),
		Project:         testProject(),
		Spawner:         mgr,
		Broadcast:       broadcast,
		BaseConcurrency: 3,
		MaxRetriesTotal: 5,
	}, []*Task{single})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go r.Run(ctx)
	waitDone(t, r, 4*time.Second)

	snaps := r.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("expected 1 task snapshot, got %d", len(snaps))
	}
	snap := snaps[0]
	if snap.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", snap.Status)
	}
	if snap.Retries != 2 {
		t.Fatalf("retries = %d, want 2", snap.Retries)
	}
	if len(snap.Failures) != 2 {
		t.Fatalf("failure reports = %d, want 2", len(snap.Failures))
	}

	agentStatusCount := 0
	for _, e := range events() {
		if e.Type == protocol.AgentStatus {
			agentStatusCount++
		}
	}
	// Each of the 3 attempts broadcasts AGENT_STATUS twice (running, then a
	// terminal status), for 6 total.
	if agentStatusCount != 6 {
		t.Fatalf("AGENT_STATUS events = %d, want 6", agentStatusCount)
	}
}

// Scenario 3 (spec §8): stall-triggered DAG rewrite.
func TestStallTriggeredDAGRewrite(t *testing.T) {
	a := NewTask("A", "slow task", "hangs for a while", nil, TypeWork, false, nil)
	bTask := NewTask("B", "widget task", "implement widget", []string{"A"}, TypeWork, false, nil)

	hangScript := writeHangingScript(t)
	backend := newSequencedBackend(func(taskID string, _ int) string {
		if taskID == "A" {
			return hangScript
		}
		return "true"
	})
	broadcast, _ := collectEvents()
	mgr := agentmgr.NewManager(backend, broadcast)

	r, err := NewRunner(Config{
		SessionID:            "s3",
		WorkDir:              t.TempDir(),
		Project:              testProject(),
		Spawner:               mgr,
		Broadcast:            broadcast,
		BaseConcurrency:      3,
		StallThresholdMs:     150,
		StallCheckIntervalMs: 50,
	}, []*Task{a, bTask})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go r.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for len(r.Rewrites()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected a DAG rewrite within the deadline")
		}
		time.Sleep(20 * time.Millisecond)
	}
	rewrites := r.Rewrites()
	if rewrites[0].From != "A" || rewrites[0].To != "B" {
		t.Fatalf("rewrite = %+v, want A->B", rewrites[0])
	}

	// B should be free to launch (or have already launched) while A still
	// runs; cancel now to reap the hung subprocess.
	cancel()
}

// P11: a gated task never runs before ResolveGate(approved=true).
func TestGateBlocksUntilApproved(t *testing.T) {
	gated := NewTask("G", "needs approval", "do sensitive thing", nil, TypeWork, true, nil)
	backend := newSequencedBackend(func(string, int) string { return "true" })
	broadcast, events := collectEvents()
	mgr := agentmgr.NewManager(backend, broadcast)

	r, err := NewRunner(Config{
		SessionID: "s4",
		WorkDir:   t.TempDir(),
		Project:   testProject(),
		Spawner:   mgr,
		Broadcast: broadcast,
	}, []*Task{gated})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go r.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		found := false
		for _, e := range events() {
			if e.Type == protocol.GateRequest {
				found = true
			}
			if e.Type == protocol.TaskStatus {
				var p protocol.TaskStatusPayload
				if e.Decode(&p) == nil && p.Status == string(StatusRunning) {
					t.Fatal("task transitioned to running before gate approval")
				}
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected a GATE_REQUEST")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := r.ResolveGate("G", true, "looks safe"); err != nil {
		t.Fatalf("ResolveGate: %v", err)
	}
	waitDone(t, r, 2*time.Second)
	if r.FinalStatus() != "completed" {
		t.Fatalf("FinalStatus = %q, want completed", r.FinalStatus())
	}
}

// P9: splitting is invoked at most once per task.
func TestSplitInvokedAtMostOnce(t *testing.T) {
	// Only the parent task ("P") ever fails, driving it to a split; the
	// resulting sub-tasks succeed immediately so they never re-trigger
	// splitting themselves.
	backend := newSequencedBackend(func(taskID string, _ int) string {
		if taskID == "P" {
			return "false"
		}
		return "true"
	})
	broadcast, _ := collectEvents()
	mgr := agentmgr.NewManager(backend, broadcast)

	splitCalls := 0
	orchestrator := func(ctx context.Context, prompt, workDir string) ([]SplitTask, error) {
		splitCalls++
		return []SplitTask{
			{ID: "part1", Label: "part 1", Description: "do part 1"},
			{ID: "part2", Label: "part 2", Description: "do part 2"},
		}, nil
	}

	parent := NewTask("P", "big task", "do the whole thing", nil, TypeWork, false, nil)
	r, err := NewRunner(Config{
		SessionID:             "s5",
		WorkDir:               t.TempDir(),
		Project:               testProject(),
		Spawner:               mgr,
		Broadcast:             broadcast,
		OrchestratorFn:        orchestrator,
		TaskSplitEnabled:      true,
		TaskSplitAfterRetries: 1,
		MaxRetriesTotal:       10,
	}, []*Task{parent})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go r.Run(ctx)
	waitDone(t, r, 3*time.Second)

	if splitCalls != 1 {
		t.Fatalf("orchestrator split calls = %d, want 1", splitCalls)
	}
	snaps := r.Snapshots()
	var parentSnap Snapshot
	found := false
	for _, s := range snaps {
		if s.ID == "P" {
			parentSnap = s
			found = true
		}
	}
	if !found {
		t.Fatal("parent task missing from snapshots")
	}
	if parentSnap.Status != StatusSuccess {
		t.Fatalf("parent status = %s, want success (delegated)", parentSnap.Status)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected parent + 2 sub-tasks = 3 snapshots, got %d", len(snaps))
	}
}
