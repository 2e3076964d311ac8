package autopilot

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/orchestrator"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/registry"
)

func onePlan(_ context.Context, _ string, _ string, _ orchestrator.DecomposeOpts) (orchestrator.Plan, error) {
	return orchestrator.Plan{Tasks: []orchestrator.DecomposedTask{
		{ID: "A", Label: "task a", Description: "do a"},
	}}, nil
}

func testDriver(t *testing.T, cycles int32, maxCycles int32) *Driver {
	t.Helper()
	dir := t.TempDir()
	o := &orchestrator.Orchestrator{
		Engine:           hvstate.NewEngine(dir),
		Backend:          agentmgr.NewLocalBackend("true", "test"),
		Decompose:        onePlan,
		BaseConcurrency:  2,
		StallThresholdMs: 60_000,
	}
	proj := &project.Project{Slug: "demo", Dir: dir, Settings: project.Settings{Escalation: project.DefaultEscalation}}

	return &Driver{
		Orchestrator: o,
		Registry:     registry.New(dir),
		Project:      proj,
		CycleDelay:   time.Millisecond,
		NextPrompt: func(_ context.Context, _ *project.Project, _ string) (string, error) {
			n := atomic.AddInt32(&cycles, 1)
			if n > maxCycles {
				return "", nil
			}
			return "improve something", nil
		},
	}
}

func TestDriverRunsCyclesUntilStopped(t *testing.T) {
	var cycles int32
	d := testDriver(t, cycles, 3)

	d.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.StatusSnapshot().Cycle >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.Stop()

	status := d.StatusSnapshot()
	if status.Cycle < 3 {
		t.Fatalf("Cycle = %d, want at least 3", status.Cycle)
	}

	entries, err := ReadLog(d.Registry.BaseDir)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one logged cycle")
	}
}

func TestDriverStartIsIdempotentWhileRunning(t *testing.T) {
	var cycles int32
	d := testDriver(t, cycles, 100)

	d.Start(context.Background())
	d.Start(context.Background()) // should be a no-op, not a second loop

	time.Sleep(20 * time.Millisecond)
	d.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && d.StatusSnapshot().Running {
		time.Sleep(10 * time.Millisecond)
	}
	if d.StatusSnapshot().Running {
		t.Fatal("driver did not stop")
	}
}

func TestDriverBroadcastsStatus(t *testing.T) {
	var cycles int32
	d := testDriver(t, cycles, 1)

	var received []protocol.Envelope
	var mu sync.Mutex
	d.Publish = func(env protocol.Envelope) {
		mu.Lock()
		received = append(received, env)
		mu.Unlock()
	}

	d.Start(context.Background())
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(received) == 0 {
		t.Fatal("expected at least one AUTOPILOT_STATUS broadcast")
	}
	if received[0].Type != protocol.AutopilotStatus {
		t.Errorf("Type = %q, want AUTOPILOT_STATUS", received[0].Type)
	}
}
