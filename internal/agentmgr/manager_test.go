package agentmgr

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

// echoBackend launches a real "echo" process per spawn, mirroring the
// teacher's testBackend which drives "cat"/"echo" directly via exec.Cmd.
type echoBackend struct {
	text string
}

func (b *echoBackend) Spawn(ctx context.Context, opts Options) (*Handle, error) {
	text := b.text
	var cmd *exec.Cmd
	if text == "slow" {
		cmd = exec.CommandContext(ctx, "sleep", "5")
	} else {
		if text == "" {
			text = "Created file: main.go\nok  \tpkg\t0.01s"
		}
		cmd = exec.CommandContext(ctx, "echo", text)
	}
	setProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Handle{CLICommand: "echo " + text, cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func testProject(ceiling float64) *project.Project {
	return &project.Project{
		Slug: "demo",
		Settings: project.Settings{
			Escalation:  project.DefaultEscalation,
			CostCeiling: ceiling,
		},
	}
}

func TestManagerSpawnRunsToSuccess(t *testing.T) {
	var events []protocol.Envelope
	m := NewManager(&echoBackend{}, func(e protocol.Envelope) { events = append(events, e) })

	agent, err := m.Spawn(context.Background(), testProject(0), Options{TaskID: "t1", Label: "write file", Prompt: "do it"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for agent.Status() == StatusRunning || agent.Status() == StatusPending {
		if time.Now().After(deadline) {
			t.Fatalf("agent did not settle, status=%s", agent.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if agent.Status() != StatusSuccess {
		t.Fatalf("status = %s, want success (reason=%s)", agent.Status(), agent.Reason)
	}
	if agent.OutputBytes() == 0 {
		t.Fatal("expected some output captured")
	}
	if agent.Summary() == nil {
		t.Fatal("expected a summary to be attached on settle")
	}
}

func TestManagerSpawnBlocksOnCostCeiling(t *testing.T) {
	m := NewManager(&echoBackend{}, nil)
	proj := testProject(0.01)

	agent, err := m.Spawn(context.Background(), proj, Options{TaskID: "t1", Label: "expensive", Prompt: "do it"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if agent.Status() != StatusBlocked {
		t.Fatalf("status = %s, want blocked", agent.Status())
	}
	if agent.Reason == "" {
		t.Fatal("expected a blocking reason")
	}
}

func TestManagerModelEscalatesWithRetries(t *testing.T) {
	m := NewManager(&echoBackend{}, nil)
	proj := testProject(0)

	low, err := m.Spawn(context.Background(), proj, Options{TaskID: "t1", Label: "x", Retries: 0, Prompt: "p"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	high, err := m.Spawn(context.Background(), proj, Options{TaskID: "t1", Label: "x", Retries: 4, Prompt: "p"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if low.ModelTier == high.ModelTier {
		t.Fatalf("expected tier escalation across retries, got %s for both", low.ModelTier)
	}
	if high.Multiplier <= low.Multiplier {
		t.Fatalf("expected escalated tier to have a higher multiplier")
	}
}

func TestManagerKillAllMarksInterrupted(t *testing.T) {
	m := NewManager(&echoBackend{text: "slow"}, nil)
	proj := testProject(0)
	agent, err := m.Spawn(context.Background(), proj, Options{TaskID: "t1", Label: "x", Prompt: "p"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	m.KillAll()
	if agent.Status() != StatusInterrupted {
		t.Fatalf("status = %s, want interrupted", agent.Status())
	}
}
