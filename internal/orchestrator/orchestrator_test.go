package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

func testProject(dir string) *project.Project {
	return &project.Project{
		Slug: "demo", Dir: dir,
		Settings: project.Settings{Escalation: project.DefaultEscalation, MaxRetriesTotal: 2},
	}
}

func baseOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Engine:           hvstate.NewEngine(t.TempDir()),
		Backend:          agentmgr.NewLocalBackend("true", "test"),
		BaseConcurrency:  3,
		StallThresholdMs: 60_000,
	}
}

func twoTaskPlan(_ context.Context, _ string, _ string, _ DecomposeOpts) (Plan, error) {
	return Plan{Tasks: []DecomposedTask{
		{ID: "A", Label: "task a", Description: "do a"},
		{ID: "B", Label: "task b", Description: "do b", Dependencies: []string{"A"}},
	}}, nil
}

func TestStartSessionHappyPath(t *testing.T) {
	o := baseOrchestrator(t)
	o.Decompose = twoTaskPlan

	sess, err := o.StartSession(context.Background(), testProject(t.TempDir()), "build the thing", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Status() != hvstate.SessionCompleted {
		t.Fatalf("status = %v, want completed", sess.Status())
	}
	refl := sess.Reflection()
	if refl == nil {
		t.Fatal("expected a reflection to be recorded")
	}
	if refl.TaskCount != 2 || refl.SuccessCount != 2 {
		t.Fatalf("reflection = %+v, want 2 tasks all successful", refl)
	}
	if got, ok := o.Engine.Session(sess.ID); !ok || got != sess {
		t.Fatal("session should remain registered in the engine after completion")
	}
}

func TestStartSessionLockContention(t *testing.T) {
	o := baseOrchestrator(t)
	o.Decompose = twoTaskPlan
	dir := t.TempDir()

	holder, ok := o.Engine.AcquireWorkspaceLock(dir, "other-session")
	if !ok || holder != "other-session" {
		t.Fatalf("priming lock failed: %q, %v", holder, ok)
	}

	var sawHolder string
	o.Publish = func(env protocol.Envelope) {
		if env.Type != protocol.SessionError {
			return
		}
		var p protocol.SessionErrorPayload
		if err := env.Decode(&p); err == nil {
			sawHolder = p.HolderID
		}
	}

	_, err := o.StartSession(context.Background(), testProject(dir), "anything", nil)
	if sawHolder != "other-session" {
		t.Fatalf("SESSION_ERROR holderId = %q, want other-session", sawHolder)
	}
	if err == nil {
		t.Fatal("expected an error on workspace lock contention")
	}
}

func TestStartSessionReleasesLockOnCompletion(t *testing.T) {
	o := baseOrchestrator(t)
	o.Decompose = twoTaskPlan
	dir := t.TempDir()

	if _, err := o.StartSession(context.Background(), testProject(dir), "build", nil); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if holder, ok := o.Engine.AcquireWorkspaceLock(dir, "someone-else"); !ok || holder != "someone-else" {
		t.Fatalf("workspace lock still held after session finished: %q, %v", holder, ok)
	}
}

func TestVerifyFixLoopAppliesFollowUpThenPasses(t *testing.T) {
	o := baseOrchestrator(t)
	o.Decompose = twoTaskPlan

	var calls int32
	o.Verify = func(_ context.Context, _ []DecomposedTask, _ string, _ VerifyOpts) (VerifyResult, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return VerifyResult{
				Passed: false,
				Issues: []string{"missing test coverage"},
				FollowUpTasks: []DecomposedTask{
					{ID: "cover", Label: "add coverage", Description: "add missing tests"},
				},
			}, nil
		}
		return VerifyResult{Passed: true}, nil
	}

	sess, err := o.StartSession(context.Background(), testProject(t.TempDir()), "build the thing", nil)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if sess.Status() != hvstate.SessionCompleted {
		t.Fatalf("status = %v, want completed", sess.Status())
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("verify called %d times, want 2 (fail once, then pass)", got)
	}
}

func TestHandleChatMessageRejectsConcurrentIteration(t *testing.T) {
	o := baseOrchestrator(t)
	o.Decompose = twoTaskPlan
	proj := testProject(t.TempDir())
	sess := o.Engine.NewSession("s1", proj.Slug, "initial prompt", proj.Dir)

	if _, ok := sess.BeginChatIteration(); !ok {
		t.Fatal("priming BeginChatIteration failed")
	}
	err := o.HandleChatMessage(context.Background(), sess, proj, "a follow-up message")
	if err == nil {
		t.Fatal("expected HandleChatMessage to reject while an iteration is in flight")
	}
	sess.EndChatIteration()

	done := make(chan error, 1)
	go func() { done <- o.HandleChatMessage(context.Background(), sess, proj, "now go") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("HandleChatMessage after latch release: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("HandleChatMessage did not complete in time")
	}
}
