package broadcast

import (
	"testing"

	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

type fakeObserver struct {
	id       string
	received []protocol.Envelope
	subs     map[string]bool
}

func newFakeObserver(id string) *fakeObserver {
	return &fakeObserver{id: id, subs: make(map[string]bool)}
}

func (f *fakeObserver) ID() string { return f.id }

func (f *fakeObserver) Deliver(env protocol.Envelope) {
	f.received = append(f.received, env)
}

func (f *fakeObserver) Subscribed(slug string) bool {
	if len(f.subs) == 0 {
		return true
	}
	return f.subs[slug]
}

func TestPublishDeliversToUnfilteredObserver(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))
	obs := newFakeObserver("o1")
	b.Register(obs)

	b.Publish(protocol.New(protocol.SessionStart, protocol.SessionStartPayload{
		SessionID: "s1", ProjectSlug: "demo", Prompt: "build it",
	}))

	if len(obs.received) != 1 {
		t.Fatalf("received %d envelopes, want 1", len(obs.received))
	}
}

func TestPublishSkipsObserverNotSubscribedToSlug(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))
	obs := newFakeObserver("o1")
	obs.subs["other-project"] = true
	b.Register(obs)

	b.Publish(protocol.New(protocol.SessionStart, protocol.SessionStartPayload{
		SessionID: "s1", ProjectSlug: "demo", Prompt: "build it",
	}))

	if len(obs.received) != 0 {
		t.Fatalf("received %d envelopes, want 0 (not subscribed to demo)", len(obs.received))
	}
}

func TestPublishDeliversToObserverSubscribedToSlug(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))
	obs := newFakeObserver("o1")
	obs.subs["demo"] = true
	b.Register(obs)

	b.Publish(protocol.New(protocol.SessionStart, protocol.SessionStartPayload{
		SessionID: "s1", ProjectSlug: "demo", Prompt: "build it",
	}))

	if len(obs.received) != 1 {
		t.Fatalf("received %d envelopes, want 1", len(obs.received))
	}
}

func TestPublishResolvesSlugViaTaskIndex(t *testing.T) {
	engine := hvstate.NewEngine(t.TempDir())
	sess := engine.NewSession("s1", "demo", "build it", t.TempDir())
	engine.IndexTasks(sess.ID, []string{"task-a"})

	b := New(engine)
	obs := newFakeObserver("o1")
	obs.subs["demo"] = true
	b.Register(obs)

	// TASK_STATUS carries only a taskId, not a sessionId or projectSlug;
	// the broadcaster must resolve demo via the task->session index.
	env := protocol.New(protocol.TaskStatus, struct {
		TaskID string `json:"taskId"`
		Status string `json:"status"`
	}{TaskID: "task-a", Status: "running"})

	b.Publish(env)

	if len(obs.received) != 1 {
		t.Fatalf("received %d envelopes, want 1", len(obs.received))
	}
	if got := sess.Timeline(); len(got) != 1 {
		t.Fatalf("session timeline has %d entries, want 1", len(got))
	}
}

func TestPublishGlobalIgnoresSubscriptions(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))
	obs := newFakeObserver("o1")
	obs.subs["some-other-project"] = true
	b.Register(obs)

	b.PublishGlobal(protocol.New(protocol.ShutdownWarning, nil))

	if len(obs.received) != 1 {
		t.Fatalf("received %d envelopes, want 1 (global broadcast ignores subscriptions)", len(obs.received))
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	b := New(hvstate.NewEngine(t.TempDir()))
	obs := newFakeObserver("o1")
	b.Register(obs)
	b.Unregister(obs)

	b.Publish(protocol.New(protocol.SessionStart, protocol.SessionStartPayload{
		SessionID: "s1", ProjectSlug: "demo",
	}))

	if len(obs.received) != 0 {
		t.Fatalf("received %d envelopes after unregister, want 0", len(obs.received))
	}
	if got := b.Observers(); len(got) != 0 {
		t.Fatalf("Observers() = %v, want empty", got)
	}
}
