// Package broadcast implements the fan-out plane: a single Publish entry
// point that records timelined envelopes into their owning session (spec
// §4.7) and delivers every envelope to whichever connected observers are
// subscribed to its project. Cyclic ownership is broken the same way
// internal/orchestrator breaks it with agentmgr/task: the Broadcaster holds
// an Engine, observers hold nothing back up to the Broadcaster beyond the
// Observer interface below.
package broadcast

import (
	"sync"

	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

// Observer is anything that can receive envelopes off the broadcast plane —
// implemented by transport.Connection, and by anything else (a log sink, a
// test probe) that wants a tap into the stream.
type Observer interface {
	ID() string

	// Deliver hands the observer an envelope. Implementations must not
	// block the broadcaster; a full per-connection buffer should drop the
	// message rather than stall the fan-out loop (spec §5 "Observer set
	// uses copy-on-iterate semantics; safe to mutate during broadcast").
	Deliver(env protocol.Envelope)

	// Subscribed reports whether this observer should receive a message
	// resolved to the given project slug. An observer with no active
	// subscriptions is subscribed to everything.
	Subscribed(slug string) bool
}

// Broadcaster is the single choke point every emitted envelope passes
// through on its way from the engine to observers.
type Broadcaster struct {
	Engine *hvstate.Engine

	mu        sync.RWMutex
	observers map[string]Observer
}

// New constructs a Broadcaster over engine.
func New(engine *hvstate.Engine) *Broadcaster {
	return &Broadcaster{Engine: engine, observers: make(map[string]Observer)}
}

// Register adds an observer to the fan-out set.
func (b *Broadcaster) Register(o Observer) {
	b.mu.Lock()
	b.observers[o.ID()] = o
	b.mu.Unlock()
}

// Unregister removes an observer from the fan-out set.
func (b *Broadcaster) Unregister(o Observer) {
	b.mu.Lock()
	delete(b.observers, o.ID())
	b.mu.Unlock()
}

// Publish is the broadcast(msg) entry point (spec §4.7): record the envelope
// into its owning session's timeline, resolve the message's project, and
// deliver to every subscribed observer.
func (b *Broadcaster) Publish(env protocol.Envelope) {
	b.Engine.Record(env)
	slug, _ := b.Engine.ResolveProjectSlug(env)
	b.fanout(env, func(o Observer) bool { return o.Subscribed(slug) })
}

// PublishGlobal delivers env to every observer regardless of subscription —
// used for process-wide announcements like shutdown warnings.
func (b *Broadcaster) PublishGlobal(env protocol.Envelope) {
	b.Engine.Record(env)
	b.fanout(env, func(Observer) bool { return true })
}

func (b *Broadcaster) fanout(env protocol.Envelope, include func(Observer) bool) {
	b.mu.RLock()
	snapshot := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		snapshot = append(snapshot, o)
	}
	b.mu.RUnlock()

	for _, o := range snapshot {
		if include(o) {
			o.Deliver(env)
		}
	}
}

// Observers returns the ids of every currently registered observer.
func (b *Broadcaster) Observers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.observers))
	for id := range b.observers {
		ids = append(ids, id)
	}
	return ids
}
