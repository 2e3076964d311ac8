package agentmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maruel/ksid"

	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/summarizer"
)

// killGrace is how long a terminated agent gets to exit before SIGKILL,
// matching the teacher's runner.Kill escalation window.
const killGrace = 5 * time.Second

// streamCoalesceWindow batches raw output chunks into AgentStream broadcasts
// at most this often, so a chatty agent does not flood observers.
const streamCoalesceWindow = 250 * time.Millisecond

// Manager spawns and supervises the Agents for one session. It owns no DAG
// logic: the Task Runner calls Spawn once per attempt and learns the
// outcome by polling or awaiting the returned Agent's settle channel.
type Manager struct {
	Backend             Backend
	Swarm               SwarmRunner
	Broadcast           func(protocol.Envelope)
	MaxAgentOutputBytes int
	AgentTimeout        time.Duration
	SessionID           string
	CostCeiling         float64

	mu     sync.Mutex
	agents map[string]*Agent
	spent  float64
	warned bool
}

// NewManager constructs a Manager. broadcast may be nil in tests.
func NewManager(backend Backend, broadcast func(protocol.Envelope)) *Manager {
	if broadcast == nil {
		broadcast = func(protocol.Envelope) {}
	}
	return &Manager{
		Backend:             backend,
		Broadcast:           broadcast,
		MaxAgentOutputBytes: 1 << 20,
		AgentTimeout:        30 * time.Minute,
		agents:              make(map[string]*Agent),
	}
}

// Agent returns the agent by id, or nil.
func (m *Manager) Agent(id string) *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agents[id]
}

// Agents returns a snapshot slice of all tracked agents.
func (m *Manager) Agents() []*Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out
}

// projectedCost estimates the dollar cost of one more attempt at the given
// tier using a fixed per-tier estimate table; this is a deliberately coarse
// pre-flight gate (spec §4.2: "a rough per-tier cost estimate is enough to
// refuse before spawning").
func projectedCost(tier project.Tier) float64 {
	const base = 0.05
	return base * (tier.Multiplier() + 1)
}

// Spawn starts one agent attempt. If the project's cost ceiling would be
// exceeded, Spawn returns a synthetic blocked Agent without ever starting a
// process (spec §4.2 cost-ceiling pre-flight refusal).
func (m *Manager) Spawn(ctx context.Context, proj *project.Project, opts Options) (*Agent, error) {
	agentTier, agentModel := proj.ModelForRetry(opts.Label, opts.Retries)

	id := ksid.NewID().String()
	cost := projectedCost(agentTier)

	m.mu.Lock()
	ceiling := m.CostCeiling
	if ceiling <= 0 {
		ceiling = proj.Settings.CostCeiling
	}
	projected := m.spent + cost
	blocked := ceiling > 0 && projected > ceiling
	warnNow := !blocked && ceiling > 0 && !m.warned && projected >= ceiling*0.8
	if warnNow {
		m.warned = true
	}
	m.mu.Unlock()

	if warnNow {
		m.Broadcast(protocol.New(protocol.SessionWarning, protocol.SessionWarningPayload{
			SessionID: m.SessionID,
			Message:   fmt.Sprintf("session cost approaching ceiling: $%.2f of $%.2f", projected, ceiling),
		}))
	}

	agent := &Agent{
		ID:         id,
		TaskID:     opts.TaskID,
		ModelTier:  agentTier,
		Model:      agentModel,
		Multiplier: agentTier.Multiplier(),
		Retries:    opts.Retries,
		Prompt:     opts.Prompt,
		StartedAt:  time.Now(),
		ring:       newRingBuffer(m.MaxAgentOutputBytes),
	}

	if blocked {
		agent.setStatus(StatusBlocked)
		agent.Reason = fmt.Sprintf("projected cost $%.2f exceeds ceiling $%.2f", projected, ceiling)
		agent.FinishedAt = time.Now()
		m.mu.Lock()
		m.agents[id] = agent
		m.mu.Unlock()
		m.broadcastStatus(agent)
		return agent, nil
	}

	agent.setStatus(StatusPending)
	m.mu.Lock()
	m.agents[id] = agent
	m.spent += cost
	m.mu.Unlock()

	opts.Model = agentModel
	handle, err := m.dispatch(ctx, opts)
	if err != nil {
		agent.setStatus(StatusFailed)
		agent.Reason = err.Error()
		agent.FinishedAt = time.Now()
		m.broadcastStatus(agent)
		return agent, err
	}
	agent.CLICommand = handle.CLICommand
	agent.setStatus(StatusRunning)
	m.broadcastStatus(agent)
	m.attachProcess(agent, handle)
	return agent, nil
}

// dispatch tries the swarm runner first (if configured), falling back to the
// local Backend when the swarm cannot accept work or errors.
func (m *Manager) dispatch(ctx context.Context, opts Options) (*Handle, error) {
	if m.Swarm != nil {
		if release, ok := m.Swarm.TryAcquire(ctx); ok {
			h, err := m.Swarm.Spawn(ctx, opts)
			if err == nil {
				go func() {
					_ = h.Wait()
					release()
				}()
				return h, nil
			}
			release()
		}
	}
	return m.Backend.Spawn(ctx, opts)
}

// attachProcess wires a Handle's output into the agent's ring buffer,
// coalesces raw chunks into periodic AgentStream broadcasts, and arms the
// timeout that escalates SIGTERM to SIGKILL.
func (m *Manager) attachProcess(agent *Agent, handle *Handle) {
	agent.setHandle(handle)
	timedOut := make(chan struct{})
	timer := time.AfterFunc(m.effectiveTimeout(), func() {
		close(timedOut)
		agent.terminate(killGrace)
	})

	var coalesceMu sync.Mutex
	var pending []string
	flush := func() {
		coalesceMu.Lock()
		chunks := pending
		pending = nil
		coalesceMu.Unlock()
		if len(chunks) == 0 {
			return
		}
		m.Broadcast(protocol.New(protocol.AgentStream, protocol.AgentStreamPayload{
			SessionID: m.SessionID,
			AgentID:   agent.ID,
			TaskID:    agent.TaskID,
			Chunks:    chunks,
		}))
	}
	ticker := time.NewTicker(streamCoalesceWindow)
	stopTicker := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				flush()
			case <-stopTicker:
				ticker.Stop()
				return
			}
		}
	}()

	go func() {
		for line := range handle.Lines() {
			agent.AppendOutput(line)
			coalesceMu.Lock()
			pending = append(pending, line)
			coalesceMu.Unlock()
			m.Broadcast(protocol.New(protocol.AgentOutput, protocol.AgentOutputPayload{
				SessionID: m.SessionID,
				AgentID:   agent.ID,
				TaskID:    agent.TaskID,
				Stream:    "stdout",
				Chunk:     line,
			}))
		}

		waitErr := handle.Wait()
		close(stopTicker)
		flush()
		timer.Stop()

		agent.FinishedAt = time.Now()
		agent.setHandle(nil)
		summary := summarizer.Summarize(agent.Output())
		agent.SetSummary(summary)

		select {
		case <-timedOut:
			agent.setStatus(StatusInterrupted)
			agent.Reason = "timed out"
		default:
			if agent.Status() == StatusInterrupted {
				// already settled by an external KillAll; don't downgrade it.
			} else if waitErr != nil {
				agent.setStatus(StatusFailed)
				agent.Reason = waitErr.Error()
			} else {
				agent.setStatus(StatusSuccess)
			}
		}
		agent.settle()
		m.broadcastStatus(agent)
	}()
}

func (m *Manager) effectiveTimeout() time.Duration {
	if m.AgentTimeout <= 0 {
		return 30 * time.Minute
	}
	return m.AgentTimeout
}

func (m *Manager) broadcastStatus(agent *Agent) {
	m.Broadcast(protocol.New(protocol.AgentStatus, protocol.AgentStatusPayload{
		SessionID: m.SessionID,
		AgentID:   agent.ID,
		TaskID:    agent.TaskID,
		Status:    string(agent.Status()),
		ModelTier: string(agent.ModelTier),
		Model:     agent.Model,
		Reason:    agent.Reason,
	}))
}

// KillAll terminates every tracked agent, escalating to SIGKILL after
// killGrace, and marks each interrupted. Used on session abort (spec §4.2).
func (m *Manager) KillAll() {
	for _, a := range m.Agents() {
		if a.Status() != StatusRunning && a.Status() != StatusPending {
			continue
		}
		a.terminate(killGrace)
		a.setStatus(StatusInterrupted)
		a.Reason = "session aborted"
		a.FinishedAt = time.Now()
		a.settle()
		m.broadcastStatus(a)
	}
}

// CostSummary aggregates spend across all tracked agents, bucketed by tier.
func (m *Manager) CostSummary() protocol.CostSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTier := map[string]float64{}
	for _, a := range m.agents {
		byTier[string(a.ModelTier)] += projectedCost(a.ModelTier)
	}
	return protocol.CostSummary{ByTier: byTier, Total: m.spent}
}
