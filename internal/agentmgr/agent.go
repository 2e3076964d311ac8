// Package agentmgr spawns and supervises external coding-agent subprocesses:
// the Agent Manager of spec §4.2. It knows nothing about the DAG — the Task
// Runner calls Spawn once per attempt and reacts to the returned Agent's
// terminal status.
package agentmgr

import (
	"sync"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/summarizer"
)

// Harness identifies which coding-agent CLI a Backend wraps ("claude",
// "codex", "gemini", ...). Mirrors the teacher's agent.Harness.
type Harness string

// Status is the tagged-sum-of-states design (spec §9): each Agent carries
// exactly one Status, and fields only valid in that state (handle,
// FinishedAt, Summary) are left zero outside it.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusBlocked     Status = "blocked"
	StatusInterrupted Status = "interrupted"
)

// Usage mirrors the token-accounting fields a coding-agent CLI reports in
// its final result line.
type Usage struct {
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens"`
}

// Options configures a single spawn attempt.
type Options struct {
	TaskID        string
	Label         string
	Description   string
	AffectedFiles []string
	Retries       int
	Prompt        string
	WorkDir       string
	Model         string
	ExtraContext  string
	Skills        project.Skills
	Workspace     *project.WorkspaceAnalysis
}

// Agent is one spawn attempt against a Task. One Task accumulates a history
// of Agents across retries (TaskState.agentIds in spec §3).
type Agent struct {
	ID         string
	TaskID     string
	ModelTier  project.Tier
	Model      string
	Multiplier float64
	Retries    int
	Reason     string
	Prompt     string
	CLICommand string
	StartedAt  time.Time
	FinishedAt time.Time

	mu      sync.Mutex
	status  Status
	ring    *ringBuffer
	summary *summarizer.Summary
	handle  *Handle // cleared on exit, per spec §3 "process handle (cleared on exit)"
	done    chan struct{}
}

// Wait blocks until the agent reaches a terminal status (success, failed,
// blocked, or interrupted) and returns that status. Safe to call from
// multiple goroutines; returns immediately if already settled.
func (a *Agent) Wait() Status {
	a.mu.Lock()
	if a.done == nil {
		a.done = make(chan struct{})
	}
	done := a.done
	alreadyTerminal := isTerminal(a.status)
	a.mu.Unlock()
	if alreadyTerminal {
		return a.Status()
	}
	<-done
	return a.Status()
}

func isTerminal(s Status) bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusBlocked, StatusInterrupted:
		return true
	default:
		return false
	}
}

// settle marks the agent terminal and wakes any Wait callers. No-op if
// already settled.
func (a *Agent) settle() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		a.done = make(chan struct{})
	}
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

// Status returns the agent's current status.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Agent) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *Agent) setHandle(h *Handle) {
	a.mu.Lock()
	a.handle = h
	a.mu.Unlock()
}

// terminate requests the underlying process stop, escalating to SIGKILL
// after the grace period. No-op once the process has already exited.
func (a *Agent) terminate(grace time.Duration) {
	a.mu.Lock()
	h := a.handle
	a.mu.Unlock()
	if h == nil {
		return
	}
	_ = h.Terminate()
	time.AfterFunc(grace, func() { _ = h.Kill() })
}

// AppendOutput records one raw chunk into the bounded ring buffer.
func (a *Agent) AppendOutput(chunk string) {
	a.mu.Lock()
	a.ring.append(chunk)
	a.mu.Unlock()
}

// Output returns the concatenated retained output.
func (a *Agent) Output() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ring.String()
}

// OutputBytes returns the current tracked byte total (invariant P5).
func (a *Agent) OutputBytes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ring.byteLen()
}

// SetSummary attaches a computed OutputSummary (failure or snapshot time).
func (a *Agent) SetSummary(s summarizer.Summary) {
	a.mu.Lock()
	a.summary = &s
	a.mu.Unlock()
}

// Summary returns the attached summary, or nil if none was computed.
func (a *Agent) Summary() *summarizer.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

// Snapshot is the serializable view of an Agent for session persistence.
type Snapshot struct {
	ID         string              `json:"id"`
	TaskID     string              `json:"taskId"`
	ModelTier  project.Tier        `json:"modelTier"`
	Model      string              `json:"model"`
	Multiplier float64             `json:"multiplier"`
	Status     Status              `json:"status"`
	Retries    int                 `json:"retries"`
	Reason     string              `json:"reason,omitempty"`
	CLICommand string              `json:"cliCommand,omitempty"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt time.Time           `json:"finishedAt,omitempty"`
	Output     string              `json:"output,omitempty"`
	Summary    *summarizer.Summary `json:"summary,omitempty"`
}

// Snapshot returns a point-in-time serializable copy.
func (a *Agent) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		ID:         a.ID,
		TaskID:     a.TaskID,
		ModelTier:  a.ModelTier,
		Model:      a.Model,
		Multiplier: a.Multiplier,
		Status:     a.status,
		Retries:    a.Retries,
		Reason:     a.Reason,
		CLICommand: a.CLICommand,
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
		Output:     a.ring.String(),
		Summary:    a.summary,
	}
}
