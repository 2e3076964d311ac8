// Package autopilot is the thin self-improvement driver spec.md carves out
// as "a thin driver above the core and is excluded except for the
// runSession interface it consumes": it repeatedly calls
// orchestrator.Orchestrator.StartSession for one project with the prompt
// NextPrompt returns for each cycle, stopping only when told to (a cycle
// that errors out is logged and the loop goes on), and leaves the actual
// prioritization/decision logic as an injected black box.
package autopilot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/orchestrator"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/registry"
)

// NextPrompt produces the prompt for the next cycle given the prior cycle's
// session id (empty on the first cycle). The concrete strategy behind this
// function is an external collaborator (spec.md §1 Non-goals); autopilot
// only drives whatever it returns through StartSession.
type NextPrompt func(ctx context.Context, proj *project.Project, lastSessionID string) (string, error)

// Driver runs repeated sessions against one project until stopped.
type Driver struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *registry.Registry
	Project      *project.Project
	NextPrompt   NextPrompt
	CycleDelay   time.Duration
	Publish      func(protocol.Envelope)

	mu      sync.Mutex
	running bool
	abort   bool
	cycle   int
	last    string
	cancel  context.CancelFunc
}

// LogEntry is one append-only row in <baseDir>/.haivemind/autopilot-log.json.
type LogEntry struct {
	Cycle     int       `json:"cycle"`
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
}

// Status is the current run state, returned by the control-plane's
// autopilot status endpoint.
type Status struct {
	Running     bool   `json:"running"`
	Cycle       int    `json:"cycle"`
	LastSession string `json:"lastSessionId,omitempty"`
}

// Start launches the cycle loop in a background goroutine. Calling Start on
// an already-running Driver is a no-op.
func (d *Driver) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.abort = false
	d.cancel = cancel
	d.mu.Unlock()

	go d.loop(runCtx)
}

// Stop sets the abort flag, polled once per cycle boundary (spec §5:
// "Autopilot cycles can be stopped by setting an abort flag polled between
// cycles"), and cancels the in-flight session's context.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.abort = true
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// StatusSnapshot returns the driver's current state for the control plane.
func (d *Driver) StatusSnapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Running: d.running, Cycle: d.cycle, LastSession: d.last}
}

func (d *Driver) loop(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.broadcastStatus("stopped")
	}()

	for {
		d.mu.Lock()
		aborted := d.abort
		d.mu.Unlock()
		if aborted || ctx.Err() != nil {
			return
		}

		d.runCycle(ctx)

		d.mu.Lock()
		aborted = d.abort
		delay := d.CycleDelay
		d.mu.Unlock()
		if aborted {
			return
		}
		if delay <= 0 {
			delay = 10 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (d *Driver) runCycle(ctx context.Context) {
	d.mu.Lock()
	d.cycle++
	cycle := d.cycle
	lastSession := d.last
	d.mu.Unlock()

	entry := LogEntry{Cycle: cycle, StartedAt: time.Now()}

	prompt, err := d.NextPrompt(ctx, d.Project, lastSession)
	if err != nil {
		entry.Status = "error"
		entry.Error = fmt.Sprintf("next prompt: %v", err)
		d.appendLog(entry)
		d.broadcastStatus(entry.Error)
		return
	}
	if prompt == "" {
		entry.Status = "idle"
		d.appendLog(entry)
		return
	}

	sess, err := d.Orchestrator.StartSession(ctx, d.Project, prompt, nil)
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
		d.appendLog(entry)
		d.broadcastStatus(entry.Error)
		return
	}

	entry.SessionID = sess.ID
	entry.Status = "completed"
	d.mu.Lock()
	d.last = sess.ID
	d.mu.Unlock()
	d.appendLog(entry)
	d.broadcastStatus("")
}

func (d *Driver) appendLog(entry LogEntry) {
	if d.Registry == nil {
		return
	}
	_ = AppendLog(d.Registry.BaseDir, entry)
}

func (d *Driver) broadcastStatus(message string) {
	if d.Publish == nil {
		return
	}
	snap := d.StatusSnapshot()
	d.Publish(protocol.New(protocol.AutopilotStatus, protocol.AutopilotStatusPayload{
		ProjectSlug: d.Project.Slug,
		Running:     snap.Running,
		Cycle:       snap.Cycle,
		LastSession: snap.LastSession,
		Message:     message,
	}))
}
