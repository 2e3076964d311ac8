// Package hvstate holds the process-wide mutable state the orchestrator and
// control-plane handlers share: the session registry, the task→session
// index, the workspace advisory lock, and active per-session execution
// contexts. Grounded on spec §9's design note "Global mutable state ...
// become fields of a single Engine value constructed at startup; access is
// mediated by methods that document their locking" and on the teacher's
// server.Server (one mutex-guarded struct holding the task list, every
// handler locking the same mutex) — generalized from one server-wide task
// slice to several independently keyed maps.
package hvstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/snapshot"
	"github.com/hAIvemind-dev/haivemind/internal/task"
)

// maxTimeline is the in-memory per-session timeline bound (spec §8 P4).
const maxTimeline = 5000

// SessionStatus is a Session's coarse lifecycle state.
type SessionStatus string

const (
	SessionRunning     SessionStatus = "running"
	SessionCompleted   SessionStatus = "completed"
	SessionPartial     SessionStatus = "partial"
	SessionFailed      SessionStatus = "failed"
	SessionInterrupted SessionStatus = "interrupted"
)

// Reflection is the post-session metrics record (spec §4.4 step 8,
// glossary "Reflection").
type Reflection struct {
	Status          SessionStatus  `json:"status"`
	DurationMs      int64          `json:"durationMs"`
	TaskCount       int            `json:"taskCount"`
	SuccessCount    int            `json:"successCount"`
	FailCount       int            `json:"failCount"`
	RetryRate       float64        `json:"retryRate"`
	TierUsage       map[string]int `json:"tierUsage"`
	EscalatedTasks  int            `json:"escalatedTasks"`
	CostSummary     protocol.CostSummary `json:"costSummary"`
}

// Session is one orchestrated run: a prompt against a project, executed as
// one or more Task Runners over time (the base plan, any verify-fix rounds,
// any chat-driven extensions).
type Session struct {
	ID          string
	ProjectSlug string
	Prompt      string
	WorkDir     string
	StartedAt   time.Time

	mu          sync.Mutex
	status      SessionStatus
	completedAt time.Time
	snapshot    snapshot.Snapshot
	manager     *agentmgr.Manager
	runner      *task.Runner
	timeline    []protocol.Envelope
	iteration   int
	chatBusy    bool
	reflection  *Reflection
	cancel      context.CancelFunc
}

func newSession(id, slug, prompt, workDir string) *Session {
	return &Session{ID: id, ProjectSlug: slug, Prompt: prompt, WorkDir: workDir, StartedAt: time.Now(), status: SessionRunning}
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st SessionStatus) {
	s.mu.Lock()
	s.status = st
	if st != SessionRunning {
		s.completedAt = time.Now()
	}
	s.mu.Unlock()
}

// SetStatus transitions the session's lifecycle status, exported for
// internal/orchestrator's finalize/error paths.
func (s *Session) SetStatus(st SessionStatus) { s.setStatus(st) }

func (s *Session) CompletedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt
}

func (s *Session) Snapshot() snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *Session) setSnapshot(snap snapshot.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

// SetSnapshot records the pre-session workspace snapshot, exported for
// internal/orchestrator's startSession step 2.
func (s *Session) SetSnapshot(snap snapshot.Snapshot) { s.setSnapshot(snap) }

func (s *Session) setManager(m *agentmgr.Manager) {
	s.mu.Lock()
	s.manager = m
	s.mu.Unlock()
}

// SetManager records the Agent Manager driving the session's current round,
// exported for internal/orchestrator.
func (s *Session) SetManager(m *agentmgr.Manager) { s.setManager(m) }

func (s *Session) Manager() *agentmgr.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager
}

func (s *Session) setRunner(r *task.Runner) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

// SetRunner records the Task Runner driving the session's current round,
// exported for internal/orchestrator.
func (s *Session) SetRunner(r *task.Runner) { s.setRunner(r) }

func (s *Session) Runner() *task.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

// Timeline returns a copy of the recorded P4-bounded event history.
func (s *Session) Timeline() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.timeline...)
}

func (s *Session) appendTimeline(e protocol.Envelope) {
	s.mu.Lock()
	s.timeline = append(s.timeline, e)
	if len(s.timeline) > maxTimeline {
		s.timeline = s.timeline[len(s.timeline)-maxTimeline:]
	}
	s.mu.Unlock()
}

// BeginChatIteration reserves the chat latch, returning false if an
// iteration is already in flight (spec §4.4 handleChatMessage: "reject if
// an iteration is already in-flight").
func (s *Session) BeginChatIteration() (iteration int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatBusy {
		return 0, false
	}
	s.chatBusy = true
	s.iteration++
	return s.iteration, true
}

func (s *Session) EndChatIteration() {
	s.mu.Lock()
	s.chatBusy = false
	s.mu.Unlock()
}

// SetCancel records the cancel function for the session's active execution
// context (spec §9 "activeContexts"), so graceful shutdown or an explicit
// interrupt can stop its Task Runner without reaching into its internals.
func (s *Session) SetCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Cancel invokes the session's active execution context's cancel function,
// if one is set. A no-op for a session with no execution in flight.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) setReflection(r Reflection) {
	s.mu.Lock()
	s.reflection = &r
	s.mu.Unlock()
}

// SetReflection stores the post-session Reflection record, exported for
// internal/orchestrator's synthesis step (spec §4.4 step 8).
func (s *Session) SetReflection(r Reflection) { s.setReflection(r) }

func (s *Session) Reflection() *Reflection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reflection
}

// Engine is the single home for every piece of process-wide mutable state
// the orchestrator and HTTP handlers touch: the session registry, the
// task→session index (for routing broadcasts and gate resolutions), and the
// workspace advisory lock (spec §8 P6: "at most one active session per
// workDir").
type Engine struct {
	BaseDir string

	mu            sync.Mutex
	sessions      map[string]*Session
	taskToSession map[string]string
	workDirLocks  map[string]string // workDir -> holder sessionID

	pruner *cron.Cron
}

// NewEngine constructs an empty Engine rooted at baseDir (spec §6 on-disk
// layout root).
func NewEngine(baseDir string) *Engine {
	return &Engine{
		BaseDir:       baseDir,
		sessions:      make(map[string]*Session),
		taskToSession: make(map[string]string),
		workDirLocks:  make(map[string]string),
	}
}

// AcquireWorkspaceLock claims workDir for sessionID. Returns the existing
// holder's session id and false if already held by a different session.
func (e *Engine) AcquireWorkspaceLock(workDir, sessionID string) (holder string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, held := e.workDirLocks[workDir]; held {
		return h, false
	}
	e.workDirLocks[workDir] = sessionID
	return sessionID, true
}

// ReleaseWorkspaceLock releases workDir if sessionID is the current holder;
// a no-op otherwise (spec §5: "a release is a no-op if the caller is not the
// holder").
func (e *Engine) ReleaseWorkspaceLock(workDir, sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workDirLocks[workDir] == sessionID {
		delete(e.workDirLocks, workDir)
	}
}

// NewSession registers and returns a new Session.
func (e *Engine) NewSession(id, projectSlug, prompt, workDir string) *Session {
	s := newSession(id, projectSlug, prompt, workDir)
	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()
	return s
}

// Session looks up a session by id.
func (e *Engine) Session(id string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// Sessions returns a snapshot slice of every tracked session.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// IndexTasks records that every given task id belongs to sessionID, so a
// later broadcast or gate resolution referencing only a task id can be
// routed back to its owning session.
func (e *Engine) IndexTasks(sessionID string, taskIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range taskIDs {
		e.taskToSession[id] = sessionID
	}
}

// SessionForTask resolves the owning session of a task id.
func (e *Engine) SessionForTask(taskID string) (*Session, bool) {
	e.mu.Lock()
	sid, ok := e.taskToSession[taskID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return e.Session(sid)
}

// Record folds an envelope into the owning session's bounded timeline if its
// type is one of protocol.Timelined, resolving ownership via payload
// sessionId or the task→session index (spec §4.7).
func (e *Engine) Record(env protocol.Envelope) {
	if !protocol.Timelined[env.Type] {
		return
	}
	sid := e.resolveSessionID(env)
	if sid == "" {
		return
	}
	if s, ok := e.Session(sid); ok {
		s.appendTimeline(env)
	}
}

// ResolveProjectSlug determines which project an envelope belongs to, for
// the broadcast plane's subscription filtering (spec §4.7: "resolve the
// project slug of the message, from payload, or via task→session→project").
// Returns ok=false if the envelope carries nothing that resolves to a known
// project.
func (e *Engine) ResolveProjectSlug(env protocol.Envelope) (slug string, ok bool) {
	var withSlug struct {
		ProjectSlug string `json:"projectSlug"`
	}
	if err := env.Decode(&withSlug); err == nil && withSlug.ProjectSlug != "" {
		return withSlug.ProjectSlug, true
	}
	sid := e.resolveSessionID(env)
	if sid == "" {
		return "", false
	}
	s, ok := e.Session(sid)
	if !ok {
		return "", false
	}
	return s.ProjectSlug, true
}

func (e *Engine) resolveSessionID(env protocol.Envelope) string {
	var withTask struct {
		SessionID string `json:"sessionId"`
		TaskID    string `json:"taskId"`
	}
	if err := env.Decode(&withTask); err != nil {
		return ""
	}
	if withTask.SessionID != "" {
		return withTask.SessionID
	}
	if withTask.TaskID != "" {
		e.mu.Lock()
		sid := e.taskToSession[withTask.TaskID]
		e.mu.Unlock()
		return sid
	}
	return ""
}

// StartRetentionPruner schedules a periodic sweep that drops finalized
// sessions older than retention from the in-memory registry, via
// robfig/cron/v3 on a fixed 5-minute cadence (spec §6
// HAIVEMIND_SESSION_RETENTION_MS). Safe to call once; returns the cron id.
func (e *Engine) StartRetentionPruner(retention time.Duration) (cron.EntryID, error) {
	e.mu.Lock()
	if e.pruner == nil {
		e.pruner = cron.New()
		e.pruner.Start()
	}
	c := e.pruner
	e.mu.Unlock()

	id, err := c.AddFunc("@every 5m", func() { e.pruneSessions(retention) })
	if err != nil {
		return 0, fmt.Errorf("hvstate: schedule retention pruner: %w", err)
	}
	return id, nil
}

// StopRetentionPruner stops the background cron scheduler, if running.
func (e *Engine) StopRetentionPruner() {
	e.mu.Lock()
	c := e.pruner
	e.pruner = nil
	e.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (e *Engine) pruneSessions(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.sessions {
		if s.Status() == SessionRunning {
			continue
		}
		if s.CompletedAt().Before(cutoff) {
			delete(e.sessions, id)
		}
	}
}
