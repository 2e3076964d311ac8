// Package task implements the DAG execution engine: dependency resolution,
// dynamic concurrency, speculative execution, stall-driven rewriting, retry
// escalation, and adaptive splitting (spec §4.3, the hardest subsystem).
//
// Task carries immutable-ish identity with a small mutable surface
// (description and dependencies, both edited only by the Runner); TaskState
// is the Runner-owned mutable status record. Both follow the teacher's
// mutex-guarded struct idiom (task.Task's t.mu/t.setState in runner.go),
// generalized from one task per session to many tasks per DAG.
package task

import (
	"sync"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/summarizer"
)

// Type distinguishes work nodes from the prompt/verify bridge nodes the
// orchestrator inserts between chat iterations and verify-fix rounds.
type Type string

const (
	TypeWork   Type = "work"
	TypePrompt Type = "prompt" // bridges between chat iterations; never executes
	TypeVerify Type = "verify"
)

// Status is a Task's runner-assigned lifecycle state (spec §3 TaskState).
type Status string

const (
	StatusPending Status = "pending"
	StatusGated   Status = "gated"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusBlocked Status = "blocked"
)

// FailureReport records one failed attempt: its output summary, a heuristic
// suggested fix, and a coarse category tag, referenced from TaskState's
// failure history (spec §3).
type FailureReport struct {
	Summary      summarizer.Summary `json:"summary"`
	SuggestedFix string             `json:"suggestedFix"`
	Category     string             `json:"category"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Task is one DAG node: label/description plus an editable dependency set.
// Description is mutated only by human-gate feedback append; Dependencies
// only by the Runner's edge removal (stall rewrite) and splitting (parent-id
// substitution).
type Task struct {
	ID            string
	Label         string
	Type          Type
	Gate          bool
	AffectedFiles []string

	mu           sync.Mutex
	description  string
	dependencies []string
}

// NewTask constructs a Task with the given dependency set (copied).
func NewTask(id, label, description string, dependencies []string, typ Type, gate bool, affectedFiles []string) *Task {
	return &Task{
		ID:            id,
		Label:         label,
		Type:          typ,
		Gate:          gate,
		AffectedFiles: affectedFiles,
		description:   description,
		dependencies:  append([]string(nil), dependencies...),
	}
}

// Description returns the current description.
func (t *Task) Description() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.description
}

// AppendHumanFeedback appends feedback text under a "Human Feedback"
// heading, per spec §4.3's human-gate handling.
func (t *Task) AppendHumanFeedback(feedback string) {
	if feedback == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.description += "\n\n## Human Feedback\n\n" + feedback
}

// Dependencies returns a copy of the current dependency id list.
func (t *Task) Dependencies() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dependencies...)
}

// RemoveDependency removes depID from the dependency set, used by stall
// detection to drop an edge in memory (spec §4.3 DAG rewriting).
func (t *Task) RemoveDependency(depID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.dependencies[:0]
	for _, d := range t.dependencies {
		if d != depID {
			out = append(out, d)
		}
	}
	t.dependencies = out
}

// ReplaceDependency substitutes oldID with newIDs wherever it appears,
// used when a split task's parent id is replaced by its sub-DAG's leaves.
func (t *Task) ReplaceDependency(oldID string, newIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	replaced := false
	for _, d := range t.dependencies {
		if d == oldID {
			out = append(out, newIDs...)
			replaced = true
			continue
		}
		out = append(out, d)
	}
	if replaced {
		t.dependencies = out
	}
}

// TaskState is the Runner-owned mutable status record for one Task,
// matching spec §3's TaskState exactly.
type TaskState struct {
	mu             sync.Mutex
	status         Status
	retries        int
	agentIDs       []string
	failureReports []FailureReport
	safetyIssues   []SafetyIssue
	startedAt      time.Time
	completedAt    time.Time
}

// NewTaskState constructs a TaskState in the given initial status (pending
// or gated, depending on Task.Gate).
func NewTaskState(initial Status) *TaskState {
	return &TaskState{status: initial}
}

func (s *TaskState) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *TaskState) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *TaskState) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *TaskState) incRetries() int {
	s.mu.Lock()
	s.retries++
	n := s.retries
	s.mu.Unlock()
	return n
}

func (s *TaskState) addAgentID(id string) {
	s.mu.Lock()
	s.agentIDs = append(s.agentIDs, id)
	s.mu.Unlock()
}

// AgentIDs returns the ordered history of spawn attempts for this task.
func (s *TaskState) AgentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.agentIDs...)
}

func (s *TaskState) addFailureReport(r FailureReport) {
	s.mu.Lock()
	s.failureReports = append(s.failureReports, r)
	s.mu.Unlock()
}

func (s *TaskState) setSafetyIssues(issues []SafetyIssue) {
	s.mu.Lock()
	s.safetyIssues = issues
	s.mu.Unlock()
}

// SafetyIssues returns the issues CheckSafety found after this task's last
// successful attempt, if any.
func (s *TaskState) SafetyIssues() []SafetyIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SafetyIssue(nil), s.safetyIssues...)
}

// FailureReports returns the ordered failure history.
func (s *TaskState) FailureReports() []FailureReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FailureReport(nil), s.failureReports...)
}

func (s *TaskState) setStartedAt(t time.Time) {
	s.mu.Lock()
	s.startedAt = t
	s.mu.Unlock()
}

func (s *TaskState) setCompletedAt(t time.Time) {
	s.mu.Lock()
	s.completedAt = t
	s.mu.Unlock()
}

// StartedAt and CompletedAt report the current attempt's wall timestamps.
func (s *TaskState) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *TaskState) CompletedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt
}

// Snapshot is the serializable view of a Task+TaskState pair, used for
// checkpointing and session persistence.
type Snapshot struct {
	ID           string          `json:"id"`
	Label        string          `json:"label"`
	Description  string          `json:"description"`
	Dependencies []string        `json:"dependencies"`
	Type         Type            `json:"type"`
	Gate         bool            `json:"gate,omitempty"`
	Status       Status          `json:"status"`
	Retries      int             `json:"retries"`
	AgentIDs     []string        `json:"agentIds,omitempty"`
	Failures     []FailureReport `json:"failureReports,omitempty"`
	SafetyIssues []SafetyIssue   `json:"safetyIssues,omitempty"`
	StartedAt    time.Time       `json:"startedAt,omitempty"`
	CompletedAt  time.Time       `json:"completedAt,omitempty"`
}

// Snapshot returns a point-in-time serializable copy of t/s.
func (t *Task) Snapshot(s *TaskState) Snapshot {
	return Snapshot{
		ID:           t.ID,
		Label:        t.Label,
		Description:  t.Description(),
		Dependencies: t.Dependencies(),
		Type:         t.Type,
		Gate:         t.Gate,
		Status:       s.Status(),
		Retries:      s.Retries(),
		AgentIDs:     s.AgentIDs(),
		Failures:     s.FailureReports(),
		SafetyIssues: s.SafetyIssues(),
		StartedAt:    s.StartedAt(),
		CompletedAt:  s.CompletedAt(),
	}
}
