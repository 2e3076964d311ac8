package protocol

// Payload structs are plain data — no dependency on internal/task,
// internal/agentmgr, etc. Domain packages convert their own types into these
// at the broadcast boundary, mirroring the teacher's dto/v1 split (domain
// types never leak into the wire format directly).

// SessionStartPayload accompanies SessionStart.
type SessionStartPayload struct {
	SessionID   string `json:"sessionId"`
	ProjectSlug string `json:"projectSlug"`
	Prompt      string `json:"prompt"`
}

// SessionCompletePayload accompanies SessionComplete.
type SessionCompletePayload struct {
	SessionID   string       `json:"sessionId"`
	Status      string       `json:"status"` // "completed" | "partial"
	CostSummary CostSummary  `json:"costSummary"`
	Rewrites    int          `json:"rewrites"`
	SwarmStats  SwarmStats   `json:"swarmStats"`
}

// SessionErrorPayload accompanies SessionError.
type SessionErrorPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	HolderID  string `json:"holderId,omitempty"` // set on lock contention
}

// SessionWarningPayload accompanies SessionWarning.
type SessionWarningPayload struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// SessionInterruptedPayload accompanies SessionInterrupted.
type SessionInterruptedPayload struct {
	SessionID string `json:"sessionId"`
}

// SessionResumedPayload accompanies SessionResumed.
type SessionResumedPayload struct {
	SessionID string `json:"sessionId"`
}

// ShutdownWarningPayload accompanies ShutdownWarning.
type ShutdownWarningPayload struct {
	GraceMs int64 `json:"graceMs"`
}

// PlanTask is one task as seen by observers.
type PlanTask struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Description   string   `json:"description"`
	Dependencies  []string `json:"dependencies"`
	Type          string   `json:"type"`
	Gate          bool     `json:"gate,omitempty"`
	AffectedFiles []string `json:"affectedFiles,omitempty"`
}

// PlanEdge is one dependency edge.
type PlanEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// PlanCreatedPayload accompanies PlanCreated.
type PlanCreatedPayload struct {
	SessionID string     `json:"sessionId"`
	Tasks     []PlanTask `json:"tasks"`
	Edges     []PlanEdge `json:"edges"`
	Append    bool       `json:"append,omitempty"`
	SplitFrom string     `json:"splitFrom,omitempty"`
}

// PlanResearchPayload accompanies PlanResearch.
type PlanResearchPayload struct {
	SessionID string `json:"sessionId"`
	Report    string `json:"report"`
}

// SafetyIssue is one suspicious file or line turned up by a task's post-
// success diff scan (secrets, added binaries).
type SafetyIssue struct {
	File   string `json:"file"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// TaskStatusPayload accompanies TaskStatus.
type TaskStatusPayload struct {
	SessionID    string        `json:"sessionId"`
	TaskID       string        `json:"taskId"`
	Status       string        `json:"status"`
	Retries      int           `json:"retries"`
	SafetyIssues []SafetyIssue `json:"safetyIssues,omitempty"`
}

// AgentStatusPayload accompanies AgentStatus.
type AgentStatusPayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
	AgentID   string `json:"agentId"`
	Status    string `json:"status"`
	ModelTier string `json:"modelTier"`
	Model     string `json:"model"`
	Reason    string `json:"reason,omitempty"`
}

// AgentOutputPayload accompanies AgentOutput (one raw chunk).
type AgentOutputPayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
	AgentID   string `json:"agentId"`
	Stream    string `json:"stream"` // "stdout" | "stderr"
	Chunk     string `json:"chunk"`
}

// AgentStreamPayload accompanies AgentStream (coalesced chunk batch).
type AgentStreamPayload struct {
	SessionID string   `json:"sessionId"`
	TaskID    string   `json:"taskId"`
	AgentID   string   `json:"agentId"`
	Chunks    []string `json:"chunks"`
}

// VerificationStatusPayload accompanies VerificationStatus.
type VerificationStatusPayload struct {
	SessionID string   `json:"sessionId"`
	Round     int      `json:"round"`
	Passed    bool     `json:"passed"`
	Issues    []string `json:"issues,omitempty"`
}

// ChatMessagePayload accompanies ChatMessage (client → server).
type ChatMessagePayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// ChatResponsePayload accompanies ChatResponse (server → client).
type ChatResponsePayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// IterationStartPayload accompanies IterationStart.
type IterationStartPayload struct {
	SessionID string `json:"sessionId"`
	Iteration int    `json:"iteration"`
	PromptID  string `json:"promptId"`
}

// IterationCompletePayload accompanies IterationComplete.
type IterationCompletePayload struct {
	SessionID string `json:"sessionId"`
	Iteration int    `json:"iteration"`
}

// ReconnectSyncPayload accompanies ReconnectSync.
type ReconnectSyncPayload struct {
	SessionID string `json:"sessionId"`
}

// GateRequestPayload accompanies GateRequest.
type GateRequestPayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
	Label     string `json:"label"`
}

// GateResponsePayload accompanies GateResponse (client → server).
type GateResponsePayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
	Approved  bool   `json:"approved"`
	Feedback  string `json:"feedback,omitempty"`
}

// DAGRewritePayload accompanies DAGRewrite.
type DAGRewritePayload struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	To        string `json:"to"`
	FromLabel string `json:"fromLabel"`
	ToLabel   string `json:"toLabel"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// SwarmWavePayload accompanies SwarmWave.
type SwarmWavePayload struct {
	SessionID string `json:"sessionId"`
	Wave      int    `json:"wave"`
	TotalWave int    `json:"totalWaves"`
}

// SwarmScalingPayload accompanies SwarmScaling.
type SwarmScalingPayload struct {
	SessionID    string `json:"sessionId"`
	BaseCap      int    `json:"baseCap"`
	DynamicLimit int    `json:"dynamicLimit"`
	Eligible     int    `json:"eligible"`
}

// TaskSplitPayload accompanies TaskSplit.
type TaskSplitPayload struct {
	SessionID string   `json:"sessionId"`
	ParentID  string   `json:"parentId"`
	SubIDs    []string `json:"subIds"`
	LeafIDs   []string `json:"leafIds"`
}

// SpeculativeStartPayload accompanies SpeculativeStart.
type SpeculativeStartPayload struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId"`
}

// WSSubscribePayload accompanies WSSubscribe / WSUnsubscribe.
type WSSubscribePayload struct {
	ProjectSlug string `json:"projectSlug"`
}

// CostSummary buckets spend by model tier.
type CostSummary struct {
	ByTier map[string]float64 `json:"byTier"`
	Total  float64            `json:"total"`
}

// SwarmStats summarizes one session's scheduling behavior.
type SwarmStats struct {
	TotalTasks          int `json:"totalTasks"`
	TotalWaves          int `json:"totalWaves"`
	PeakConcurrency     int `json:"peakConcurrency"`
	SpeculativeLaunches int `json:"speculativeLaunches"`
	TaskSplits          int `json:"taskSplits"`
	DAGRewrites         int `json:"dagRewrites"`
}

// AutopilotStatusPayload accompanies AutopilotStatus.
type AutopilotStatusPayload struct {
	ProjectSlug string `json:"projectSlug"`
	Running     bool   `json:"running"`
	Cycle       int    `json:"cycle"`
	LastSession string `json:"lastSessionId,omitempty"`
	Message     string `json:"message,omitempty"`
}

// SelfdevStartPayload accompanies SelfdevStart (client -> server): starts the
// autopilot driver for a project over the observer channel instead of
// control-plane HTTP.
type SelfdevStartPayload struct {
	ProjectSlug string `json:"projectSlug"`
}

// PluginStatusPayload accompanies PluginStatus.
type PluginStatusPayload struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "loaded" | "enabled" | "disabled" | "error"
	Message string `json:"message,omitempty"`
}
