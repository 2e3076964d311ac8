// Package v1 holds the concrete wire types for the control-plane HTTP API:
// projects, sessions, templates, skills/settings/reflections, autopilot,
// plugins, backends, swarm, health, checkpoints, and interrupted sessions
// (spec §6's control-plane resource list).
package v1

import "time"

// Project is the JSON representation of a registered project.
type Project struct {
	Slug      string    `json:"slug"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateProjectReq is the request body for POST /api/v1/projects.
type CreateProjectReq struct {
	Slug string `json:"slug"`
	Dir  string `json:"dir"`
}

func (r *CreateProjectReq) Validate() error {
	if r.Slug == "" {
		return errRequired("slug")
	}
	if r.Dir == "" {
		return errRequired("dir")
	}
	return nil
}

// ProjectPathReq is a request that only names a project by path parameter.
type ProjectPathReq struct {
	Slug string `path:"slug"`
}

func (r *ProjectPathReq) Validate() error {
	if r.Slug == "" {
		return errRequired("slug")
	}
	return nil
}

// SessionPathReq identifies one session within a project.
type SessionPathReq struct {
	Slug      string `path:"slug"`
	SessionID string `path:"sessionId"`
}

func (r *SessionPathReq) Validate() error {
	if r.Slug == "" {
		return errRequired("slug")
	}
	if r.SessionID == "" {
		return errRequired("sessionId")
	}
	return nil
}

// Session is the JSON representation of a started or finished session.
type Session struct {
	SessionID   string    `json:"sessionId"`
	ProjectSlug string    `json:"projectSlug"`
	Prompt      string    `json:"prompt"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitempty"`
	TotalCost   float64   `json:"totalCost"`
	Rewrites    int       `json:"rewrites"`
}

// Diff is the JSON representation of a session's workspace diff.
type Diff struct {
	SessionID string   `json:"sessionId"`
	NameOnly  []string `json:"nameOnly"`
	Stat      string   `json:"stat"`
	Untracked []string `json:"untracked"`
}

// Template is a reusable prompt starting point.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

func (r *Template) Validate() error {
	if r.Name == "" {
		return errRequired("name")
	}
	return nil
}

// TemplatePathReq identifies one template by name.
type TemplatePathReq struct {
	Name string `path:"name"`
}

func (r *TemplatePathReq) Validate() error {
	if r.Name == "" {
		return errRequired("name")
	}
	return nil
}

// Settings is the per-project settings document.
type Settings struct {
	MaxRetriesTotal int             `json:"maxRetriesTotal"`
	MaxConcurrency  int             `json:"maxConcurrency"`
	CostCeiling     float64         `json:"costCeiling"`
	PinnedModels    []PinnedModel   `json:"pinnedModels,omitempty"`
	Escalation      []string        `json:"escalation,omitempty"`
}

// PinnedModel overrides the tier-derived model by label substring match.
type PinnedModel struct {
	Substring string `json:"substring"`
	Model     string `json:"model"`
}

func (r *Settings) Validate() error { return nil }

// PutSettingsReq is the request body for PUT
// /api/v1/projects/{slug}/settings.
type PutSettingsReq struct {
	Slug string `path:"slug" json:"-"`
	Settings
}

func (r *PutSettingsReq) Validate() error {
	if r.Slug == "" {
		return errRequired("slug")
	}
	return nil
}

// Skills is the per-project discovered-command document.
type Skills struct {
	BuildCommands []string `json:"buildCommands,omitempty"`
	TestCommands  []string `json:"testCommands,omitempty"`
	LintCommands  []string `json:"lintCommands,omitempty"`
	Patterns      []string `json:"patterns,omitempty"`
}

func (r *Skills) Validate() error { return nil }

// PutSkillsReq is the request body for PUT /api/v1/projects/{slug}/skills.
type PutSkillsReq struct {
	Slug string `path:"slug" json:"-"`
	Skills
}

func (r *PutSkillsReq) Validate() error {
	if r.Slug == "" {
		return errRequired("slug")
	}
	return nil
}

// Reflection is one session's post-hoc synthesis record.
type Reflection struct {
	SessionID        string         `json:"sessionId"`
	Status           string         `json:"status"`
	DurationMs       int64          `json:"durationMs"`
	TaskCount        int            `json:"taskCount"`
	SuccessCount     int            `json:"successCount"`
	FailCount        int            `json:"failCount"`
	RetryRate        float64        `json:"retryRate"`
	TierUsage        map[string]int `json:"tierUsage,omitempty"`
	EscalatedTasks   int            `json:"escalatedTasks"`
	SkillsDiscovered []string       `json:"skillsDiscovered,omitempty"`
}

// AutopilotStartReq is the request body for
// POST /api/v1/projects/{slug}/autopilot/start.
type AutopilotStartReq struct {
	Slug string `path:"slug"`
}

func (r *AutopilotStartReq) Validate() error {
	if r.Slug == "" {
		return errRequired("slug")
	}
	return nil
}

// AutopilotStatus is the JSON representation of an autopilot run's state.
type AutopilotStatus struct {
	ProjectSlug string `json:"projectSlug"`
	Running     bool   `json:"running"`
	Cycle       int    `json:"cycle"`
	LastSession string `json:"lastSessionId,omitempty"`
}

// Plugin is the JSON representation of a discovered plugin.
type Plugin struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PluginPathReq identifies one plugin by name.
type PluginPathReq struct {
	Name string `path:"name"`
}

func (r *PluginPathReq) Validate() error {
	if r.Name == "" {
		return errRequired("name")
	}
	return nil
}

// Backend is the JSON representation of an available Agent Backend.
type Backend struct {
	Name    string `json:"name"`
	Active  bool   `json:"active"`
}

// BackendPathReq identifies one backend by name.
type BackendPathReq struct {
	Name string `path:"name"`
}

func (r *BackendPathReq) Validate() error {
	if r.Name == "" {
		return errRequired("name")
	}
	return nil
}

// SetBackendReq selects the active backend.
type SetBackendReq struct {
	Name string `json:"name"`
}

func (r *SetBackendReq) Validate() error {
	if r.Name == "" {
		return errRequired("name")
	}
	return nil
}

// SwarmStatus reports whether swarm scheduling is enabled process-wide.
type SwarmStatus struct {
	Enabled bool `json:"enabled"`
}

// ToggleSwarmReq flips swarm scheduling on or off.
type ToggleSwarmReq struct {
	Enabled bool `json:"enabled"`
}

func (r *ToggleSwarmReq) Validate() error { return nil }

// Health is the JSON representation of the process health check.
type Health struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
}

// Checkpoint is a trimmed view of a running session's periodic flush.
type Checkpoint struct {
	SessionID   string `json:"sessionId"`
	ProjectSlug string `json:"projectSlug"`
	Status      string `json:"status"`
}

// Interrupted is one session parked in the crash-recovery inbox.
type Interrupted struct {
	SessionID   string `json:"sessionId"`
	ProjectSlug string `json:"projectSlug"`
	Prompt      string `json:"prompt"`
}

// InterruptedPathReq identifies one interrupted session by id.
type InterruptedPathReq struct {
	SessionID string `path:"sessionId"`
}

func (r *InterruptedPathReq) Validate() error {
	if r.SessionID == "" {
		return errRequired("sessionId")
	}
	return nil
}

// StatusResp is a common response for mutation endpoints.
type StatusResp struct {
	Status string `json:"status"`
}
