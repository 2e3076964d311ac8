// Package server implements the control-plane HTTP API and the /ws observer
// duplex channel (spec §6): project/template/settings/skills/reflection
// CRUD, autopilot/plugin/backend/swarm management, health, and the
// checkpoint/interrupted-session inbox. Session creation and every other
// session-scoped event lives on the /ws channel instead, per spec §6's split
// between "control-plane HTTP" and the "observer duplex channel".
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/autopilot"
	"github.com/hAIvemind-dev/haivemind/internal/broadcast"
	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/orchestrator"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/registry"
	"github.com/hAIvemind-dev/haivemind/internal/server/dto"
	v1 "github.com/hAIvemind-dev/haivemind/internal/server/dto/v1"
	"github.com/hAIvemind-dev/haivemind/internal/snapshot"
)

// Server wires the control plane to the engine, registry, orchestrator and
// broadcaster, mirroring the teacher's Server{runner, mu, tasks} shape
// generalized to hAIvemind's several collaborators instead of one runner.
type Server struct {
	Engine       *hvstate.Engine
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Broadcaster  *broadcast.Broadcaster
	Plugins      *PluginManager
	Logger       *slog.Logger

	// NextPrompt drives the autopilot loop for any project that starts one.
	// Injected rather than owned (spec §1 Non-goals: the autopilot
	// prioritization strategy is an external collaborator).
	NextPrompt autopilot.NextPrompt

	AutopilotCycleDelay time.Duration
	StartedAt           time.Time

	mu         sync.Mutex
	backends   map[string]agentmgr.Backend
	activeName string
	swarmOn    bool
	autopilots map[string]*autopilot.Driver
}

// New constructs a Server. backends must contain at least activeName.
func New(engine *hvstate.Engine, reg *registry.Registry, orch *orchestrator.Orchestrator, bc *broadcast.Broadcaster, backends map[string]agentmgr.Backend, activeName string, swarmEnabled bool) *Server {
	return &Server{
		Engine:       engine,
		Registry:     reg,
		Orchestrator: orch,
		Broadcaster:  bc,
		Logger:       slog.Default(),
		StartedAt:    time.Now(),
		backends:     backends,
		activeName:   activeName,
		swarmOn:      swarmEnabled,
		autopilots:   make(map[string]*autopilot.Driver),
	}
}

// Mux builds the control-plane route table plus /ws, wrapped in the
// response-compression middleware.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/projects", handle(s.listProjects))
	mux.HandleFunc("POST /api/v1/projects", handle(s.createProject))
	mux.HandleFunc("GET /api/v1/projects/{slug}", handle(s.getProject))
	mux.HandleFunc("DELETE /api/v1/projects/{slug}", handle(s.deleteProject))

	mux.HandleFunc("GET /api/v1/projects/{slug}/sessions", handle(s.listSessions))
	mux.HandleFunc("GET /api/v1/projects/{slug}/sessions/{sessionId}", handle(s.getSession))
	mux.HandleFunc("GET /api/v1/projects/{slug}/sessions/{sessionId}/diff", handle(s.getSessionDiff))
	mux.HandleFunc("POST /api/v1/projects/{slug}/sessions/{sessionId}/rollback", handle(s.rollbackSession))
	mux.HandleFunc("GET /api/v1/projects/{slug}/sessions/{sessionId}/summary", handle(s.getSession))
	mux.HandleFunc("GET /api/v1/projects/{slug}/sessions/{sessionId}/reflection", handle(s.getReflection))

	mux.HandleFunc("GET /api/v1/templates", handle(s.listTemplates))
	mux.HandleFunc("POST /api/v1/templates", handle(s.createTemplate))

	mux.HandleFunc("GET /api/v1/projects/{slug}/skills", handle(s.getSkills))
	mux.HandleFunc("PUT /api/v1/projects/{slug}/skills", handle(s.putSkills))
	mux.HandleFunc("GET /api/v1/projects/{slug}/settings", handle(s.getSettings))
	mux.HandleFunc("PUT /api/v1/projects/{slug}/settings", handle(s.putSettings))

	mux.HandleFunc("POST /api/v1/projects/{slug}/autopilot/start", handle(s.startAutopilot))
	mux.HandleFunc("GET /api/v1/projects/{slug}/autopilot/status", handle(s.getAutopilotStatus))
	mux.HandleFunc("POST /api/v1/projects/{slug}/autopilot/stop", handle(s.stopAutopilot))

	mux.HandleFunc("GET /api/v1/plugins", handle(s.listPlugins))
	mux.HandleFunc("POST /api/v1/plugins/{name}/enable", handle(s.enablePlugin))
	mux.HandleFunc("POST /api/v1/plugins/{name}/disable", handle(s.disablePlugin))
	mux.HandleFunc("POST /api/v1/plugins/reload", handle(s.reloadPlugins))

	mux.HandleFunc("GET /api/v1/backends", handle(s.listBackends))
	mux.HandleFunc("GET /api/v1/backends/{name}", handle(s.getBackend))
	mux.HandleFunc("POST /api/v1/backends", handle(s.setBackend))

	mux.HandleFunc("GET /api/v1/swarm", handle(s.getSwarmStatus))
	mux.HandleFunc("POST /api/v1/swarm", handle(s.toggleSwarm))

	mux.HandleFunc("GET /api/v1/health", handle(s.getHealth))

	mux.HandleFunc("GET /api/v1/projects/{slug}/checkpoints", handle(s.listCheckpoints))

	mux.HandleFunc("GET /api/v1/interrupted", handle(s.listInterrupted))
	mux.HandleFunc("POST /api/v1/interrupted/{sessionId}/resume", handle(s.resumeInterrupted))
	mux.HandleFunc("POST /api/v1/interrupted/{sessionId}/discard", handle(s.discardInterrupted))

	mux.HandleFunc("GET /ws", s.serveWS)

	return compressMiddleware(mux)
}

// --- projects ---

func (s *Server) listProjects(_ context.Context, _ *dto.EmptyReq) (*[]v1.Project, error) {
	recs, err := s.Registry.List()
	if err != nil {
		return nil, dto.InternalError(err.Error())
	}
	out := make([]v1.Project, 0, len(recs))
	for _, r := range recs {
		out = append(out, v1.Project{Slug: r.Slug, Dir: r.Dir, CreatedAt: r.CreatedAt})
	}
	return &out, nil
}

func (s *Server) createProject(_ context.Context, req *v1.CreateProjectReq) (*v1.Project, error) {
	rec, err := s.Registry.Create(req.Slug, req.Dir)
	if err != nil {
		return nil, dto.Conflict(err.Error())
	}
	return &v1.Project{Slug: rec.Slug, Dir: rec.Dir, CreatedAt: rec.CreatedAt}, nil
}

func (s *Server) getProject(_ context.Context, req *v1.ProjectPathReq) (*v1.Project, error) {
	rec, err := s.Registry.Get(req.Slug)
	if err != nil {
		return nil, notFoundOr500(err, "project")
	}
	return &v1.Project{Slug: rec.Slug, Dir: rec.Dir, CreatedAt: rec.CreatedAt}, nil
}

func (s *Server) deleteProject(_ context.Context, req *v1.ProjectPathReq) (*v1.StatusResp, error) {
	if err := s.Registry.Delete(req.Slug); err != nil {
		return nil, notFoundOr500(err, "project")
	}
	return &v1.StatusResp{Status: "deleted"}, nil
}

// --- sessions ---

func (s *Server) listSessions(_ context.Context, req *v1.ProjectPathReq) (*[]v1.Session, error) {
	summaries, err := s.Registry.Sessions(req.Slug)
	if err != nil {
		return nil, notFoundOr500(err, "project")
	}
	out := make([]v1.Session, 0, len(summaries))
	for _, sum := range summaries {
		out = append(out, sessionSummaryToV1(sum))
	}
	return &out, nil
}

func (s *Server) getSession(_ context.Context, req *v1.SessionPathReq) (*v1.Session, error) {
	sum, err := s.Registry.Session(req.Slug, req.SessionID)
	if err != nil {
		return nil, notFoundOr500(err, "session")
	}
	out := sessionSummaryToV1(sum)
	return &out, nil
}

func (s *Server) getSessionDiff(ctx context.Context, req *v1.SessionPathReq) (*v1.Diff, error) {
	sum, err := s.Registry.Session(req.Slug, req.SessionID)
	if err != nil {
		return nil, notFoundOr500(err, "session")
	}
	diff, err := snapshot.GetDiff(ctx, sum.Snapshot)
	if err != nil {
		return nil, dto.InternalError(err.Error())
	}
	return &v1.Diff{SessionID: req.SessionID, NameOnly: diff.NameOnly, Stat: diff.Stat, Untracked: diff.Untracked}, nil
}

func (s *Server) rollbackSession(ctx context.Context, req *v1.SessionPathReq) (*v1.StatusResp, error) {
	sum, err := s.Registry.Session(req.Slug, req.SessionID)
	if err != nil {
		return nil, notFoundOr500(err, "session")
	}
	if err := snapshot.Rollback(ctx, sum.Snapshot); err != nil {
		return nil, dto.InternalError(err.Error())
	}
	return &v1.StatusResp{Status: "rolled back"}, nil
}

func (s *Server) getReflection(_ context.Context, req *v1.SessionPathReq) (*v1.Reflection, error) {
	rr, err := s.Registry.Reflection(req.Slug, req.SessionID)
	if err != nil {
		return nil, notFoundOr500(err, "reflection")
	}
	return &v1.Reflection{
		SessionID:        rr.SessionID,
		Status:           string(rr.Reflection.Status),
		DurationMs:       rr.Reflection.DurationMs,
		TaskCount:        rr.Reflection.TaskCount,
		SuccessCount:     rr.Reflection.SuccessCount,
		FailCount:        rr.Reflection.FailCount,
		RetryRate:        rr.Reflection.RetryRate,
		TierUsage:        rr.Reflection.TierUsage,
		EscalatedTasks:   rr.Reflection.EscalatedTasks,
		SkillsDiscovered: rr.SkillsDiscovered,
	}, nil
}

func sessionSummaryToV1(sum registry.SessionSummary) v1.Session {
	return v1.Session{
		SessionID:   sum.SessionID,
		ProjectSlug: sum.ProjectSlug,
		Prompt:      sum.Prompt,
		Status:      sum.Status,
		StartedAt:   sum.StartedAt,
		FinishedAt:  sum.FinishedAt,
		TotalCost:   sum.TotalCost,
		Rewrites:    sum.Rewrites,
	}
}

// --- templates ---

func (s *Server) listTemplates(_ context.Context, _ *dto.EmptyReq) (*[]v1.Template, error) {
	templates, err := s.Registry.Templates()
	if err != nil {
		return nil, dto.InternalError(err.Error())
	}
	out := make([]v1.Template, 0, len(templates))
	for _, t := range templates {
		out = append(out, v1.Template{Name: t.Name, Description: t.Description, Prompt: t.Prompt})
	}
	return &out, nil
}

func (s *Server) createTemplate(_ context.Context, req *v1.Template) (*v1.Template, error) {
	t := registry.Template{Name: req.Name, Description: req.Description, Prompt: req.Prompt}
	if err := s.Registry.SaveTemplate(t); err != nil {
		return nil, dto.InternalError(err.Error())
	}
	return req, nil
}

// --- skills / settings ---

func (s *Server) getSkills(_ context.Context, req *v1.ProjectPathReq) (*v1.Skills, error) {
	proj, err := s.Registry.Load(req.Slug)
	if err != nil {
		return nil, notFoundOr500(err, "project")
	}
	return skillsToV1(proj.Skills), nil
}

func (s *Server) putSkills(_ context.Context, req *v1.PutSkillsReq) (*v1.Skills, error) {
	skills := project.Skills{
		BuildCommands: req.BuildCommands,
		TestCommands:  req.TestCommands,
		LintCommands:  req.LintCommands,
		Patterns:      req.Patterns,
	}
	if err := s.Registry.SaveSkills(req.Slug, skills); err != nil {
		return nil, notFoundOr500(err, "project")
	}
	return skillsToV1(skills), nil
}

func skillsToV1(sk project.Skills) *v1.Skills {
	return &v1.Skills{
		BuildCommands: sk.BuildCommands,
		TestCommands:  sk.TestCommands,
		LintCommands:  sk.LintCommands,
		Patterns:      sk.Patterns,
	}
}

func (s *Server) getSettings(_ context.Context, req *v1.ProjectPathReq) (*v1.Settings, error) {
	proj, err := s.Registry.Load(req.Slug)
	if err != nil {
		return nil, notFoundOr500(err, "project")
	}
	return settingsToV1(proj.Settings), nil
}

func (s *Server) putSettings(_ context.Context, req *v1.PutSettingsReq) (*v1.Settings, error) {
	settings := project.Settings{
		MaxRetriesTotal: req.MaxRetriesTotal,
		MaxConcurrency:  req.MaxConcurrency,
		CostCeiling:     req.CostCeiling,
	}
	for _, p := range req.PinnedModels {
		settings.PinnedModels = append(settings.PinnedModels, project.PinnedModel{Substring: p.Substring, Model: p.Model})
	}
	for _, tier := range req.Escalation {
		settings.Escalation = append(settings.Escalation, project.Tier(tier))
	}
	if len(settings.Escalation) == 0 {
		settings.Escalation = project.DefaultEscalation
	}
	if err := s.Registry.SaveSettings(req.Slug, settings); err != nil {
		return nil, notFoundOr500(err, "project")
	}
	return settingsToV1(settings), nil
}

func settingsToV1(st project.Settings) *v1.Settings {
	out := &v1.Settings{
		MaxRetriesTotal: st.MaxRetriesTotal,
		MaxConcurrency:  st.MaxConcurrency,
		CostCeiling:     st.CostCeiling,
	}
	for _, p := range st.PinnedModels {
		out.PinnedModels = append(out.PinnedModels, v1.PinnedModel{Substring: p.Substring, Model: p.Model})
	}
	for _, tier := range st.Escalation {
		out.Escalation = append(out.Escalation, string(tier))
	}
	return out
}

// --- autopilot ---

func (s *Server) startAutopilot(ctx context.Context, req *v1.ProjectPathReq) (*v1.AutopilotStatus, error) {
	proj, err := s.Registry.Load(req.Slug)
	if err != nil {
		return nil, notFoundOr500(err, "project")
	}
	driver := s.autopilotFor(proj)
	driver.Start(ctx)
	snap := driver.StatusSnapshot()
	return &v1.AutopilotStatus{ProjectSlug: req.Slug, Running: snap.Running, Cycle: snap.Cycle, LastSession: snap.LastSession}, nil
}

func (s *Server) getAutopilotStatus(_ context.Context, req *v1.ProjectPathReq) (*v1.AutopilotStatus, error) {
	s.mu.Lock()
	driver := s.autopilots[req.Slug]
	s.mu.Unlock()
	if driver == nil {
		return &v1.AutopilotStatus{ProjectSlug: req.Slug}, nil
	}
	snap := driver.StatusSnapshot()
	return &v1.AutopilotStatus{ProjectSlug: req.Slug, Running: snap.Running, Cycle: snap.Cycle, LastSession: snap.LastSession}, nil
}

func (s *Server) stopAutopilot(_ context.Context, req *v1.ProjectPathReq) (*v1.StatusResp, error) {
	s.mu.Lock()
	driver := s.autopilots[req.Slug]
	s.mu.Unlock()
	if driver != nil {
		driver.Stop()
	}
	return &v1.StatusResp{Status: "stopped"}, nil
}

// autopilotFor returns the project's driver, constructing one on first use.
func (s *Server) autopilotFor(proj *project.Project) *autopilot.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.autopilots[proj.Slug]
	if !ok {
		d = &autopilot.Driver{
			Orchestrator: s.Orchestrator,
			Registry:     s.Registry,
			Project:      proj,
			NextPrompt:   s.NextPrompt,
			CycleDelay:   s.AutopilotCycleDelay,
			Publish:      s.Orchestrator.Publish,
		}
		s.autopilots[proj.Slug] = d
	}
	return d
}

// --- plugins ---

func (s *Server) listPlugins(_ context.Context, _ *dto.EmptyReq) (*[]v1.Plugin, error) {
	if s.Plugins == nil {
		return &[]v1.Plugin{}, nil
	}
	entries := s.Plugins.List()
	out := make([]v1.Plugin, 0, len(entries))
	for _, e := range entries {
		out = append(out, v1.Plugin{Name: e.Name, Status: e.Status, Message: e.Message})
	}
	return &out, nil
}

func (s *Server) enablePlugin(_ context.Context, req *v1.PluginPathReq) (*v1.StatusResp, error) {
	if s.Plugins == nil {
		return nil, dto.BadRequest("plugins are not configured")
	}
	if err := s.Plugins.Enable(req.Name); err != nil {
		return nil, dto.NotFound(req.Name)
	}
	return &v1.StatusResp{Status: "enabled"}, nil
}

func (s *Server) disablePlugin(_ context.Context, req *v1.PluginPathReq) (*v1.StatusResp, error) {
	if s.Plugins == nil {
		return nil, dto.BadRequest("plugins are not configured")
	}
	if err := s.Plugins.Disable(req.Name); err != nil {
		return nil, dto.NotFound(req.Name)
	}
	return &v1.StatusResp{Status: "disabled"}, nil
}

func (s *Server) reloadPlugins(_ context.Context, _ *dto.EmptyReq) (*v1.StatusResp, error) {
	if s.Plugins == nil {
		return nil, dto.BadRequest("plugins are not configured")
	}
	s.Plugins.Rescan()
	return &v1.StatusResp{Status: "reloaded"}, nil
}

// --- backends ---

func (s *Server) listBackends(_ context.Context, _ *dto.EmptyReq) (*[]v1.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]v1.Backend, 0, len(s.backends))
	for name := range s.backends {
		out = append(out, v1.Backend{Name: name, Active: name == s.activeName})
	}
	return &out, nil
}

func (s *Server) getBackend(_ context.Context, req *v1.BackendPathReq) (*v1.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backends[req.Name]; !ok {
		return nil, dto.NotFound(fmt.Sprintf("backend %q", req.Name))
	}
	return &v1.Backend{Name: req.Name, Active: req.Name == s.activeName}, nil
}

func (s *Server) setBackend(_ context.Context, req *v1.SetBackendReq) (*v1.StatusResp, error) {
	s.mu.Lock()
	backend, ok := s.backends[req.Name]
	if ok {
		s.activeName = req.Name
		s.Orchestrator.Backend = backend
	}
	s.mu.Unlock()
	if !ok {
		return nil, dto.NotFound(fmt.Sprintf("backend %q", req.Name))
	}
	return &v1.StatusResp{Status: "active"}, nil
}

// --- swarm ---

func (s *Server) getSwarmStatus(_ context.Context, _ *dto.EmptyReq) (*v1.SwarmStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &v1.SwarmStatus{Enabled: s.swarmOn}, nil
}

func (s *Server) toggleSwarm(_ context.Context, req *v1.ToggleSwarmReq) (*v1.SwarmStatus, error) {
	s.mu.Lock()
	s.swarmOn = req.Enabled
	s.mu.Unlock()
	return &v1.SwarmStatus{Enabled: req.Enabled}, nil
}

// --- health ---

func (s *Server) getHealth(_ context.Context, _ *dto.EmptyReq) (*v1.Health, error) {
	active := 0
	for _, sess := range s.Engine.Sessions() {
		if sess.Status() == hvstate.SessionRunning {
			active++
		}
	}
	return &v1.Health{
		Status:         "ok",
		ActiveSessions: active,
		UptimeSeconds:  int64(time.Since(s.StartedAt).Seconds()),
	}, nil
}

// --- checkpoints ---

func (s *Server) listCheckpoints(_ context.Context, req *v1.ProjectPathReq) (*[]v1.Checkpoint, error) {
	rec, err := s.Registry.Get(req.Slug)
	if err != nil {
		return nil, notFoundOr500(err, "project")
	}
	checkpoints, err := snapshot.ReadAll(rec.Dir)
	if err != nil {
		return nil, dto.InternalError(err.Error())
	}
	out := make([]v1.Checkpoint, 0, len(checkpoints))
	for _, c := range checkpoints {
		out = append(out, v1.Checkpoint{SessionID: c.SessionID, ProjectSlug: c.ProjectSlug, Status: c.Status})
	}
	return &out, nil
}

// --- interrupted sessions ---

func (s *Server) listInterrupted(_ context.Context, _ *dto.EmptyReq) (*[]v1.Interrupted, error) {
	checkpoints, err := snapshot.ReadInterrupted(s.Registry.BaseDir)
	if err != nil {
		return nil, dto.InternalError(err.Error())
	}
	out := make([]v1.Interrupted, 0, len(checkpoints))
	for _, c := range checkpoints {
		out = append(out, v1.Interrupted{SessionID: c.SessionID, ProjectSlug: c.ProjectSlug, Prompt: c.Prompt})
	}
	return &out, nil
}

// resumeInterrupted re-launches an interrupted session's unfinished tasks as
// a predefined plan (spec §4.6: "from which observers can discard or
// resume"). Runs in the background; the caller gets the prior checkpoint's
// shape back immediately as an acknowledgement.
func (s *Server) resumeInterrupted(ctx context.Context, req *v1.InterruptedPathReq) (*v1.Session, error) {
	checkpoints, err := snapshot.ReadInterrupted(s.Registry.BaseDir)
	if err != nil {
		return nil, dto.InternalError(err.Error())
	}
	var found *snapshot.Checkpoint
	for i := range checkpoints {
		if checkpoints[i].SessionID == req.SessionID {
			found = &checkpoints[i]
			break
		}
	}
	if found == nil {
		return nil, dto.NotFound("interrupted session")
	}

	proj, err := s.Registry.Load(found.ProjectSlug)
	if err != nil {
		return nil, notFoundOr500(err, "project")
	}

	predefined := unfinishedTasks(found.Tasks)
	go func() {
		if _, err := s.Orchestrator.StartSession(context.Background(), proj, found.Prompt, predefined); err != nil {
			s.Logger.Error("resume interrupted session failed", "sessionId", req.SessionID, "err", err)
		}
	}()
	_ = snapshot.DiscardInterrupted(s.Registry.BaseDir, req.SessionID)

	return &v1.Session{ProjectSlug: found.ProjectSlug, Prompt: found.Prompt, Status: "resuming"}, nil
}

func (s *Server) discardInterrupted(_ context.Context, req *v1.InterruptedPathReq) (*v1.StatusResp, error) {
	if err := snapshot.DiscardInterrupted(s.Registry.BaseDir, req.SessionID); err != nil {
		return nil, dto.InternalError(err.Error())
	}
	return &v1.StatusResp{Status: "discarded"}, nil
}

func unfinishedTasks(tasks []snapshot.CheckpointTask) []orchestrator.DecomposedTask {
	out := make([]orchestrator.DecomposedTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == "success" {
			continue
		}
		out = append(out, orchestrator.DecomposedTask{ID: t.ID, Label: t.Label, Dependencies: t.Dependencies})
	}
	return out
}

func notFoundOr500(err error, what string) error {
	if errors.Is(err, registry.ErrNotFound) {
		return dto.NotFound(what)
	}
	return dto.InternalError(err.Error())
}
