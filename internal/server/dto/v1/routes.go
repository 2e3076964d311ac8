// API route declarations, structured the way a frontend SDK generator would
// consume them, even though no generator ships with this module (spec §1:
// the graph viewer is an external collaborator).
package v1

import (
	"reflect"
	"strings"
)

// Route describes a single API endpoint for documentation/codegen.
type Route struct {
	Name    string       // Function name, e.g. "listProjects"
	Method  string       // "GET", "POST", "PUT" or "DELETE"
	Path    string       // "/api/v1/projects/{slug}/sessions"
	Req     reflect.Type // Request body type; nil for no body.
	Resp    reflect.Type // Response body type.
	IsArray bool         // response is T[] not T
	IsSSE   bool         // SSE/websocket stream, not a single JSON body
}

// ReqName returns the request type name, or "" if Req is nil.
func (r *Route) ReqName() string {
	if r.Req == nil {
		return ""
	}
	return r.Req.Name()
}

// RespName returns the response type name.
func (r *Route) RespName() string {
	return r.Resp.Name()
}

// CategoryName returns the doc section derived from the first path segment
// after "/api/v1/", with the first letter uppercased.
func (r *Route) CategoryName() string {
	p := strings.TrimPrefix(r.Path, "/api/v1/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "Other"
	}
	return strings.ToUpper(p[:1]) + p[1:]
}

// Routes is the authoritative list of API endpoints.
var Routes = []Route{
	{Name: "listProjects", Method: "GET", Path: "/api/v1/projects", Resp: reflect.TypeFor[Project](), IsArray: true},
	{Name: "createProject", Method: "POST", Path: "/api/v1/projects", Req: reflect.TypeFor[CreateProjectReq](), Resp: reflect.TypeFor[Project]()},
	{Name: "getProject", Method: "GET", Path: "/api/v1/projects/{slug}", Resp: reflect.TypeFor[Project]()},
	{Name: "deleteProject", Method: "DELETE", Path: "/api/v1/projects/{slug}", Resp: reflect.TypeFor[StatusResp]()},

	// Sessions are started over the /ws observer duplex channel
	// (SESSION_START client->server envelope), not over control-plane HTTP;
	// this table only covers the read/manage surface.
	{Name: "listSessions", Method: "GET", Path: "/api/v1/projects/{slug}/sessions", Resp: reflect.TypeFor[Session](), IsArray: true},
	{Name: "getSession", Method: "GET", Path: "/api/v1/projects/{slug}/sessions/{sessionId}", Resp: reflect.TypeFor[Session]()},
	{Name: "getSessionDiff", Method: "GET", Path: "/api/v1/projects/{slug}/sessions/{sessionId}/diff", Resp: reflect.TypeFor[Diff]()},
	{Name: "rollbackSession", Method: "POST", Path: "/api/v1/projects/{slug}/sessions/{sessionId}/rollback", Resp: reflect.TypeFor[StatusResp]()},
	{Name: "getSessionSummary", Method: "GET", Path: "/api/v1/projects/{slug}/sessions/{sessionId}/summary", Resp: reflect.TypeFor[Session]()},

	{Name: "listTemplates", Method: "GET", Path: "/api/v1/templates", Resp: reflect.TypeFor[Template](), IsArray: true},
	{Name: "createTemplate", Method: "POST", Path: "/api/v1/templates", Req: reflect.TypeFor[Template](), Resp: reflect.TypeFor[Template]()},

	{Name: "getSkills", Method: "GET", Path: "/api/v1/projects/{slug}/skills", Resp: reflect.TypeFor[Skills]()},
	{Name: "putSkills", Method: "PUT", Path: "/api/v1/projects/{slug}/skills", Req: reflect.TypeFor[PutSkillsReq](), Resp: reflect.TypeFor[Skills]()},
	{Name: "getSettings", Method: "GET", Path: "/api/v1/projects/{slug}/settings", Resp: reflect.TypeFor[Settings]()},
	{Name: "putSettings", Method: "PUT", Path: "/api/v1/projects/{slug}/settings", Req: reflect.TypeFor[PutSettingsReq](), Resp: reflect.TypeFor[Settings]()},
	{Name: "getReflection", Method: "GET", Path: "/api/v1/projects/{slug}/sessions/{sessionId}/reflection", Resp: reflect.TypeFor[Reflection]()},

	{Name: "startAutopilot", Method: "POST", Path: "/api/v1/projects/{slug}/autopilot/start", Resp: reflect.TypeFor[AutopilotStatus]()},
	{Name: "getAutopilotStatus", Method: "GET", Path: "/api/v1/projects/{slug}/autopilot/status", Resp: reflect.TypeFor[AutopilotStatus]()},
	{Name: "stopAutopilot", Method: "POST", Path: "/api/v1/projects/{slug}/autopilot/stop", Resp: reflect.TypeFor[StatusResp]()},

	{Name: "listPlugins", Method: "GET", Path: "/api/v1/plugins", Resp: reflect.TypeFor[Plugin](), IsArray: true},
	{Name: "enablePlugin", Method: "POST", Path: "/api/v1/plugins/{name}/enable", Resp: reflect.TypeFor[StatusResp]()},
	{Name: "disablePlugin", Method: "POST", Path: "/api/v1/plugins/{name}/disable", Resp: reflect.TypeFor[StatusResp]()},
	{Name: "reloadPlugins", Method: "POST", Path: "/api/v1/plugins/reload", Resp: reflect.TypeFor[StatusResp]()},

	{Name: "listBackends", Method: "GET", Path: "/api/v1/backends", Resp: reflect.TypeFor[Backend](), IsArray: true},
	{Name: "getBackend", Method: "GET", Path: "/api/v1/backends/{name}", Resp: reflect.TypeFor[Backend]()},
	{Name: "setBackend", Method: "POST", Path: "/api/v1/backends", Req: reflect.TypeFor[SetBackendReq](), Resp: reflect.TypeFor[StatusResp]()},

	{Name: "getSwarmStatus", Method: "GET", Path: "/api/v1/swarm", Resp: reflect.TypeFor[SwarmStatus]()},
	{Name: "toggleSwarm", Method: "POST", Path: "/api/v1/swarm", Req: reflect.TypeFor[ToggleSwarmReq](), Resp: reflect.TypeFor[SwarmStatus]()},

	{Name: "getHealth", Method: "GET", Path: "/api/v1/health", Resp: reflect.TypeFor[Health]()},

	{Name: "listCheckpoints", Method: "GET", Path: "/api/v1/projects/{slug}/checkpoints", Resp: reflect.TypeFor[Checkpoint](), IsArray: true},

	{Name: "listInterrupted", Method: "GET", Path: "/api/v1/interrupted", Resp: reflect.TypeFor[Interrupted](), IsArray: true},
	{Name: "resumeInterrupted", Method: "POST", Path: "/api/v1/interrupted/{sessionId}/resume", Resp: reflect.TypeFor[Session]()},
	{Name: "discardInterrupted", Method: "POST", Path: "/api/v1/interrupted/{sessionId}/discard", Resp: reflect.TypeFor[StatusResp]()},
}
