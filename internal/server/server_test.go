package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/broadcast"
	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/orchestrator"
	"github.com/hAIvemind-dev/haivemind/internal/registry"
	v1 "github.com/hAIvemind-dev/haivemind/internal/server/dto/v1"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	engine := hvstate.NewEngine(dir)
	reg := registry.New(dir)
	orch := &orchestrator.Orchestrator{Engine: engine}
	bc := broadcast.New(engine)
	backends := map[string]agentmgr.Backend{"claude": agentmgr.NewLocalBackend("claude", agentmgr.Harness("claude"))}
	return New(engine, reg, orch, bc, backends, "claude", false)
}

func doJSON(t *testing.T, mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func TestCreateGetDeleteProject(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()
	projDir := t.TempDir()

	w := doJSON(t, mux, "POST", "/api/v1/projects", `{"slug":"demo","dir":"`+projDir+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created v1.Project
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Slug != "demo" {
		t.Fatalf("created.Slug = %q, want demo", created.Slug)
	}

	w = doJSON(t, mux, "GET", "/api/v1/projects/demo", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = doJSON(t, mux, "DELETE", "/api/v1/projects/demo", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doJSON(t, mux, "GET", "/api/v1/projects/demo", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", w.Code)
	}
}

func TestCreateProjectRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Mux(), "POST", "/api/v1/projects", `{"slug":""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()
	doJSON(t, mux, "POST", "/api/v1/projects", `{"slug":"demo","dir":"`+t.TempDir()+`"}`)

	w := doJSON(t, mux, "PUT", "/api/v1/projects/demo/settings", `{"maxRetriesTotal":5,"maxConcurrency":3,"costCeiling":10.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put settings status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, "GET", "/api/v1/projects/demo/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get settings status = %d", w.Code)
	}
	var got v1.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.MaxRetriesTotal != 5 || got.MaxConcurrency != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestCreateAndListTemplates(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	w := doJSON(t, mux, "POST", "/api/v1/templates", `{"name":"bugfix","description":"fix a bug","prompt":"find and fix the bug"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("create template status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, "GET", "/api/v1/templates", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list templates status = %d", w.Code)
	}
	var templates []v1.Template
	if err := json.Unmarshal(w.Body.Bytes(), &templates); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(templates) != 1 || templates[0].Name != "bugfix" {
		t.Fatalf("templates = %+v", templates)
	}
}

func TestHealthReportsUptimeAndNoActiveSessions(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Mux(), "GET", "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var h v1.Health
	if err := json.Unmarshal(w.Body.Bytes(), &h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.ActiveSessions != 0 {
		t.Fatalf("got %+v", h)
	}
}

func TestSwarmToggleRoundTrip(t *testing.T) {
	s := newTestServer(t)
	mux := s.Mux()

	w := doJSON(t, mux, "GET", "/api/v1/swarm", "")
	var st v1.SwarmStatus
	json.Unmarshal(w.Body.Bytes(), &st)
	if st.Enabled {
		t.Fatalf("expected swarm initially disabled")
	}

	w = doJSON(t, mux, "POST", "/api/v1/swarm", `{"enabled":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &st)
	if !st.Enabled {
		t.Fatalf("expected swarm enabled after toggle")
	}
}

func TestBackendsListAndSwitch(t *testing.T) {
	s := newTestServer(t)
	s.backends["codex"] = agentmgr.NewLocalBackend("codex", agentmgr.Harness("codex"))
	mux := s.Mux()

	w := doJSON(t, mux, "GET", "/api/v1/backends", "")
	var backends []v1.Backend
	if err := json.Unmarshal(w.Body.Bytes(), &backends); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(backends) != 2 {
		t.Fatalf("backends = %+v", backends)
	}

	w = doJSON(t, mux, "POST", "/api/v1/backends", `{"name":"codex"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set backend status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, mux, "GET", "/api/v1/backends/codex", "")
	var b v1.Backend
	json.Unmarshal(w.Body.Bytes(), &b)
	if !b.Active {
		t.Fatalf("codex should be active after switch")
	}
}

func TestGetUnknownBackendReturns404(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Mux(), "GET", "/api/v1/backends/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestListInterruptedEmpty(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Mux(), "GET", "/api/v1/interrupted", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out []v1.Interrupted
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no interrupted sessions, got %+v", out)
	}
}

func TestListPluginsWithoutManagerReturnsEmpty(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(t, s.Mux(), "GET", "/api/v1/plugins", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out []v1.Plugin
	json.Unmarshal(w.Body.Bytes(), &out)
	if len(out) != 0 {
		t.Fatalf("expected empty plugin list, got %+v", out)
	}
}
