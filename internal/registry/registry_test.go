package registry

import (
	"testing"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/project"
)

func TestCreateAndLoad(t *testing.T) {
	base := t.TempDir()
	projectDir := t.TempDir()
	r := New(base)

	if _, err := r.Create("demo", projectDir); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("demo", projectDir); err == nil {
		t.Fatal("Create should reject a duplicate slug")
	}

	p, err := r.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Slug != "demo" || p.Dir != projectDir {
		t.Errorf("Load returned %+v", p)
	}
	if len(p.Settings.Escalation) == 0 {
		t.Error("Load should seed default escalation")
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	r := New(t.TempDir())
	if _, err := r.Get("nope"); err != ErrNotFound {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesFromRegistryNotDisk(t *testing.T) {
	base := t.TempDir()
	projectDir := t.TempDir()
	r := New(base)
	if _, err := r.Create("demo", projectDir); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Delete("demo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get("demo"); err != ErrNotFound {
		t.Error("project should be gone from the registry after Delete")
	}
}

func TestSaveSettingsRoundTrips(t *testing.T) {
	base := t.TempDir()
	projectDir := t.TempDir()
	r := New(base)
	if _, err := r.Create("demo", projectDir); err != nil {
		t.Fatalf("Create: %v", err)
	}

	settings := project.Settings{
		MaxRetriesTotal: 5,
		MaxConcurrency:  3,
		CostCeiling:     10,
	}
	if err := r.SaveSettings("demo", settings); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	p, err := r.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Settings.MaxRetriesTotal != 5 || p.Settings.MaxConcurrency != 3 {
		t.Errorf("Load after SaveSettings = %+v", p.Settings)
	}
}

func TestSaveSkillsRoundTrips(t *testing.T) {
	base := t.TempDir()
	projectDir := t.TempDir()
	r := New(base)
	if _, err := r.Create("demo", projectDir); err != nil {
		t.Fatalf("Create: %v", err)
	}

	skills := project.Skills{BuildCommands: []string{"go build ./..."}}
	if err := r.SaveSkills("demo", skills); err != nil {
		t.Fatalf("SaveSkills: %v", err)
	}
	p, err := r.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Skills.BuildCommands) != 1 || p.Skills.BuildCommands[0] != "go build ./..." {
		t.Errorf("Load after SaveSkills = %+v", p.Skills)
	}
}

func TestSessionSummaryRoundTrips(t *testing.T) {
	base := t.TempDir()
	projectDir := t.TempDir()
	r := New(base)
	if _, err := r.Create("demo", projectDir); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s := SessionSummary{
		SessionID:   "sess-1",
		ProjectSlug: "demo",
		Status:      "completed",
		StartedAt:   time.Now().Add(-time.Hour),
		FinishedAt:  time.Now(),
		TotalCost:   1.23,
	}
	if err := r.SaveSession("demo", s); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	got, err := r.Session("demo", "sess-1")
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if got.Status != "completed" || got.TotalCost != 1.23 {
		t.Errorf("Session = %+v", got)
	}

	if err := r.SaveSession("demo", SessionSummary{}); err == nil {
		t.Error("expected an error saving a session with an empty id")
	}
}

func TestSessionsListsNewestFirst(t *testing.T) {
	base := t.TempDir()
	projectDir := t.TempDir()
	r := New(base)
	if _, err := r.Create("demo", projectDir); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now()
	_ = r.SaveSession("demo", SessionSummary{SessionID: "a", StartedAt: now.Add(-2 * time.Hour)})
	_ = r.SaveSession("demo", SessionSummary{SessionID: "b", StartedAt: now})
	_ = r.SaveSession("demo", SessionSummary{SessionID: "c", StartedAt: now.Add(-time.Hour)})

	list, err := r.Sessions("demo")
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	if list[0].SessionID != "b" || list[1].SessionID != "c" || list[2].SessionID != "a" {
		t.Errorf("order = %v, %v, %v", list[0].SessionID, list[1].SessionID, list[2].SessionID)
	}
}

func TestReflectionRoundTrips(t *testing.T) {
	base := t.TempDir()
	projectDir := t.TempDir()
	r := New(base)
	if _, err := r.Create("demo", projectDir); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rr := ReflectionRecord{
		SessionID:        "sess-1",
		Reflection:       hvstate.Reflection{Status: hvstate.SessionCompleted, TaskCount: 3, SuccessCount: 3},
		SkillsDiscovered: []string{"go test ./..."},
	}
	if err := r.SaveReflection("demo", rr); err != nil {
		t.Fatalf("SaveReflection: %v", err)
	}
	got, err := r.Reflection("demo", "sess-1")
	if err != nil {
		t.Fatalf("Reflection: %v", err)
	}
	if got.Reflection.TaskCount != 3 || len(got.SkillsDiscovered) != 1 {
		t.Errorf("Reflection = %+v", got)
	}

	if _, err := r.Reflection("demo", "nope"); err != ErrNotFound {
		t.Errorf("Reflection for missing id = %v, want ErrNotFound", err)
	}
}

func TestTemplateCRUD(t *testing.T) {
	r := New(t.TempDir())

	tmpl := Template{Name: "bugfix", Description: "standard bugfix flow", Prompt: "Fix the failing test."}
	if err := r.SaveTemplate(tmpl); err != nil {
		t.Fatalf("SaveTemplate: %v", err)
	}
	list, err := r.Templates()
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}
	if len(list) != 1 || list[0].Name != "bugfix" {
		t.Errorf("Templates = %+v", list)
	}

	tmpl.Description = "updated"
	if err := r.SaveTemplate(tmpl); err != nil {
		t.Fatalf("SaveTemplate overwrite: %v", err)
	}
	list, _ = r.Templates()
	if len(list) != 1 || list[0].Description != "updated" {
		t.Errorf("overwrite did not replace in place: %+v", list)
	}

	if err := r.DeleteTemplate("bugfix"); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if err := r.DeleteTemplate("bugfix"); err != ErrNotFound {
		t.Errorf("DeleteTemplate on missing = %v, want ErrNotFound", err)
	}
}
