package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/snapshot"
)

// SessionSummary is the list/get-friendly record for one finished or running
// session, written once at session finalize (spec §6: "sessions/<sid>.json").
// It is distinct from snapshot.Checkpoint, which is the periodic in-flight
// flush; SessionSummary is the terminal record kept for history browsing. It
// carries its own copy of the pre-session workspace Snapshot so rollback/diff
// control-plane endpoints work against a session's history entry even after
// the in-memory hvstate.Session (and its checkpoint, deleted at finalize)
// are gone.
type SessionSummary struct {
	SessionID   string            `json:"sessionId"`
	ProjectSlug string            `json:"projectSlug"`
	Prompt      string            `json:"prompt"`
	Status      string            `json:"status"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
	TotalCost   float64           `json:"totalCost"`
	Rewrites    int               `json:"rewrites"`
	Snapshot    snapshot.Snapshot `json:"snapshot"`
}

func sessionsDir(projectDir string) string {
	return filepath.Join(haivemindDir(projectDir), "sessions")
}

// SaveSession persists a session's terminal summary for the project
// registered under slug.
func (r *Registry) SaveSession(slug string, s SessionSummary) error {
	if s.SessionID == "" {
		return fmt.Errorf("registry: save session: empty session id")
	}
	rec, err := r.Get(slug)
	if err != nil {
		return err
	}
	path := filepath.Join(sessionsDir(rec.Dir), s.SessionID+".json")
	if err := writeJSONAtomic(path, s); err != nil {
		return fmt.Errorf("registry: save session: %w", err)
	}
	return nil
}

// Session loads one session summary by id.
func (r *Registry) Session(slug, sessionID string) (SessionSummary, error) {
	rec, err := r.Get(slug)
	if err != nil {
		return SessionSummary{}, err
	}
	var s SessionSummary
	path := filepath.Join(sessionsDir(rec.Dir), sessionID+".json")
	if err := readJSONStrict(path, &s); err != nil {
		if os.IsNotExist(err) {
			return SessionSummary{}, ErrNotFound
		}
		return SessionSummary{}, fmt.Errorf("registry: load session: %w", err)
	}
	return s, nil
}

// Sessions lists every persisted session summary for a project, newest
// first.
func (r *Registry) Sessions(slug string) ([]SessionSummary, error) {
	rec, err := r.Get(slug)
	if err != nil {
		return nil, err
	}
	dir := sessionsDir(rec.Dir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []SessionSummary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var s SessionSummary
		if err := readJSONStrict(filepath.Join(dir, e.Name()), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	sortSessionsByStartDesc(out)
	return out, nil
}

func sortSessionsByStartDesc(s []SessionSummary) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].StartedAt.After(s[j-1].StartedAt); j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// ReflectionRecord is one session's post-hoc synthesis, persisted at
// reflections/<sid>.json (spec §4.5 Reflection & Synthesis, spec §6). It
// wraps the in-memory hvstate.Reflection computed at session finalize plus
// the skills newly discovered that round, so a history viewer can render a
// past session's reflection without replaying its agents' output.
type ReflectionRecord struct {
	SessionID       string            `json:"sessionId"`
	Reflection      hvstate.Reflection `json:"reflection"`
	SkillsDiscovered []string          `json:"skillsDiscovered,omitempty"`
}

func reflectionsDir(projectDir string) string {
	return filepath.Join(haivemindDir(projectDir), "reflections")
}

// SaveReflection persists one session's reflection document.
func (r *Registry) SaveReflection(slug string, rr ReflectionRecord) error {
	rec, err := r.Get(slug)
	if err != nil {
		return err
	}
	path := filepath.Join(reflectionsDir(rec.Dir), rr.SessionID+".json")
	if err := writeJSONAtomic(path, rr); err != nil {
		return fmt.Errorf("registry: save reflection: %w", err)
	}
	return nil
}

// Reflection loads one session's reflection document.
func (r *Registry) Reflection(slug, sessionID string) (ReflectionRecord, error) {
	rec, err := r.Get(slug)
	if err != nil {
		return ReflectionRecord{}, err
	}
	var rr ReflectionRecord
	path := filepath.Join(reflectionsDir(rec.Dir), sessionID+".json")
	if err := readJSONStrict(path, &rr); err != nil {
		if os.IsNotExist(err) {
			return ReflectionRecord{}, ErrNotFound
		}
		return ReflectionRecord{}, fmt.Errorf("registry: load reflection: %w", err)
	}
	return rr, nil
}
