// Package registry persists the project/session records internal/project
// and internal/hvstate deliberately don't own the lifecycle of (spec §1
// Non-goals: "CRUD endpoints for projects and templates" are an external
// concern; this package is that concern's storage layer). Every write goes
// through the write-to-tmp-then-rename idiom internal/snapshot's checkpoint
// persistence already established, so a crash mid-write never leaves a
// torn file behind.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hAIvemind-dev/haivemind/internal/project"
)

// ErrNotFound is returned when a named project or template does not exist.
var ErrNotFound = errors.New("registry: not found")

// ProjectRecord is one entry in the baseDir-level projects.json registry.
type ProjectRecord struct {
	Slug      string    `json:"slug"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"createdAt"`
}

// Registry is the single home for every project's registration and
// persisted settings/skills, rooted at baseDir (spec §6 on-disk layout).
type Registry struct {
	BaseDir string

	mu sync.Mutex
}

// New constructs a Registry rooted at baseDir.
func New(baseDir string) *Registry {
	return &Registry{BaseDir: baseDir}
}

func (r *Registry) registryPath() string {
	return filepath.Join(r.BaseDir, "projects.json")
}

func (r *Registry) loadRecordsLocked() ([]ProjectRecord, error) {
	data, err := os.ReadFile(r.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var records []ProjectRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("registry: decode projects.json: %w", err)
	}
	return records, nil
}

func (r *Registry) saveRecordsLocked(records []ProjectRecord) error {
	if err := os.MkdirAll(r.BaseDir, 0o755); err != nil {
		return fmt.Errorf("registry: base dir: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode projects.json: %w", err)
	}
	path := r.registryPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("registry: write projects.json: %w", err)
	}
	return os.Rename(tmp, path)
}

// List returns every registered project.
func (r *Registry) List() ([]ProjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadRecordsLocked()
}

// Get returns the record for slug, or ErrNotFound.
func (r *Registry) Get(slug string) (ProjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.loadRecordsLocked()
	if err != nil {
		return ProjectRecord{}, err
	}
	for _, rec := range records {
		if rec.Slug == slug {
			return rec, nil
		}
	}
	return ProjectRecord{}, ErrNotFound
}

// Create registers a new project at dir under slug, seeding its settings and
// skills files with defaults. Returns an error if slug is already taken.
func (r *Registry) Create(slug, dir string) (ProjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.loadRecordsLocked()
	if err != nil {
		return ProjectRecord{}, err
	}
	for _, rec := range records {
		if rec.Slug == slug {
			return ProjectRecord{}, fmt.Errorf("registry: project %q already exists", slug)
		}
	}
	rec := ProjectRecord{Slug: slug, Dir: dir, CreatedAt: time.Now()}
	records = append(records, rec)
	if err := r.saveRecordsLocked(records); err != nil {
		return ProjectRecord{}, err
	}
	if err := saveSettings(dir, project.Settings{Escalation: project.DefaultEscalation}); err != nil {
		return ProjectRecord{}, err
	}
	if err := saveSkills(dir, project.Skills{}); err != nil {
		return ProjectRecord{}, err
	}
	return rec, nil
}

// Delete removes slug from the registry. The project's on-disk directory is
// left untouched — deleting a user's source tree is not this package's call.
func (r *Registry) Delete(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.loadRecordsLocked()
	if err != nil {
		return err
	}
	out := records[:0]
	found := false
	for _, rec := range records {
		if rec.Slug == slug {
			found = true
			continue
		}
		out = append(out, rec)
	}
	if !found {
		return ErrNotFound
	}
	return r.saveRecordsLocked(out)
}

// Load resolves slug to a full project.Project, reading its settings and
// skills off disk.
func (r *Registry) Load(slug string) (*project.Project, error) {
	rec, err := r.Get(slug)
	if err != nil {
		return nil, err
	}
	settings, err := loadSettings(rec.Dir)
	if err != nil {
		return nil, err
	}
	skills, err := loadSkills(rec.Dir)
	if err != nil {
		return nil, err
	}
	return &project.Project{Slug: rec.Slug, Dir: rec.Dir, Settings: settings, Skills: skills}, nil
}

func haivemindDir(projectDir string) string {
	return filepath.Join(projectDir, ".haivemind")
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSONStrict(path string, v any) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	d := json.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	return d.Decode(v)
}

func loadSettings(projectDir string) (project.Settings, error) {
	var s project.Settings
	path := filepath.Join(haivemindDir(projectDir), "settings.json")
	if err := readJSONStrict(path, &s); err != nil {
		if os.IsNotExist(err) {
			return project.Settings{Escalation: project.DefaultEscalation}, nil
		}
		return project.Settings{}, fmt.Errorf("registry: load settings: %w", err)
	}
	if len(s.Escalation) == 0 {
		s.Escalation = project.DefaultEscalation
	}
	return s, nil
}

func saveSettings(projectDir string, s project.Settings) error {
	path := filepath.Join(haivemindDir(projectDir), "settings.json")
	if err := writeJSONAtomic(path, s); err != nil {
		return fmt.Errorf("registry: save settings: %w", err)
	}
	return nil
}

// SaveSettings persists s for the project registered under slug.
func (r *Registry) SaveSettings(slug string, s project.Settings) error {
	rec, err := r.Get(slug)
	if err != nil {
		return err
	}
	return saveSettings(rec.Dir, s)
}

func loadSkills(projectDir string) (project.Skills, error) {
	var s project.Skills
	path := filepath.Join(haivemindDir(projectDir), "skills.json")
	if err := readJSONStrict(path, &s); err != nil {
		if os.IsNotExist(err) {
			return project.Skills{}, nil
		}
		return project.Skills{}, fmt.Errorf("registry: load skills: %w", err)
	}
	return s, nil
}

func saveSkills(projectDir string, s project.Skills) error {
	path := filepath.Join(haivemindDir(projectDir), "skills.json")
	if err := writeJSONAtomic(path, s); err != nil {
		return fmt.Errorf("registry: save skills: %w", err)
	}
	return nil
}

// SaveSkills persists s for the project registered under slug.
func (r *Registry) SaveSkills(slug string, s project.Skills) error {
	rec, err := r.Get(slug)
	if err != nil {
		return err
	}
	return saveSkills(rec.Dir, s)
}
