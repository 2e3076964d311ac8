package registry

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template is a reusable prompt starting point, listed and applied when
// starting a new session (spec §6: CRUD endpoints for templates).
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

func (r *Registry) templatesPath() string {
	return filepath.Join(r.BaseDir, "templates.json")
}

func (r *Registry) loadTemplatesLocked() ([]Template, error) {
	var templates []Template
	if err := readJSONStrict(r.templatesPath(), &templates); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: decode templates.json: %w", err)
	}
	return templates, nil
}

// Templates lists every saved template.
func (r *Registry) Templates() ([]Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadTemplatesLocked()
}

// SaveTemplate creates or overwrites the template named t.Name.
func (r *Registry) SaveTemplate(t Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	templates, err := r.loadTemplatesLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range templates {
		if existing.Name == t.Name {
			templates[i] = t
			replaced = true
			break
		}
	}
	if !replaced {
		templates = append(templates, t)
	}
	return writeJSONAtomic(r.templatesPath(), templates)
}

// DeleteTemplate removes the template named name.
func (r *Registry) DeleteTemplate(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	templates, err := r.loadTemplatesLocked()
	if err != nil {
		return err
	}
	out := templates[:0]
	found := false
	for _, t := range templates {
		if t.Name == name {
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		return ErrNotFound
	}
	return writeJSONAtomic(r.templatesPath(), out)
}
