// Plugin directory discovery and autoload watch (spec §6 PLUGINS_DIR,
// PLUGINS_AUTOLOAD). Plugin sandboxing — actually running plugin code — is
// out of scope; this only tracks what's on disk and its enabled/disabled
// state, broadcasting PLUGIN_STATUS on change.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

// PluginEntry is one discovered plugin directory.
type PluginEntry struct {
	Name    string
	Status  string // "loaded" | "enabled" | "disabled" | "error"
	Message string
}

// PluginManager scans Dir for subdirectories, each treated as one plugin,
// and optionally watches it for changes.
type PluginManager struct {
	Dir     string
	Publish func(protocol.Envelope)
	Logger  func(msg string, args ...any)

	mu      sync.Mutex
	entries map[string]PluginEntry
}

// NewPluginManager scans dir once and returns a manager over it.
func NewPluginManager(dir string, publish func(protocol.Envelope)) *PluginManager {
	pm := &PluginManager{Dir: dir, Publish: publish, entries: make(map[string]PluginEntry)}
	pm.Rescan()
	return pm
}

// List returns every known plugin, in no particular order.
func (pm *PluginManager) List() []PluginEntry {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]PluginEntry, 0, len(pm.entries))
	for _, e := range pm.entries {
		out = append(out, e)
	}
	return out
}

// Rescan re-reads Dir's immediate subdirectories, preserving each existing
// plugin's enabled/disabled state and adding newly discovered ones as
// "loaded".
func (pm *PluginManager) Rescan() {
	entries, err := os.ReadDir(pm.Dir)
	if err != nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		info, err := os.Stat(filepath.Join(pm.Dir, e.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		seen[e.Name()] = true
		if _, ok := pm.entries[e.Name()]; !ok {
			pm.entries[e.Name()] = PluginEntry{Name: e.Name(), Status: "loaded"}
			pm.publishLocked(e.Name(), "loaded", "")
		}
	}
	for name := range pm.entries {
		if !seen[name] {
			delete(pm.entries, name)
		}
	}
}

// Enable marks a discovered plugin as enabled.
func (pm *PluginManager) Enable(name string) error {
	return pm.setStatus(name, "enabled")
}

// Disable marks a discovered plugin as disabled.
func (pm *PluginManager) Disable(name string) error {
	return pm.setStatus(name, "disabled")
}

func (pm *PluginManager) setStatus(name, status string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	e, ok := pm.entries[name]
	if !ok {
		return fmt.Errorf("server: plugin %q not found", name)
	}
	e.Status = status
	pm.entries[name] = e
	pm.publishLocked(name, status, "")
	return nil
}

func (pm *PluginManager) publishLocked(name, status, message string) {
	if pm.Publish == nil {
		return
	}
	pm.Publish(protocol.New(protocol.PluginStatus, protocol.PluginStatusPayload{
		Name: name, Status: status, Message: message,
	}))
}

// pluginDebounce coalesces the burst of Create/Write/Remove events a single
// plugin checkout produces into one rescan, mirroring the teacher pack's own
// fsnotify debounce idiom for rebuild-triggered directory churn.
const pluginDebounce = 500 * time.Millisecond

// Watch runs an fsnotify watch over Dir until ctx is canceled, rescanning
// (debounced) on every filesystem event. Only called when
// HAIVEMIND_PLUGINS_AUTOLOAD is set.
func (pm *PluginManager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("server: plugin watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(pm.Dir); err != nil {
		return fmt.Errorf("server: watch plugins dir: %w", err)
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(pluginDebounce, pm.Rescan)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if pm.Logger != nil {
				pm.Logger("server: plugin watcher error", "err", err)
			}
		}
	}
}
