package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckpointTask is one plan task as persisted in a checkpoint (spec §4.6:
// "plan.tasks[{id,label,status,dependencies}]").
type CheckpointTask struct {
	ID           string   `json:"id"`
	Label        string   `json:"label"`
	Status       string   `json:"status"`
	Dependencies []string `json:"dependencies"`
}

// TimelineEvent mirrors the session timeline's entry shape.
type TimelineEvent struct {
	Timestamp time.Time       `json:"ts"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// Checkpoint is the full periodic-flush document for one running session.
type Checkpoint struct {
	SessionID   string           `json:"sessionId"`
	ProjectSlug string           `json:"projectSlug"`
	Status      string           `json:"status"`
	Prompt      string           `json:"prompt"`
	WorkDir     string           `json:"workDir"`
	Snapshot    Snapshot         `json:"snapshot"`
	Tasks       []CheckpointTask `json:"tasks"`
	Timeline    []TimelineEvent  `json:"timeline"`
}

// maxCheckpointTimeline caps the embedded timeline slice (spec §4.6: "last
// 200"), distinct from the session's own 5000-event in-memory bound.
const maxCheckpointTimeline = 200

var errNotCheckpointFile = fmt.Errorf("snapshot: not a checkpoint file")

// Write serializes c to <projectDir>/.haivemind/checkpoints/<sessionId>.json,
// truncating the embedded timeline to its last 200 events.
func Write(projectDir string, c Checkpoint) error {
	if len(c.Timeline) > maxCheckpointTimeline {
		c.Timeline = c.Timeline[len(c.Timeline)-maxCheckpointTimeline:]
	}
	dir := filepath.Join(projectDir, ".haivemind", "checkpoints")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal checkpoint: %w", err)
	}
	path := filepath.Join(dir, c.SessionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("snapshot: write checkpoint: %w", err)
	}
	return os.Rename(tmp, path)
}

// Delete removes a session's checkpoint file, called on finalize.
func Delete(projectDir, sessionID string) error {
	path := filepath.Join(projectDir, ".haivemind", "checkpoints", sessionID+".json")
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// readCheckpointFile loads and validates one checkpoint JSON file, mirroring
// the teacher's header-validated-JSONL idiom (task/load.go's loadLogFile)
// adapted to a whole-file JSON document with DisallowUnknownFields.
func readCheckpointFile(path string) (Checkpoint, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Checkpoint{}, err
	}
	var c Checkpoint
	d := json.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(&c); err != nil {
		return Checkpoint{}, errNotCheckpointFile
	}
	if c.SessionID == "" {
		return Checkpoint{}, errNotCheckpointFile
	}
	return c, nil
}

// ReadAll scans <projectDir>/.haivemind/checkpoints for all valid
// checkpoints, skipping files that don't parse.
func ReadAll(projectDir string) ([]Checkpoint, error) {
	dir := filepath.Join(projectDir, ".haivemind", "checkpoints")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Checkpoint
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		c, err := readCheckpointFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// MigrateOrphaned moves every "running"-status checkpoint across the given
// project directories into <baseDir>/.haivemind/interrupted/<sessionId>.json,
// called once at startup (spec §4.6 crash recovery).
func MigrateOrphaned(baseDir string, projectDirs []string) ([]Checkpoint, error) {
	inbox := filepath.Join(baseDir, ".haivemind", "interrupted")
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: interrupted inbox: %w", err)
	}

	var orphaned []Checkpoint
	for _, projectDir := range projectDirs {
		checkpoints, err := ReadAll(projectDir)
		if err != nil {
			continue
		}
		for _, c := range checkpoints {
			if c.Status != "running" {
				continue
			}
			data, err := json.MarshalIndent(c, "", "  ")
			if err != nil {
				continue
			}
			dest := filepath.Join(inbox, c.SessionID+".json")
			if err := os.WriteFile(dest, data, 0o600); err != nil {
				continue
			}
			_ = Delete(projectDir, c.SessionID)
			orphaned = append(orphaned, c)
		}
	}
	return orphaned, nil
}

// ReadInterrupted lists every checkpoint parked in the interrupted inbox.
func ReadInterrupted(baseDir string) ([]Checkpoint, error) {
	inbox := filepath.Join(baseDir, ".haivemind", "interrupted")
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Checkpoint
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		c, err := readCheckpointFile(filepath.Join(inbox, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// DiscardInterrupted removes one session's checkpoint from the interrupted
// inbox without resuming it.
func DiscardInterrupted(baseDir, sessionID string) error {
	path := filepath.Join(baseDir, ".haivemind", "interrupted", sessionID+".json")
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
