package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadDeleteCheckpoint(t *testing.T) {
	dir := t.TempDir()
	c := Checkpoint{
		SessionID:   "sess-1",
		ProjectSlug: "demo",
		Status:      "running",
		Prompt:      "build a thing",
		WorkDir:     dir,
		Snapshot:    Snapshot{Kind: KindNone, WorkDir: dir, TakenAt: time.Now()},
		Tasks: []CheckpointTask{
			{ID: "t1", Label: "write code", Status: "running", Dependencies: nil},
		},
	}
	if err := Write(dir, c); err != nil {
		t.Fatalf("Write: %v", err)
	}

	all, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 1 || all[0].SessionID != "sess-1" {
		t.Fatalf("ReadAll = %+v", all)
	}

	if err := Delete(dir, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, err = ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll after delete: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no checkpoints after delete, got %d", len(all))
	}
}

func TestWriteTruncatesTimelineTo200(t *testing.T) {
	dir := t.TempDir()
	var timeline []TimelineEvent
	for i := 0; i < 250; i++ {
		timeline = append(timeline, TimelineEvent{Timestamp: time.Now(), Type: "TASK_STATUS"})
	}
	c := Checkpoint{SessionID: "sess-2", Status: "running", Timeline: timeline}
	if err := Write(dir, c); err != nil {
		t.Fatalf("Write: %v", err)
	}
	all, err := ReadAll(dir)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(all))
	}
	if len(all[0].Timeline) != maxCheckpointTimeline {
		t.Fatalf("timeline length = %d, want %d", len(all[0].Timeline), maxCheckpointTimeline)
	}
}

func TestMigrateOrphanedMovesRunningSessions(t *testing.T) {
	baseDir := t.TempDir()
	projectDir := t.TempDir()

	running := Checkpoint{SessionID: "running-1", Status: "running"}
	done := Checkpoint{SessionID: "done-1", Status: "completed"}
	if err := Write(projectDir, running); err != nil {
		t.Fatalf("Write running: %v", err)
	}
	if err := Write(projectDir, done); err != nil {
		t.Fatalf("Write done: %v", err)
	}

	orphaned, err := MigrateOrphaned(baseDir, []string{projectDir})
	if err != nil {
		t.Fatalf("MigrateOrphaned: %v", err)
	}
	if len(orphaned) != 1 || orphaned[0].SessionID != "running-1" {
		t.Fatalf("orphaned = %+v", orphaned)
	}

	if _, err := os.Stat(filepath.Join(baseDir, ".haivemind", "interrupted", "running-1.json")); err != nil {
		t.Fatalf("expected interrupted inbox entry: %v", err)
	}
	remaining, err := ReadAll(projectDir)
	if err != nil {
		t.Fatalf("ReadAll remaining: %v", err)
	}
	if len(remaining) != 1 || remaining[0].SessionID != "done-1" {
		t.Fatalf("remaining = %+v, want only done-1 left", remaining)
	}
}
