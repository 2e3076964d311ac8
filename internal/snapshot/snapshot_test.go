package snapshot

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...) //nolint:gosec // test helper with controlled args
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.name", "Test")
	runGit(t, dir, "config", "user.email", "test@test.com")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("v1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "init")
	return dir
}

func TestTakeAndRollbackTagSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)

	s := Take(ctx, dir, "sess-1")
	if s.Kind != KindTag {
		t.Fatalf("Kind = %s, want tag", s.Kind)
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("v2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", ".")
	runGit(t, dir, "commit", "-m", "change")

	if err := Rollback(ctx, s); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1\n" {
		t.Fatalf("a.txt = %q, want v1 restored", data)
	}
}

func TestTakeFallsBackToTarballOutsideGit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.txt"), []byte("hello\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := Take(ctx, dir, "sess-2")
	if s.Kind != KindTarball {
		t.Fatalf("Kind = %s, want tarball", s.Kind)
	}
	if _, err := os.Stat(s.TarPath); err != nil {
		t.Fatalf("expected tarball to exist: %v", err)
	}
}

func TestRollbackTarballRestoresFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(path, []byte("hello\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := Take(ctx, dir, "sess-3")
	if err := os.WriteFile(path, []byte("changed\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Rollback(ctx, s); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("x.txt = %q, want restored content", data)
	}
}
