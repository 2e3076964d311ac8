package main

import (
	"log/slog"
	"path/filepath"
	"testing"
)

func TestResolveDataDirPrefersFlag(t *testing.T) {
	dir, err := resolveDataDir("/custom/path")
	if err != nil {
		t.Fatalf("resolveDataDir: %v", err)
	}
	if dir != "/custom/path" {
		t.Errorf("dir = %q, want /custom/path", dir)
	}
}

func TestResolveDataDirFallsBackToEnv(t *testing.T) {
	t.Setenv("HAIVEMIND_DATA_DIR", "/env/path")
	dir, err := resolveDataDir("")
	if err != nil {
		t.Fatalf("resolveDataDir: %v", err)
	}
	if dir != "/env/path" {
		t.Errorf("dir = %q, want /env/path", dir)
	}
}

func TestResolveDataDirDefaultsToHome(t *testing.T) {
	t.Setenv("HAIVEMIND_DATA_DIR", "")
	dir, err := resolveDataDir("")
	if err != nil {
		t.Fatalf("resolveDataDir: %v", err)
	}
	if filepath.Base(dir) != ".haivemind" {
		t.Errorf("dir = %q, want to end in .haivemind", dir)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
