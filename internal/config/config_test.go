package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c := Load()
	if c.Port != 8080 {
		t.Errorf("Port = %d, want 8080", c.Port)
	}
	if c.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", c.MaxConcurrency)
	}
	if c.AgentTimeout != 30*time.Minute {
		t.Errorf("AgentTimeout = %v, want 30m", c.AgentTimeout)
	}
	if c.SwarmEnabled {
		t.Error("SwarmEnabled default should be false")
	}
}

func TestLoadOverridesFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HAIVEMIND_MAX_CONCURRENCY", "8")
	t.Setenv("HAIVEMIND_AGENT_TIMEOUT_MS", "5000")
	t.Setenv("HAIVEMIND_SWARM_ENABLED", "yes")
	t.Setenv("HAIVEMIND_DEFAULT_BACKEND", "codex")

	c := Load()
	if c.Port != 9090 {
		t.Errorf("Port = %d, want 9090", c.Port)
	}
	if c.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", c.MaxConcurrency)
	}
	if c.AgentTimeout != 5*time.Second {
		t.Errorf("AgentTimeout = %v, want 5s", c.AgentTimeout)
	}
	if !c.SwarmEnabled {
		t.Error("SwarmEnabled should be true for \"yes\"")
	}
	if c.DefaultBackend != "codex" {
		t.Errorf("DefaultBackend = %q, want codex", c.DefaultBackend)
	}
}

func TestEnvIntFallsBackOnUnparsable(t *testing.T) {
	t.Setenv("HAIVEMIND_MAX_RETRIES", "not-a-number")
	c := Load()
	if c.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want default 2 on unparsable env value", c.MaxRetries)
	}
}
