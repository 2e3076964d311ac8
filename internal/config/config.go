// Package config loads hAIvemind's process configuration from the
// environment (plus an optional .env file), the way NeboLoop-nebo's
// nebo.go loads its own: a best-effort godotenv.Load() followed by
// os.Getenv reads, never a required config file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is every environment-driven knob named in spec §6.
type Config struct {
	Port       int
	LogLevel   string
	LogFormat  string // "text" | "json"

	MaxConcurrency       int
	MaxRetries           int
	AgentTimeout         time.Duration
	OrchestratorTimeout  time.Duration
	SessionRetention     time.Duration
	MaxAgentOutputBytes  int
	StallThreshold       time.Duration
	StallCheckInterval   time.Duration
	DefaultBackend       string
	SwarmEnabled         bool
	PluginsDir           string
	PluginsAutoload      bool
	AutopilotCycleDelay  time.Duration
}

// Load reads .env (if present, silently ignored otherwise) and then the
// process environment into a Config, applying the teacher pack's defaults
// for anything unset.
func Load() Config {
	_ = godotenv.Load()

	c := Config{
		Port:      envInt("PORT", 8080),
		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "text"),

		MaxConcurrency:      envInt("HAIVEMIND_MAX_CONCURRENCY", 4),
		MaxRetries:          envInt("HAIVEMIND_MAX_RETRIES", 2),
		AgentTimeout:        envDurationMs("HAIVEMIND_AGENT_TIMEOUT_MS", 30*time.Minute),
		OrchestratorTimeout: envDurationMs("HAIVEMIND_ORCHESTRATOR_TIMEOUT_MS", 2*time.Hour),
		SessionRetention:    envDurationMs("HAIVEMIND_SESSION_RETENTION_MS", 24*time.Hour),
		MaxAgentOutputBytes: envInt("HAIVEMIND_MAX_AGENT_OUTPUT_BYTES", 1<<20),
		StallThreshold:      envDurationMs("HAIVEMIND_STALL_THRESHOLD_MS", 5*time.Minute),
		StallCheckInterval:  envDurationMs("HAIVEMIND_STALL_CHECK_INTERVAL_MS", 15*time.Second),
		DefaultBackend:      envString("HAIVEMIND_DEFAULT_BACKEND", "claude"),
		SwarmEnabled:        envBool("HAIVEMIND_SWARM_ENABLED", false),
		PluginsDir:          envString("HAIVEMIND_PLUGINS_DIR", ""),
		PluginsAutoload:     envBool("HAIVEMIND_PLUGINS_AUTOLOAD", false),
		AutopilotCycleDelay: envDurationMs("HAIVEMIND_AUTOPILOT_CYCLE_DELAY_MS", 10*time.Second),
	}
	return c
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationMs(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// envBool accepts "true"/"1"/"yes" as true, matching the pack's
// parseBool convention (internal/config/config.go in NeboLoop-nebo).
func envBool(key string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}
