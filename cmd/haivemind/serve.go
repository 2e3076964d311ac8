package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/hAIvemind-dev/haivemind/internal/agentmgr"
	"github.com/hAIvemind-dev/haivemind/internal/autopilot"
	"github.com/hAIvemind-dev/haivemind/internal/broadcast"
	"github.com/hAIvemind-dev/haivemind/internal/config"
	"github.com/hAIvemind-dev/haivemind/internal/hvstate"
	"github.com/hAIvemind-dev/haivemind/internal/orchestrator"
	"github.com/hAIvemind-dev/haivemind/internal/project"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
	"github.com/hAIvemind-dev/haivemind/internal/registry"
	"github.com/hAIvemind-dev/haivemind/internal/server"
	"github.com/hAIvemind-dev/haivemind/internal/snapshot"
)

var dataDirFlag string

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the control-plane HTTP API and the observer websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dataDirFlag, "data-dir", "", "project registry and session storage root (default: $HAIVEMIND_DATA_DIR or ~/.haivemind)")
	return cmd
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	baseDir, err := resolveDataDir(dataDirFlag)
	if err != nil {
		return fmt.Errorf("haivemind: resolve data dir: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("haivemind: create data dir: %w", err)
	}
	logger.Info("starting", "dataDir", baseDir, "port", cfg.Port, "defaultBackend", cfg.DefaultBackend)

	reg := registry.New(baseDir)
	engine := hvstate.NewEngine(baseDir)
	bc := broadcast.New(engine)

	recoverOrphaned(logger, reg, baseDir)

	if _, err := engine.StartRetentionPruner(cfg.SessionRetention); err != nil {
		logger.Warn("retention pruner did not start", "err", err)
	}
	defer engine.StopRetentionPruner()

	cliPath := os.Getenv("HAIVEMIND_AGENT_CLI")
	if cliPath == "" {
		cliPath = cfg.DefaultBackend
	}
	backends := map[string]agentmgr.Backend{
		cfg.DefaultBackend: agentmgr.NewLocalBackend(cliPath, agentmgr.Harness(cfg.DefaultBackend)),
	}

	orch := &orchestrator.Orchestrator{
		Engine:               engine,
		Registry:             reg,
		Backend:              backends[cfg.DefaultBackend],
		Publish:              bc.Publish,
		BaseConcurrency:      cfg.MaxConcurrency,
		StallThresholdMs:     int(cfg.StallThreshold.Milliseconds()),
		StallCheckIntervalMs: int(cfg.StallCheckInterval.Milliseconds()),
		MaxAgentOutputBytes:  cfg.MaxAgentOutputBytes,
		AgentTimeout:         cfg.AgentTimeout,
	}

	srv := server.New(engine, reg, orch, bc, backends, cfg.DefaultBackend, cfg.SwarmEnabled)
	srv.Logger = logger
	srv.NextPrompt = reflectionDrivenPrompt(reg)
	srv.AutopilotCycleDelay = cfg.AutopilotCycleDelay

	if cfg.PluginsDir != "" {
		srv.Plugins = server.NewPluginManager(cfg.PluginsDir, bc.PublishGlobal)
		if cfg.PluginsAutoload {
			watchCtx, cancelWatch := context.WithCancel(ctx)
			defer cancelWatch()
			go func() {
				if err := srv.Plugins.Watch(watchCtx); err != nil {
					logger.Warn("plugin watcher stopped", "err", err)
				}
			}()
		}
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: srv.Mux(),
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("haivemind: serve: %w", err)
		}
		return nil
	case <-sigCtx.Done():
		logger.Info("shutting down")
		return shutdown(httpSrv, bc, engine, logger)
	}
}

// shutdown warns every connected observer, cancels every running session's
// context so its in-flight agent subprocess is killed via os/exec's
// ctx-cancellation plumbing (spec §9 "activeContexts"), then closes the
// listener.
func shutdown(httpSrv *http.Server, bc *broadcast.Broadcaster, engine *hvstate.Engine, logger *slog.Logger) error {
	const grace = 5 * time.Second
	bc.PublishGlobal(protocol.New(protocol.ShutdownWarning, protocol.ShutdownWarningPayload{
		GraceMs: grace.Milliseconds(),
	}))

	for _, sess := range engine.Sessions() {
		if sess.Status() == hvstate.SessionRunning {
			sess.Cancel()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warn("forced shutdown", "err", err)
	}
	return nil
}

// recoverOrphaned migrates any checkpoint left in "running" status by a
// previous process that never reached a terminal state into the interrupted
// inbox (spec §4.6 crash recovery), logging what it found.
func recoverOrphaned(logger *slog.Logger, reg *registry.Registry, baseDir string) {
	records, err := reg.List()
	if err != nil {
		logger.Warn("could not list projects for crash recovery", "err", err)
		return
	}
	dirs := make([]string, 0, len(records))
	for _, rec := range records {
		dirs = append(dirs, rec.Dir)
	}
	orphaned, err := snapshot.MigrateOrphaned(baseDir, dirs)
	if err != nil {
		logger.Warn("crash recovery scan failed", "err", err)
		return
	}
	if len(orphaned) > 0 {
		logger.Info("recovered interrupted sessions", "count", len(orphaned))
	}
}

// reflectionDrivenPrompt derives the next autopilot cycle's prompt from the
// project's most recently discovered skills and outstanding reflection
// issues — a deliberately simple heuristic, since the prompt-generation
// collaborator itself is an external concern (spec §1 Non-goals: the
// autopilot loop is "a thin driver above the core").
func reflectionDrivenPrompt(reg *registry.Registry) autopilot.NextPrompt {
	return func(_ context.Context, proj *project.Project, lastSessionID string) (string, error) {
		if lastSessionID == "" {
			return "Review the codebase and pick one improvement to make.", nil
		}
		rr, err := reg.Reflection(proj.Slug, lastSessionID)
		if err != nil {
			return "Continue improving the codebase based on prior work.", nil
		}
		if rr.Reflection.FailCount > 0 {
			return "Revisit the failing tasks from the prior session and fix them.", nil
		}
		if len(rr.SkillsDiscovered) > 0 {
			return fmt.Sprintf("Apply the newly discovered skill(s) (%v) to another part of the codebase.", rr.SkillsDiscovered), nil
		}
		return "Pick the next highest-value improvement and make it.", nil
	}
}

func resolveDataDir(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv("HAIVEMIND_DATA_DIR"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".haivemind"), nil
}

// newLogger builds the teacher's exact console-logging stack: tint's
// colorized handler when stdout is a terminal, plain JSON otherwise, with
// LOG_FORMAT=json forcing JSON regardless of terminal detection.
func newLogger(cfg config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	var out io.Writer = os.Stdout
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	}
	out = colorable.NewColorable(os.Stdout)
	return slog.New(tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
