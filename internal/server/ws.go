package server

import (
	"context"
	"net/http"

	"github.com/hAIvemind-dev/haivemind/internal/broadcast"
	"github.com/hAIvemind-dev/haivemind/internal/protocol"
)

// serveWS upgrades the request to the observer duplex channel (spec §6):
// client -> server {SESSION_START, SELFDEV_START, CHAT_MESSAGE,
// GATE_RESPONSE, RECONNECT_SYNC}; everything else flows server -> client
// through the broadcaster this connection registers with.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if err := s.Broadcaster.Serve(w, r, s.handleInbound, s.Logger); err != nil {
		s.Logger.Warn("ws: upgrade failed", "err", err)
	}
}

// handleInbound dispatches one client->server envelope. Long-running work
// (starting or extending a session) is spawned against the server's own
// background context, never the connection's, so a session outlives the
// websocket that launched it.
func (s *Server) handleInbound(c *broadcast.Connection, env protocol.Envelope) {
	switch env.Type {
	case protocol.SessionStart:
		s.handleSessionStart(env)
	case protocol.SelfdevStart:
		s.handleSelfdevStart(env)
	case protocol.ChatMessage:
		s.handleChatMessage(env)
	case protocol.GateResponse:
		s.handleGateResponse(env)
	case protocol.ReconnectSync:
		s.handleReconnectSync(c, env)
	default:
		s.Logger.Warn("ws: unhandled inbound envelope", "type", env.Type)
	}
}

func (s *Server) handleSessionStart(env protocol.Envelope) {
	var p protocol.SessionStartPayload
	if err := env.Decode(&p); err != nil || p.ProjectSlug == "" {
		s.Logger.Warn("ws: malformed SESSION_START", "err", err)
		return
	}
	proj, err := s.Registry.Load(p.ProjectSlug)
	if err != nil {
		s.Logger.Warn("ws: SESSION_START for unknown project", "slug", p.ProjectSlug, "err", err)
		return
	}
	go func() {
		if _, err := s.Orchestrator.StartSession(context.Background(), proj, p.Prompt, nil); err != nil {
			s.Logger.Error("session failed", "projectSlug", p.ProjectSlug, "err", err)
		}
	}()
}

func (s *Server) handleSelfdevStart(env protocol.Envelope) {
	var p protocol.SelfdevStartPayload
	if err := env.Decode(&p); err != nil || p.ProjectSlug == "" {
		s.Logger.Warn("ws: malformed SELFDEV_START", "err", err)
		return
	}
	proj, err := s.Registry.Load(p.ProjectSlug)
	if err != nil {
		s.Logger.Warn("ws: SELFDEV_START for unknown project", "slug", p.ProjectSlug, "err", err)
		return
	}
	s.autopilotFor(proj).Start(context.Background())
}

func (s *Server) handleChatMessage(env protocol.Envelope) {
	var p protocol.ChatMessagePayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		s.Logger.Warn("ws: malformed CHAT_MESSAGE", "err", err)
		return
	}
	sess, ok := s.Engine.Session(p.SessionID)
	if !ok {
		s.Logger.Warn("ws: CHAT_MESSAGE for unknown session", "sessionId", p.SessionID)
		return
	}
	proj, err := s.Registry.Load(sess.ProjectSlug)
	if err != nil {
		s.Logger.Warn("ws: CHAT_MESSAGE project lookup failed", "sessionId", p.SessionID, "err", err)
		return
	}
	go func() {
		if err := s.Orchestrator.HandleChatMessage(context.Background(), sess, proj, p.Text); err != nil {
			s.Logger.Error("chat message handling failed", "sessionId", p.SessionID, "err", err)
		}
	}()
}

func (s *Server) handleGateResponse(env protocol.Envelope) {
	var p protocol.GateResponsePayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		s.Logger.Warn("ws: malformed GATE_RESPONSE", "err", err)
		return
	}
	sess, ok := s.Engine.Session(p.SessionID)
	if !ok {
		s.Logger.Warn("ws: GATE_RESPONSE for unknown session", "sessionId", p.SessionID)
		return
	}
	if err := sess.Runner().ResolveGate(p.TaskID, p.Approved, p.Feedback); err != nil {
		s.Logger.Warn("ws: gate resolution failed", "sessionId", p.SessionID, "taskId", p.TaskID, "err", err)
	}
}

// handleReconnectSync replays a session's timeline to a single reconnecting
// observer, letting it catch up on everything it missed (spec §6
// RECONNECT_SYNC).
func (s *Server) handleReconnectSync(c *broadcast.Connection, env protocol.Envelope) {
	var p protocol.ReconnectSyncPayload
	if err := env.Decode(&p); err != nil || p.SessionID == "" {
		s.Logger.Warn("ws: malformed RECONNECT_SYNC", "err", err)
		return
	}
	sess, ok := s.Engine.Session(p.SessionID)
	if !ok {
		s.Logger.Warn("ws: RECONNECT_SYNC for unknown session", "sessionId", p.SessionID)
		return
	}
	for _, e := range sess.Timeline() {
		c.Deliver(e)
	}
}
