// Package protocol defines the closed set of message types exchanged between
// the engine and observers, plus the envelope they travel in. Every message
// that crosses the broadcast plane or the observer duplex channel is one of
// these types; there is no open extension point.
package protocol

import "encoding/json"

// Type is a closed enum of every message kind the engine emits or accepts.
type Type string

// Session lifecycle.
const (
	SessionStart       Type = "SESSION_START"
	SessionComplete    Type = "SESSION_COMPLETE"
	SessionError       Type = "SESSION_ERROR"
	SessionWarning     Type = "SESSION_WARNING"
	ShutdownWarning    Type = "SHUTDOWN_WARNING"
	SessionInterrupted Type = "SESSION_INTERRUPTED"
	SessionResumed     Type = "SESSION_RESUMED"
)

// Planning.
const (
	PlanCreated  Type = "PLAN_CREATED"
	PlanResearch Type = "PLAN_RESEARCH"
)

// Execution.
const (
	TaskStatus   Type = "TASK_STATUS"
	AgentStatus  Type = "AGENT_STATUS"
	AgentOutput  Type = "AGENT_OUTPUT"
	AgentStream  Type = "AGENT_STREAM"
)

// Verification.
const (
	VerificationStatus Type = "VERIFICATION_STATUS"
)

// Chat.
const (
	ChatMessage      Type = "CHAT_MESSAGE"
	ChatResponse     Type = "CHAT_RESPONSE"
	IterationStart   Type = "ITERATION_START"
	IterationComplete Type = "ITERATION_COMPLETE"
	ReconnectSync    Type = "RECONNECT_SYNC"
)

// Human gate.
const (
	GateRequest  Type = "GATE_REQUEST"
	GateResponse Type = "GATE_RESPONSE"
)

// Swarm.
const (
	DAGRewrite       Type = "DAG_REWRITE"
	SwarmWave        Type = "SWARM_WAVE"
	SwarmScaling     Type = "SWARM_SCALING"
	TaskSplit        Type = "TASK_SPLIT"
	SpeculativeStart Type = "SPECULATIVE_START"
)

// Subscriptions.
const (
	WSSubscribe   Type = "WS_SUBSCRIBE"
	WSUnsubscribe Type = "WS_UNSUBSCRIBE"
)

// Plugins.
const (
	PluginStatus Type = "PLUGIN_STATUS"
)

// Autopilot.
const (
	AutopilotStatus Type = "AUTOPILOT_STATUS"
	SelfdevStart    Type = "SELFDEV_START"
)

// Envelope is the wire format for every message: a type tag plus an opaque
// payload. Handlers type-switch on Type and unmarshal Payload into the
// concrete struct they expect.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an Envelope by marshaling payload. Marshal failures are
// programmer errors (payload is always one of our own structs), so New
// panics rather than threading an error through every broadcast call site —
// matching the teacher's preference for must-marshal helpers over
// error-laden hot paths (see agent.MarshalMessage usage in server/server.go).
func New(t Type, payload any) Envelope {
	if payload == nil {
		return Envelope{Type: t}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic("protocol: marshal " + string(t) + " payload: " + err.Error())
	}
	return Envelope{Type: t, Payload: data}
}

// Decode unmarshals the envelope's payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

// Timelined message types: payloads that are recorded into a session's
// timeline when observed by the broadcaster (spec §4.7).
var Timelined = map[Type]bool{
	TaskStatus:         true,
	AgentStatus:        true,
	VerificationStatus: true,
}
