package events

import (
	"time"
)

// Type identifies the kind of event being published.
type Type string

const (
	// TypeRunStarted is published when a run begins.
	TypeRunStarted Type = "run_started"
	// TypePhaseChanged is published when a playbook run enters a new phase.
	TypePhaseChanged Type = "phase_changed"
	// TypeStepProposed is published after the propose turn, before approval.
	TypeStepProposed Type = "step_proposed"
	// TypeStepDecided is published when a pending approval is resolved.
	TypeStepDecided Type = "step_decided"
	// TypeStepCompleted is published when a step's execute phase finishes.
	TypeStepCompleted Type = "step_completed"
	// TypeStatus carries free-text progress narration.
	TypeStatus Type = "status"
	// TypeRunEnded is published exactly once per run with a terminal reason.
	TypeRunEnded Type = "run_ended"

	// TypeToolStart is published when a tool call is dispatched to the toolbox.
	TypeToolStart Type = "tool_start"
	// TypeToolResult is published when a tool call returns.
	TypeToolResult Type = "tool_result"
	// TypeNewFinding is published when the model records a finding.
	TypeNewFinding Type = "new_finding"
	// TypeChatMessage is published when the interactive chat answers.
	TypeChatMessage Type = "chat_message"
)

// Event is a single session-scoped event.
type Event struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher publishes events to interested consumers.
type Publisher interface {
	Publish(sessionID string, t Type, data map[string]any)
}

// Nop returns a Publisher that discards all events. Useful in tests and
// for components constructed without an event sink.
func Nop() Publisher { return nopPublisher{} }

type nopPublisher struct{}

func (nopPublisher) Publish(string, Type, map[string]any) {}

// Multi fans out every event to each of the given publishers.
func Multi(pubs ...Publisher) Publisher { return multiPublisher(pubs) }

type multiPublisher []Publisher

func (m multiPublisher) Publish(sessionID string, t Type, data map[string]any) {
	for _, p := range m {
		p.Publish(sessionID, t, data)
	}
}
