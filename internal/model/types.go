// Package model provides the language-model completion client.
//
// The orchestrator drives runs through Client.Complete. A request carries
// the conversation so far plus a ToolsEnabled switch: the propose turn of
// every step runs with tools disabled so the model must commit to a single
// describable action before it can touch the toolbox.
package model

import (
	"context"
)

// Role tags a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one conversation turn. A turn carries plain text, tool-use
// requests (assistant), or tool results (user), in any combination.
type Turn struct {
	Role        Role
	Content     string
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// ToolUse is a tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the outcome of one tool invocation, correlated to its
// originating ToolUse by ID.
type ToolResult struct {
	ToolUseID string
	Content   string
}

// CompletionRequest is one call-response exchange with the model.
type CompletionRequest struct {
	System string
	Turns  []Turn

	// ToolsEnabled controls whether the tool schema is offered. When
	// false the model cannot emit tool-use blocks.
	ToolsEnabled bool
}

// Completion is the model's reply to one request.
type Completion struct {
	// TextBlocks are the reply's text blocks in order.
	TextBlocks []string
	// ToolUses are the tool invocations the model requested, in order.
	ToolUses []ToolUse
	// StopReason is the provider's stop reason (end_turn, tool_use, ...).
	StopReason string
}

// Text joins the completion's text blocks.
func (c *Completion) Text() string {
	switch len(c.TextBlocks) {
	case 0:
		return ""
	case 1:
		return c.TextBlocks[0]
	}
	out := c.TextBlocks[0]
	for _, b := range c.TextBlocks[1:] {
		out += "\n" + b
	}
	return out
}

// Client abstracts the completion service.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
