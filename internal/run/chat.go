package run

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/model"
	"github.com/fulcrumsec/pentestd/internal/session"
)

// ChatReply is the assistant's answer to one chat message.
type ChatReply struct {
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
}

// Chat sends an operator message to the model in the session's chat
// context and drives the tool loop until the model answers in plain
// text. Chat is independent of any run: it shares the session's scope,
// findings, and tool dispatch, but not a run's conversation buffer.
// Both the message and the reply are persisted in the session's chat
// history.
func (o *Orchestrator) Chat(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidParams)
	}

	sess.AppendMessage(session.RoleUser, message)

	turns := make([]model.Turn, 0, o.cfg.ContextWindow)
	for _, m := range sess.ChatHistory(o.cfg.ContextWindow) {
		role := model.RoleUser
		if m.Role == session.RoleAssistant {
			role = model.RoleAssistant
		}
		turns = append(turns, model.Turn{Role: role, Content: m.Content})
	}
	system := chatSystemPrompt(sess.ContextSummary())

	records := []ToolCallRecord{}
	var parts []string
	for turn := 0; turn < o.cfg.MaxToolTurns; turn++ {
		completion, err := o.model.Complete(ctx, model.CompletionRequest{
			System:       system,
			Turns:        turns,
			ToolsEnabled: true,
		})
		if err != nil {
			return nil, fmt.Errorf("chat turn: %w", err)
		}
		if text := strings.TrimSpace(completion.Text()); text != "" {
			parts = append(parts, text)
		}
		if len(completion.ToolUses) == 0 {
			break
		}

		turns = append(turns, model.Turn{
			Role:     model.RoleAssistant,
			Content:  completion.Text(),
			ToolUses: completion.ToolUses,
		})
		results := make([]model.ToolResult, 0, len(completion.ToolUses))
		for _, use := range completion.ToolUses {
			resultText, err := o.tools.Run(ctx, sess, use.Name, use.Input)
			if err != nil {
				resultText = fmt.Sprintf("Error: %v", err)
			}
			records = append(records, ToolCallRecord{
				Tool:          use.Name,
				Input:         use.Input,
				ResultPreview: truncate(resultText, recordPreviewChars),
			})
			results = append(results, model.ToolResult{ToolUseID: use.ID, Content: resultText})
		}
		turns = append(turns, model.Turn{Role: model.RoleUser, ToolResults: results})
	}

	content := strings.Join(parts, "\n")
	sess.AppendMessage(session.RoleAssistant, content)
	o.publish(sessionID, events.TypeChatMessage, map[string]any{
		"role":       session.RoleAssistant,
		"content":    content,
		"tool_calls": records,
	})
	o.logger.Info("chat reply",
		zap.String("session_id", sessionID),
		zap.Int("tool_calls", len(records)))
	return &ChatReply{Content: content, ToolCalls: records}, nil
}
