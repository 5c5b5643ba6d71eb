package run

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/model"
	"github.com/fulcrumsec/pentestd/internal/session"
)

// recordPreviewChars bounds the result preview kept per tool call.
const recordPreviewChars = 500

// runCtx is the state private to one run's goroutine.
type runCtx struct {
	o    *Orchestrator
	rt   *runtime
	sess *session.Session
	buf  *buffer

	// pendingAck is set when inbox messages were flushed and the model
	// still owes an acknowledgment turn.
	pendingAck bool
}

// stepOutcome is the result of one step executor invocation.
type stepOutcome int

const (
	// stepDone: the step ran to completion (possibly with zero tool calls).
	stepDone stepOutcome = iota
	// stepCompletionSignaled: the propose text declared completion; the
	// step was not executed and no approval was requested.
	stepCompletionSignaled
	// stepRejected: the approval gate rejected the step.
	stepRejected
	// stepStopped: an external stop was observed.
	stepStopped
	// stepTimedOut: the approval wait expired.
	stepTimedOut
)

// executeStep runs one propose/approve/execute cycle. A returned error
// means the model service failed, which ends the run.
func (rc *runCtx) executeStep(ctx context.Context, stepNumber int) (stepOutcome, error) {
	if !rc.rt.isActive() {
		return stepStopped, nil
	}

	// PROPOSING: one tool-free turn. The model must commit to a single
	// describable action before it can touch the toolbox.
	completion, err := rc.o.model.Complete(ctx, model.CompletionRequest{
		System: systemPrompt,
		Turns:  rc.buf.Window(),
	})
	if err != nil {
		return stepDone, fmt.Errorf("propose turn: %w", err)
	}
	description := strings.TrimSpace(completion.Text())
	if description == "" {
		description = "(no proposal text provided)"
	}
	rc.buf.addAssistantText(description)

	if !rc.rt.isActive() {
		return stepStopped, nil
	}
	if completionSignaled(description) {
		return stepCompletionSignaled, nil
	}

	// AWAITING_APPROVAL
	stepID := uuid.NewString()
	rc.rt.setPending(stepID, stepNumber, description)
	auto := rc.rt.approvalMode == ApprovalAuto

	rc.o.publish(rc.sess.ID, events.TypeStepProposed, map[string]any{
		"step_id":       stepID,
		"step_number":   stepNumber,
		"description":   description,
		"tool_calls":    []ToolCallRecord{},
		"auto_approved": auto,
	})
	stepsProposed.Inc()

	var outcome gateOutcome
	if auto {
		// Resolved synchronously, no external round-trip.
		_ = rc.rt.resolve(stepID, true)
		outcome = gateApproved
	} else {
		rc.o.publish(rc.sess.ID, events.TypeStatus, map[string]any{
			"message": fmt.Sprintf("awaiting approval for step %d", stepNumber),
		})
		outcome = rc.rt.awaitDecision(rc.o.cfg.PollInterval, rc.o.cfg.ApprovalTimeout, rc.flushInbox)
	}
	rc.rt.clearPending()

	// step_decided is published here, on the run goroutine, so it always
	// precedes any execution event for the same step.
	if outcome == gateApproved || outcome == gateRejected {
		approved := outcome == gateApproved
		decision := "rejected"
		if approved {
			decision = "approved"
		}
		approvalsResolved.WithLabelValues(decision).Inc()
		rc.o.publish(rc.sess.ID, events.TypeStepDecided, map[string]any{
			"step_id":  stepID,
			"approved": approved,
		})
	}

	switch outcome {
	case gateRejected:
		return stepRejected, nil
	case gateStopped:
		return stepStopped, nil
	case gateTimedOut:
		rc.o.logger.Warn("approval wait timed out",
			zap.String("session_id", rc.sess.ID),
			zap.Int("step", stepNumber))
		return stepTimedOut, nil
	}

	// Flush any messages that arrived between the last poll and the
	// decision, then let the model acknowledge before tools resume.
	rc.flushInbox(rc.rt.drainInbox())
	if rc.pendingAck {
		rc.pendingAck = false
		rc.buf.addUser(ackInstruction)
		ack, err := rc.o.model.Complete(ctx, model.CompletionRequest{
			System: systemPrompt,
			Turns:  rc.buf.Window(),
		})
		if err != nil {
			return stepDone, fmt.Errorf("acknowledgment turn: %w", err)
		}
		if text := strings.TrimSpace(ack.Text()); text != "" {
			rc.buf.addAssistantText(text)
		}
	}

	// EXECUTING: bounded tool loop. Tool calls are dispatched one at a
	// time in the order requested to keep result correlation unambiguous.
	rc.buf.addUser(executeInstruction(description))

	records := []ToolCallRecord{}
	var summary []string

	for turn := 0; turn < rc.o.cfg.MaxToolTurns; turn++ {
		if !rc.rt.isActive() {
			return stepStopped, nil
		}
		completion, err := rc.o.model.Complete(ctx, model.CompletionRequest{
			System:       systemPrompt,
			Turns:        rc.buf.Window(),
			ToolsEnabled: true,
		})
		if err != nil {
			return stepDone, fmt.Errorf("execute turn: %w", err)
		}

		rc.buf.add(model.Turn{
			Role:     model.RoleAssistant,
			Content:  completion.Text(),
			ToolUses: completion.ToolUses,
		})
		if text := strings.TrimSpace(completion.Text()); text != "" {
			summary = append(summary, text)
		}
		if len(completion.ToolUses) == 0 {
			break
		}

		results := make([]model.ToolResult, 0, len(completion.ToolUses))
		for _, use := range completion.ToolUses {
			if !rc.rt.isActive() {
				return stepStopped, nil
			}
			resultText, err := rc.o.tools.Run(ctx, rc.sess, use.Name, use.Input)
			if err != nil {
				// Tool failures are fed back like any failed command.
				resultText = fmt.Sprintf("Error: %v", err)
			}
			records = append(records, ToolCallRecord{
				Tool:          use.Name,
				Input:         use.Input,
				ResultPreview: truncate(resultText, recordPreviewChars),
			})
			results = append(results, model.ToolResult{ToolUseID: use.ID, Content: resultText})
		}
		rc.buf.add(model.Turn{Role: model.RoleUser, ToolResults: results})
	}

	rc.o.publish(rc.sess.ID, events.TypeStepCompleted, map[string]any{
		"step_id":     stepID,
		"step_number": stepNumber,
		"summary":     strings.Join(summary, "\n"),
		"tool_calls":  records,
	})
	return stepDone, nil
}

// flushInbox appends queued operator messages to the buffer as user
// turns, in FIFO order, and marks that an acknowledgment turn is owed.
func (rc *runCtx) flushInbox(msgs []string) {
	for _, msg := range msgs {
		rc.buf.addUser(inboxPreamble + " " + msg)
		rc.pendingAck = true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
