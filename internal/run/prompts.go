package run

import (
	"fmt"
	"strings"

	"github.com/fulcrumsec/pentestd/internal/playbook"
)

// Completion markers the model may emit in a propose turn. In playbook
// mode the phase marker ends the current phase; in freeform mode either
// marker ends the run with reason completed.
const (
	phaseCompleteMarker     = "PHASE COMPLETE"
	objectiveCompleteMarker = "OBJECTIVE COMPLETE"
)

const systemPrompt = `You are an autonomous security-testing agent operating inside an authorized engagement. The operator has confirmed written authorization for every target in the session scope.

Rules of engagement:
- Only touch targets inside the authorized scope. Out-of-scope requests are blocked and reported back to you.
- Work one step at a time. When asked to propose, describe exactly one concrete action in a few sentences; do not perform it.
- When executing, perform only the action that was approved. Do not chain unrelated actions.
- Record every security-relevant observation with record_finding, including severity and evidence.
- Prefer targeted, low-noise techniques before broad or intrusive ones.
- If the current phase goal is fully achieved, say "` + phaseCompleteMarker + `" in your proposal. If the overall objective is fully achieved, say "` + objectiveCompleteMarker + `".`

// chatSystemPrompt appends the session's engagement context to the
// agent rules for interactive chat, which has no pinned intro turn.
func chatSystemPrompt(contextSummary string) string {
	return systemPrompt + "\n\nCurrent engagement context:\n" + contextSummary
}

// introPrompt seeds the conversation buffer at run start. It is pinned
// first in the model window for the whole run.
func introPrompt(objective, contextSummary string, pb *playbook.Playbook) string {
	var b strings.Builder
	b.WriteString(contextSummary)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Objective: %s\n", objective)
	if pb != nil {
		fmt.Fprintf(&b, "\nThis run follows the %q playbook (%d phases). You will be told when each phase begins and what its goal is.\n", pb.Name, len(pb.Phases))
	}
	b.WriteString("\nPropose your first action: describe exactly one concrete step, in plain text, without performing it.")
	return b.String()
}

// phasePrompt opens a playbook phase.
func phasePrompt(objective string, ph playbook.Phase, number, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Phase %d of %d: %s\n", number, total, ph.Name)
	fmt.Fprintf(&b, "Phase goal: %s\n", ph.Goal)
	if len(ph.Tools) > 0 {
		fmt.Fprintf(&b, "Suggested tools: %s\n", strings.Join(ph.Tools, ", "))
	}
	fmt.Fprintf(&b, "Overall objective: %s\n", objective)
	fmt.Fprintf(&b, "You have up to %d steps for this phase. If the goal is already achieved, say %q.\n", ph.MaxSteps, phaseCompleteMarker)
	b.WriteString("Propose your next action for this phase.")
	return b.String()
}

// reminderPrompt keeps the model anchored between steps of a phase.
func reminderPrompt(ph playbook.Phase, remaining int) string {
	return fmt.Sprintf("Phase goal reminder: %s. You have %d step(s) remaining in this phase. If the goal is achieved, say %q. Otherwise propose your next action.",
		ph.Goal, remaining, phaseCompleteMarker)
}

// freeformPrompt asks for the next proposal in an unstructured run.
func freeformPrompt(objective string, remaining int) string {
	return fmt.Sprintf("Objective reminder: %s. You have %d step(s) remaining. If the objective is achieved, say %q. Otherwise propose your next action.",
		objective, remaining, objectiveCompleteMarker)
}

// executeInstruction opens the execute loop after approval.
func executeInstruction(description string) string {
	return fmt.Sprintf("Your proposed action was approved. Execute only that action now, using the tools as needed:\n\n%s\n\nWhen the action is done, summarize what happened and stop requesting tools.", description)
}

// inboxPreamble precedes flushed operator messages.
const inboxPreamble = "Message from the operator:"

// ackInstruction asks for a brief acknowledgment of flushed messages
// before tool calls resume.
const ackInstruction = "Acknowledge the operator message(s) above briefly and adjust your plan if needed. Do not perform any action yet."

// completionSignaled reports whether the propose text declares the
// phase or objective complete. Matching is case-insensitive and applies
// to propose text only.
func completionSignaled(text string) bool {
	upper := strings.ToUpper(text)
	return strings.Contains(upper, phaseCompleteMarker) || strings.Contains(upper, objectiveCompleteMarker)
}
