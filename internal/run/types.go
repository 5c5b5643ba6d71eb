package run

import (
	"context"
	"errors"

	"github.com/fulcrumsec/pentestd/internal/session"
)

// Sentinel errors returned by the control surface.
var (
	// ErrAlreadyRunning is returned when a session already has an active run.
	ErrAlreadyRunning = errors.New("run already active for session")
	// ErrNotActive is returned when an operation needs an active run.
	ErrNotActive = errors.New("no active run for session")
	// ErrNoPending is returned when no approval matches the given step.
	ErrNoPending = errors.New("no pending approval for step")
	// ErrAlreadyResolved is returned on a second resolution attempt.
	ErrAlreadyResolved = errors.New("approval already resolved")
	// ErrInvalidParams is returned when start parameters are malformed.
	ErrInvalidParams = errors.New("invalid run parameters")
)

// ApprovalMode selects how proposed steps are decided.
type ApprovalMode string

const (
	// ApprovalAuto approves every step synchronously with no round-trip.
	ApprovalAuto ApprovalMode = "auto"
	// ApprovalManual blocks each step on an external decision.
	ApprovalManual ApprovalMode = "manual"
)

// Reason is the machine-readable cause carried by the run_ended event.
type Reason string

const (
	// ReasonExhausted: the step budget (or all playbook phases) ran out.
	ReasonExhausted Reason = "exhausted"
	// ReasonCompleted: the model signaled the objective is complete.
	ReasonCompleted Reason = "completed"
	// ReasonRejected: a proposed step was rejected.
	ReasonRejected Reason = "rejected"
	// ReasonStopped: the run was stopped externally.
	ReasonStopped Reason = "stopped"
	// ReasonTimeout: an approval wait expired.
	ReasonTimeout Reason = "timeout"
	// ReasonError: the model service failed.
	ReasonError Reason = "error"
)

// Params are the start parameters for one run.
type Params struct {
	// Objective is the engagement objective handed to the model.
	Objective string
	// MaxSteps bounds freeform runs. Zero takes the configured default.
	// Ignored in playbook mode, where per-phase budgets apply.
	MaxSteps int
	// ApprovalMode defaults to manual when empty.
	ApprovalMode ApprovalMode
	// PlaybookID selects playbook mode when non-empty.
	PlaybookID string
}

// ToolCallRecord is one tool invocation made during a step's execute
// loop. Records are append-only and never mutated after the step ends.
type ToolCallRecord struct {
	Tool          string         `json:"tool"`
	Input         map[string]any `json:"input"`
	ResultPreview string         `json:"result_preview"`
}

// ApprovalView is the externally visible state of a pending approval.
type ApprovalView struct {
	StepID      string `json:"step_id"`
	StepNumber  int    `json:"step_number"`
	Description string `json:"description"`
}

// Status is a point-in-time snapshot of a session's run state.
type Status struct {
	Active          bool          `json:"active"`
	Objective       string        `json:"objective,omitempty"`
	MaxSteps        int           `json:"max_steps,omitempty"`
	CurrentStep     int           `json:"current_step"`
	PlaybookID      string        `json:"playbook_id,omitempty"`
	CurrentPhase    int           `json:"current_phase"`
	PhaseCount      int           `json:"phase_count"`
	ApprovalMode    ApprovalMode  `json:"approval_mode,omitempty"`
	PendingApproval *ApprovalView `json:"pending_approval,omitempty"`
}

// ToolRunner dispatches one tool-use request for a session. A non-nil
// error means the tool transport itself failed; the step executor folds
// it into result text so the model can react like it would to any
// failed command.
type ToolRunner interface {
	Run(ctx context.Context, sess *session.Session, name string, input map[string]any) (string, error)
}
