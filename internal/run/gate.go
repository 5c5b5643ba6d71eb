package run

import (
	"sync"
	"time"
)

// decision is the lifecycle state of a pending approval.
type decision int

const (
	decisionPending decision = iota
	decisionApproved
	decisionRejected
)

// pendingApproval is the approval record for the step currently waiting
// on a decision. It exists only between the propose turn and the start
// of the execute loop. Access is guarded by the owning runtime's mutex.
type pendingApproval struct {
	stepID      string
	stepNumber  int
	description string
	decision    decision
	resolved    bool
}

// runtime is the per-run state shared between the run goroutine and
// external control calls. Only the fields here are cross-context;
// everything else about a run is private to its goroutine.
type runtime struct {
	mu sync.Mutex

	active       bool
	objective    string
	maxSteps     int
	currentStep  int
	playbookID   string
	currentPhase int
	phaseCount   int
	approvalMode ApprovalMode

	pending *pendingApproval
	inbox   []string

	// done is closed when the run goroutine exits.
	done chan struct{}
}

func newRuntime(p Params, phaseCount int) *runtime {
	return &runtime{
		active:       true,
		objective:    p.Objective,
		maxSteps:     p.MaxSteps,
		playbookID:   p.PlaybookID,
		phaseCount:   phaseCount,
		approvalMode: p.ApprovalMode,
		done:         make(chan struct{}),
	}
}

func (r *runtime) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// stop clears the active flag. The run goroutine observes it at the
// next suspension point; in-flight calls are allowed to finish.
func (r *runtime) stop() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

// finish marks the run inactive and signals waiters. Called exactly
// once, by the run goroutine, on exit.
func (r *runtime) finish() {
	r.mu.Lock()
	r.active = false
	r.pending = nil
	r.mu.Unlock()
	close(r.done)
}

func (r *runtime) nextStep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentStep++
	return r.currentStep
}

func (r *runtime) setPhase(n int) {
	r.mu.Lock()
	r.currentPhase = n
	r.mu.Unlock()
}

// setPending installs the approval record for the current step.
func (r *runtime) setPending(stepID string, stepNumber int, description string) {
	r.mu.Lock()
	r.pending = &pendingApproval{
		stepID:      stepID,
		stepNumber:  stepNumber,
		description: description,
	}
	r.mu.Unlock()
}

// clearPending discards the approval record once the step's execute
// phase begins or the run unwinds.
func (r *runtime) clearPending() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
}

// resolve applies an external decision to the pending approval.
// First resolution wins; later calls are rejected without touching
// state. Safe to call from any goroutine.
func (r *runtime) resolve(stepID string, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil || r.pending.stepID != stepID {
		return ErrNoPending
	}
	if r.pending.resolved {
		return ErrAlreadyResolved
	}
	r.pending.resolved = true
	if approved {
		r.pending.decision = decisionApproved
	} else {
		r.pending.decision = decisionRejected
	}
	return nil
}

// decisionState reports the pending approval's resolution under the lock.
func (r *runtime) decisionState() (resolved, approved bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return false, false
	}
	return r.pending.resolved, r.pending.decision == decisionApproved
}

// pushInbox queues an injected message. FIFO order is preserved.
func (r *runtime) pushInbox(text string) {
	r.mu.Lock()
	r.inbox = append(r.inbox, text)
	r.mu.Unlock()
}

// drainInbox removes and returns all queued messages in FIFO order.
func (r *runtime) drainInbox() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inbox) == 0 {
		return nil
	}
	out := r.inbox
	r.inbox = nil
	return out
}

func (r *runtime) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Active:       r.active,
		Objective:    r.objective,
		MaxSteps:     r.maxSteps,
		CurrentStep:  r.currentStep,
		PlaybookID:   r.playbookID,
		CurrentPhase: r.currentPhase,
		PhaseCount:   r.phaseCount,
		ApprovalMode: r.approvalMode,
	}
	if r.pending != nil && !r.pending.resolved {
		s.PendingApproval = &ApprovalView{
			StepID:      r.pending.stepID,
			StepNumber:  r.pending.stepNumber,
			Description: r.pending.description,
		}
	}
	return s
}

// gateOutcome is the result of one approval wait.
type gateOutcome int

const (
	gateApproved gateOutcome = iota
	gateRejected
	gateStopped
	gateTimedOut
)

// awaitDecision polls the pending approval until it is resolved, the
// run is stopped, or the timeout expires. The wait is a poll loop so an
// external stop is observed without a wake signal. onInbox is invoked
// with any messages queued while waiting, keeping interjections visible
// promptly rather than only at the execute boundary.
func (r *runtime) awaitDecision(poll, timeout time.Duration, onInbox func([]string)) gateOutcome {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if !r.isActive() {
			return gateStopped
		}
		if msgs := r.drainInbox(); len(msgs) > 0 && onInbox != nil {
			onInbox(msgs)
		}
		if resolved, approved := r.decisionState(); resolved {
			if approved {
				return gateApproved
			}
			return gateRejected
		}
		if time.Now().After(deadline) {
			return gateTimedOut
		}
		<-ticker.C
	}
}
