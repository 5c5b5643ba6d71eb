package run

import (
	"context"
	"fmt"

	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/playbook"
)

// runPhases iterates a playbook's phases in order. A phase ends when
// its step budget is exhausted or the model signals completion in a
// propose turn; rejection, stop, timeout, and model failure abort the
// whole run. After the last phase the run ends with reason exhausted
// regardless of how each phase ended.
func (rc *runCtx) runPhases(ctx context.Context, pb playbook.Playbook) (Reason, error) {
	total := len(pb.Phases)

	for i, ph := range pb.Phases {
		if !rc.rt.isActive() {
			return ReasonStopped, nil
		}
		number := i + 1
		rc.rt.setPhase(number)
		rc.o.publish(rc.sess.ID, events.TypePhaseChanged, map[string]any{
			"phase_number": number,
			"phase_count":  total,
			"name":         ph.Name,
			"goal":         ph.Goal,
		})
		rc.buf.addUser(phasePrompt(rc.rt.objective, ph, number, total))

	steps:
		for step := 1; step <= ph.MaxSteps; step++ {
			stepNumber := rc.rt.nextStep()
			outcome, err := rc.executeStep(ctx, stepNumber)
			if err != nil {
				return ReasonError, err
			}
			switch outcome {
			case stepCompletionSignaled:
				rc.o.publish(rc.sess.ID, events.TypeStatus, map[string]any{
					"message": fmt.Sprintf("phase %d (%s) signaled complete", number, ph.Name),
				})
				break steps
			case stepRejected:
				return ReasonRejected, nil
			case stepStopped:
				return ReasonStopped, nil
			case stepTimedOut:
				return ReasonTimeout, nil
			}
			if step < ph.MaxSteps {
				rc.buf.addUser(reminderPrompt(ph, ph.MaxSteps-step))
			}
		}
	}
	return ReasonExhausted, nil
}

// runFreeform is the unstructured step loop against the objective.
func (rc *runCtx) runFreeform(ctx context.Context) (Reason, error) {
	max := rc.rt.maxSteps

	for step := 1; step <= max; step++ {
		stepNumber := rc.rt.nextStep()
		outcome, err := rc.executeStep(ctx, stepNumber)
		if err != nil {
			return ReasonError, err
		}
		switch outcome {
		case stepCompletionSignaled:
			rc.o.publish(rc.sess.ID, events.TypeStatus, map[string]any{
				"message": "objective signaled complete",
			})
			return ReasonCompleted, nil
		case stepRejected:
			return ReasonRejected, nil
		case stepStopped:
			return ReasonStopped, nil
		case stepTimedOut:
			return ReasonTimeout, nil
		}
		if step < max {
			rc.buf.addUser(freeformPrompt(rc.rt.objective, max-step))
		}
	}
	return ReasonExhausted, nil
}
