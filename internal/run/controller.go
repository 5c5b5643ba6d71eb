package run

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/config"
	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/model"
	"github.com/fulcrumsec/pentestd/internal/playbook"
	"github.com/fulcrumsec/pentestd/internal/session"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pentestd",
		Subsystem: "runs",
		Name:      "started_total",
		Help:      "Runs started.",
	})
	runsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pentestd",
		Subsystem: "runs",
		Name:      "ended_total",
		Help:      "Runs ended, by terminal reason.",
	}, []string{"reason"})
	stepsProposed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pentestd",
		Subsystem: "runs",
		Name:      "steps_proposed_total",
		Help:      "Steps proposed across all runs.",
	})
	approvalsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pentestd",
		Subsystem: "runs",
		Name:      "approvals_resolved_total",
		Help:      "Approval decisions, by outcome.",
	}, []string{"decision"})
)

// Orchestrator is the run controller: the control surface for starting,
// stopping, and steering autonomous runs. One run per session executes
// at a time; runs in different sessions are fully independent.
type Orchestrator struct {
	cfg       config.RunsConfig
	sessions  *session.Manager
	model     model.Client
	tools     ToolRunner
	playbooks playbook.Store
	events    events.Publisher
	logger    *zap.Logger

	mu   sync.Mutex
	runs map[string]*runtime // keyed by session ID; last run is retained for status
}

// New creates an orchestrator.
func New(cfg config.RunsConfig, sessions *session.Manager, modelClient model.Client, tools ToolRunner, playbooks playbook.Store, pub events.Publisher, logger *zap.Logger) (*Orchestrator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if modelClient == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if playbooks == nil {
		return nil, fmt.Errorf("playbook store is required")
	}
	if pub == nil {
		pub = events.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		sessions:  sessions,
		model:     modelClient,
		tools:     tools,
		playbooks: playbooks,
		events:    pub,
		logger:    logger,
		runs:      make(map[string]*runtime),
	}, nil
}

// StartRun begins a run for the session. The playbook, when named, is
// resolved before any state mutation so a missing ID rejects the
// request cleanly. The run itself executes on its own goroutine.
func (o *Orchestrator) StartRun(ctx context.Context, sessionID string, p Params) error {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	if p.Objective == "" {
		return fmt.Errorf("%w: objective is required", ErrInvalidParams)
	}
	switch p.ApprovalMode {
	case "":
		p.ApprovalMode = ApprovalManual
	case ApprovalAuto, ApprovalManual:
	default:
		return fmt.Errorf("%w: unknown approval mode %q", ErrInvalidParams, p.ApprovalMode)
	}
	if p.MaxSteps <= 0 {
		p.MaxSteps = o.cfg.DefaultMaxSteps
	}

	var pb *playbook.Playbook
	phaseCount := 0
	if p.PlaybookID != "" {
		loaded, err := o.playbooks.Get(p.PlaybookID)
		if err != nil {
			return err
		}
		pb = &loaded
		phaseCount = len(loaded.Phases)
	}

	o.mu.Lock()
	if existing, ok := o.runs[sessionID]; ok && existing.isActive() {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	rt := newRuntime(p, phaseCount)
	o.runs[sessionID] = rt
	o.mu.Unlock()

	buf := newBuffer(o.cfg.ContextWindow)
	buf.addUser(introPrompt(p.Objective, sess.ContextSummary(), pb))

	data := map[string]any{
		"objective":   p.Objective,
		"max_steps":   p.MaxSteps,
		"phase_count": phaseCount,
	}
	if p.PlaybookID != "" {
		data["playbook_id"] = p.PlaybookID
	}
	o.publish(sessionID, events.TypeRunStarted, data)
	sess.AppendLog("run", "run started: "+p.Objective)
	runsStarted.Inc()
	o.logger.Info("run started",
		zap.String("session_id", sessionID),
		zap.String("playbook_id", p.PlaybookID),
		zap.String("approval_mode", string(p.ApprovalMode)),
		zap.Int("max_steps", p.MaxSteps))

	rc := &runCtx{o: o, rt: rt, sess: sess, buf: buf}
	go o.runLoop(rc, pb)
	return nil
}

// runLoop drives one run to its terminal reason and emits exactly one
// run_ended event.
func (o *Orchestrator) runLoop(rc *runCtx, pb *playbook.Playbook) {
	ctx := context.Background()

	var reason Reason
	var err error
	if pb != nil {
		reason, err = rc.runPhases(ctx, *pb)
	} else {
		reason, err = rc.runFreeform(ctx)
	}
	rc.rt.finish()

	data := map[string]any{"reason": string(reason)}
	if err != nil {
		data["error"] = err.Error()
		o.logger.Error("run failed",
			zap.String("session_id", rc.sess.ID),
			zap.Error(err))
	}
	o.publish(rc.sess.ID, events.TypeRunEnded, data)
	rc.sess.AppendLog("run", "run ended: "+string(reason))
	runsEnded.WithLabelValues(string(reason)).Inc()
	o.logger.Info("run ended",
		zap.String("session_id", rc.sess.ID),
		zap.String("reason", string(reason)))
}

// StopRun requests a cooperative stop. Idempotent: stopping a session
// with no active run is a no-op.
func (o *Orchestrator) StopRun(sessionID string) {
	rt := o.get(sessionID)
	if rt == nil {
		return
	}
	rt.stop()
	o.logger.Info("run stop requested", zap.String("session_id", sessionID))
}

// ResolveApproval applies an external decision to the step currently
// awaiting approval. First resolution wins; repeats and mismatched step
// IDs are rejected without touching run state. The step_decided event
// is emitted by the run goroutine once it observes the decision, so
// event consumers see it before any execution output.
func (o *Orchestrator) ResolveApproval(sessionID, stepID string, approved bool) error {
	rt := o.get(sessionID)
	if rt == nil || !rt.isActive() {
		return ErrNoPending
	}
	if err := rt.resolve(stepID, approved); err != nil {
		return err
	}
	o.logger.Info("approval resolved",
		zap.String("session_id", sessionID),
		zap.String("step_id", stepID),
		zap.Bool("approved", approved))
	return nil
}

// InjectMessage queues an operator message for the session's active
// run. Messages are FIFO and reach the model at the approval-wait and
// pre-execute flush points.
func (o *Orchestrator) InjectMessage(sessionID, text string) error {
	rt := o.get(sessionID)
	if rt == nil || !rt.isActive() {
		return ErrNotActive
	}
	rt.pushInbox(text)
	return nil
}

// Status reports the session's run state. A session that never ran
// reports an inactive zero status.
func (o *Orchestrator) Status(sessionID string) Status {
	rt := o.get(sessionID)
	if rt == nil {
		return Status{}
	}
	return rt.status()
}

// Shutdown stops all active runs and waits for their goroutines to
// unwind, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	rts := make([]*runtime, 0, len(o.runs))
	for _, rt := range o.runs {
		rts = append(rts, rt)
	}
	o.mu.Unlock()

	for _, rt := range rts {
		rt.stop()
	}
	for _, rt := range rts {
		select {
		case <-rt.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) get(sessionID string) *runtime {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs[sessionID]
}

func (o *Orchestrator) publish(sessionID string, t events.Type, data map[string]any) {
	o.events.Publish(sessionID, t, data)
}
