package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/config"
	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/model"
	"github.com/fulcrumsec/pentestd/internal/playbook"
	"github.com/fulcrumsec/pentestd/internal/session"
)

// scripted is one canned model response.
type scripted struct {
	resp *model.Completion
	err  error
}

func textResp(s string) scripted {
	return scripted{resp: &model.Completion{TextBlocks: []string{s}, StopReason: "end_turn"}}
}

func toolResp(text string, uses ...model.ToolUse) scripted {
	return scripted{resp: &model.Completion{TextBlocks: []string{text}, ToolUses: uses, StopReason: "tool_use"}}
}

func failResp(err error) scripted {
	return scripted{err: err}
}

// fakeModel replays a script of responses. Once the script is empty it
// answers with plain text and no tool calls, so steps wind down.
type fakeModel struct {
	mu       sync.Mutex
	script   []scripted
	requests []model.CompletionRequest
}

func (f *fakeModel) Complete(_ context.Context, req model.CompletionRequest) (*model.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.script) == 0 {
		return &model.Completion{TextBlocks: []string{"No further action needed."}}, nil
	}
	next := f.script[0]
	f.script = f.script[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.resp, nil
}

func (f *fakeModel) reqs() []model.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CompletionRequest(nil), f.requests...)
}

type toolCall struct {
	name  string
	input map[string]any
}

type fakeTools struct {
	mu     sync.Mutex
	calls  []toolCall
	result string
	err    error
}

func (f *fakeTools) Run(_ context.Context, _ *session.Session, name string, input map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolCall{name: name, input: input})
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func (f *fakeTools) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// collector records published events in order.
type collector struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *collector) Publish(sessionID string, t events.Type, data map[string]any) {
	c.mu.Lock()
	c.events = append(c.events, events.Event{
		Type:      t,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
	c.mu.Unlock()
}

func (c *collector) snapshot() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func (c *collector) ofType(t events.Type) []events.Event {
	var out []events.Event
	for _, e := range c.snapshot() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *collector) waitFor(t *testing.T, typ events.Type) events.Event {
	t.Helper()
	var found events.Event
	require.Eventually(t, func() bool {
		for _, e := range c.snapshot() {
			if e.Type == typ {
				found = e
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond, "event %s not observed", typ)
	return found
}

type fakeStore struct {
	pbs map[string]playbook.Playbook
}

func (s fakeStore) Get(id string) (playbook.Playbook, error) {
	if p, ok := s.pbs[id]; ok {
		return p, nil
	}
	return playbook.Playbook{}, fmt.Errorf("%w: %s", playbook.ErrNotFound, id)
}

func (s fakeStore) List() []playbook.Playbook {
	out := make([]playbook.Playbook, 0, len(s.pbs))
	for _, p := range s.pbs {
		out = append(out, p)
	}
	return out
}

type harness struct {
	o     *Orchestrator
	sess  *session.Session
	model *fakeModel
	tools *fakeTools
	ev    *collector
}

func testRunsConfig() config.RunsConfig {
	return config.RunsConfig{
		ApprovalTimeout: 2 * time.Second,
		PollInterval:    5 * time.Millisecond,
		MaxToolTurns:    5,
		ContextWindow:   40,
		DefaultMaxSteps: 3,
	}
}

func newHarness(t *testing.T, cfg config.RunsConfig, pbs ...playbook.Playbook) *harness {
	t.Helper()

	store := fakeStore{pbs: make(map[string]playbook.Playbook)}
	for _, p := range pbs {
		store.pbs[p.ID] = p
	}

	sessions := session.NewManager(nil)
	sess := sessions.Create("test engagement", []string{"example.com"}, "")

	fm := &fakeModel{}
	ft := &fakeTools{result: "ok"}
	ev := &collector{}

	o, err := New(cfg, sessions, fm, ft, store, ev, zap.NewNop())
	require.NoError(t, err)

	return &harness{o: o, sess: sess, model: fm, tools: ft, ev: ev}
}

func (h *harness) start(t *testing.T, p Params) {
	t.Helper()
	require.NoError(t, h.o.StartRun(context.Background(), h.sess.ID, p))
}

func (h *harness) waitEnd(t *testing.T) events.Event {
	t.Helper()
	return h.ev.waitFor(t, events.TypeRunEnded)
}

func nmapUse(id string) model.ToolUse {
	return model.ToolUse{
		ID:    id,
		Name:  "execute_tool",
		Input: map[string]any{"tool": "nmap", "parameters": map[string]any{"target": "example.com"}},
	}
}

func TestFreeformAutoRunExhaustsBudget(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "assess example.com", MaxSteps: 2, ApprovalMode: ApprovalAuto})

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonExhausted), end.Data["reason"])
	assert.Len(t, h.ev.ofType(events.TypeStepProposed), 2)
	assert.Len(t, h.ev.ofType(events.TypeStepCompleted), 2)
	assert.Len(t, h.ev.ofType(events.TypeRunEnded), 1, "exactly one run_ended per run")
}

func TestManualApprovalFlow(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.model.script = []scripted{
		textResp("Scan host X with nmap."),
		toolResp("Scanning now.", nmapUse("tu_1")),
		textResp("Scan finished: port 80 open."),
	}
	h.tools.result = "80/tcp open"

	h.start(t, Params{Objective: "scan host X", MaxSteps: 1, ApprovalMode: ApprovalManual})

	proposed := h.ev.waitFor(t, events.TypeStepProposed)
	assert.Equal(t, false, proposed.Data["auto_approved"])
	assert.Equal(t, "Scan host X with nmap.", proposed.Data["description"])
	stepID := proposed.Data["step_id"].(string)

	require.NoError(t, h.o.ResolveApproval(h.sess.ID, stepID, true))

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonExhausted), end.Data["reason"])
	assert.Equal(t, 1, h.tools.count())

	completed := h.ev.ofType(events.TypeStepCompleted)
	require.Len(t, completed, 1)
	assert.Contains(t, completed[0].Data["summary"], "port 80 open")

	// step_completed precedes run_ended
	var completedIdx, endedIdx int
	for i, e := range h.ev.snapshot() {
		switch e.Type {
		case events.TypeStepCompleted:
			completedIdx = i
		case events.TypeRunEnded:
			endedIdx = i
		}
	}
	assert.Less(t, completedIdx, endedIdx)
}

func TestStepsAreSequential(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "assess", MaxSteps: 3, ApprovalMode: ApprovalAuto})
	h.waitEnd(t)

	// For every step n, step_completed(n) precedes step_proposed(n+1).
	completedAt := map[int]int{}
	proposedAt := map[int]int{}
	for i, e := range h.ev.snapshot() {
		switch e.Type {
		case events.TypeStepCompleted:
			completedAt[e.Data["step_number"].(int)] = i
		case events.TypeStepProposed:
			proposedAt[e.Data["step_number"].(int)] = i
		}
	}
	require.Len(t, proposedAt, 3)
	for n := 1; n < 3; n++ {
		assert.Less(t, completedAt[n], proposedAt[n+1],
			"step %d must complete before step %d is proposed", n, n+1)
	}
}

func TestResolveApprovalIdempotent(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalManual})

	proposed := h.ev.waitFor(t, events.TypeStepProposed)
	stepID := proposed.Data["step_id"].(string)

	require.NoError(t, h.o.ResolveApproval(h.sess.ID, stepID, true))
	assert.ErrorIs(t, h.o.ResolveApproval(h.sess.ID, stepID, false), ErrAlreadyResolved)

	h.waitEnd(t)
	decided := h.ev.ofType(events.TypeStepDecided)
	require.Len(t, decided, 1, "exactly one step_decided per step")
	assert.Equal(t, true, decided[0].Data["approved"], "the first decision stands")
}

func TestStepDecidedPrecedesExecutionEvents(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.model.script = []scripted{
		textResp("Scan host X with nmap."),
		toolResp("Scanning now.", nmapUse("tu_1")),
		textResp("Done."),
	}
	h.start(t, Params{Objective: "scan host X", MaxSteps: 1, ApprovalMode: ApprovalManual})

	proposed := h.ev.waitFor(t, events.TypeStepProposed)
	require.NoError(t, h.o.ResolveApproval(h.sess.ID, proposed.Data["step_id"].(string), true))
	h.waitEnd(t)

	decidedIdx, completedIdx := -1, -1
	for i, e := range h.ev.snapshot() {
		switch e.Type {
		case events.TypeStepDecided:
			decidedIdx = i
		case events.TypeStepCompleted:
			completedIdx = i
		}
	}
	require.GreaterOrEqual(t, decidedIdx, 0)
	require.GreaterOrEqual(t, completedIdx, 0)
	assert.Less(t, decidedIdx, completedIdx,
		"a manual decision must appear in the stream before the step's execution output")
}

func TestStopDuringApprovalWait(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "scan", MaxSteps: 3, ApprovalMode: ApprovalManual})

	h.ev.waitFor(t, events.TypeStepProposed)
	h.o.StopRun(h.sess.ID)

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonStopped), end.Data["reason"])
	assert.Zero(t, h.tools.count(), "no tool is dispatched after a stop")
	assert.Empty(t, h.ev.ofType(events.TypeStepCompleted))
}

func TestPhaseBudgetIsRespected(t *testing.T) {
	pb := playbook.Playbook{
		ID:   "two-phase",
		Name: "Two Phase",
		Phases: []playbook.Phase{
			{Name: "first", Goal: "goal one", MaxSteps: 2},
			{Name: "second", Goal: "goal two", MaxSteps: 1},
		},
	}
	h := newHarness(t, testRunsConfig(), pb)
	h.start(t, Params{Objective: "assess", ApprovalMode: ApprovalAuto, PlaybookID: "two-phase"})

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonExhausted), end.Data["reason"])

	// Count step_proposed events per phase window.
	var perPhase []int
	count := -1
	for _, e := range h.ev.snapshot() {
		switch e.Type {
		case events.TypePhaseChanged:
			if count >= 0 {
				perPhase = append(perPhase, count)
			}
			count = 0
		case events.TypeStepProposed:
			count++
		case events.TypeRunEnded:
			perPhase = append(perPhase, count)
		}
	}
	require.Equal(t, []int{2, 1}, perPhase)

	changed := h.ev.ofType(events.TypePhaseChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, 1, changed[0].Data["phase_number"])
	assert.Equal(t, "first", changed[0].Data["name"])
	assert.Equal(t, 2, changed[1].Data["phase_number"])
}

func TestAutoApprovalHasNoRoundTrip(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalAuto})
	h.waitEnd(t)

	all := h.ev.snapshot()
	for i, e := range all {
		if e.Type != events.TypeStepProposed {
			continue
		}
		assert.Equal(t, true, e.Data["auto_approved"])
		require.Less(t, i+1, len(all))
		next := all[i+1]
		assert.Equal(t, events.TypeStepDecided, next.Type,
			"step_decided must immediately follow step_proposed under auto approval")
		assert.Equal(t, true, next.Data["approved"])
		assert.Equal(t, e.Data["step_id"], next.Data["step_id"])
	}
}

func TestPhaseCompletionMarkerSkipsStep(t *testing.T) {
	pb := playbook.Playbook{
		ID:   "two-phase",
		Name: "Two Phase",
		Phases: []playbook.Phase{
			{Name: "first", Goal: "goal one", MaxSteps: 1},
			{Name: "second", Goal: "goal two", MaxSteps: 1},
		},
	}
	h := newHarness(t, testRunsConfig(), pb)
	h.model.script = []scripted{
		textResp("Subdomain enumeration already covered everything. Phase complete."),
	}
	h.start(t, Params{Objective: "assess", ApprovalMode: ApprovalAuto, PlaybookID: "two-phase"})

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonExhausted), end.Data["reason"])
	assert.Zero(t, h.tools.count(), "the signaled phase executes no tools")

	// No step is proposed or decided for phase 1; the first step_proposed
	// appears only after phase 2 begins.
	var phase2Idx, firstProposedIdx, firstDecidedIdx int
	firstProposedIdx, firstDecidedIdx = -1, -1
	for i, e := range h.ev.snapshot() {
		switch e.Type {
		case events.TypePhaseChanged:
			if e.Data["phase_number"] == 2 {
				phase2Idx = i
			}
		case events.TypeStepProposed:
			if firstProposedIdx < 0 {
				firstProposedIdx = i
			}
		case events.TypeStepDecided:
			if firstDecidedIdx < 0 {
				firstDecidedIdx = i
			}
		}
	}
	require.Positive(t, phase2Idx)
	require.Positive(t, firstProposedIdx)
	assert.Greater(t, firstProposedIdx, phase2Idx)
	assert.Greater(t, firstDecidedIdx, phase2Idx)
}

func TestInjectedMessagesReachModelBeforeTools(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.model.script = []scripted{
		textResp("Probe host X."),
		textResp("Noted, adjusting plan."), // acknowledgment turn
		toolResp("Running probe.", nmapUse("tu_1")),
		textResp("Probe done."),
	}
	h.start(t, Params{Objective: "probe", MaxSteps: 1, ApprovalMode: ApprovalManual})

	proposed := h.ev.waitFor(t, events.TypeStepProposed)
	stepID := proposed.Data["step_id"].(string)

	require.NoError(t, h.o.InjectMessage(h.sess.ID, "focus on port 443"))
	require.NoError(t, h.o.InjectMessage(h.sess.ID, "avoid noisy scans"))
	require.NoError(t, h.o.ResolveApproval(h.sess.ID, stepID, true))
	h.waitEnd(t)

	var firstToolReq *model.CompletionRequest
	for _, req := range h.model.reqs() {
		if req.ToolsEnabled {
			r := req
			firstToolReq = &r
			break
		}
	}
	require.NotNil(t, firstToolReq, "a tool-enabled turn must have run")

	firstIdx, secondIdx := -1, -1
	for i, turn := range firstToolReq.Turns {
		if turn.Role != model.RoleUser {
			continue
		}
		if strings.Contains(turn.Content, "focus on port 443") {
			firstIdx = i
		}
		if strings.Contains(turn.Content, "avoid noisy scans") {
			secondIdx = i
		}
	}
	require.GreaterOrEqual(t, firstIdx, 0, "first message must be in the buffer")
	require.GreaterOrEqual(t, secondIdx, 0, "second message must be in the buffer")
	assert.Less(t, firstIdx, secondIdx, "messages keep FIFO order")
}

func TestModelFailureEndsRun(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.model.script = []scripted{failResp(errors.New("model unavailable"))}
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalAuto})

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonError), end.Data["reason"])
	assert.Contains(t, end.Data["error"], "model unavailable")
}

func TestToolFailureFedBackAsResult(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.model.script = []scripted{
		textResp("Scan host X."),
		toolResp("Scanning.", nmapUse("tu_1")),
		textResp("Tool failed, stopping here."),
	}
	h.tools.err = errors.New("connection refused")
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalAuto})

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonExhausted), end.Data["reason"], "tool failure is not a run error")

	reqs := h.model.reqs()
	last := reqs[len(reqs)-1]
	lastTurn := last.Turns[len(last.Turns)-1]
	require.Len(t, lastTurn.ToolResults, 1)
	assert.Equal(t, "tu_1", lastTurn.ToolResults[0].ToolUseID)
	assert.Contains(t, lastTurn.ToolResults[0].Content, "connection refused")
}

func TestStartRunAlreadyRunning(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalManual})
	h.ev.waitFor(t, events.TypeStepProposed)

	err := h.o.StartRun(context.Background(), h.sess.ID, Params{Objective: "another"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	h.o.StopRun(h.sess.ID)
	h.waitEnd(t)
}

func TestStartRunPlaybookNotFound(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	err := h.o.StartRun(context.Background(), h.sess.ID, Params{Objective: "scan", PlaybookID: "nope"})
	assert.ErrorIs(t, err, playbook.ErrNotFound)
	assert.Empty(t, h.ev.ofType(events.TypeRunStarted), "no state mutation before playbook resolution")
	assert.False(t, h.o.Status(h.sess.ID).Active)
}

func TestStartRunValidation(t *testing.T) {
	h := newHarness(t, testRunsConfig())

	err := h.o.StartRun(context.Background(), h.sess.ID, Params{})
	assert.ErrorIs(t, err, ErrInvalidParams)

	err = h.o.StartRun(context.Background(), h.sess.ID, Params{Objective: "x", ApprovalMode: "sometimes"})
	assert.ErrorIs(t, err, ErrInvalidParams)

	err = h.o.StartRun(context.Background(), "missing-session", Params{Objective: "x"})
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestControlCallsWithoutActiveRun(t *testing.T) {
	h := newHarness(t, testRunsConfig())

	assert.ErrorIs(t, h.o.ResolveApproval(h.sess.ID, "step-1", true), ErrNoPending)
	assert.ErrorIs(t, h.o.InjectMessage(h.sess.ID, "hello"), ErrNotActive)
	h.o.StopRun(h.sess.ID) // idempotent no-op
	assert.False(t, h.o.Status(h.sess.ID).Active)
}

func TestApprovalTimeoutEndsRun(t *testing.T) {
	cfg := testRunsConfig()
	cfg.ApprovalTimeout = 40 * time.Millisecond
	h := newHarness(t, cfg)
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalManual})

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonTimeout), end.Data["reason"], "timeout is distinct from rejection")
	assert.Zero(t, h.tools.count())
}

func TestRejectionEndsRun(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "scan", MaxSteps: 3, ApprovalMode: ApprovalManual})

	proposed := h.ev.waitFor(t, events.TypeStepProposed)
	require.NoError(t, h.o.ResolveApproval(h.sess.ID, proposed.Data["step_id"].(string), false))

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonRejected), end.Data["reason"])
	assert.Zero(t, h.tools.count())
}

func TestFreeformObjectiveComplete(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.model.script = []scripted{
		textResp("All goals verified. OBJECTIVE COMPLETE."),
	}
	h.start(t, Params{Objective: "verify", MaxSteps: 5, ApprovalMode: ApprovalManual})

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonCompleted), end.Data["reason"])
	assert.Empty(t, h.ev.ofType(events.TypeStepProposed), "a completion signal needs no approval")
}

func TestStatusReflectsPendingApproval(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalManual})
	proposed := h.ev.waitFor(t, events.TypeStepProposed)

	st := h.o.Status(h.sess.ID)
	assert.True(t, st.Active)
	assert.Equal(t, ApprovalManual, st.ApprovalMode)
	assert.Equal(t, 1, st.CurrentStep)
	require.NotNil(t, st.PendingApproval)
	assert.Equal(t, proposed.Data["step_id"], st.PendingApproval.StepID)

	h.o.StopRun(h.sess.ID)
	h.waitEnd(t)
	assert.False(t, h.o.Status(h.sess.ID).Active)
}

func TestShutdownStopsActiveRuns(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	h.start(t, Params{Objective: "scan", MaxSteps: 1, ApprovalMode: ApprovalManual})
	h.ev.waitFor(t, events.TypeStepProposed)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.o.Shutdown(ctx))

	end := h.waitEnd(t)
	assert.Equal(t, string(ReasonStopped), end.Data["reason"])
}

func TestSessionsRunIndependently(t *testing.T) {
	h := newHarness(t, testRunsConfig())
	other := h.o.sessions.Create("second engagement", nil, "")

	h.start(t, Params{Objective: "one", MaxSteps: 1, ApprovalMode: ApprovalAuto})
	require.NoError(t, h.o.StartRun(context.Background(), other.ID, Params{Objective: "two", MaxSteps: 1, ApprovalMode: ApprovalAuto}))

	require.Eventually(t, func() bool {
		byID := map[string]bool{}
		for _, e := range h.ev.ofType(events.TypeRunEnded) {
			byID[e.SessionID] = true
		}
		return byID[h.sess.ID] && byID[other.ID]
	}, 5*time.Second, 5*time.Millisecond)
}
