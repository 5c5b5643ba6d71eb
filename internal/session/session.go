package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Finding is a security finding recorded during a session.
type Finding struct {
	// ID uniquely identifies the finding.
	ID string `json:"id"`
	// Severity is one of critical, high, medium, low, info.
	Severity string `json:"severity"`
	// Title is a short summary of the finding.
	Title string `json:"title"`
	// Description details impact and remediation.
	Description string `json:"description"`
	// Evidence is tool output or other proof, already scrubbed.
	Evidence string `json:"evidence,omitempty"`
	// CreatedAt is when the finding was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a session's interactive chat history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is one entry in a session's activity log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	// Kind categorizes the entry: tool, bash, finding, file, run.
	Kind string `json:"kind"`
	// Summary is a one-line description of what happened.
	Summary string `json:"summary"`
}

// Session is one engagement session. Its mutable state (findings, log,
// chat) is guarded internally; the identity fields are immutable after
// Create.
type Session struct {
	// ID uniquely identifies the session.
	ID string
	// Name is the operator-supplied display name.
	Name string
	// TargetScope lists the hosts, domains, and CIDRs testing may touch.
	// Empty scope permits all targets.
	TargetScope []string
	// Notes is free-form operator context passed to the model.
	Notes string
	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu       sync.Mutex
	findings []Finding
	log      []LogEntry
	messages []ChatMessage
}

// Info is an immutable snapshot of a session for API responses.
type Info struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	TargetScope  []string  `json:"target_scope"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FindingCount int       `json:"finding_count"`
}

// Snapshot returns an immutable view of the session.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		Name:         s.Name,
		TargetScope:  append([]string(nil), s.TargetScope...),
		Notes:        s.Notes,
		CreatedAt:    s.CreatedAt,
		FindingCount: len(s.findings),
	}
}

// AddFinding records a finding, assigning its ID and timestamp, and
// returns the stored copy.
func (s *Session) AddFinding(f Finding) Finding {
	f.ID = uuid.NewString()
	f.CreatedAt = time.Now().UTC()
	s.mu.Lock()
	s.findings = append(s.findings, f)
	s.mu.Unlock()
	return f
}

// Findings returns a copy of the session's findings in recording order.
func (s *Session) Findings() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Finding(nil), s.findings...)
}

// AppendMessage records a chat turn. Role is RoleUser or RoleAssistant.
func (s *Session) AppendMessage(role, content string) {
	s.mu.Lock()
	s.messages = append(s.messages, ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
	s.mu.Unlock()
}

// ChatHistory returns the most recent max chat turns in order. A
// non-positive max returns the full history.
func (s *Session) ChatHistory(max int) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return append([]ChatMessage(nil), msgs...)
}

// AppendLog records an activity-log entry.
func (s *Session) AppendLog(kind, summary string) {
	s.mu.Lock()
	s.log = append(s.log, LogEntry{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Summary:   summary,
	})
	s.mu.Unlock()
}

// Log returns a copy of the activity log in append order.
func (s *Session) Log() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.log...)
}

// ContextSummary renders the session's identity, scope, notes, and
// findings so far as a block for the model's run prompt.
func (s *Session) ContextSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", s.Name)
	if len(s.TargetScope) > 0 {
		fmt.Fprintf(&b, "Authorized scope: %s\n", strings.Join(s.TargetScope, ", "))
	} else {
		b.WriteString("Authorized scope: (none defined)\n")
	}
	if s.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", s.Notes)
	}
	if len(s.findings) > 0 {
		fmt.Fprintf(&b, "Findings so far (%d):\n", len(s.findings))
		for _, f := range s.findings {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
