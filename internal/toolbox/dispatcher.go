package toolbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/scope"
	"github.com/fulcrumsec/pentestd/internal/secrets"
	"github.com/fulcrumsec/pentestd/internal/session"
)

const (
	// maxOutputChars bounds the tool output fed back to the model.
	maxOutputChars = 20000
	// previewChars bounds the output carried in tool_result events.
	previewChars = 2000
)

// Dispatcher routes model tool-use requests to the toolbox.
type Dispatcher struct {
	executor Executor
	scrubber secrets.Scrubber
	events   events.Publisher
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil scrubber or publisher is
// replaced by a no-op.
func NewDispatcher(executor Executor, scrubber secrets.Scrubber, pub events.Publisher, logger *zap.Logger) (*Dispatcher, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if scrubber == nil {
		scrubber = secrets.MustNew(nil)
	}
	if pub == nil {
		pub = events.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		executor: executor,
		scrubber: scrubber,
		events:   pub,
		logger:   logger,
	}, nil
}

// Run executes one tool-use request for the session and returns the
// result text. A non-nil error means the toolbox itself failed; callers
// fold it into result text so the run continues. Scope violations and
// unknown tool names are ordinary result text, not errors.
func (d *Dispatcher) Run(ctx context.Context, sess *session.Session, name string, input map[string]any) (string, error) {
	switch name {
	case "execute_tool":
		return d.runTool(ctx, sess, input)
	case "execute_bash":
		return d.runBash(ctx, sess, input)
	case "record_finding":
		return d.recordFinding(sess, input)
	case "read_file":
		return d.readFile(ctx, sess, input)
	default:
		d.logger.Warn("unknown tool requested",
			zap.String("session_id", sess.ID),
			zap.String("tool", name))
		return fmt.Sprintf("Unknown tool: %s", name), nil
	}
}

func (d *Dispatcher) runTool(ctx context.Context, sess *session.Session, input map[string]any) (string, error) {
	tool, _ := input["tool"].(string)
	if tool == "" {
		return "Error: execute_tool requires a tool name", nil
	}
	parameters, _ := input["parameters"].(map[string]any)

	if violation := d.checkScope(sess, "execute_tool", input); violation != "" {
		return violation, nil
	}

	d.events.Publish(sess.ID, events.TypeToolStart, map[string]any{
		"tool":       tool,
		"parameters": parameters,
	})
	sess.AppendLog("tool", fmt.Sprintf("execute_tool: %s", tool))

	output, err := d.executor.Execute(ctx, tool, parameters, sess.ID)
	if err != nil {
		return "", err
	}
	return d.deliver(sess, tool, output), nil
}

func (d *Dispatcher) runBash(ctx context.Context, sess *session.Session, input map[string]any) (string, error) {
	command, _ := input["command"].(string)
	if command == "" {
		return "Error: execute_bash requires a command", nil
	}

	if violation := d.checkScope(sess, "execute_bash", input); violation != "" {
		return violation, nil
	}

	d.events.Publish(sess.ID, events.TypeToolStart, map[string]any{
		"tool":    "bash",
		"command": command,
	})
	sess.AppendLog("bash", command)

	output, err := d.executor.Execute(ctx, "bash", map[string]any{"command": command}, sess.ID)
	if err != nil {
		return "", err
	}
	return d.deliver(sess, "bash", output), nil
}

func (d *Dispatcher) recordFinding(sess *session.Session, input map[string]any) (string, error) {
	severity, _ := input["severity"].(string)
	title, _ := input["title"].(string)
	description, _ := input["description"].(string)
	evidence, _ := input["evidence"].(string)

	if severity == "" || title == "" || description == "" {
		return "Error: record_finding requires severity, title, and description", nil
	}

	f := sess.AddFinding(session.Finding{
		Severity:    severity,
		Title:       title,
		Description: d.scrubber.Scrub(description),
		Evidence:    d.scrubber.Scrub(evidence),
	})
	sess.AppendLog("finding", fmt.Sprintf("[%s] %s", severity, title))

	d.events.Publish(sess.ID, events.TypeNewFinding, map[string]any{
		"finding_id": f.ID,
		"severity":   f.Severity,
		"title":      f.Title,
	})
	d.logger.Info("finding recorded",
		zap.String("session_id", sess.ID),
		zap.String("severity", severity),
		zap.String("title", title))

	return fmt.Sprintf("Finding recorded: [%s] %s", severity, title), nil
}

func (d *Dispatcher) readFile(ctx context.Context, sess *session.Session, input map[string]any) (string, error) {
	path, _ := input["path"].(string)
	if path == "" {
		return "Error: read_file requires a path", nil
	}
	sess.AppendLog("file", fmt.Sprintf("read_file: %s", path))

	content, err := d.executor.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	return d.deliver(sess, "read_file", content), nil
}

// checkScope returns violation text when the request targets a host
// outside the session's scope, empty string otherwise.
func (d *Dispatcher) checkScope(sess *session.Session, name string, input map[string]any) string {
	target := scope.ExtractTarget(name, input)
	if target == "" {
		return ""
	}
	checker := scope.NewChecker(sess.TargetScope)
	if checker.Allows(target) {
		return ""
	}
	d.logger.Warn("scope violation blocked",
		zap.String("session_id", sess.ID),
		zap.String("target", target))
	sess.AppendLog("scope", fmt.Sprintf("blocked out-of-scope target: %s", target))
	return checker.Violation(target)
}

// deliver scrubs, truncates, and publishes a tool's output.
func (d *Dispatcher) deliver(sess *session.Session, tool, output string) string {
	scrubbed := d.scrubber.Scrub(output)
	if len(scrubbed) > maxOutputChars {
		scrubbed = scrubbed[:maxOutputChars] + "\n... [output truncated]"
	}

	preview := scrubbed
	if len(preview) > previewChars {
		preview = preview[:previewChars] + "..."
	}
	d.events.Publish(sess.ID, events.TypeToolResult, map[string]any{
		"tool":   tool,
		"output": preview,
	})
	return scrubbed
}
